// Package prom exports store metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/engramdb/engram"
	"github.com/engramdb/engram/record"
)

const namespace = "engram"

// LatencyBuckets are the histogram buckets for operation latencies, in
// seconds. The store targets p95 under 100ms for persist and search, so
// the resolution is concentrated below that.
var LatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1,
	0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// Recorder implements engram.Recorder on Prometheus collectors.
type Recorder struct {
	addLatency    prometheus.Histogram
	searchLatency prometheus.Histogram
	deleteLatency prometheus.Histogram

	opErrors     *prometheus.CounterVec
	bulkItems    prometheus.Counter
	bulkFailed   prometheus.Counter
	dedupDropped prometheus.Counter
	tombstones   *prometheus.CounterVec
	sweepMoves   *prometheus.CounterVec
	sweepErrors  prometheus.Counter
	docs         *prometheus.GaugeVec
}

var _ engram.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder registered with reg. Pass
// prometheus.DefaultRegisterer for the default registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		addLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_latency_seconds",
			Help:      "Write latency in seconds",
			Buckets:   LatencyBuckets,
		}),
		searchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "Search latency in seconds",
			Buckets:   LatencyBuckets,
		}),
		deleteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delete_latency_seconds",
			Help:      "Delete latency in seconds",
			Buckets:   LatencyBuckets,
		}),
		opErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed operations by type",
		}, []string{"operation"}),
		bulkItems: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Items attempted via bulk add",
		}),
		bulkFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_failed_total",
			Help:      "Bulk add items that did not complete",
		}),
		dedupDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_dropped_total",
			Help:      "Writes rejected by the dedupe gate",
		}),
		tombstones: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tombstone_total",
			Help:      "Tombstone transitions by trigger reason",
		}, []string{"reason"}),
		sweepMoves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_transitions_total",
			Help:      "Lifecycle transitions performed by sweeps",
		}, []string{"transition"}),
		sweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Per-record sweep failures",
		}),
		docs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "docs_total",
			Help:      "Records by lifecycle state",
		}, []string{"state"}),
	}
}

// RecordAdd implements engram.Recorder.
func (r *Recorder) RecordAdd(duration time.Duration, err error) {
	r.addLatency.Observe(duration.Seconds())
	if err != nil {
		r.opErrors.WithLabelValues("add").Inc()
	}
}

// RecordBulkAdd implements engram.Recorder.
func (r *Recorder) RecordBulkAdd(count, failed int, _ time.Duration) {
	r.bulkItems.Add(float64(count))
	r.bulkFailed.Add(float64(failed))
}

// RecordSearch implements engram.Recorder.
func (r *Recorder) RecordSearch(_ int, duration time.Duration, err error) {
	r.searchLatency.Observe(duration.Seconds())
	if err != nil {
		r.opErrors.WithLabelValues("search").Inc()
	}
}

// RecordDelete implements engram.Recorder.
func (r *Recorder) RecordDelete(duration time.Duration, err error) {
	r.deleteLatency.Observe(duration.Seconds())
	if err != nil {
		r.opErrors.WithLabelValues("delete").Inc()
	}
}

// RecordDedupeDrop implements engram.Recorder.
func (r *Recorder) RecordDedupeDrop() {
	r.dedupDropped.Inc()
}

// RecordTombstone implements engram.Recorder.
func (r *Recorder) RecordTombstone(reason string) {
	r.tombstones.WithLabelValues(reason).Inc()
}

// RecordSweep implements engram.Recorder.
func (r *Recorder) RecordSweep(archived, tombstoned, failed int) {
	r.sweepMoves.WithLabelValues("archived").Add(float64(archived))
	r.sweepMoves.WithLabelValues("tombstoned").Add(float64(tombstoned))
	r.sweepErrors.Add(float64(failed))
}

// RecordDocs implements engram.Recorder.
func (r *Recorder) RecordDocs(active, archived, tombstoned int) {
	r.docs.WithLabelValues(record.StateActive.String()).Set(float64(active))
	r.docs.WithLabelValues(record.StateArchived.String()).Set(float64(archived))
	r.docs.WithLabelValues(record.StateTombstoned.String()).Set(float64(tombstoned))
}
