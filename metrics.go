package engram

import (
	"sync/atomic"
	"time"
)

// Recorder collects operational metrics. Implement it to integrate with a
// monitoring system; the prom subpackage provides a Prometheus-backed
// implementation.
//
// Recorders are passive observers: a panicking or failing recorder never
// changes the outcome of the operation it observed.
type Recorder interface {
	// RecordAdd is called after each write. err is nil on success and
	// carries the DuplicateError for dedupe drops.
	RecordAdd(duration time.Duration, err error)

	// RecordBulkAdd is called once per batch with the attempted and
	// failed item counts.
	RecordBulkAdd(count, failed int, duration time.Duration)

	// RecordSearch is called after each search with the requested k.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordDelete is called after each explicit delete.
	RecordDelete(duration time.Duration, err error)

	// RecordDedupeDrop is called when a write is rejected as a duplicate.
	RecordDedupeDrop()

	// RecordTombstone is called for every committed tombstone transition
	// with its trigger reason.
	RecordTombstone(reason string)

	// RecordSweep is called after each lifecycle sweep pass.
	RecordSweep(archived, tombstoned, failed int)

	// RecordDocs is called with current record counts by state.
	RecordDocs(active, archived, tombstoned int)
}

// NoopRecorder discards all metrics. It is the default.
type NoopRecorder struct{}

func (NoopRecorder) RecordAdd(time.Duration, error)         {}
func (NoopRecorder) RecordBulkAdd(int, int, time.Duration)  {}
func (NoopRecorder) RecordSearch(int, time.Duration, error) {}
func (NoopRecorder) RecordDelete(time.Duration, error)      {}
func (NoopRecorder) RecordDedupeDrop()                      {}
func (NoopRecorder) RecordTombstone(string)                 {}
func (NoopRecorder) RecordSweep(int, int, int)              {}
func (NoopRecorder) RecordDocs(int, int, int)               {}

// BasicRecorder provides simple in-memory metrics. Useful for debugging
// and tests without an external collector.
type BasicRecorder struct {
	AddCount         atomic.Int64
	AddErrors        atomic.Int64
	AddTotalNanos    atomic.Int64
	BulkCount        atomic.Int64
	BulkItems        atomic.Int64
	BulkFailed       atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	DedupeDropped    atomic.Int64
	Tombstones       atomic.Int64
	SweepArchived    atomic.Int64
	SweepTombstoned  atomic.Int64
	SweepFailed      atomic.Int64

	docsActive     atomic.Int64
	docsArchived   atomic.Int64
	docsTombstoned atomic.Int64
}

// RecordAdd implements Recorder.
func (b *BasicRecorder) RecordAdd(duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordBulkAdd implements Recorder.
func (b *BasicRecorder) RecordBulkAdd(count, failed int, _ time.Duration) {
	b.BulkCount.Add(1)
	b.BulkItems.Add(int64(count))
	b.BulkFailed.Add(int64(failed))
}

// RecordSearch implements Recorder.
func (b *BasicRecorder) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordDelete implements Recorder.
func (b *BasicRecorder) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordDedupeDrop implements Recorder.
func (b *BasicRecorder) RecordDedupeDrop() {
	b.DedupeDropped.Add(1)
}

// RecordTombstone implements Recorder.
func (b *BasicRecorder) RecordTombstone(string) {
	b.Tombstones.Add(1)
}

// RecordSweep implements Recorder.
func (b *BasicRecorder) RecordSweep(archived, tombstoned, failed int) {
	b.SweepArchived.Add(int64(archived))
	b.SweepTombstoned.Add(int64(tombstoned))
	b.SweepFailed.Add(int64(failed))
}

// RecordDocs implements Recorder.
func (b *BasicRecorder) RecordDocs(active, archived, tombstoned int) {
	b.docsActive.Store(int64(active))
	b.docsArchived.Store(int64(archived))
	b.docsTombstoned.Store(int64(tombstoned))
}

// Docs returns the last recorded counts by state.
func (b *BasicRecorder) Docs() (active, archived, tombstoned int64) {
	return b.docsActive.Load(), b.docsArchived.Load(), b.docsTombstoned.Load()
}
