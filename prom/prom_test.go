package prom

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordAdd(10*time.Millisecond, nil)
	r.RecordAdd(5*time.Millisecond, errors.New("boom"))
	r.RecordSearch(10, 2*time.Millisecond, nil)
	r.RecordDelete(time.Millisecond, nil)
	r.RecordBulkAdd(4, 1, 20*time.Millisecond)
	r.RecordDedupeDrop()
	r.RecordTombstone("gdpr_request")
	r.RecordSweep(3, 2, 1)
	r.RecordDocs(5, 2, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.dedupDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.opErrors.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tombstones.WithLabelValues("gdpr_request")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.bulkItems))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bulkFailed))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.sweepMoves.WithLabelValues("archived")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.sweepMoves.WithLabelValues("tombstoned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sweepErrors))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.docs.WithLabelValues("active")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
