package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/audit"
	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/backend/memory"
	"github.com/engramdb/engram/blobstore"
	"github.com/engramdb/engram/compress"
	"github.com/engramdb/engram/indexer"
	"github.com/engramdb/engram/record"
)

type fixture struct {
	be  *memory.Store
	ix  *indexer.Indexer
	log *audit.MemoryLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	be, err := memory.New(func(o *memory.Options) { o.Dimension = 3 })
	require.NoError(t, err)
	log := audit.NewMemoryLog()

	ix, err := indexer.New(context.Background(), be, log, indexer.Options{Dimension: 3})
	require.NoError(t, err)

	return &fixture{be: be, ix: ix, log: log}
}

func (f *fixture) add(t *testing.T, content string) string {
	t.Helper()
	id, err := f.ix.Add(context.Background(), indexer.Item{
		Content: content,
		Vector:  []float32{1, 0, 0},
		Meta:    record.Metadata{Identity: "u1", Lane: "notes"},
	})
	require.NoError(t, err)
	return id
}

// scanOne fetches a record regardless of state, including tombstones.
func (f *fixture) scanOne(t *testing.T, id string) *record.Record {
	t.Helper()
	var found *record.Record
	err := f.be.Scan(context.Background(), func(rec *record.Record) error {
		if rec.ID == id {
			found = rec
		}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, found)
	return found
}

// compressible is long enough and repetitive enough that zstd always wins.
var compressible = strings.Repeat("agents remember what they are told ", 40)

func TestSweeperArchivesIdleRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	codec := compress.NewZstd(compress.LevelDefault)

	s := New(f.be, f.ix, Options{
		ActiveRetention:  0, // archive on the next sweep
		ArchiveRetention: -1,
		Codec:            codec,
	})

	id := f.add(t, compressible)

	report := s.RunOnce(ctx)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Archived)
	assert.Empty(t, report.Errors)

	rec := f.scanOne(t, id)
	assert.Equal(t, record.StateArchived, rec.State)
	assert.True(t, rec.PayloadCompressed)
	assert.False(t, rec.ArchivedAt.IsZero())

	raw, err := codec.Decompress(rec.Payload)
	require.NoError(t, err)
	assert.Equal(t, compressible, string(raw))

	t.Run("second sweep is a no-op", func(t *testing.T) {
		report := s.RunOnce(ctx)
		assert.Equal(t, 0, report.Archived)
		assert.Equal(t, 0, report.Tombstoned)
	})
}

func TestSweeperLeavesFreshRecordsAlone(t *testing.T) {
	f := newFixture(t)

	s := New(f.be, f.ix, Options{
		ActiveRetention:  time.Hour,
		ArchiveRetention: -1,
	})

	id := f.add(t, "fresh")
	report := s.RunOnce(context.Background())
	assert.Equal(t, 0, report.Archived)

	rec, err := f.be.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, record.StateActive, rec.State)
}

func TestSweeperArchivesExpiredRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := New(f.be, f.ix, Options{
		ActiveRetention:  -1, // idle archival off; expiry still applies
		ArchiveRetention: -1,
	})

	id, err := f.ix.Add(ctx, indexer.Item{
		Vector:    []float32{0, 1, 0},
		Meta:      record.Metadata{Identity: "u1", Lane: "notes"},
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	report := s.RunOnce(ctx)
	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, record.StateArchived, f.scanOne(t, id).State)
}

func TestSweeperTombstonesExpiredArchives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := New(f.be, f.ix, Options{
		ActiveRetention:  0,
		ArchiveRetention: 0, // tombstone on the sweep after archival
	})

	id := f.add(t, "short-lived")

	first := s.RunOnce(ctx)
	assert.Equal(t, 1, first.Archived)

	second := s.RunOnce(ctx)
	assert.Equal(t, 1, second.Tombstoned)
	assert.Empty(t, second.Errors)

	rec := f.scanOne(t, id)
	assert.Equal(t, record.StateTombstoned, rec.State)
	assert.Nil(t, rec.Vector)
	assert.Nil(t, rec.Payload)

	entries := f.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ReasonRetentionExpired, entries[0].Reason)
	assert.Equal(t, id, entries[0].RecordID)

	t.Run("repeat sweep adds no audit entries", func(t *testing.T) {
		s.RunOnce(ctx)
		assert.Len(t, f.log.Entries(), 1)
	})
}

func TestSweeperBlobOffload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	codec := compress.NewZstd(compress.LevelDefault)
	blobs := blobstore.NewMemoryStore()

	s := New(f.be, f.ix, Options{
		ActiveRetention:  0,
		ArchiveRetention: 0,
		Codec:            codec,
		Blobs:            blobs,
	})

	id := f.add(t, compressible)

	require.Empty(t, s.RunOnce(ctx).Errors)

	rec := f.scanOne(t, id)
	assert.Equal(t, record.StateArchived, rec.State)
	assert.Empty(t, rec.Payload, "payload moved to the blob store")
	assert.Equal(t, id, rec.BlobRef)

	blob, err := blobs.Get(ctx, id)
	require.NoError(t, err)
	raw, err := codec.Decompress(blob)
	require.NoError(t, err)
	assert.Equal(t, compressible, string(raw))

	t.Run("tombstone deletes the blob", func(t *testing.T) {
		report := s.RunOnce(ctx)
		assert.Equal(t, 1, report.Tombstoned)

		_, err := blobs.Get(ctx, id)
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}

// scanTapBackend lets a test commit writes in the window between the
// sweep's scan snapshot and its transitions.
type scanTapBackend struct {
	backend.Backend
	afterScan func()
}

func (b *scanTapBackend) Scan(ctx context.Context, fn func(rec *record.Record) error) error {
	err := b.Backend.Scan(ctx, fn)
	if err == nil && b.afterScan != nil {
		b.afterScan()
	}
	return err
}

func TestSweeperDoesNotRevertConcurrentRenewal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	renewal := time.Now().Add(365 * 24 * time.Hour).UTC()

	tap := &scanTapBackend{Backend: f.be}
	s := New(tap, f.ix, Options{
		ActiveRetention:  0, // every scanned record is an archive candidate
		ArchiveRetention: -1,
	})

	id := f.add(t, "stale wording")

	// The renewal lands after the sweep has snapshotted the old record.
	// Same content keeps the fingerprint, so update-in-place targets id.
	tap.afterScan = func() {
		_, err := f.ix.Add(ctx, indexer.Item{
			Content:   "stale wording",
			Vector:    []float32{0, 1, 0},
			Meta:      record.Metadata{Identity: "u1", Lane: "notes", Tags: []string{"renewed"}},
			ExpiresAt: renewal,
		}, indexer.WithUpdateInPlace())
		require.NoError(t, err)
	}

	report := s.RunOnce(ctx)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 0, report.Archived, "renewed record must not be archived from the stale snapshot")

	rec, err := f.be.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.StateActive, rec.State)
	assert.Equal(t, []float32{0, 1, 0}, rec.Vector)
	assert.Equal(t, []string{"renewed"}, rec.Meta.Tags)
	assert.True(t, rec.ExpiresAt.Equal(renewal), "expires_at moved earlier: want %v, got %v", renewal, rec.ExpiresAt)
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t)

	reports := make(chan Report, 16)
	s := New(f.be, f.ix, Options{
		ActiveRetention:  0,
		ArchiveRetention: -1,
		Interval:         5 * time.Millisecond,
		OnReport:         func(r Report) { reports <- r },
	})

	f.add(t, "background")

	s.Start()
	s.Start() // second Start is a no-op

	select {
	case r := <-reports:
		assert.Equal(t, 1, r.Archived)
	case <-time.After(2 * time.Second):
		t.Fatal("background sweep never ran")
	}

	s.Stop()
	s.Stop() // second Stop is a no-op

	// A never-started sweeper tolerates Stop too.
	New(f.be, f.ix, Options{}).Stop()
}

var _ Deleter = (*indexer.Indexer)(nil)
