package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/audit"
	"github.com/engramdb/engram/backend/memory"
	"github.com/engramdb/engram/record"
)

func newTestIndexer(t *testing.T, optFns ...func(*Options)) (*Indexer, *memory.Store, *audit.MemoryLog) {
	t.Helper()

	be, err := memory.New(func(o *memory.Options) { o.Dimension = 3 })
	require.NoError(t, err)

	log := audit.NewMemoryLog()

	ix, err := New(context.Background(), be, log, Options{
		Dimension: 3,
		Embedder: func(_ context.Context, content string) ([]float32, error) {
			// Deterministic toy embedding keyed on content length.
			return []float32{float32(len(content)), 1, 0}, nil
		},
	}, optFns...)
	require.NoError(t, err)

	return ix, be, log
}

func TestIndexerValidation(t *testing.T) {
	ix, _, _ := newTestIndexer(t)
	ctx := context.Background()

	t.Run("missing identity", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Content: "x", Meta: record.Metadata{Lane: "l"}})
		var ve *record.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "identity", ve.Field)
	})

	t.Run("missing lane", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Content: "x", Meta: record.Metadata{Identity: "u"}})
		var ve *record.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "lane", ve.Field)
	})

	t.Run("empty normalized content", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Content: "   \t\n  ", Meta: record.Metadata{Identity: "u", Lane: "l"}})
		var ve *record.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "content", ve.Field)
	})

	t.Run("neither content nor vector", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Meta: record.Metadata{Identity: "u", Lane: "l"}})
		var ve *record.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Vector: []float32{1, 2}, Meta: record.Metadata{Identity: "u", Lane: "l"}})
		var dm *record.ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 3, dm.Expected)
		assert.Equal(t, 2, dm.Actual)
	})
}

func TestIndexerDedupe(t *testing.T) {
	ix, _, _ := newTestIndexer(t)
	ctx := context.Background()
	meta := record.Metadata{Identity: "u1", Lane: "notes"}

	id, err := ix.Add(ctx, Item{Content: "hello", Meta: meta})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	t.Run("second add rejected", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Content: "hello", Meta: meta})
		var dup *record.DuplicateError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, id, dup.ExistingID)
		assert.Equal(t, uint64(1), ix.Stats().DedupeDropped)
	})

	t.Run("formatting variants dedupe", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Content: "  hello \n", Meta: meta})
		var dup *record.DuplicateError
		require.ErrorAs(t, err, &dup)
	})

	t.Run("other identity is not a duplicate", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Content: "hello", Meta: record.Metadata{Identity: "u2", Lane: "notes"}})
		require.NoError(t, err)
	})

	t.Run("stats", func(t *testing.T) {
		s := ix.Stats()
		assert.Equal(t, 2, s.Active)
		assert.Equal(t, uint64(2), s.DedupeDropped)
	})
}

func TestIndexerUpdateInPlace(t *testing.T) {
	ix, be, _ := newTestIndexer(t)
	ctx := context.Background()
	meta := record.Metadata{Identity: "u1", Lane: "notes", Tags: []string{"a"}}

	id, err := ix.Add(ctx, Item{Content: "hello", Meta: meta})
	require.NoError(t, err)

	meta2 := record.Metadata{Identity: "u1", Lane: "notes", Tags: []string{"b"}}
	id2, err := ix.Add(ctx, Item{Content: "hello", Meta: meta2}, WithUpdateInPlace())
	require.NoError(t, err)
	assert.Equal(t, id, id2, "update keeps the original id")

	rec, err := be.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rec.Meta.Tags)
	assert.Equal(t, 1, ix.Stats().Active)
}

func TestIndexerVectorOnlyWrites(t *testing.T) {
	ix, _, _ := newTestIndexer(t)
	ctx := context.Background()

	vec := []float32{0.1, 0.2, 0.3}
	_, err := ix.Add(ctx, Item{Vector: vec, Meta: record.Metadata{Identity: "u1", Lane: "l"}})
	require.NoError(t, err)

	t.Run("same tenant dedupes", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Vector: vec, Meta: record.Metadata{Identity: "u1", Lane: "l"}})
		var dup *record.DuplicateError
		require.ErrorAs(t, err, &dup)
	})

	t.Run("other tenant does not", func(t *testing.T) {
		_, err := ix.Add(ctx, Item{Vector: vec, Meta: record.Metadata{Identity: "u2", Lane: "l"}})
		require.NoError(t, err)
	})
}

func TestIndexerConcurrentWriteRace(t *testing.T) {
	ix, _, _ := newTestIndexer(t)
	ctx := context.Background()
	meta := record.Metadata{Identity: "u1", Lane: "race"}

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var stored, dups int

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ix.Add(ctx, Item{Content: "same content", Meta: meta})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				stored++
			} else {
				var dup *record.DuplicateError
				assert.ErrorAs(t, err, &dup)
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, stored, "exactly one writer wins")
	assert.Equal(t, n-1, dups)
	assert.Equal(t, 1, ix.Stats().Active)
	assert.Equal(t, uint64(n-1), ix.Stats().DedupeDropped)
}

func TestIndexerDelete(t *testing.T) {
	ix, be, log := newTestIndexer(t)
	ctx := context.Background()
	meta := record.Metadata{Identity: "u1", Lane: "notes"}

	id, err := ix.Add(ctx, Item{Content: "forget me", Meta: meta})
	require.NoError(t, err)

	t.Run("delete tombstones and audits once", func(t *testing.T) {
		changed, err := ix.Delete(ctx, id, "gdpr_request")
		require.NoError(t, err)
		assert.True(t, changed)

		_, err = be.Get(ctx, id)
		assert.ErrorIs(t, err, record.ErrNotFound)

		entries := log.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].RecordID)
		assert.Equal(t, "gdpr_request", entries[0].Reason)
		assert.NotEmpty(t, entries[0].Fingerprint)
	})

	t.Run("repeated delete is a no-op", func(t *testing.T) {
		changed, err := ix.Delete(ctx, id, "gdpr_request")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Len(t, log.Entries(), 1, "no duplicate audit entry")
	})

	t.Run("unknown id is NotFound", func(t *testing.T) {
		_, err := ix.Delete(ctx, "no-such-id", "cleanup")
		assert.ErrorIs(t, err, record.ErrNotFound)
	})

	t.Run("fingerprint is reusable after tombstone", func(t *testing.T) {
		id2, err := ix.Add(ctx, Item{Content: "forget me", Meta: meta})
		require.NoError(t, err)
		assert.NotEqual(t, id, id2)
	})
}

func TestIndexerRebuildOnOpen(t *testing.T) {
	ctx := context.Background()
	be, err := memory.New(func(o *memory.Options) { o.Dimension = 3 })
	require.NoError(t, err)
	log := audit.NewMemoryLog()

	opts := Options{Dimension: 3}

	ix1, err := New(ctx, be, log, opts)
	require.NoError(t, err)
	_, err = ix1.Add(ctx, Item{Vector: []float32{1, 2, 3}, Meta: record.Metadata{Identity: "u", Lane: "l"}})
	require.NoError(t, err)

	// A fresh indexer over the same backend rebuilds its dedupe index.
	ix2, err := New(ctx, be, log, opts)
	require.NoError(t, err)
	_, err = ix2.Add(ctx, Item{Vector: []float32{1, 2, 3}, Meta: record.Metadata{Identity: "u", Lane: "l"}})
	var dup *record.DuplicateError
	require.ErrorAs(t, err, &dup)
}

func TestBulkAdd(t *testing.T) {
	ix, _, _ := newTestIndexer(t)
	ctx := context.Background()

	t.Run("per item isolation", func(t *testing.T) {
		items := []Item{
			{Content: "one", Meta: record.Metadata{Identity: "u", Lane: "l"}},
			{Content: "bad", Meta: record.Metadata{Lane: "l"}},                // missing identity
			{Content: "one", Meta: record.Metadata{Identity: "u", Lane: "l"}}, // duplicate of 0
			{Content: "two", Meta: record.Metadata{Identity: "u", Lane: "l"}},
		}
		results := ix.BulkAdd(ctx, items)
		require.Len(t, results, 4)

		assert.Equal(t, BulkStatusCompleted, results[0].Status)
		assert.NotEmpty(t, results[0].ID)

		assert.Equal(t, BulkStatusFailed, results[1].Status)
		var ve *record.ValidationError
		assert.ErrorAs(t, results[1].Err, &ve)

		assert.Equal(t, BulkStatusFailed, results[2].Status)
		var dup *record.DuplicateError
		assert.ErrorAs(t, results[2].Err, &dup)

		assert.Equal(t, BulkStatusCompleted, results[3].Status)
	})

	t.Run("cancelled batch reports skipped", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		items := make([]Item, 8)
		for i := range items {
			items[i] = Item{Content: fmt.Sprintf("item-%d", i), Meta: record.Metadata{Identity: "u", Lane: "l"}}
		}
		results := ix.BulkAdd(cancelled, items)
		for _, r := range results {
			assert.Equal(t, BulkStatusSkipped, r.Status)
			assert.Error(t, r.Err)
		}
	})
}
