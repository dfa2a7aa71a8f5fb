// Package memory provides the in-memory vector store backend.
//
// Search is flat (exact) over a Roaring Bitmap candidate set, which is
// deterministic by construction: repeat queries against an unchanged index
// return identical orderings, ties broken by id ascending.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/record"
)

// Compile-time check that Store satisfies the backend interface.
var _ backend.Backend = (*Store)(nil)

// nowFunc is swapped out by tests.
var nowFunc = time.Now

// Options contains configuration for the in-memory backend.
type Options struct {
	// Dimension is the fixed vector dimensionality. Required, > 0.
	Dimension int

	// DistanceType selects the search metric.
	DistanceType backend.DistanceType
}

// DefaultOptions contains the default configuration.
var DefaultOptions = Options{
	Dimension:    0,
	DistanceType: backend.DistanceTypeCosine,
}

// Store is the in-memory backend.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]uint32 // id -> row
	rows    []*record.Record  // row-addressed records; never shrinks
	filters *filterIndex
	dist    distanceFunc
	opts    Options
	counts  map[record.State]int
	closed  bool
}

// New creates a new in-memory backend.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("memory: dimension must be positive, got %d", opts.Dimension)
	}

	return &Store{
		byID:    make(map[string]uint32),
		filters: newFilterIndex(),
		dist:    newDistanceFunc(opts.DistanceType),
		opts:    opts,
		counts:  make(map[record.State]int),
	}, nil
}

func (s *Store) checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storageErr(err)
	}
	return nil
}

// storageErr classifies a context error into the storage taxonomy.
func storageErr(err error) error {
	kind := record.StorageUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = record.StorageTimeout
	}
	return &record.StorageError{Kind: kind, Err: err}
}

// Persist implements backend.Backend.
func (s *Store) Persist(ctx context.Context, rec *record.Record) error {
	if err := s.checkCtx(ctx); err != nil {
		return err
	}
	// Tombstone shells (replayed from a compacted log) carry no vector.
	if rec.State != record.StateTombstoned {
		if err := checkDimension(s.opts.Dimension, rec.Vector); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &record.StorageError{Kind: record.StorageUnavailable, Err: fmt.Errorf("backend closed")}
	}
	if _, ok := s.byID[rec.ID]; ok {
		return &record.StorageError{
			Kind:     record.StorageUnavailable,
			RecordID: rec.ID,
			Err:      fmt.Errorf("id already exists"),
		}
	}

	stored := rec.Clone()
	stored.Version = 1
	row := uint32(len(s.rows))
	s.rows = append(s.rows, stored)
	s.byID[stored.ID] = row
	if stored.State != record.StateTombstoned {
		s.filters.add(row, stored)
	}
	s.counts[stored.State]++
	rec.Version = stored.Version
	return nil
}

// Update implements backend.Backend.
func (s *Store) Update(ctx context.Context, rec *record.Record) error {
	if err := s.checkCtx(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[rec.ID]
	if !ok {
		return record.ErrNotFound
	}
	old := s.rows[row]
	if old.State == record.StateTombstoned {
		return record.ErrNotFound
	}
	// Optimistic concurrency: a stale clone never overwrites a write that
	// committed after it was read.
	if rec.Version != old.Version {
		return record.ErrConflict
	}
	if rec.State != record.StateTombstoned {
		if err := checkDimension(s.opts.Dimension, rec.Vector); err != nil {
			return err
		}
	}

	stored := rec.Clone()
	stored.Version = old.Version + 1
	s.filters.remove(row, old)
	s.filters.add(row, stored)
	s.counts[old.State]--
	s.counts[stored.State]++
	s.rows[row] = stored
	rec.Version = stored.Version
	return nil
}

// Contains reports whether the id is known, including tombstone shells.
// Used by the durable backend to reject id reuse before logging.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Get implements backend.Backend.
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	if err := s.checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.byID[id]
	if !ok {
		return nil, record.ErrNotFound
	}
	rec := s.rows[row]
	if rec.State == record.StateTombstoned {
		return nil, record.ErrNotFound
	}
	return rec.Clone(), nil
}

// Tombstone implements backend.Backend.
func (s *Store) Tombstone(ctx context.Context, id, reason, auditRef string) (*record.Record, bool, error) {
	if err := s.checkCtx(ctx); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byID[id]
	if !ok {
		return nil, false, record.ErrNotFound
	}
	rec := s.rows[row]
	if rec.State == record.StateTombstoned {
		// Repeated delete is a no-op, never an error.
		return rec.Clone(), false, nil
	}

	prior := rec.Clone()
	s.filters.remove(row, rec)
	s.counts[rec.State]--
	rec.Tombstone(nowFunc().UTC(), reason, auditRef)
	rec.Version++
	s.counts[record.StateTombstoned]++
	return prior, true, nil
}

// Search implements backend.Backend.
func (s *Store) Search(ctx context.Context, query []float32, k int, f *backend.Filter) ([]backend.Hit, error) {
	if err := s.checkCtx(ctx); err != nil {
		return nil, err
	}
	if err := checkDimension(s.opts.Dimension, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.filters.candidates(f)
	hits := make([]backend.Hit, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		rec := s.rows[it.Next()]
		hits = append(hits, backend.Hit{
			ID:    rec.ID,
			Score: s.dist(query, rec.Vector),
		})
	}

	slices.SortFunc(hits, func(a, b backend.Hit) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		default:
			// Ties break by id ascending for deterministic ordering.
			return cmpString(a.ID, b.ID)
		}
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Scan implements backend.Backend.
func (s *Store) Scan(ctx context.Context, fn func(rec *record.Record) error) error {
	// Snapshot rows under the read lock, then call fn without it so the
	// sweeper can issue Update/Tombstone calls from inside the scan.
	s.mu.RLock()
	snapshot := make([]*record.Record, 0, len(s.rows))
	for _, rec := range s.rows {
		snapshot = append(snapshot, rec.Clone())
	}
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return storageErr(err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Stats implements backend.Backend.
func (s *Store) Stats() backend.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return backend.Stats{
		Active:     s.counts[record.StateActive],
		Archived:   s.counts[record.StateArchived],
		Tombstoned: s.counts[record.StateTombstoned],
		Dimension:  s.opts.Dimension,
	}
}

// Close implements backend.Backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
