package engram

import (
	"context"
	"time"

	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/record"
)

// SearchHit is one search result: a record id and its distance from the
// query (lower is closer for both supported metrics).
type SearchHit = backend.Hit

// SearchOptions restrict a search. Zero-valued fields do not constrain;
// the default state filter is {active}.
type SearchOptions struct {
	// Identity restricts results to one owning caller.
	Identity string

	// Lane restricts results to one logical partition.
	Lane string

	// Tags must all be present on a matching record.
	Tags []string

	// States widens the state filter, e.g. to include archived records.
	// Tombstones are never searchable.
	States []State
}

// Search returns up to k nearest records matching the filter, ordered by
// ascending distance with ties broken by id. Results are deterministic for
// an unchanged index: repeating a query returns the same ordering.
func (s *Store) Search(ctx context.Context, query []float32, k int, optFns ...func(o *SearchOptions)) ([]SearchHit, error) {
	start := time.Now()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if k <= 0 {
		err := &record.ValidationError{Field: "k", Reason: "must be positive"}
		s.observe(func() { s.metrics.RecordSearch(k, time.Since(start), err) })
		return nil, err
	}

	hits, err := s.be.Search(ctx, query, k, &backend.Filter{
		Identity: opts.Identity,
		Lane:     opts.Lane,
		Tags:     opts.Tags,
		States:   opts.States,
	})
	err = translateError(err)
	duration := time.Since(start)

	s.observe(func() { s.metrics.RecordSearch(k, duration, err) })
	s.logger.LogSearch(ctx, k, len(hits), err)
	return hits, err
}
