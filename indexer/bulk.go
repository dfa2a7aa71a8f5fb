package indexer

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// BulkStatus is the per-item outcome of a BulkAdd.
type BulkStatus int

const (
	// BulkStatusCompleted means the item was stored (or the existing
	// duplicate overwritten) and Result.ID is set.
	BulkStatusCompleted BulkStatus = iota

	// BulkStatusFailed means the item was rejected; Result.Err carries
	// the cause. Duplicates land here with a DuplicateError, which is a
	// defined outcome and safe to ignore.
	BulkStatusFailed

	// BulkStatusSkipped means the item never started because the batch
	// context was cancelled first. Safe to retry as-is.
	BulkStatusSkipped

	// BulkStatusUnknown means cancellation hit while the item was in
	// flight; the write may or may not have committed. Retrying is safe:
	// a committed write makes the retry a duplicate, not a second copy.
	BulkStatusUnknown
)

// String returns a string representation of the BulkStatus.
func (s BulkStatus) String() string {
	switch s {
	case BulkStatusCompleted:
		return "completed"
	case BulkStatusFailed:
		return "failed"
	case BulkStatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// BulkResult is the outcome of one item in a BulkAdd batch.
type BulkResult struct {
	Index  int
	ID     string
	Status BulkStatus
	Err    error
}

// BulkAdd writes a batch of items with the same dedupe and validation
// semantics as Add. Items fail independently: a validation failure on one
// never aborts the rest. The returned slice is index-aligned with items.
func (ix *Indexer) BulkAdd(ctx context.Context, items []Item) []BulkResult {
	results := make([]BulkResult, len(items))

	var g errgroup.Group
	g.SetLimit(ix.opts.BulkConcurrency)

	for i := range items {
		res := &results[i]
		res.Index = i
		item := items[i]

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				res.Status = BulkStatusSkipped
				res.Err = err
				return nil
			}

			res.Status = BulkStatusUnknown
			id, err := ix.Add(ctx, item)
			switch {
			case err == nil:
				res.ID = id
				res.Status = BulkStatusCompleted
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				// In flight at cancellation; commit state unknown.
				res.Err = err
			default:
				res.Status = BulkStatusFailed
				res.Err = err
			}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
