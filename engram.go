package engram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/engramdb/engram/audit"
	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/blobstore"
	"github.com/engramdb/engram/compress"
	"github.com/engramdb/engram/indexer"
	"github.com/engramdb/engram/lifecycle"
	"github.com/engramdb/engram/record"
)

// Item is one write request: content or a precomputed vector, plus the
// caller-supplied metadata.
type Item = indexer.Item

// Metadata carries the caller-supplied attributes of a record. Identity
// and Lane are required on every write.
type Metadata = record.Metadata

// Record is the unit of memory.
type Record = record.Record

// State is a record's lifecycle state.
type State = record.State

// Lifecycle states.
const (
	StateActive     = record.StateActive
	StateArchived   = record.StateArchived
	StateTombstoned = record.StateTombstoned
)

// AddOption configures one Add call.
type AddOption = indexer.AddOption

// WithUpdateInPlace makes Add overwrite the existing duplicate instead of
// rejecting the write.
func WithUpdateInPlace() AddOption {
	return indexer.WithUpdateInPlace()
}

// BulkResult is the per-item outcome of a BulkAdd.
type BulkResult = indexer.BulkResult

// BulkStatus classifies a BulkResult.
type BulkStatus = indexer.BulkStatus

// Bulk item outcomes.
const (
	BulkStatusCompleted = indexer.BulkStatusCompleted
	BulkStatusFailed    = indexer.BulkStatusFailed
	BulkStatusSkipped   = indexer.BulkStatusSkipped
	BulkStatusUnknown   = indexer.BulkStatusUnknown
)

// Stats are record counts by state plus the dedupe-drop total.
type Stats = indexer.Stats

// SweepReport summarizes one lifecycle sweep pass.
type SweepReport = lifecycle.Report

// Store is a content-addressed, lifecycle-managed vector memory store.
//
// Writes pass a dedupe gate keyed on a SHA-256 fingerprint of normalized
// content, reads are filtered nearest-neighbor searches, and a background
// sweeper ages records through active -> archived -> tombstoned with an
// audit trail on every erasure. Construct with InMemory or Durable.
type Store struct {
	be        backend.Backend
	ix        *indexer.Indexer
	sweeper   *lifecycle.Sweeper
	auditLog  audit.Log
	ownsAudit bool
	codec     compress.Codec
	blobs     blobstore.Store
	metrics   Recorder
	logger    *Logger
	opTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// opCtx bounds an operation by the configured timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}

// observe runs a metrics emission, swallowing and logging panics so a
// misbehaving recorder never changes an operation's outcome.
func (s *Store) observe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("metrics recorder panicked", "panic", r)
		}
	}()
	fn()
}

// Add writes one item. It returns the new record id, a DuplicateError when
// identical content is already stored (pass WithUpdateInPlace to overwrite
// instead), or a ValidationError / StorageError.
func (s *Store) Add(ctx context.Context, item Item, optFns ...AddOption) (string, error) {
	start := time.Now()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	id, err := s.ix.Add(ctx, item, optFns...)
	err = translateError(err)
	duration := time.Since(start)

	s.observe(func() {
		s.metrics.RecordAdd(duration, err)
		var dup *DuplicateError
		if errors.As(err, &dup) {
			s.metrics.RecordDedupeDrop()
		}
	})
	s.logger.LogAdd(ctx, id, err)
	return id, err
}

// BulkAdd writes a batch of items. Items fail independently; the returned
// slice is index-aligned with items and classifies every outcome, so a
// cancelled batch can be retried safely under the dedupe guarantee.
func (s *Store) BulkAdd(ctx context.Context, items []Item) []BulkResult {
	start := time.Now()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	results := s.ix.BulkAdd(ctx, items)

	failed := 0
	for i := range results {
		results[i].Err = translateError(results[i].Err)
		if results[i].Status != BulkStatusCompleted {
			failed++
		}
	}
	duration := time.Since(start)

	s.observe(func() {
		s.metrics.RecordBulkAdd(len(items), failed, duration)
		for i := range results {
			var dup *DuplicateError
			if errors.As(results[i].Err, &dup) {
				s.metrics.RecordDedupeDrop()
			}
		}
	})
	s.logger.LogBulkAdd(ctx, len(items), failed)
	return results
}

// Get returns a copy of the record, or ErrNotFound for absent or
// tombstoned ids. Archived payloads come back readable: an offloaded
// payload is fetched from the blob store and a compressed one is
// decompressed. A successful Get refreshes last_accessed_at, which the
// idle-archival policy is measured against.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rec, err := s.be.Get(ctx, id)
	if err != nil {
		return nil, translateError(err)
	}

	touched := rec.Clone()
	touched.LastAccessedAt = time.Now().UTC()
	if err := s.be.Update(ctx, touched); err != nil && !errors.Is(err, record.ErrConflict) {
		// The read itself succeeded; a failed access-time touch only
		// delays archival. A version conflict means a concurrent write
		// already refreshed the record.
		s.logger.Warn("access time touch failed", "record_id", id, "error", err)
	}
	return s.resolvePayload(ctx, rec)
}

// resolvePayload rehydrates an archived record for the caller: the payload
// is fetched back from the blob store when it was offloaded and
// decompressed when the archiver compressed it. The stored record is left
// untouched.
func (s *Store) resolvePayload(ctx context.Context, rec *Record) (*Record, error) {
	if rec.BlobRef != "" && len(rec.Payload) == 0 && s.blobs != nil {
		data, err := s.blobs.Get(ctx, rec.BlobRef)
		if err != nil {
			return nil, translateError(&record.StorageError{
				Kind:        record.StorageUnavailable,
				RecordID:    rec.ID,
				Fingerprint: rec.Fingerprint,
				Err:         fmt.Errorf("fetch offloaded payload %q: %w", rec.BlobRef, err),
			})
		}
		rec.Payload = data
	}
	if rec.PayloadCompressed && len(rec.Payload) > 0 && s.codec != nil {
		raw, err := s.codec.Decompress(rec.Payload)
		if err != nil {
			return nil, translateError(&record.StorageError{
				Kind:        record.StorageCorruption,
				RecordID:    rec.ID,
				Fingerprint: rec.Fingerprint,
				Err:         fmt.Errorf("decompress payload: %w", err),
			})
		}
		rec.Payload = raw
		rec.PayloadCompressed = false
	}
	return rec, nil
}

// Delete tombstones a record, irreversibly erasing its vector and payload
// while retaining id, fingerprint and an audit reference. The audit entry
// is written synchronously before erasure; if it cannot be written the
// delete fails. Repeating a delete is a no-op; an unknown id returns
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, id, reason string) error {
	start := time.Now()
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	changed, err := s.ix.Delete(ctx, id, reason)
	err = translateError(err)
	duration := time.Since(start)

	s.observe(func() {
		s.metrics.RecordDelete(duration, err)
		if changed {
			s.metrics.RecordTombstone(reason)
		}
	})
	s.logger.LogDelete(ctx, id, reason, err)
	return err
}

// Stats returns current record counts by state and the dedupe-drop total.
func (s *Store) Stats() Stats {
	stats := s.ix.Stats()
	s.observe(func() {
		s.metrics.RecordDocs(stats.Active, stats.Archived, stats.Tombstoned)
	})
	return stats
}

// Sweep runs one lifecycle pass synchronously and returns its report.
// Useful for tests and for stores built with the background sweeper
// disabled.
func (s *Store) Sweep(ctx context.Context) SweepReport {
	report := s.sweeper.RunOnce(ctx)
	s.onSweepReport(report)
	return report
}

// onSweepReport records sweep outcomes; also invoked by the background
// sweeper after every pass.
func (s *Store) onSweepReport(report lifecycle.Report) {
	s.observe(func() {
		s.metrics.RecordSweep(report.Archived, report.Tombstoned, report.Failed)
		for i := 0; i < report.Tombstoned; i++ {
			s.metrics.RecordTombstone(lifecycle.ReasonRetentionExpired)
		}
		bs := s.be.Stats()
		s.metrics.RecordDocs(bs.Active, bs.Archived, bs.Tombstoned)
	})
	s.logger.LogSweep(report.Scanned, report.Archived, report.Tombstoned, report.Failed)
}
