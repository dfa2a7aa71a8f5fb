// Package lifecycle enforces retention policy in the background.
//
// A Sweeper periodically walks the backend and moves records through the
// active -> archived -> tombstoned state machine: idle or expired records
// are archived with their payload compressed (and optionally offloaded to
// a blob store), and archived records past their retention window are
// tombstoned through the indexer's audited delete path. The sweeper is an
// owned task with an explicit Start/Stop lifecycle; it never blocks
// foreground readers or writers and serializes against itself.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/blobstore"
	"github.com/engramdb/engram/compress"
	"github.com/engramdb/engram/record"
)

// nowFunc is a test hook.
var nowFunc = time.Now

// ReasonRetentionExpired is the audit reason the sweeper uses when it
// tombstones a record whose archive retention window has elapsed.
const ReasonRetentionExpired = "retention_expired"

// Deleter is the audited delete path; satisfied by indexer.Indexer. The
// sweeper never erases records by touching the backend directly. changed
// reports whether the call performed the transition, so re-sweeps of an
// already-tombstoned record count as no-ops.
type Deleter interface {
	Delete(ctx context.Context, id, reason string) (changed bool, err error)
}

// Report summarizes one sweep pass. Per-record failures are isolated: they
// are collected here and retried on the next cycle, never aborting the
// sweep for other records.
type Report struct {
	Scanned    int
	Archived   int
	Tombstoned int
	Failed     int
	Errors     []error
}

// Options configure a Sweeper.
type Options struct {
	// ActiveRetention is how long a record may stay active without being
	// accessed before it is archived. Zero archives on the next sweep;
	// negative disables idle-based archival (expiry still applies).
	ActiveRetention time.Duration

	// ArchiveRetention is how long a record stays archived before it is
	// tombstoned. Zero tombstones on the next sweep; negative keeps
	// archives forever.
	ArchiveRetention time.Duration

	// Interval between background sweeps. Defaults to time.Minute.
	Interval time.Duration

	// Codec compresses payloads on archival. Nil skips compression.
	Codec compress.Codec

	// Blobs, when set, receives compressed archived payloads; the record
	// then carries only the blob key. Blobs of tombstoned records are
	// deleted.
	Blobs blobstore.Store

	// RateLimit bounds how many records one sweep touches per second.
	// Zero means unlimited.
	RateLimit rate.Limit

	// OnReport is called after every background sweep pass.
	OnReport func(Report)

	Logger *slog.Logger
}

// Sweeper is the background lifecycle manager.
type Sweeper struct {
	be      backend.Backend
	deleter Deleter
	opts    Options
	limiter *rate.Limiter

	runMu sync.Mutex // serializes sweep passes

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Sweeper. It does not start sweeping until Start is called.
func New(be backend.Backend, deleter Deleter, opts Options, optFns ...func(*Options)) *Sweeper {
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}

	return &Sweeper{
		be:      be,
		deleter: deleter,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.stop, s.done)
}

// Stop halts the background loop and waits for an in-flight sweep to
// finish. Safe to call multiple times and on a never-started sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Sweeper) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel() // aborts an in-flight pass on Stop
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			report := s.RunOnce(ctx)
			if s.opts.OnReport != nil {
				s.opts.OnReport(report)
			}
		}
	}
}

// RunOnce executes a single sweep pass and returns its report. Concurrent
// calls serialize; re-running against already-transitioned records is a
// no-op.
func (s *Sweeper) RunOnce(ctx context.Context) Report {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	var report Report
	now := nowFunc().UTC()

	// Scan snapshots the backend, so transitions below never mutate the
	// set being iterated.
	var candidates []*record.Record
	err := s.be.Scan(ctx, func(rec *record.Record) error {
		if rec.State == record.StateTombstoned {
			return nil
		}
		candidates = append(candidates, rec)
		return nil
	})
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Errorf("lifecycle: scan: %w", err))
		return report
	}

	for _, rec := range candidates {
		if err := s.limiter.Wait(ctx); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("lifecycle: sweep aborted: %w", err))
			return report
		}
		report.Scanned++

		var err error
		switch {
		case rec.State == record.StateActive && s.shouldArchive(rec, now):
			var archived bool
			if archived, err = s.archive(ctx, rec.ID, now); err == nil && archived {
				report.Archived++
			}
		case rec.State == record.StateArchived && s.shouldTombstone(rec, now):
			var changed bool
			if changed, err = s.tombstone(ctx, rec); err == nil && changed {
				report.Tombstoned++
			}
		}
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("lifecycle: record %s: %w", rec.ID, err))
			s.opts.Logger.Warn("sweep transition failed", "record_id", rec.ID, "state", rec.State.String(), "error", err)
		}
	}
	return report
}

func (s *Sweeper) shouldArchive(rec *record.Record, now time.Time) bool {
	if !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt) {
		return true
	}
	if s.opts.ActiveRetention < 0 {
		return false
	}
	return now.Sub(rec.LastAccessedAt) >= s.opts.ActiveRetention
}

func (s *Sweeper) shouldTombstone(rec *record.Record, now time.Time) bool {
	if s.opts.ArchiveRetention < 0 {
		return false
	}
	return now.Sub(rec.ArchivedAt) >= s.opts.ArchiveRetention
}

// archive compresses the payload, optionally offloads it to the blob
// store, and rewrites the record as archived. The scan snapshot is only a
// hint: the record is re-read and the policy re-checked here, and the
// final write is version-checked, so a renewal committed mid-sweep is
// never reverted and expires_at never moves backwards.
func (s *Sweeper) archive(ctx context.Context, id string, now time.Time) (bool, error) {
	rec, err := s.be.Get(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return false, nil // deleted since the scan
		}
		return false, err
	}
	if rec.State != record.StateActive || !s.shouldArchive(rec, now) {
		return false, nil // renewed or transitioned since the scan
	}

	if len(rec.Payload) > 0 && !rec.PayloadCompressed && s.opts.Codec != nil {
		out, compressed, err := s.opts.Codec.Compress(rec.Payload)
		if err != nil {
			return false, fmt.Errorf("compress payload: %w", err)
		}
		rec.Payload = out
		rec.PayloadCompressed = compressed
	}

	offloaded := false
	if s.opts.Blobs != nil && len(rec.Payload) > 0 {
		if err := s.opts.Blobs.Put(ctx, rec.ID, rec.Payload); err != nil {
			return false, fmt.Errorf("offload payload: %w", err)
		}
		rec.BlobRef = rec.ID
		rec.Payload = nil
		offloaded = true
	}

	rec.State = record.StateArchived
	rec.ArchivedAt = now
	if err := s.be.Update(ctx, rec); err != nil {
		if offloaded {
			if derr := s.opts.Blobs.Delete(ctx, rec.BlobRef); derr != nil {
				s.opts.Logger.Warn("orphan blob after failed archive", "record_id", rec.ID, "blob_ref", rec.BlobRef, "error", derr)
			}
		}
		if errors.Is(err, record.ErrConflict) {
			return false, nil // a foreground write won; reconsider next pass
		}
		return false, err
	}
	return true, nil
}

// tombstone routes through the audited delete path, then drops the
// offloaded blob. A blob-delete failure is logged and left for operators;
// the tombstone itself has already committed.
func (s *Sweeper) tombstone(ctx context.Context, rec *record.Record) (bool, error) {
	changed, err := s.deleter.Delete(ctx, rec.ID, ReasonRetentionExpired)
	if err != nil {
		return false, err
	}
	if changed && s.opts.Blobs != nil && rec.BlobRef != "" {
		if err := s.opts.Blobs.Delete(ctx, rec.BlobRef); err != nil {
			s.opts.Logger.Warn("blob delete failed after tombstone", "record_id", rec.ID, "blob_ref", rec.BlobRef, "error", err)
		}
	}
	return changed, nil
}
