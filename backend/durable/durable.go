// Package durable provides the file-backed vector store backend.
//
// Records are kept in an append-only log of CRC-framed, optionally
// zstd-compressed entries. Every committed entry is fsynced before the
// write returns (DurabilitySync, the default), so a crash after Persist
// returns never loses the record; replay truncates torn tails, so a crash
// mid-write never exposes a partial record to readers.
//
// Reads and searches are served by an embedded in-memory backend rebuilt
// from the log on open.
package durable

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/backend/memory"
	"github.com/engramdb/engram/record"
)

// Compile-time check that Store satisfies the backend interface.
var _ backend.Backend = (*Store)(nil)

// errTornEntry marks a truncated or corrupt log tail during replay.
var errTornEntry = errors.New("durable: torn log entry")

const logFileName = "records.log"

// DurabilityMode defines the fsync behavior for log appends.
type DurabilityMode int

const (
	// DurabilitySync fsyncs after every committed entry. Default.
	DurabilitySync DurabilityMode = iota

	// DurabilityAsync skips per-entry fsync. Faster, but a crash may lose
	// the most recent writes.
	DurabilityAsync
)

// Options contains configuration for the durable backend.
type Options struct {
	// Dimension is the fixed vector dimensionality. Required, > 0.
	Dimension int

	// DistanceType selects the search metric.
	DistanceType backend.DistanceType

	// Durability selects the fsync mode.
	Durability DurabilityMode

	// Compress enables zstd compression of log entries.
	Compress bool
}

// DefaultOptions contains the default configuration.
var DefaultOptions = Options{
	Dimension:    0,
	DistanceType: backend.DistanceTypeCosine,
	Durability:   DurabilitySync,
	Compress:     true,
}

// Store is the durable, file-backed backend.
type Store struct {
	mu   sync.Mutex // serializes log appends
	f    *os.File
	mem  *memory.Store
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	opts Options
	dir  string

	// replayed counts entries applied on open, for observability.
	replayed int
}

// New opens (or creates) a durable backend rooted at dir.
func New(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("durable: dimension must be positive, got %d", opts.Dimension)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("durable: create dir: %w", err)
	}

	mem, err := memory.New(func(o *memory.Options) {
		o.Dimension = opts.Dimension
		o.DistanceType = opts.DistanceType
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		mem:  mem,
		opts: opts,
		dir:  dir,
	}
	if opts.Compress {
		if s.enc, err = zstd.NewWriter(nil); err != nil {
			return nil, fmt.Errorf("durable: create compressor: %w", err)
		}
		if s.dec, err = zstd.NewReader(nil); err != nil {
			return nil, fmt.Errorf("durable: create decompressor: %w", err)
		}
	}

	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// open replays the existing log, truncates any torn tail, and leaves the
// file positioned for appends.
func (s *Store) open() error {
	path := filepath.Join(s.dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("durable: open log: %w", err)
	}
	s.f = f

	r := bufio.NewReader(io.NewSectionReader(f, 0, 1<<62))
	compressed, hasHeader, err := readLogHeader(r)
	if err != nil {
		_ = f.Close()
		return err
	}

	if !hasHeader {
		// Fresh log: write the header and fsync it.
		if err := writeLogHeader(f, s.opts.Compress); err != nil {
			_ = f.Close()
			return fmt.Errorf("durable: write log header: %w", err)
		}
		return f.Sync()
	}

	if compressed != s.opts.Compress {
		_ = f.Close()
		return fmt.Errorf("durable: log compression flag mismatch (log=%v, options=%v)", compressed, s.opts.Compress)
	}

	// Replay committed entries.
	offset := int64(logHeaderLen)
	cr := &countingReader{r: r}
	for {
		op, e, err := decodeEntry(cr, s.dec)
		if err == io.EOF {
			break
		}
		if errors.Is(err, errTornEntry) {
			// Only a crash tail may be truncated. A bad frame with valid
			// entries after it is corruption of committed data and must
			// stop the open, never be skipped.
			rest, rerr := readFrom(f, offset)
			if rerr != nil {
				_ = f.Close()
				return fmt.Errorf("durable: inspect bad frame at offset %d: %w", offset, rerr)
			}
			if hasLaterEntry(rest) {
				_ = f.Close()
				return &record.StorageError{
					Kind: record.StorageCorruption,
					Err:  fmt.Errorf("durable: corrupt log entry at offset %d precedes committed entries", offset),
				}
			}
			if terr := f.Truncate(offset); terr != nil {
				_ = f.Close()
				return fmt.Errorf("durable: truncate torn tail: %w", terr)
			}
			break
		}
		if err != nil {
			_ = f.Close()
			return err
		}
		if err := s.apply(op, e); err != nil {
			_ = f.Close()
			return fmt.Errorf("durable: replay entry at offset %d: %w", offset, err)
		}
		offset = int64(logHeaderLen) + cr.n
		s.replayed++
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return fmt.Errorf("durable: seek append position: %w", err)
	}
	return nil
}

// readFrom returns the file contents from offset to EOF.
func readFrom(f *os.File, offset int64) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() <= offset {
		return nil, nil
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// apply replays one entry into the in-memory state.
func (s *Store) apply(op opType, e *logEntry) error {
	ctx := context.Background()
	switch op {
	case opPersist:
		return s.mem.Persist(ctx, e.Record)
	case opUpdate:
		return s.mem.Update(ctx, e.Record)
	case opTombstone:
		_, _, err := s.mem.Tombstone(ctx, e.ID, e.Reason, e.AuditRef)
		if errors.Is(err, record.ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown op %d", op)
	}
}

// Replayed returns the number of log entries applied on open.
func (s *Store) Replayed() int { return s.replayed }

// append frames, writes and (in sync mode) fsyncs one entry.
// Callers must hold s.mu.
func (s *Store) append(op opType, e *logEntry) error {
	buf, err := encodeEntry(op, e, s.enc)
	if err != nil {
		return &record.StorageError{Kind: record.StorageUnavailable, Err: err}
	}
	if _, err := s.f.Write(buf); err != nil {
		return &record.StorageError{Kind: record.StorageUnavailable, Err: fmt.Errorf("append log entry: %w", err)}
	}
	if s.opts.Durability == DurabilitySync {
		if err := s.f.Sync(); err != nil {
			return &record.StorageError{Kind: record.StorageUnavailable, Err: fmt.Errorf("fsync log: %w", err)}
		}
	}
	return nil
}

func (s *Store) checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		kind := record.StorageUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = record.StorageTimeout
		}
		return &record.StorageError{Kind: kind, Err: err}
	}
	return nil
}

// Persist implements backend.Backend. The entry hits the log (and disk,
// in sync mode) before the record becomes visible to readers.
func (s *Store) Persist(ctx context.Context, rec *record.Record) error {
	if err := s.checkCtx(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject before logging so a failed persist leaves no log entry.
	if s.mem.Contains(rec.ID) {
		return &record.StorageError{
			Kind:     record.StorageUnavailable,
			RecordID: rec.ID,
			Err:      fmt.Errorf("id already exists"),
		}
	}
	if err := checkVector(s.opts.Dimension, rec); err != nil {
		return err
	}

	if err := s.append(opPersist, &logEntry{Record: rec}); err != nil {
		return err
	}
	return s.mem.Persist(ctx, rec)
}

// checkVector validates dimension before the entry is logged.
func checkVector(dim int, rec *record.Record) error {
	if rec.State == record.StateTombstoned {
		return nil
	}
	if len(rec.Vector) != dim {
		return &record.ErrDimensionMismatch{Expected: dim, Actual: len(rec.Vector)}
	}
	return nil
}

// Update implements backend.Backend.
func (s *Store) Update(ctx context.Context, rec *record.Record) error {
	if err := s.checkCtx(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate against current state before logging so a rejected update
	// leaves no log entry behind.
	cur, err := s.mem.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	if rec.Version != cur.Version {
		return record.ErrConflict
	}
	if err := checkVector(s.opts.Dimension, rec); err != nil {
		return err
	}
	if err := s.append(opUpdate, &logEntry{Record: rec}); err != nil {
		return err
	}
	return s.mem.Update(ctx, rec)
}

// Get implements backend.Backend.
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	if err := s.checkCtx(ctx); err != nil {
		return nil, err
	}
	return s.mem.Get(ctx, id)
}

// Tombstone implements backend.Backend.
func (s *Store) Tombstone(ctx context.Context, id, reason, auditRef string) (*record.Record, bool, error) {
	if err := s.checkCtx(ctx); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotence check before logging: an already-tombstoned record must
	// not produce a second log entry.
	prior, err := s.mem.Get(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return s.mem.Tombstone(ctx, id, reason, auditRef)
		}
		return nil, false, err
	}

	if err := s.append(opTombstone, &logEntry{ID: id, Reason: reason, AuditRef: auditRef, At: time.Now().UTC()}); err != nil {
		return nil, false, err
	}
	if _, _, err := s.mem.Tombstone(ctx, id, reason, auditRef); err != nil {
		return nil, false, err
	}
	return prior, true, nil
}

// Search implements backend.Backend.
func (s *Store) Search(ctx context.Context, query []float32, k int, f *backend.Filter) ([]backend.Hit, error) {
	return s.mem.Search(ctx, query, k, f)
}

// Scan implements backend.Backend.
func (s *Store) Scan(ctx context.Context, fn func(rec *record.Record) error) error {
	return s.mem.Scan(ctx, fn)
}

// Stats implements backend.Backend.
func (s *Store) Stats() backend.Stats {
	return s.mem.Stats()
}

// Compact rewrites the log from current state, dropping superseded
// entries. Tombstone shells are preserved so ids are never reused and the
// audit reference remains resolvable.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := filepath.Join(s.dir, logFileName+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("durable: create compaction file: %w", err)
	}
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeLogHeader(tmp, s.opts.Compress); err != nil {
		return fmt.Errorf("durable: write compaction header: %w", err)
	}

	// Tombstone shells are written as persist entries so replay keeps the
	// id reserved and the audit reference resolvable.
	werr := s.mem.Scan(ctx, func(rec *record.Record) error {
		buf, err := encodeEntry(opPersist, &logEntry{Record: rec}, s.enc)
		if err != nil {
			return err
		}
		_, err = tmp.Write(buf)
		return err
	})
	if werr != nil {
		return fmt.Errorf("durable: compaction write: %w", werr)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("durable: compaction fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("durable: compaction close: %w", err)
	}
	tmp = nil

	path := filepath.Join(s.dir, logFileName)
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("durable: commit compaction: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("durable: close old log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("durable: reopen log: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return fmt.Errorf("durable: seek reopened log: %w", err)
	}
	s.f = f
	return nil
}

// Close implements backend.Backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.f.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.mem.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.enc != nil {
		_ = s.enc.Close()
	}
	return errors.Join(errs...)
}
