// Package audit records the trail of destructive operations.
//
// Every tombstone transition appends exactly one entry, synchronously,
// before any payload data is erased. An append failure fails the delete:
// the store never erases without a trail.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one deletion audit record.
type Entry struct {
	// Ref is the unique reference of this entry, stored on the tombstoned
	// record as its audit reference.
	Ref string `json:"ref"`

	RecordID    string    `json:"record_id"`
	Fingerprint string    `json:"fingerprint"`
	Time        time.Time `json:"time"`

	// Reason is the trigger: an explicit caller reason (e.g. a
	// data-subject request) or the sweeper's retention trigger.
	Reason string `json:"reason"`
}

// NewEntry creates an entry for the given record with a fresh reference.
func NewEntry(recordID, fp, reason string, at time.Time) Entry {
	return Entry{
		Ref:         uuid.NewString(),
		RecordID:    recordID,
		Fingerprint: fp,
		Time:        at.UTC(),
		Reason:      reason,
	}
}

// Log is an append-only audit sink.
type Log interface {
	// Append durably records the entry. It must not return until the
	// entry is persisted to the log's medium.
	Append(ctx context.Context, e Entry) error

	// Close releases resources.
	Close() error
}

// MemoryLog keeps entries in memory. Intended for tests and for stores
// whose audit trail is handled by a wrapping layer.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// Entries returns a snapshot of all appended entries.
func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Close implements Log.
func (l *MemoryLog) Close() error { return nil }

// FileLog appends JSON lines to a file and fsyncs every entry before
// Append returns.
type FileLog struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// NewFileLog opens (or creates) the audit file at path.
func NewFileLog(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileLog{
		f:    f,
		w:    bufio.NewWriter(f),
		path: path,
	}, nil
}

// Append implements Log. The entry is flushed and fsynced before return.
func (l *FileLog) Append(_ context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(b); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("audit: flush: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("audit: fsync: %w", err)
	}
	return nil
}

// Close implements Log.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

// ReadFile loads all entries from a FileLog's file, newest last.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("audit: parse %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
