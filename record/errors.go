package record

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist or has been
// tombstoned. It is a normal outcome for Get and Delete, never a failure.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned by Update when the record's Version is stale,
// meaning another writer committed in between. The caller re-reads and
// reapplies its change, or drops it if the transition no longer applies.
var ErrConflict = errors.New("record version conflict")

// ValidationError reports malformed input: wrong vector dimension, missing
// required metadata or empty normalized content. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ErrDimensionMismatch is the ValidationError variant for vectors whose
// length differs from the store dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DuplicateError signals that a write carried a fingerprint that already
// exists as an active or archived record. It is a defined outcome, not a
// failure: no new record was created and the drop was counted.
type DuplicateError struct {
	Fingerprint string
	ExistingID  string
}

// Error returns the error message.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate content: fingerprint %s already stored as %s", e.Fingerprint, e.ExistingID)
}

// StorageKind classifies a StorageError.
type StorageKind uint8

const (
	// StorageTimeout means the backend call exceeded its bounded timeout.
	// Callers may retry with backoff.
	StorageTimeout StorageKind = iota

	// StorageUnavailable means the durable engine rejected or could not
	// serve the call. Callers may retry with backoff.
	StorageUnavailable

	// StorageCorruption means stored data failed integrity checks. Fatal
	// for the affected record; surfaced with id and fingerprint for
	// remediation, never silently skipped.
	StorageCorruption
)

// String returns a string representation of the StorageKind.
func (k StorageKind) String() string {
	switch k {
	case StorageTimeout:
		return "timeout"
	case StorageUnavailable:
		return "unavailable"
	case StorageCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// StorageError wraps a durable-engine failure with its classification and,
// where known, the affected record.
type StorageError struct {
	Kind        StorageKind
	RecordID    string
	Fingerprint string
	Err         error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("storage %s: record %s (fingerprint %s): %v", e.Kind, e.RecordID, e.Fingerprint, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry with backoff.
func (e *StorageError) IsRetryable() bool {
	return e.Kind == StorageTimeout || e.Kind == StorageUnavailable
}
