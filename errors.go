package engram

import (
	"context"
	"errors"

	"github.com/engramdb/engram/record"
)

// The error taxonomy lives in the record package; the aliases below let
// callers work against this package alone.
var (
	// ErrNotFound is returned for absent or already-tombstoned ids. It is
	// a normal outcome for Get and Delete, never a failure.
	ErrNotFound = record.ErrNotFound
)

// ValidationError reports malformed input. Never retried automatically.
type ValidationError = record.ValidationError

// ErrDimensionMismatch reports a vector whose length differs from the
// configured store dimension.
type ErrDimensionMismatch = record.ErrDimensionMismatch

// DuplicateError signals that no new record was created because the
// fingerprint already exists. A defined outcome, not a failure.
type DuplicateError = record.DuplicateError

// StorageError wraps a durable-engine failure; its Kind separates
// retryable Timeout/Unavailable from fatal Corruption.
type StorageError = record.StorageError

// StorageKind values, re-exported for classification checks.
const (
	StorageTimeout     = record.StorageTimeout
	StorageUnavailable = record.StorageUnavailable
	StorageCorruption  = record.StorageCorruption
)

// translateError normalizes errors crossing the facade boundary. Backends
// classify their own failures; raw context errors (from embedders, audit
// sinks or direct cancellation) are folded into the storage taxonomy here.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var se *record.StorageError
	if errors.As(err, &se) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &record.StorageError{Kind: record.StorageTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &record.StorageError{Kind: record.StorageUnavailable, Err: err}
	}
	return err
}
