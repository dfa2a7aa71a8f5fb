// Package blobstore abstracts the object store the lifecycle manager
// offloads compressed archived payloads to.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for small immutable payload blobs, keyed by
// record id.
type Store interface {
	// Put stores the blob under key, overwriting any existing blob.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the blob's contents, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob. Deleting an absent blob is a no-op.
	Delete(ctx context.Context, key string) error
}
