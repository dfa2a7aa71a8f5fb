package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "a", []byte("payload-a")))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("payload-a"), got)
	})

	t.Run("copies are defensive", func(t *testing.T) {
		data := []byte("mutable")
		require.NoError(t, s.Put(ctx, "b", data))
		data[0] = 'X'

		got, err := s.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []byte("mutable"), got)

		got[0] = 'Y'
		again, err := s.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []byte("mutable"), again)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "c", []byte("x")))
		require.NoError(t, s.Delete(ctx, "c"))

		_, err := s.Get(ctx, "c")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting again is not an error.
		assert.NoError(t, s.Delete(ctx, "c"))
	})
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "rec-1", []byte("hello blob")))

		got, err := s.Get(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello blob"), got)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "rec-2", []byte("v1")))
		require.NoError(t, s.Put(ctx, "rec-2", []byte("v2")))

		got, err := s.Get(ctx, "rec-2")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete idempotent", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "rec-3", []byte("x")))
		require.NoError(t, s.Delete(ctx, "rec-3"))
		require.NoError(t, s.Delete(ctx, "rec-3"))

		_, err := s.Get(ctx, "rec-3")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
