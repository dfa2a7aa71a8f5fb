package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLog(t *testing.T) {
	l := NewMemoryLog()
	e := NewEntry("rec-1", "fp-1", "gdpr_request", time.Now())
	require.NoError(t, l.Append(context.Background(), e))

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "rec-1", entries[0].RecordID)
	assert.Equal(t, "gdpr_request", entries[0].Reason)
	assert.NotEmpty(t, entries[0].Ref)
}

func TestFileLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "deletions.jsonl")

	l, err := NewFileLog(path)
	require.NoError(t, err)

	e1 := NewEntry("rec-1", "fp-1", "retention_expired", time.Now())
	e2 := NewEntry("rec-2", "fp-2", "gdpr_request", time.Now())
	require.NoError(t, l.Append(context.Background(), e1))
	require.NoError(t, l.Append(context.Background(), e2))
	require.NoError(t, l.Close())

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, e1.Ref, entries[0].Ref)
	assert.Equal(t, "rec-2", entries[1].RecordID)
}

func TestFileLogReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deletions.jsonl")

	l, err := NewFileLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), NewEntry("a", "fa", "r", time.Now())))
	require.NoError(t, l.Close())

	l, err = NewFileLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), NewEntry("b", "fb", "r", time.Now())))
	require.NoError(t, l.Close())

	entries, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
