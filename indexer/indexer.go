// Package indexer is the write front door of the store.
//
// It normalizes input, computes content fingerprints, enforces the dedupe
// invariant (at most one active/archived record per fingerprint, even under
// a write race) and hands accepted records to the backend. Deletes route
// through the indexer so the fingerprint index stays consistent with the
// backend's tombstone transitions.
package indexer

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/engramdb/engram/audit"
	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/fingerprint"
	"github.com/engramdb/engram/record"
)

// numStripes is the size of the fingerprint lock table. Writes to distinct
// fingerprints almost never contend; writes to the same fingerprint always
// serialize on the same stripe.
const numStripes = 64

// nowFunc is a test hook.
var nowFunc = time.Now

// Embedder turns raw content into a fixed-dimension vector. The store does
// not ship a model; callers plug one in.
type Embedder func(ctx context.Context, content string) ([]float32, error)

// Item is one write request. Either Content or Vector must be set; when
// both are present the supplied vector is stored and the fingerprint is
// computed over the normalized content.
type Item struct {
	Content string
	Vector  []float32
	Meta    record.Metadata

	// ExpiresAt is an optional expiry; zero means no expiry.
	ExpiresAt time.Time
}

// AddOption configures a single Add call.
type AddOption func(*addOptions)

type addOptions struct {
	updateInPlace bool
}

// WithUpdateInPlace makes Add overwrite the existing record when the
// fingerprint already exists, instead of rejecting the write as a
// duplicate. The existing record keeps its id and created_at.
func WithUpdateInPlace() AddOption {
	return func(o *addOptions) {
		o.updateInPlace = true
	}
}

// Stats are the indexer's counters: record counts by state plus the total
// number of writes dropped by the dedupe gate.
type Stats struct {
	Active        int
	Archived      int
	Tombstoned    int
	DedupeDropped uint64
}

type stripe struct {
	mu sync.Mutex

	// fingerprint -> record id, active and archived records only.
	ids map[string]string
}

// Options configure an Indexer.
type Options struct {
	// Dimension is the fixed vector dimension, validated on every write.
	Dimension int

	// Scope selects per-identity (default) or global dedupe.
	Scope fingerprint.Scope

	// Embedder is required for content writes without a precomputed
	// vector.
	Embedder Embedder

	// BulkConcurrency bounds the number of in-flight items during
	// BulkAdd. Defaults to 4.
	BulkConcurrency int
}

// Indexer enforces dedupe and validation in front of a backend.
type Indexer struct {
	be    backend.Backend
	log   audit.Log
	opts  Options
	fps   [numStripes]stripe
	drops atomic.Uint64
}

// New creates an Indexer and rebuilds the fingerprint index from the
// backend's current contents, so dedupe survives a restart of a durable
// store.
func New(ctx context.Context, be backend.Backend, auditLog audit.Log, opts Options, optFns ...func(*Options)) (*Indexer, error) {
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = 4
	}

	ix := &Indexer{
		be:   be,
		log:  auditLog,
		opts: opts,
	}
	for i := range ix.fps {
		ix.fps[i].ids = make(map[string]string)
	}

	err := be.Scan(ctx, func(rec *record.Record) error {
		if rec.State == record.StateTombstoned {
			return nil
		}
		ix.stripeFor(rec.Fingerprint).ids[rec.Fingerprint] = rec.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Indexer) stripeFor(fp string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fp))
	return &ix.fps[h.Sum32()%numStripes]
}

// prepare validates an item and resolves its fingerprint and vector.
func (ix *Indexer) prepare(ctx context.Context, item Item) (fp string, vec []float32, payload []byte, err error) {
	if strings.TrimSpace(item.Meta.Identity) == "" {
		return "", nil, nil, &record.ValidationError{Field: "identity", Reason: "required"}
	}
	if strings.TrimSpace(item.Meta.Lane) == "" {
		return "", nil, nil, &record.ValidationError{Field: "lane", Reason: "required"}
	}

	vec = item.Vector

	switch {
	case item.Content != "":
		normalized := fingerprint.Normalize(item.Content)
		if normalized == "" {
			return "", nil, nil, &record.ValidationError{Field: "content", Reason: "empty after normalization"}
		}
		fp = fingerprint.Content(normalized, item.Meta.Identity, item.Meta.Lane, ix.opts.Scope)
		payload = []byte(item.Content)

		if vec == nil {
			if ix.opts.Embedder == nil {
				return "", nil, nil, &record.ValidationError{Field: "content", Reason: "no embedder configured for content writes"}
			}
			vec, err = ix.opts.Embedder(ctx, normalized)
			if err != nil {
				return "", nil, nil, err
			}
		}
	case len(item.Vector) > 0:
		// Vector-only writes fingerprint the exact bit pattern plus
		// identity and lane so identical vectors from different tenants
		// never false-dedupe.
		fp = fingerprint.Vector(item.Vector, item.Meta.Identity, item.Meta.Lane)
	default:
		return "", nil, nil, &record.ValidationError{Field: "content", Reason: "either content or vector is required"}
	}

	if len(vec) != ix.opts.Dimension {
		return "", nil, nil, &record.ErrDimensionMismatch{Expected: ix.opts.Dimension, Actual: len(vec)}
	}
	return fp, vec, payload, nil
}

// Add writes one item. It returns the new record id, a DuplicateError when
// the fingerprint already exists (unless WithUpdateInPlace), or a
// ValidationError / StorageError.
func (ix *Indexer) Add(ctx context.Context, item Item, optFns ...AddOption) (string, error) {
	var o addOptions
	for _, fn := range optFns {
		fn(&o)
	}

	fp, vec, payload, err := ix.prepare(ctx, item)
	if err != nil {
		return "", err
	}

	// Check-then-insert for one fingerprint is a single critical section.
	st := ix.stripeFor(fp)
	st.mu.Lock()
	defer st.mu.Unlock()

	if existingID, ok := st.ids[fp]; ok {
		if !o.updateInPlace {
			ix.drops.Add(1)
			return "", &record.DuplicateError{Fingerprint: fp, ExistingID: existingID}
		}
		return existingID, ix.overwrite(ctx, existingID, item, vec, payload)
	}

	now := nowFunc().UTC()
	rec := &record.Record{
		ID:             uuid.NewString(),
		Fingerprint:    fp,
		Vector:         vec,
		Payload:        payload,
		Meta:           item.Meta.Clone(),
		State:          record.StateActive,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      item.ExpiresAt,
	}
	if err := ix.be.Persist(ctx, rec); err != nil {
		return "", err
	}
	st.ids[fp] = rec.ID
	return rec.ID, nil
}

// overwrite replaces the stored content of an existing record. Caller holds
// the fingerprint stripe lock; a version conflict can still come from the
// sweeper or an access-time touch, so the read-modify-write retries until
// it lands on the current version.
func (ix *Indexer) overwrite(ctx context.Context, id string, item Item, vec []float32, payload []byte) error {
	for {
		rec, err := ix.be.Get(ctx, id)
		if err != nil {
			return err
		}
		rec.Vector = vec
		rec.Payload = payload
		rec.Meta = item.Meta.Clone()
		rec.LastAccessedAt = nowFunc().UTC()
		rec.PayloadCompressed = false
		rec.BlobRef = ""
		rec.Renew(item.ExpiresAt)
		if err := ix.be.Update(ctx, rec); !errors.Is(err, record.ErrConflict) {
			return err
		}
	}
}

// Delete tombstones a record, writing the audit entry synchronously before
// any data is erased. A failed audit append fails the delete. Repeating a
// delete is a no-op reporting changed=false; deleting an unknown id
// returns record.ErrNotFound.
func (ix *Indexer) Delete(ctx context.Context, id, reason string) (changed bool, err error) {
	rec, err := ix.be.Get(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			// Distinguish already-tombstoned (no-op) from absent
			// (NotFound); the backend's tombstone is idempotent.
			_, _, terr := ix.be.Tombstone(ctx, id, reason, "")
			return false, terr
		}
		return false, err
	}

	// All deleters of a record pass through its fingerprint stripe, so
	// the re-check below makes the audit entry exactly-once.
	st := ix.stripeFor(rec.Fingerprint)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := ix.be.Get(ctx, id); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return false, nil // lost the race, already tombstoned
		}
		return false, err
	}

	entry := audit.NewEntry(id, rec.Fingerprint, reason, nowFunc().UTC())
	if err := ix.log.Append(ctx, entry); err != nil {
		return false, err
	}

	if _, _, err := ix.be.Tombstone(ctx, id, reason, entry.Ref); err != nil {
		return false, err
	}
	// The fingerprint is free for re-use once its record is tombstoned.
	if st.ids[rec.Fingerprint] == id {
		delete(st.ids, rec.Fingerprint)
	}
	return true, nil
}

// Stats returns the current counts by state plus the dedupe-drop total.
func (ix *Indexer) Stats() Stats {
	bs := ix.be.Stats()
	return Stats{
		Active:        bs.Active,
		Archived:      bs.Archived,
		Tombstoned:    bs.Tombstoned,
		DedupeDropped: ix.drops.Load(),
	}
}
