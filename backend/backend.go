// Package backend defines the vector store backend capability interface.
//
// A backend owns record storage exclusively: the indexer and the lifecycle
// manager mutate records only through Persist, Update and Tombstone, never
// by touching storage directly. Implementations must allow concurrent
// calls for different records without restriction.
package backend

import (
	"context"

	"github.com/engramdb/engram/record"
)

// DistanceType selects the metric used for similarity search.
type DistanceType int

const (
	// DistanceTypeCosine scores by cosine distance (1 - cosine
	// similarity). Default for embedding workloads.
	DistanceTypeCosine DistanceType = iota

	// DistanceTypeSquaredL2 scores by squared Euclidean distance.
	DistanceTypeSquaredL2
)

// String returns a string representation of the DistanceType.
func (dt DistanceType) String() string {
	switch dt {
	case DistanceTypeCosine:
		return "Cosine"
	case DistanceTypeSquaredL2:
		return "SquaredL2"
	default:
		return "Unknown"
	}
}

// Filter restricts a search to matching records. Zero-valued fields do not
// constrain. When States is empty the search covers active records only;
// tombstones are never searchable.
type Filter struct {
	Identity string
	Lane     string

	// Tags must all be present on a matching record (AND logic).
	Tags []string

	States []record.State
}

// EffectiveStates returns the state set the filter selects, applying the
// active-only default and dropping tombstoned.
func (f *Filter) EffectiveStates() []record.State {
	if f == nil || len(f.States) == 0 {
		return []record.State{record.StateActive}
	}
	states := make([]record.State, 0, len(f.States))
	for _, s := range f.States {
		if s != record.StateTombstoned {
			states = append(states, s)
		}
	}
	return states
}

// Hit is one search result.
type Hit struct {
	ID string

	// Score is the distance between query and record vector; lower is
	// closer for both supported metrics.
	Score float32
}

// Stats are counts of records by state.
type Stats struct {
	Active     int
	Archived   int
	Tombstoned int
	Dimension  int
}

// Backend is the durable storage capability.
type Backend interface {
	// Persist durably stores a new record. A crash after Persist returns
	// nil never loses the record; a crash before never exposes a partial
	// record to readers.
	Persist(ctx context.Context, rec *record.Record) error

	// Update rewrites an existing record (state transitions, compression
	// flags, timestamp updates). The record's Version must match the
	// stored version; record.ErrConflict reports a concurrent write, and
	// a successful Update mirrors the new version into rec. Returns
	// record.ErrNotFound for unknown ids.
	Update(ctx context.Context, rec *record.Record) error

	// Get returns a copy of the record, or record.ErrNotFound for absent
	// or tombstoned ids (only id/fingerprint/tombstone fields survive a
	// tombstone; they are not a readable record).
	Get(ctx context.Context, id string) (*record.Record, error)

	// Tombstone irreversibly erases payload and vector data, retaining
	// id, fingerprint, timestamp and the audit reference. It reports
	// changed=false when the record was already tombstoned (idempotent).
	Tombstone(ctx context.Context, id, reason, auditRef string) (prior *record.Record, changed bool, err error)

	// Search returns up to k nearest records matching the filter.
	// Deterministic for an unchanged index; ties break by id ascending.
	Search(ctx context.Context, query []float32, k int, f *Filter) ([]Hit, error)

	// Scan streams every record, including tombstones, to fn. Used by the
	// lifecycle sweeper and for fingerprint index recovery. A non-nil
	// error from fn stops the scan.
	Scan(ctx context.Context, fn func(rec *record.Record) error) error

	// Stats returns counts by state.
	Stats() Stats

	// Close releases resources.
	Close() error
}
