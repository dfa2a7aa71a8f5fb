// Package record defines the memory record model shared by the indexer,
// backends and the lifecycle manager.
package record

import (
	"time"
)

// State is the lifecycle state of a record.
//
// The only valid transitions are Active -> Archived -> Tombstoned and the
// direct Active -> Tombstoned used by explicit deletes. Tombstoned is
// terminal.
type State uint8

const (
	// StateActive is the initial state of every freshly written record.
	StateActive State = iota

	// StateArchived marks a record whose payload has been compressed (and
	// possibly offloaded) after the active retention window elapsed.
	StateArchived

	// StateTombstoned marks an irreversibly erased record. Only the id,
	// fingerprint, tombstone timestamp and audit reference survive.
	StateTombstoned
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateArchived:
		return "archived"
	case StateTombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}

// ParseState parses the string form produced by State.String.
func ParseState(s string) (State, bool) {
	switch s {
	case "active":
		return StateActive, true
	case "archived":
		return StateArchived, true
	case "tombstoned":
		return StateTombstoned, true
	default:
		return 0, false
	}
}

// CanTransition reports whether a transition from s to next is legal.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateActive:
		return next == StateArchived || next == StateTombstoned
	case StateArchived:
		return next == StateTombstoned
	default:
		return false
	}
}

// Metadata carries the caller-supplied attributes of a record.
// Identity and Lane are required on every write; the store trusts them as
// supplied by the external identity collaborator.
type Metadata struct {
	// Identity is the owning caller.
	Identity string

	// Lane is the logical partition (tenant or subsystem boundary).
	Lane string

	// Tags is an ordered set of labels used for search filtering.
	Tags []string

	// Extra holds additional scalar attributes.
	Extra map[string]string
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	c := Metadata{
		Identity: m.Identity,
		Lane:     m.Lane,
	}
	if len(m.Tags) > 0 {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if len(m.Extra) > 0 {
		c.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Record is the unit of memory.
type Record struct {
	// ID is the stable unique identifier assigned at first successful
	// write. It is never reused.
	ID string

	// Fingerprint is the content-addressed dedupe key (hex encoded).
	Fingerprint string

	// Vector is the embedding. Its length equals the store dimension for
	// active and archived records and is nil for tombstones.
	Vector []float32

	// Payload is the raw content bytes. Compressed iff PayloadCompressed.
	// Empty when the payload has been offloaded to a blob store (BlobRef)
	// or the record is tombstoned.
	Payload []byte

	// Meta holds the caller-supplied attributes. Zero for tombstones.
	Meta Metadata

	State State

	CreatedAt      time.Time
	LastAccessedAt time.Time

	// ExpiresAt is optional; the zero value means no expiry. Once set it
	// only ever moves forward (Renew).
	ExpiresAt time.Time

	ArchivedAt   time.Time
	TombstonedAt time.Time

	// PayloadCompressed is true once the lifecycle manager has compressed
	// the payload. Incompressible payloads stay raw with this flag false.
	PayloadCompressed bool

	// BlobRef is the blob store key of an offloaded archived payload.
	BlobRef string

	// AuditRef references the audit entry written for the tombstone
	// transition.
	AuditRef string

	// DeleteReason records the trigger of the tombstone transition.
	DeleteReason string

	// Version is the optimistic concurrency token owned by the backend.
	// Persist sets it to 1 and every successful Update increments it; an
	// Update whose record carries a stale version fails with ErrConflict
	// instead of silently overwriting a concurrent write.
	Version uint64
}

// Clone returns a deep copy of the record. Backends hand out clones so
// callers can never mutate stored state.
func (r *Record) Clone() *Record {
	c := *r
	if len(r.Vector) > 0 {
		c.Vector = append([]float32(nil), r.Vector...)
	}
	if len(r.Payload) > 0 {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	c.Meta = r.Meta.Clone()
	return &c
}

// Renew moves ExpiresAt forward to t. Earlier values are ignored so that
// expiry is monotonic non-decreasing under rotation.
func (r *Record) Renew(t time.Time) {
	if t.After(r.ExpiresAt) {
		r.ExpiresAt = t
	}
}

// Tombstone erases all payload and vector data in place, retaining only
// the identifying fields and the audit trail reference.
func (r *Record) Tombstone(at time.Time, reason, auditRef string) {
	r.Vector = nil
	r.Payload = nil
	r.Meta = Metadata{}
	r.BlobRef = ""
	r.PayloadCompressed = false
	r.ExpiresAt = time.Time{}
	r.State = StateTombstoned
	r.TombstonedAt = at
	r.DeleteReason = reason
	r.AuditRef = auditRef
}
