// Package engram provides a content-addressed, lifecycle-managed vector
// memory store, built as the durable substrate for an AI agent's long-term
// memory.
//
// Every write passes a dedupe gate: content is normalized, fingerprinted
// with SHA-256 and rejected when identical content is already stored for
// the same identity and lane. Reads are filtered nearest-neighbor searches
// with deterministic ordering. A background sweeper ages records through
// active -> archived -> tombstoned, compressing archived payloads and
// erasing tombstoned ones irreversibly behind a synchronous audit trail.
//
// # Quick Start
//
// In-memory store:
//
//	ctx := context.Background()
//	store, err := engram.InMemory(768).Build(ctx)
//	if err != nil {
//	    panic(err)
//	}
//	defer store.Close()
//
//	id, err := store.Add(ctx, engram.Item{
//	    Content: "the user prefers dark roast coffee",
//	    Vector:  embedding,
//	    Meta: engram.Metadata{
//	        Identity: "user-42",
//	        Lane:     "preferences",
//	        Tags:     []string{"coffee"},
//	    },
//	})
//
//	hits, err := store.Search(ctx, query, 10, func(o *engram.SearchOptions) {
//	    o.Lane = "preferences"
//	})
//
// Durable store with retention policy and a JSONL audit trail:
//
//	store, err := engram.Durable("./memory", 768).
//	    RetentionActive(30 * 24 * time.Hour).
//	    RetentionArchive(90 * 24 * time.Hour).
//	    SweepInterval(time.Minute).
//	    Build(ctx, engram.WithAuditFile("./memory/audit.jsonl"))
//
// Erasure requests tombstone immediately and leave exactly one audit
// entry:
//
//	err = store.Delete(ctx, id, "gdpr_request")
//
// # Backends
//
// Two interchangeable backends are selected by the builder: an in-memory
// flat index with exact search, and a durable append-only log replayed on
// open. Both filter candidates with a Roaring Bitmap inverted index over
// identity, lane, tags and state before scoring.
package engram
