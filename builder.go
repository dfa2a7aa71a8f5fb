package engram

// Builders are immutable: each method returns a new builder with the
// updated configuration, so partially configured builders can be shared
// safely.

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/engramdb/engram/audit"
	"github.com/engramdb/engram/backend"
	"github.com/engramdb/engram/backend/durable"
	"github.com/engramdb/engram/backend/memory"
	"github.com/engramdb/engram/compress"
	"github.com/engramdb/engram/fingerprint"
	"github.com/engramdb/engram/indexer"
	"github.com/engramdb/engram/lifecycle"
	"github.com/engramdb/engram/record"
)

// InMemory creates a builder for a volatile store with the given vector
// dimension. Exact flat search, nothing survives the process.
//
//	store, err := engram.InMemory(768).
//	    Cosine().
//	    RetentionActive(30 * 24 * time.Hour).
//	    Build(ctx)
func InMemory(dimension int) Builder {
	return newBuilder(dimension, "")
}

// Durable creates a builder for a crash-safe store rooted at path. Writes
// are committed to an append-only log and replayed on open.
//
//	store, err := engram.Durable("./data", 768).
//	    RetentionArchive(90 * 24 * time.Hour).
//	    Build(ctx)
func Durable(path string, dimension int) Builder {
	return newBuilder(dimension, path)
}

func newBuilder(dimension int, path string) Builder {
	return Builder{
		dimension:        dimension,
		path:             path,
		distanceType:     backend.DistanceTypeCosine,
		durability:       durable.DurabilitySync,
		scope:            fingerprint.ScopePerIdentity,
		level:            compress.LevelDefault,
		activeRetention:  30 * 24 * time.Hour,
		archiveRetention: 90 * 24 * time.Hour,
		sweepInterval:    time.Minute,
	}
}

// Builder configures and constructs a Store.
type Builder struct {
	dimension        int
	path             string
	distanceType     backend.DistanceType
	durability       durable.DurabilityMode
	scope            fingerprint.Scope
	level            compress.Level
	activeRetention  time.Duration
	archiveRetention time.Duration
	sweepInterval    time.Duration
	sweepRate        rate.Limit
}

// Cosine sets the distance metric to cosine distance. Default.
func (b Builder) Cosine() Builder {
	b.distanceType = backend.DistanceTypeCosine
	return b
}

// SquaredL2 sets the distance metric to squared Euclidean distance.
func (b Builder) SquaredL2() Builder {
	b.distanceType = backend.DistanceTypeSquaredL2
	return b
}

// GlobalDedupe widens the dedupe scope so identical content dedupes across
// identities. The default scope is per identity and lane.
func (b Builder) GlobalDedupe() Builder {
	b.scope = fingerprint.ScopeGlobal
	return b
}

// RetentionActive sets how long an unaccessed record stays active before
// archival. Zero archives on the next sweep; negative disables idle-based
// archival. Defaults to 30 days.
func (b Builder) RetentionActive(d time.Duration) Builder {
	b.activeRetention = d
	return b
}

// RetentionArchive sets how long a record stays archived before it is
// tombstoned. Zero tombstones on the next sweep; negative keeps archives
// forever. Defaults to 90 days.
func (b Builder) RetentionArchive(d time.Duration) Builder {
	b.archiveRetention = d
	return b
}

// SweepInterval sets the background sweep cadence. Zero or negative
// disables the background sweeper; Sweep can still be called manually.
// Defaults to one minute.
func (b Builder) SweepInterval(d time.Duration) Builder {
	b.sweepInterval = d
	return b
}

// SweepRateLimit bounds how many records a sweep touches per second, to
// keep sweeps from starving foreground traffic. Zero means unlimited.
func (b Builder) SweepRateLimit(perSecond float64) Builder {
	b.sweepRate = rate.Limit(perSecond)
	return b
}

// CompressionLevel sets the archival compression effort.
func (b Builder) CompressionLevel(level compress.Level) Builder {
	b.level = level
	return b
}

// Async relaxes durability for the durable backend: log entries are not
// fsynced per write, so a crash may lose the most recent commits. No
// effect on in-memory stores.
func (b Builder) Async() Builder {
	b.durability = durable.DurabilityAsync
	return b
}

// Build constructs the store, replays durable state, rebuilds the dedupe
// index and starts the background sweeper.
func (b Builder) Build(ctx context.Context, optFns ...Option) (*Store, error) {
	if b.dimension <= 0 {
		return nil, &record.ValidationError{Field: "dimension", Reason: "must be positive"}
	}
	opts := applyOptions(optFns)

	var (
		be  backend.Backend
		err error
	)
	if b.path == "" {
		be, err = memory.New(func(o *memory.Options) {
			o.Dimension = b.dimension
			o.DistanceType = b.distanceType
		})
	} else {
		be, err = durable.New(b.path, func(o *durable.Options) {
			o.Dimension = b.dimension
			o.DistanceType = b.distanceType
			o.Durability = b.durability
		})
	}
	if err != nil {
		return nil, translateError(err)
	}

	auditLog := opts.auditLog
	ownsAudit := false
	if opts.auditPath != "" {
		if auditLog, err = audit.NewFileLog(opts.auditPath); err != nil {
			_ = be.Close()
			return nil, err
		}
		ownsAudit = true
	}
	if auditLog == nil {
		auditLog = audit.NewMemoryLog()
	}

	ix, err := indexer.New(ctx, be, auditLog, indexer.Options{
		Dimension:       b.dimension,
		Scope:           b.scope,
		Embedder:        opts.embedder,
		BulkConcurrency: opts.bulkConcurrency,
	})
	if err != nil {
		_ = be.Close()
		return nil, translateError(err)
	}

	codec := opts.codec
	if codec == nil {
		codec = compress.NewZstd(b.level)
	}

	s := &Store{
		be:        be,
		ix:        ix,
		auditLog:  auditLog,
		ownsAudit: ownsAudit,
		codec:     codec,
		blobs:     opts.blobs,
		metrics:   opts.metrics,
		logger:    opts.logger,
		opTimeout: opts.opTimeout,
	}

	s.sweeper = lifecycle.New(be, ix, lifecycle.Options{
		ActiveRetention:  b.activeRetention,
		ArchiveRetention: b.archiveRetention,
		Interval:         b.sweepInterval,
		Codec:            codec,
		Blobs:            opts.blobs,
		RateLimit:        b.sweepRate,
		OnReport:         s.onSweepReport,
		Logger:           opts.logger.Logger,
	})
	if b.sweepInterval > 0 {
		s.sweeper.Start()
	}

	return s, nil
}
