package engram

import (
	"time"

	"github.com/engramdb/engram/audit"
	"github.com/engramdb/engram/blobstore"
	"github.com/engramdb/engram/compress"
	"github.com/engramdb/engram/indexer"
)

type options struct {
	logger          *Logger
	metrics         Recorder
	auditLog        audit.Log
	auditPath       string
	blobs           blobstore.Store
	codec           compress.Codec
	embedder        indexer.Embedder
	opTimeout       time.Duration
	bulkConcurrency int
}

// Option configures ambient store behavior: logging, metrics, the audit
// sink, payload offloading and operation timeouts. Domain knobs (distance
// metric, retention, compression level) live on the builders.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to NoopLogger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics sets the metrics recorder. Defaults to NoopRecorder.
func WithMetrics(r Recorder) Option {
	return func(o *options) {
		if r == nil {
			r = NoopRecorder{}
		}
		o.metrics = r
	}
}

// WithAuditLog sets the audit sink for tombstone transitions. The caller
// keeps ownership; Close does not close it. Defaults to an in-memory log.
func WithAuditLog(l audit.Log) Option {
	return func(o *options) {
		o.auditLog = l
	}
}

// WithAuditFile routes audit entries to an fsynced JSONL file owned and
// closed by the store. Takes precedence over WithAuditLog.
func WithAuditFile(path string) Option {
	return func(o *options) {
		o.auditPath = path
	}
}

// WithBlobStore makes the lifecycle manager offload compressed archived
// payloads to the given store.
func WithBlobStore(bs blobstore.Store) Option {
	return func(o *options) {
		o.blobs = bs
	}
}

// WithCodec overrides the archival compression codec. Defaults to zstd at
// the builder's compression level.
func WithCodec(c compress.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithEmbedder plugs in the embedding function used for content writes
// that do not carry a precomputed vector.
func WithEmbedder(e indexer.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithOperationTimeout bounds every store operation. Zero disables the
// bound. Defaults to 5s.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) {
		o.opTimeout = d
	}
}

// WithBulkConcurrency bounds in-flight items during BulkAdd.
func WithBulkConcurrency(n int) Option {
	return func(o *options) {
		o.bulkConcurrency = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:    NoopLogger(),
		metrics:   NoopRecorder{},
		opTimeout: 5 * time.Second,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
