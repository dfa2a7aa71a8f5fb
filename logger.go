package engram

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with store-specific helpers so operations log
// with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// LogAdd logs one write.
func (l *Logger) LogAdd(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed", "error", err)
	} else {
		l.DebugContext(ctx, "add completed", "record_id", id)
	}
}

// LogBulkAdd logs a batch write.
func (l *Logger) LogBulkAdd(ctx context.Context, total, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "bulk add completed with failures",
			"total", total,
			"failed", failed,
			"success", total-failed,
		)
	} else {
		l.InfoContext(ctx, "bulk add completed", "total", total)
	}
}

// LogSearch logs one search.
func (l *Logger) LogSearch(ctx context.Context, k, hits int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
	} else {
		l.DebugContext(ctx, "search completed", "k", k, "hits", hits)
	}
}

// LogDelete logs one tombstone transition.
func (l *Logger) LogDelete(ctx context.Context, id, reason string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed", "record_id", id, "reason", reason, "error", err)
	} else {
		l.InfoContext(ctx, "record tombstoned", "record_id", id, "reason", reason)
	}
}

// LogSweep logs the outcome of one lifecycle sweep pass.
func (l *Logger) LogSweep(scanned, archived, tombstoned, failed int) {
	if failed > 0 {
		l.Warn("sweep completed with failures",
			"scanned", scanned,
			"archived", archived,
			"tombstoned", tombstoned,
			"failed", failed,
		)
	} else if archived > 0 || tombstoned > 0 {
		l.Info("sweep completed",
			"scanned", scanned,
			"archived", archived,
			"tombstoned", tombstoned,
		)
	} else {
		l.Debug("sweep completed", "scanned", scanned)
	}
}
