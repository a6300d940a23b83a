// Package obslog is the indexer's debug-log and per-event metrics sink
// (spec.md §7): value-domain row drops get a debug log line carrying the
// failed expression, filter misses are counted but never logged (they
// are not errors), and both classes roll up into per-event counters the
// operator can poll. Logger threads an io.Writer the way the teacher's
// Applier threads its output writer — defaulting to io.Discard rather
// than requiring every caller to supply one.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// EventMetrics is the running tally for one event/table dispatch.
type EventMetrics struct {
	DroppedRows  int
	FilterMisses int
}

// Logger is the debug-log + metrics facade the table runtime and
// executor report through.
type Logger struct {
	slog *slog.Logger

	mu      sync.Mutex
	metrics map[string]EventMetrics
}

// New builds a Logger writing structured debug records to w. A nil w
// defaults to io.Discard (spec.md's debug log is opt-in diagnostics, not
// a required sink).
func New(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = io.Discard
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{
		slog:    slog.New(handler),
		metrics: make(map[string]EventMetrics),
	}
}

// DroppedRow records a value-domain error that dropped one row (spec.md
// §7: "a row that violates a non-recoverable contract is counted in
// per-event metrics and emits a debug log with the failed expression").
func (l *Logger) DroppedRow(ctx context.Context, eventLabel, tableName, expr string, cause error) {
	l.bump(eventLabel, func(m *EventMetrics) { m.DroppedRows++ })
	l.slog.LogAttrs(ctx, slog.LevelDebug, "row dropped",
		slog.String("event", eventLabel),
		slog.String("table", tableName),
		slog.String("expr", expr),
		slog.Any("error", cause),
	)
}

// FilterMiss records a row that a filter expression excluded. Not an
// error (spec.md §7), so no log record is emitted — only the counter.
func (l *Logger) FilterMiss(eventLabel string) {
	l.bump(eventLabel, func(m *EventMetrics) { m.FilterMisses++ })
}

// TransientError logs a retryable failure (RPC, database) at warn level;
// the caller is responsible for the actual retry/propagation.
func (l *Logger) TransientError(ctx context.Context, eventLabel, op string, cause error) {
	l.slog.LogAttrs(ctx, slog.LevelWarn, "transient error",
		slog.String("event", eventLabel),
		slog.String("op", op),
		slog.Any("error", cause),
	)
}

func (l *Logger) bump(eventLabel string, f func(*EventMetrics)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.metrics[eventLabel]
	f(&m)
	l.metrics[eventLabel] = m
}

// Snapshot returns a copy of the current per-event metrics.
func (l *Logger) Snapshot() map[string]EventMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]EventMetrics, len(l.metrics))
	for k, v := range l.metrics {
		out[k] = v
	}
	return out
}
