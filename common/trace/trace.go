// Package trace carries a per-turn correlation ID through context.Context so
// that every log line emitted while a message is processed can be joined.
package trace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type traceKey struct{}

// NewID returns a fresh trace ID of the form "t_<uuid without dashes>".
func NewID() string {
	u := uuid.New()
	return "t_" + stripDashes(u.String())
}

func stripDashes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// WithID stores id on ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// Ensure returns ctx unchanged when it already carries a trace ID, otherwise
// a child context with a new one. The ID in effect is returned too.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// FromContext returns the trace ID on ctx or "".
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns base annotated with the trace ID from ctx, if any.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := FromContext(ctx); id != "" {
		return base.With("trace_id", id)
	}
	return base
}
