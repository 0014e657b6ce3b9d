package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns a production-friendly structured logger tagged with the
// service instance, so lines from different nodes can be told apart.
func New(appEnv, instanceID string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv, instanceID)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, appEnv, instanceID string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	l := slog.New(h).With("service", "signaling")
	if instanceID != "" {
		l = l.With("instance", instanceID)
	}
	return l
}

// Discard is a logger that drops everything. Handy as a default in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
