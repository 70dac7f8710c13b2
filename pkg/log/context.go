package log

import (
	"context"
)

type logCtxKey struct{}

// Context returns a copy of the parent context carrying the given logger.
// A caller can use it to scope extra fields or a different level to
// everything done on its behalf.
func Context(ctx context.Context, log Logger) context.Context {
	return context.WithValue(ctx, logCtxKey{}, log)
}

// FromContext returns the logger associated with the given context, or
// DefaultLogger if it carries none.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(logCtxKey{}).(Logger); ok {
		return l
	}
	return DefaultLogger
}
