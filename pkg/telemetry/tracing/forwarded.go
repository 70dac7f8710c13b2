package tracing

import (
	"context"
)

type forwardedHeadersCtxKey struct{}

// WithForwardedHeaders sets in the context the headers that outgoing requests
// built from it should carry, keyed by header name.
//
// Incoming handlers use it to propagate correlation headers to every transfer
// started on behalf of the request being served.
func WithForwardedHeaders(ctx context.Context, headers map[string]string) context.Context {
	return context.WithValue(ctx, forwardedHeadersCtxKey{}, headers)
}

// ForwardedHeaders returns the headers associated with the given context or
// nil if none are found.
//
// ForwardedHeaders can be set by using WithForwardedHeaders function.
func ForwardedHeaders(ctx context.Context) map[string]string {
	value, _ := ctx.Value(forwardedHeadersCtxKey{}).(map[string]string)
	return value
}
