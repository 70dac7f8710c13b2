package telemetry

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

type telemetryClientCtxKey struct{}

// contextWithTransaction stores the transaction under the provider's own
// key as well, so newrelic.FromContext keeps working for code that digs
// for it directly.
func contextWithTransaction(ctx context.Context, nrTX *newrelic.Transaction, client Client) context.Context {
	return Context(newrelic.NewContext(ctx, nrTX), client)
}

// Context returns a copy of the parent context in which the telemetry
// client associated with it is the one given.
//
// Usually you'll call Context once with the Client returned by NewClient.
// The package-level metric helpers, and every component of this module
// that records metrics, resolve the client back out with FromContext.
func Context(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, telemetryClientCtxKey{}, client)
}

// FromContext returns the telemetry.Client associated with the given
// context, or DefaultTracer if it carries none.
func FromContext(ctx context.Context) Client {
	client, _ := ctx.Value(telemetryClientCtxKey{}).(Client)
	if client == nil {
		return DefaultTracer
	}
	return client
}
