package transport

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OpenTelemetryDecorator returns a decorator that opens a client span for
// each exchange and injects the propagation headers for distributed
// tracing. The span records a response even when its status was not a
// success.
func OpenTelemetryDecorator() RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return otelhttp.NewTransport(base)
	}
}
