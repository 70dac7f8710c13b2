package transport

import (
	"net/http"

	"github.com/gofrs/uuid"
)

const _requestIDHeader = "X-Request-Id"

// RequestIDDecorator returns a RoundTripDecorator that stamps outgoing
// requests with a correlation id.
//
// For more information check RequestIDRoundTripper struct.
func RequestIDDecorator() RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &RequestIDRoundTripper{Transport: base}
	}
}

// RequestIDRoundTripper sets a random X-Request-Id header on requests that
// do not carry one, so a transfer can be correlated across services. Ids
// set by the caller are preserved, which keeps the id stable across
// redirect hops and retries.
type RequestIDRoundTripper struct {
	Transport http.RoundTripper
}

// RoundTrip executes a single HTTP transaction, returning
// a Response for the provided Request.
func (t *RequestIDRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(_requestIDHeader) == "" {
		if id, err := uuid.NewV4(); err == nil {
			req.Header.Set(_requestIDHeader, id.String())
		}
	}
	return t.Transport.RoundTrip(req)
}
