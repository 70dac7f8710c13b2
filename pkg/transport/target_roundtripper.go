package transport

import (
	"net/http"

	"github.com/luizaranda/courier/pkg/telemetry/tracing"
)

// TargetDecorator returns a RoundTripDecorator that tags handled requests
// with the given target id.
//
// For more information check TargetRoundTripper struct.
func TargetDecorator(targetID string) RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &TargetRoundTripper{
			Transport: base,
			TargetID:  targetID,
		}
	}
}

// TargetRoundTripper stamps the context of every handled request with a
// target id, the logical upstream name downstream stages use instead of the
// raw host: the traced stage tags its metrics with it and the circuit
// breaker buckets failures by it.
//
// A target id already present in the request context wins over the round
// tripper's own.
type TargetRoundTripper struct {
	Transport http.RoundTripper
	TargetID  string
}

func (t *TargetRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if tracing.TargetID(req.Context()) == "" {
		req = req.WithContext(tracing.WithTargetID(req.Context(), t.TargetID))
	}
	return t.Transport.RoundTrip(req)
}
