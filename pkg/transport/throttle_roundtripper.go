package transport

import (
	"net/http"

	"golang.org/x/time/rate"
)

// ThrottleDecorator returns a RoundTripDecorator that gates request starts
// through the given limiter.
//
// For more information check ThrottleRoundTripper struct.
func ThrottleDecorator(limiter *rate.Limiter) RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &ThrottleRoundTripper{Transport: base, Limiter: limiter}
	}
}

// ThrottleRoundTripper delays each request until the limiter grants a
// token, bounding the rate at which requests leave the client. Waiting
// respects the request context, so deadlines and cancellation cut the
// wait short.
type ThrottleRoundTripper struct {
	Transport http.RoundTripper
	Limiter   *rate.Limiter
}

// RoundTrip executes a single HTTP transaction, returning
// a Response for the provided Request.
func (t *ThrottleRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.Transport.RoundTrip(req)
}
