package transport

import (
	"errors"
	"net/http"

	"github.com/luizaranda/courier/pkg/telemetry"
	"github.com/luizaranda/courier/pkg/telemetry/tracing"
)

// CircuitBreaker tracks failures per bucket and decides whether a request
// aimed at that bucket may proceed. Allow returns the verdict plus the two
// callbacks the round tripper reports the outcome through.
type CircuitBreaker interface {
	Allow(bucket string) (allowed bool, success, failure func())
}

// CircuitBreakerCheckFunc tells the round tripper how to map an
// http.Response into a CircuitBreaker success or failure call. Success is
// called if true is returned, Failure if false.
type CircuitBreakerCheckFunc func(*http.Response) bool

// DefaultCircuitBreakerCheckFunc returns a CircuitBreakerCheckFunc which
// signals the breaker a failure occurred on any 5xx response status code.
func DefaultCircuitBreakerCheckFunc() CircuitBreakerCheckFunc {
	return func(r *http.Response) bool {
		return r.StatusCode < 500
	}
}

// CircuitBreakerDecorator returns a CircuitBreakerRoundTripper that provides
// circuit breaking capabilities to the given http.RoundTripper.
//
// For more information check CircuitBreakerRoundTripper struct.
func CircuitBreakerDecorator(cb CircuitBreaker, f CircuitBreakerCheckFunc, b func(r *http.Request) string) RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &CircuitBreakerRoundTripper{
			Base:           base,
			CircuitBreaker: cb,
			CheckFunc:      f,
			BucketFunc:     b,
		}
	}
}

// CircuitBreakerRoundTripper gates exchanges through a circuit breaker.
// Each request is mapped to a bucket, typically its target id or host, and
// the breaker decides per bucket whether the request may go out.
type CircuitBreakerRoundTripper struct {
	Base           http.RoundTripper
	CircuitBreaker CircuitBreaker

	// CheckFunc decides whether a response that did arrive still counts as
	// a failure for the breaker.
	//
	// Errors from the underlying RoundTripper are always signaled as
	// failures.
	CheckFunc CircuitBreakerCheckFunc

	// BucketFunc returns the breaker bucket the request belongs to.
	BucketFunc func(r *http.Request) string
}

func (b *CircuitBreakerRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	bucket := b.BucketFunc(r)

	allowed, success, failure := b.CircuitBreaker.Allow(bucket)
	if !allowed {
		telemetry.Incr(r.Context(), "courier.http.client.circuit_breaker.open", breakerTags(r, bucket))
		return nil, ErrCircuitOpen
	}

	res, err := b.Base.RoundTrip(r)
	if err != nil {
		failure()
		return res, err
	}

	if b.CheckFunc(res) {
		success()
	} else {
		failure()
	}

	return res, nil
}

func breakerTags(req *http.Request, bucket string) []string {
	tags := telemetry.Tags("bucket", telemetry.SanitizeMetricTagValue(bucket))
	if targetID := tracing.TargetID(req.Context()); targetID != "" {
		tags = append(tags, "target_id:"+telemetry.SanitizeMetricTagValue(targetID))
	}
	return tags
}

// ErrCircuitOpen is returned without touching the network when the
// request's bucket is open.
var ErrCircuitOpen = errors.New("transport: circuit breaker open")
