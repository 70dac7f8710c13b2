// Package transport holds the interceptor stages a courier client composes
// around its single-exchange dispatcher. Each stage is an http.RoundTripper
// wrapping the next one, so cross-cutting policy (redirects, cookies,
// caching, tracing, throttling) stays out of the transfer loop.
package transport

import (
	"net/http"
)

// RoundTripDecorator is a named type for any function that takes a RoundTripper
// and returns a RoundTripper.
type RoundTripDecorator func(http.RoundTripper) http.RoundTripper

// RoundTripChain is an ordered collection of RoundTripDecorator.
type RoundTripChain []RoundTripDecorator

// Apply wraps the given RoundTripper with the RoundTripDecorator chain: the
// first decorator in the chain becomes the outermost stage, so requests
// traverse the chain in slice order.
func (c RoundTripChain) Apply(base http.RoundTripper) http.RoundTripper {
	for x := len(c) - 1; x >= 0; x = x - 1 {
		base = c[x](base)
	}
	return base
}
