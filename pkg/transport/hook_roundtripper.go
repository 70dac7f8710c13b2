package transport

import (
	"net/http"
)

// HookDecorator returns a RoundTripDecorator that runs the given hooks
// around the wrapped http.RoundTripper.
//
// For more information check HookRoundTripper struct.
func HookDecorator(req []RequestHook, res []ResponseHook) RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &HookRoundTripper{
			Transport:    base,
			RequestHook:  req,
			ResponseHook: res,
		}
	}
}

// RequestHook runs before each request goes out. Returning an error stops
// the exchange and hands that error to the caller.
//
// When modifying the request, consider that it is only safe to mutate the
// given request context and headers. All other modifications might
// result in undefined or unwanted behavior.
type RequestHook func(*http.Request) error

// ResponseHook runs after each exchange settles, successful or not. On
// transport errors the response is nil.
//
// Beware that if the response Body is read and/or closed from
// this method, it will affect the response returned from Do().
type ResponseHook func(*http.Request, *http.Response, error)

// A HookRoundTripper is a http.RoundTripper that surrounds each exchange
// with user-supplied hooks. The client builds one into every chain to
// stamp default headers and record retry metrics.
type HookRoundTripper struct {
	// Transport is the wrapped round tripper performing the exchange.
	Transport http.RoundTripper

	// RequestHook functions run in order before the request goes out.
	RequestHook []RequestHook

	// ResponseHook functions run in order once the exchange settles.
	ResponseHook []ResponseHook
}

// RoundTrip executes a single HTTP transaction, returning
// a Response for the provided Request.
func (t *HookRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for _, hook := range t.RequestHook {
		if err := hook(req); err != nil {
			return nil, err
		}
	}

	res, err := t.Transport.RoundTrip(req)

	for _, hook := range t.ResponseHook {
		hook(req, res, err)
	}

	return res, err
}
