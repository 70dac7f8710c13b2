package transport

import (
	"net/http"
)

// CookieDecorator returns a RoundTripDecorator that attaches jar cookies
// to outgoing requests and merges Set-Cookie response headers back into
// the jar.
//
// For more information check CookieRoundTripper struct.
func CookieDecorator(jar http.CookieJar) RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &CookieRoundTripper{Transport: base, Jar: jar}
	}
}

// CookieRoundTripper attaches the jar's matching cookies before each
// request and feeds Set-Cookie headers of each response back to the jar.
//
// It must sit inside the redirect stage: that way every hop recomputes its
// Cookie header against the hop's own target, and a cookie set by one hop
// is visible to the next.
type CookieRoundTripper struct {
	Transport http.RoundTripper
	Jar       http.CookieJar
}

// RoundTrip executes a single HTTP transaction, returning
// a Response for the provided Request.
func (t *CookieRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if cookies := t.Jar.Cookies(req.URL); len(cookies) > 0 {
		// Attach on a clone: the caller's request must not accumulate
		// cookies across redirect hops.
		req = req.Clone(req.Context())
		for _, c := range cookies {
			req.AddCookie(c)
		}
	}

	res, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if cookies := res.Cookies(); len(cookies) > 0 {
		t.Jar.SetCookies(req.URL, cookies)
	}

	return res, nil
}
