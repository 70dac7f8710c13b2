package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultMaxRedirects is the hop budget used by Follow and FollowSameOrigin
// when none is given.
const DefaultMaxRedirects = 10

var (
	// ErrTooManyRedirects is returned when a redirect chain exceeds the
	// policy's hop budget.
	ErrTooManyRedirects = errors.New("transport: too many redirects")

	// ErrInvalidRedirect is returned when a redirect response carries no
	// Location header or one that does not parse.
	ErrInvalidRedirect = errors.New("transport: invalid redirect location")

	// ErrBodyNotRewindable is returned when a 307/308 hop needs to resend
	// the request body but the request cannot replay it.
	ErrBodyNotRewindable = errors.New("transport: request body cannot be replayed")
)

type redirectMode int

const (
	_redirectNone redirectMode = iota
	_redirectFollow
	_redirectSameOrigin
)

// RedirectPolicy controls whether and how far the redirect stage follows
// 3xx responses. The zero value follows nothing.
type RedirectPolicy struct {
	mode redirectMode
	max  int
}

// NoFollow returns the policy that delivers 3xx responses to the caller
// untouched.
func NoFollow() RedirectPolicy { return RedirectPolicy{} }

// Follow returns a policy that follows redirects up to max hops. A max of
// zero or less means DefaultMaxRedirects.
func Follow(max int) RedirectPolicy {
	if max <= 0 {
		max = DefaultMaxRedirects
	}
	return RedirectPolicy{mode: _redirectFollow, max: max}
}

// FollowSameOrigin returns a policy like Follow that additionally refuses
// to leave the original scheme and host: a cross-origin redirect is handed
// back to the caller as a plain 3xx response.
func FollowSameOrigin(max int) RedirectPolicy {
	if max <= 0 {
		max = DefaultMaxRedirects
	}
	return RedirectPolicy{mode: _redirectSameOrigin, max: max}
}

// MaxHops returns the policy's hop budget, zero for NoFollow.
func (p RedirectPolicy) MaxHops() int {
	if p.mode == _redirectNone {
		return 0
	}
	return p.max
}

type redirectPolicyKey struct{}

// WithRedirectPolicy returns a context carrying a redirect policy override
// for a single request.
func WithRedirectPolicy(ctx context.Context, policy RedirectPolicy) context.Context {
	return context.WithValue(ctx, redirectPolicyKey{}, policy)
}

func redirectPolicyFromContext(ctx context.Context) (RedirectPolicy, bool) {
	p, ok := ctx.Value(redirectPolicyKey{}).(RedirectPolicy)
	return p, ok
}

type hopsKey struct{}

func withHops(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, hopsKey{}, n)
}

// Hops reports how many redirect hops the redirect stage followed before
// producing the request the context belongs to.
func Hops(ctx context.Context) int {
	n, _ := ctx.Value(hopsKey{}).(int)
	return n
}

// RedirectRewriteFunc decides the method for the hop following a redirect
// response, and whether the request body is dropped for it.
type RedirectRewriteFunc func(status int, method string) (newMethod string, dropBody bool)

// StandardRedirectRewrite applies the usual HTTP semantics: 301, 302 and
// 303 rewrite POST to GET and drop the body; 307 and 308 preserve both.
func StandardRedirectRewrite(status int, method string) (string, bool) {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method == http.MethodPost {
			return http.MethodGet, true
		}
	}
	return method, false
}

// RedirectDecorator returns a RoundTripDecorator that follows HTTP
// redirects according to the given policy.
//
// For more information check RedirectRoundTripper struct.
func RedirectDecorator(policy RedirectPolicy) RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &RedirectRoundTripper{Transport: base, Policy: policy}
	}
}

// RedirectRoundTripper follows 301, 302, 303, 307 and 308 responses by
// reissuing the request against the Location target through the wrapped
// transport, so every inner stage (cookies included) runs again for each
// hop. Other statuses, 304 included, pass through untouched.
//
// Hops that leave the original scheme and host drop the Authorization and
// Cookie headers the caller set on the request.
type RedirectRoundTripper struct {
	Transport http.RoundTripper

	// Policy is the stage default; a request may override it via
	// WithRedirectPolicy.
	Policy RedirectPolicy

	// Rewrite decides per-status method rewriting. Nil means
	// StandardRedirectRewrite.
	Rewrite RedirectRewriteFunc
}

// Bytes of a redirect response body drained before reissuing, to let the
// engine finish the exchange cleanly.
const _redirectBodyDrain = 2 << 10

func (t *RedirectRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	policy := t.Policy
	if p, ok := redirectPolicyFromContext(req.Context()); ok {
		policy = p
	}

	for hop := 0; ; {
		res, err := t.Transport.RoundTrip(req)
		if err != nil {
			return nil, err
		}

		if policy.mode == _redirectNone || !isRedirect(res.StatusCode) {
			return res, nil
		}

		target, err := redirectTarget(req, res)
		if err != nil {
			discardBody(res)
			return nil, err
		}

		if policy.mode == _redirectSameOrigin && !sameOrigin(req.URL, target) {
			return res, nil
		}

		hop++
		if hop > policy.max {
			discardBody(res)
			return nil, fmt.Errorf("%w: stopped after %d hops", ErrTooManyRedirects, policy.max)
		}

		next, err := t.nextRequest(req, res, target, hop)
		if err != nil {
			discardBody(res)
			return nil, err
		}

		discardBody(res)
		req = next
	}
}

// nextRequest derives the follow-up request for a redirect: new target,
// possibly rewritten method, replayed or dropped body, credentials
// stripped when the hop changes origin.
func (t *RedirectRoundTripper) nextRequest(prev *http.Request, res *http.Response, target *url.URL, hop int) (*http.Request, error) {
	rewrite := t.Rewrite
	if rewrite == nil {
		rewrite = StandardRedirectRewrite
	}
	method, dropBody := rewrite(res.StatusCode, prev.Method)

	next := prev.Clone(withHops(prev.Context(), hop))
	next.Method = method
	next.URL = target
	next.Host = ""

	hadBody := prev.Body != nil && prev.Body != http.NoBody

	switch {
	case dropBody || !hadBody:
		next.Body = nil
		next.GetBody = nil
		next.ContentLength = 0
		next.Header.Del("Content-Length")
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Encoding")

	case prev.GetBody != nil:
		body, err := prev.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBodyNotRewindable, err)
		}
		next.Body = body

	default:
		return nil, ErrBodyNotRewindable
	}

	if !sameOrigin(prev.URL, target) {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}

	return next, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func redirectTarget(req *http.Request, res *http.Response) (*url.URL, error) {
	location := res.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: missing Location header", ErrInvalidRedirect)
	}

	// Parsing against the request URL resolves relative targets.
	target, err := req.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRedirect, err)
	}
	return target, nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(canonicalHost(a), canonicalHost(b))
}

// canonicalHost strips the default port so http://a and http://a:80 count
// as the same origin.
func canonicalHost(u *url.URL) string {
	host := u.Host
	switch {
	case strings.EqualFold(u.Scheme, "http") && strings.HasSuffix(host, ":80"):
		return host[:len(host)-len(":80")]
	case strings.EqualFold(u.Scheme, "https") && strings.HasSuffix(host, ":443"):
		return host[:len(host)-len(":443")]
	}
	return host
}

// discardBody releases a response we will not hand to the caller, reading
// a little first so the exchange can finish instead of being torn down.
func discardBody(res *http.Response) {
	_, _ = io.CopyN(io.Discard, res.Body, _redirectBodyDrain)
	_ = res.Body.Close()
}
