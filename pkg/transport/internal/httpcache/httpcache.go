// Package httpcache implements the cache-aware http.RoundTripper behind
// transport.CacheDecorator.
//
// It covers the subset of RFC 7234 a client cache needs: GET/HEAD
// responses with explicit freshness (max-age, Expires) are served from the
// cache while fresh; stale entries carrying validators are revalidated
// with If-None-Match / If-Modified-Since and refreshed on 304; unsafe
// methods invalidate. Responses with Vary are not cached.
package httpcache

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"time"
)

// XFromCache is the header set on responses served from the cache when
// Transport.MarkCachedResponses is enabled.
const XFromCache = "X-From-Cache"

// A Cache stores serialized responses keyed by request.
type Cache interface {
	// Get returns the []byte representation of a cached response and a bool set
	// to true if the value isn't empty.
	Get(key string) (responseBytes []byte, ok bool)
	// Set stores the []byte representation of a response against a key.
	Set(key string, responseBytes []byte)
	// Delete removes the value associated with the key.
	Delete(key string)
}

type freshness int

const (
	_fresh freshness = iota
	_stale
	_transparent // cache bypassed for this request
)

// Transport is an http.RoundTripper that answers from Cache when it can,
// and keeps Cache up to date with responses flowing through it.
type Transport struct {
	// Transport is the underlying RoundTripper actually hitting the
	// network. Nil means http.DefaultTransport.
	Transport http.RoundTripper

	Cache Cache

	// MarkCachedResponses makes cache hits observable by setting the
	// XFromCache header on them.
	MarkCachedResponses bool
}

func (t *Transport) base() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func cacheKey(req *http.Request) string {
	if req.Method == http.MethodGet {
		return req.URL.String()
	}
	return req.Method + " " + req.URL.String()
}

// RoundTrip executes a single HTTP transaction, returning
// a Response for the provided Request.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	cacheable := (req.Method == http.MethodGet || req.Method == http.MethodHead) &&
		req.Header.Get("Range") == ""

	if !cacheable {
		// A write through the same URL makes whatever we hold for it
		// suspect.
		t.Cache.Delete(req.URL.String())
		return t.base().RoundTrip(req)
	}

	cached, raw, ok := t.cachedResponse(req)
	if ok {
		switch currentFreshness(req, cached) {
		case _fresh:
			t.markCached(cached)
			return cached, nil

		case _stale:
			// Give the server the chance to answer 304 instead of a
			// full body.
			req = req.Clone(req.Context())
			if etag := cached.Header.Get("Etag"); etag != "" {
				req.Header.Set("If-None-Match", etag)
			}
			if lm := cached.Header.Get("Last-Modified"); lm != "" {
				req.Header.Set("If-Modified-Since", lm)
			}

		case _transparent:
			cached = nil
		}
	}

	res, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if cached != nil && res.StatusCode == http.StatusNotModified {
		return t.revalidated(req, raw, res)
	}

	if storable(req, res) {
		t.storeOnEOF(req, res)
	} else if ok {
		// The origin replaced the entry with something uncacheable.
		t.Cache.Delete(cacheKey(req))
	}

	return res, nil
}

func (t *Transport) markCached(res *http.Response) {
	if t.MarkCachedResponses {
		res.Header.Set(XFromCache, "1")
	}
}

// cachedResponse parses the stored entry for req. Entries that no longer
// parse are dropped.
func (t *Transport) cachedResponse(req *http.Request) (*http.Response, []byte, bool) {
	raw, ok := t.Cache.Get(cacheKey(req))
	if !ok {
		return nil, nil, false
	}

	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		t.Cache.Delete(cacheKey(req))
		return nil, nil, false
	}
	return res, raw, true
}

// revalidated merges a 304's fresh end-to-end headers into the stored
// entry, refreshes the cache and serves the stored body.
func (t *Transport) revalidated(req *http.Request, raw []byte, res *http.Response) (*http.Response, error) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()

	cached, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		t.Cache.Delete(cacheKey(req))
		return t.base().RoundTrip(req)
	}

	for _, name := range endToEndHeaders(res.Header) {
		cached.Header[name] = res.Header[name]
	}

	body, err := io.ReadAll(cached.Body)
	if err != nil {
		return nil, err
	}
	cached.Body = io.NopCloser(bytes.NewReader(body))

	dump, err := httputil.DumpResponse(cached, true)
	if err == nil {
		t.Cache.Set(cacheKey(req), dump)
	}

	cached.Body = io.NopCloser(bytes.NewReader(body))
	t.markCached(cached)
	return cached, nil
}

// storeOnEOF swaps the response body for one that writes the whole
// response into the cache once the consumer drains it. A body dropped
// before EOF stores nothing.
func (t *Transport) storeOnEOF(req *http.Request, res *http.Response) {
	key := cacheKey(req)
	snapshot := *res

	res.Body = &cachingReadCloser{
		R: res.Body,
		OnEOF: func(body []byte) {
			snapshot.Body = io.NopCloser(bytes.NewReader(body))
			dump, err := httputil.DumpResponse(&snapshot, true)
			if err != nil {
				return
			}
			t.Cache.Set(key, dump)
		},
	}
}

// storable reports whether the exchange may be written to the cache: the
// response must be a plain 200 without no-store (on either side) or Vary,
// and must carry either explicit freshness or a validator, so that it is
// eventually servable or at least revalidatable.
func storable(req *http.Request, res *http.Response) bool {
	if res.StatusCode != http.StatusOK {
		return false
	}
	if _, ok := parseCacheControl(req.Header)["no-store"]; ok {
		return false
	}

	cc := parseCacheControl(res.Header)
	if _, ok := cc["no-store"]; ok {
		return false
	}
	if res.Header.Get("Vary") != "" {
		return false
	}

	_, hasMaxAge := cc["max-age"]
	hasFreshness := hasMaxAge || res.Header.Get("Expires") != ""
	hasValidator := res.Header.Get("Etag") != "" || res.Header.Get("Last-Modified") != ""
	return hasFreshness || hasValidator
}

// currentFreshness decides whether the stored response can be served
// as-is, needs revalidation, or must be skipped for this request.
func currentFreshness(req *http.Request, res *http.Response) freshness {
	if _, ok := parseCacheControl(req.Header)["no-cache"]; ok {
		return _transparent
	}

	cc := parseCacheControl(res.Header)
	if _, ok := cc["no-cache"]; ok {
		return _stale
	}

	lifetime, ok := freshnessLifetime(res, cc)
	if !ok {
		return _stale
	}

	if age := responseAge(res); age < lifetime {
		return _fresh
	}
	return _stale
}

func freshnessLifetime(res *http.Response, cc map[string]string) (time.Duration, bool) {
	if v, ok := cc["max-age"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second, true
		}
	}

	expires, err := http.ParseTime(res.Header.Get("Expires"))
	if err != nil {
		return 0, false
	}
	date, err := http.ParseTime(res.Header.Get("Date"))
	if err != nil {
		return 0, false
	}
	return expires.Sub(date), true
}

// responseAge approximates the entry's age from its Date header. Without
// one the entry counts as just received.
func responseAge(res *http.Response) time.Duration {
	date, err := http.ParseTime(res.Header.Get("Date"))
	if err != nil {
		return 0
	}
	return time.Since(date)
}

func parseCacheControl(h http.Header) map[string]string {
	cc := map[string]string{}
	for _, part := range strings.Split(h.Get("Cache-Control"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		cc[strings.ToLower(name)] = strings.Trim(value, `"`)
	}
	return cc
}

// Hop-by-hop headers a 304 must not overwrite in the stored entry.
var _hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func endToEndHeaders(h http.Header) []string {
	perMessage := map[string]bool{}
	for _, name := range h.Values("Connection") {
		perMessage[http.CanonicalHeaderKey(strings.TrimSpace(name))] = true
	}

	var names []string
	for name := range h {
		if _hopByHopHeaders[name] || perMessage[name] {
			continue
		}
		names = append(names, name)
	}
	return names
}

// cachingReadCloser mirrors everything read from R and hands the full copy
// to OnEOF when R is drained.
type cachingReadCloser struct {
	R io.ReadCloser

	// OnEOF is called once, with the complete body, when Read hits EOF.
	OnEOF func(body []byte)

	buf    bytes.Buffer
	sawEOF bool
}

func (r *cachingReadCloser) Read(p []byte) (int, error) {
	n, err := r.R.Read(p)
	r.buf.Write(p[:n])
	if err == io.EOF && !r.sawEOF {
		r.sawEOF = true
		r.OnEOF(r.buf.Bytes())
	}
	return n, err
}

func (r *cachingReadCloser) Close() error {
	return r.R.Close()
}
