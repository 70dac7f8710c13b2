// Package cookiejar provides the RFC 6265 cookie storage courier clients
// attach through their cookie stage.
//
// A Jar is scoped to whatever client (or clients) it is explicitly given,
// there is no process-wide jar. Reads from concurrent exchanges see a
// consistent snapshot of the matching entries, and Set-Cookie merges are
// serialized, so two responses racing on the same name cannot interleave
// partial state.
package cookiejar

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Jar stores cookies keyed by domain, path and name, with expiry and the
// secure and host-only flags. Domain matching follows RFC 6265: entries
// never match a different registrable domain, and the public suffix list
// keeps a host from setting cookies on an effective TLD like co.uk.
//
// The zero value is not usable, build one with New.
type Jar struct {
	// The inner jar serializes its own mutations. mu only guards the
	// pointer swap in Clear, so Cookies and SetCookies read-lock.
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

// New returns an empty jar.
func New() *Jar {
	return &Jar{jar: newInner()}
}

func newInner() *cookiejar.Jar {
	// cookiejar.New cannot fail with these options.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// Cookies returns the cookies to attach to a request for u, honoring
// domain, path and secure matching. Expired entries are purged, never
// returned.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// SetCookies merges the cookies of a response from u into the jar,
// applying domain and path defaulting and expiry rules. A cookie with a
// past expiry deletes the matching entry.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

// Clear drops every entry.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = newInner()
}
