package transport

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Header http.Header
}

// recordingServer wraps an httptest server and remembers every request it
// handled, in order.
type recordingServer struct {
	*httptest.Server

	mu   sync.Mutex
	seen []recordedRequest
}

func newRecordingServer(t *testing.T, configure func(r chi.Router)) *recordingServer {
	t.Helper()

	rec := &recordingServer{}
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			body, _ := io.ReadAll(req.Body)
			rec.mu.Lock()
			rec.seen = append(rec.seen, recordedRequest{
				Method: req.Method,
				Path:   req.URL.Path,
				Body:   string(body),
				Header: req.Header.Clone(),
			})
			rec.mu.Unlock()
			req.Body = io.NopCloser(strings.NewReader(string(body)))
			next.ServeHTTP(w, req)
		})
	})
	configure(router)

	rec.Server = httptest.NewServer(router)
	t.Cleanup(rec.Server.Close)
	return rec
}

func (s *recordingServer) requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.seen...)
}

func redirectClient(policy RedirectPolicy) *http.Client {
	return &http.Client{
		Transport: &RedirectRoundTripper{Transport: NewTransport(), Policy: policy},
		// The stage under test follows redirects; the stdlib must not.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestRedirectFollowsChain(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/one", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/two", http.StatusFound)
		})
		r.Get("/two", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/three", http.StatusFound)
		})
		r.Get("/three", func(w http.ResponseWriter, req *http.Request) {
			io.WriteString(w, "landed")
		})
	})

	res, err := redirectClient(Follow(5)).Get(srv.URL + "/one")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if string(body) != "landed" {
		t.Errorf("body = %q, want landed", body)
	}
	if got := Hops(res.Request.Context()); got != 2 {
		t.Errorf("Hops = %d, want 2", got)
	}

	paths := []string{}
	for _, r := range srv.requests() {
		paths = append(paths, r.Path)
	}
	if strings.Join(paths, ",") != "/one,/two,/three" {
		t.Errorf("server saw %v", paths)
	}
}

func TestRedirectNoFollowHandsBackResponse(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/one", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/two", http.StatusFound)
		})
	})

	res, err := redirectClient(NoFollow()).Get(srv.URL + "/one")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want 302 untouched", res.StatusCode)
	}
	if n := len(srv.requests()); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestRedirectHopLimit(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/loop", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/loop", http.StatusFound)
		})
	})

	_, err := redirectClient(Follow(3)).Get(srv.URL + "/loop")
	if err == nil || !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("Get() error = %v, want ErrTooManyRedirects", err)
	}
	if n := len(srv.requests()); n != 4 {
		t.Errorf("server saw %d requests, want the initial one plus 3 hops", n)
	}
}

func TestRedirectMissingLocation(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/bad", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusFound)
		})
	})

	_, err := redirectClient(Follow(3)).Get(srv.URL + "/bad")
	if err == nil || !errors.Is(err, ErrInvalidRedirect) {
		t.Fatalf("Get() error = %v, want ErrInvalidRedirect", err)
	}
}

func TestRedirectNotModifiedPassesThrough(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/resource", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusNotModified)
		})
	})

	res, err := redirectClient(Follow(3)).Get(srv.URL + "/resource")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusNotModified {
		t.Errorf("StatusCode = %d, want 304 untouched", res.StatusCode)
	}
}

func TestRedirectRewritesPostToGet(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Post("/submit", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/result", http.StatusSeeOther)
		})
		r.Get("/result", func(w http.ResponseWriter, req *http.Request) {
			io.WriteString(w, "done")
		})
	})

	res, err := redirectClient(Follow(3)).Post(srv.URL+"/submit", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	res.Body.Close()

	seen := srv.requests()
	if len(seen) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(seen))
	}
	if seen[0].Method != http.MethodPost || seen[0].Body != `{"a":1}` {
		t.Errorf("first request = %s %q", seen[0].Method, seen[0].Body)
	}
	if seen[1].Method != http.MethodGet {
		t.Errorf("second request method = %s, want GET", seen[1].Method)
	}
	if seen[1].Body != "" {
		t.Errorf("second request still carries the body %q", seen[1].Body)
	}
	if got := seen[1].Header.Get("Content-Type"); got != "" {
		t.Errorf("second request Content-Type = %q, want removed", got)
	}
}

func TestRedirectReplaysBodyOn307(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Post("/old", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/new", http.StatusTemporaryRedirect)
		})
		r.Post("/new", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
	})

	res, err := redirectClient(Follow(3)).Post(srv.URL+"/old", "text/plain", strings.NewReader("again"))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	res.Body.Close()

	seen := srv.requests()
	if len(seen) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(seen))
	}
	if seen[1].Method != http.MethodPost || seen[1].Body != "again" {
		t.Errorf("replayed request = %s %q, want POST again", seen[1].Method, seen[1].Body)
	}
}

func TestRedirectRefusesNonRewindableBody(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Post("/old", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/new", http.StatusTemporaryRedirect)
		})
	})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/old", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Body = io.NopCloser(strings.NewReader("once"))
	req.ContentLength = -1

	_, err = redirectClient(Follow(3)).Do(req)
	if err == nil || !errors.Is(err, ErrBodyNotRewindable) {
		t.Fatalf("Do() error = %v, want ErrBodyNotRewindable", err)
	}
}

func TestRedirectCustomRewrite(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Post("/old", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/new", http.StatusFound)
		})
		r.Post("/new", func(w http.ResponseWriter, req *http.Request) {})
	})

	// Preserve the method on 302, like a client doing strict RFC 7231
	// resubmission would.
	rt := &RedirectRoundTripper{
		Transport: NewTransport(),
		Policy:    Follow(3),
		Rewrite: func(status int, method string) (string, bool) {
			return method, false
		},
	}
	client := &http.Client{Transport: rt}

	res, err := client.Post(srv.URL+"/old", "text/plain", strings.NewReader("kept"))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	res.Body.Close()

	seen := srv.requests()
	if len(seen) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(seen))
	}
	if seen[1].Method != http.MethodPost || seen[1].Body != "kept" {
		t.Errorf("second request = %s %q, want POST kept", seen[1].Method, seen[1].Body)
	}
}

func TestRedirectPerRequestPolicyOverride(t *testing.T) {
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/one", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/two", http.StatusFound)
		})
		r.Get("/two", func(w http.ResponseWriter, req *http.Request) {})
	})

	client := redirectClient(NoFollow())

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/one", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req = req.WithContext(WithRedirectPolicy(req.Context(), Follow(3)))

	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want the override to follow", res.StatusCode)
	}
}

func TestRedirectSameOriginStopsAtCrossOrigin(t *testing.T) {
	other := newRecordingServer(t, func(r chi.Router) {
		r.Get("/elsewhere", func(w http.ResponseWriter, req *http.Request) {})
	})
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/here", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/still-here", http.StatusFound)
		})
		r.Get("/still-here", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, other.URL+"/elsewhere", http.StatusFound)
		})
	})

	res, err := redirectClient(FollowSameOrigin(5)).Get(srv.URL + "/here")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	res.Body.Close()

	// The same-origin hop is followed, the cross-origin one handed back.
	if res.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want the cross-origin 302", res.StatusCode)
	}
	if n := len(other.requests()); n != 0 {
		t.Errorf("cross-origin server saw %d requests, want 0", n)
	}
	if n := len(srv.requests()); n != 2 {
		t.Errorf("origin server saw %d requests, want 2", n)
	}
}

func TestRedirectCrossOriginDropsCredentials(t *testing.T) {
	other := newRecordingServer(t, func(r chi.Router) {
		r.Get("/in", func(w http.ResponseWriter, req *http.Request) {})
	})
	srv := newRecordingServer(t, func(r chi.Router) {
		r.Get("/out", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, other.URL+"/in", http.StatusFound)
		})
	})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/out", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("Cookie", "manual=1")
	req.Header.Set("X-Keep", "yes")

	res, err := redirectClient(Follow(3)).Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	res.Body.Close()

	landed := other.requests()
	if len(landed) != 1 {
		t.Fatalf("cross-origin server saw %d requests, want 1", len(landed))
	}
	if got := landed[0].Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization crossed origins: %q", got)
	}
	if got := landed[0].Header.Get("Cookie"); got != "" {
		t.Errorf("Cookie crossed origins: %q", got)
	}
	if got := landed[0].Header.Get("X-Keep"); got != "yes" {
		t.Errorf("X-Keep = %q, want preserved", got)
	}
}

func TestSameOrigin(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"http://example.com/a", "http://example.com/b", true},
		{"http://example.com/a", "http://example.com:80/b", true},
		{"https://example.com/a", "https://example.com:443/b", true},
		{"HTTP://EXAMPLE.COM/a", "http://example.com/b", true},
		{"http://example.com/a", "https://example.com/b", false},
		{"http://example.com/a", "http://example.com:8080/b", false},
		{"http://example.com/a", "http://other.com/b", false},
	}

	for _, tc := range cases {
		a, _ := url.Parse(tc.a)
		b, _ := url.Parse(tc.b)
		if got := sameOrigin(a, b); got != tc.want {
			t.Errorf("sameOrigin(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
