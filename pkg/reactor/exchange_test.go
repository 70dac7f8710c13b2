package reactor

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/luizaranda/courier/pkg/wire"
)

func testDescriptor(method, rawURL string) wire.Descriptor {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return wire.Descriptor{Method: method, URL: u, Header: http.Header{}}
}

func TestFeedHeadParsesHead(t *testing.T) {
	x := NewExchange(testDescriptor("GET", "http://example.com/"))

	resolved, err := x.feedHead([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 12\r\n\r\n"))
	if err != nil {
		t.Fatalf("feedHead() error = %v", err)
	}
	if !resolved {
		t.Fatal("feedHead() resolved = false, want true")
	}

	want := Head{
		Status: 200,
		Proto:  "HTTP/1.1",
		Header: http.Header{
			"Content-Type":   {"text/plain"},
			"Content-Length": {"12"},
		},
	}
	if diff := cmp.Diff(want, x.head); diff != "" {
		t.Errorf("head mismatch (-want +got):\n%s", diff)
	}
	if x.expectLen != 12 {
		t.Errorf("expectLen = %d, want 12", x.expectLen)
	}
}

func TestFeedHeadAcceptsArbitraryChunking(t *testing.T) {
	x := NewExchange(testDescriptor("GET", "http://example.com/"))

	for _, fragment := range []string{"HTT", "P/1.1 20", "0 OK\r\nX-Test: ", "yes\r\n", "\r\n"} {
		resolved, err := x.feedHead([]byte(fragment))
		if err != nil {
			t.Fatalf("feedHead(%q) error = %v", fragment, err)
		}
		if resolved && fragment != "\r\n" {
			t.Fatalf("feedHead(%q) resolved early", fragment)
		}
	}

	if !x.headDone {
		t.Fatal("head not resolved after final fragment")
	}
	if got := x.head.Header.Get("X-Test"); got != "yes" {
		t.Errorf("X-Test = %q, want %q", got, "yes")
	}
}

func TestFeedHeadSkipsInterimBlocks(t *testing.T) {
	x := NewExchange(testDescriptor("POST", "http://example.com/upload"))

	resolved, err := x.feedHead([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	if err != nil {
		t.Fatalf("feedHead(100) error = %v", err)
	}
	if resolved {
		t.Fatal("interim block resolved the head")
	}

	resolved, err = x.feedHead([]byte("HTTP/1.1 201 Created\r\nLocation: /things/1\r\n\r\n"))
	if err != nil {
		t.Fatalf("feedHead(201) error = %v", err)
	}
	if !resolved || x.head.Status != 201 {
		t.Fatalf("head = %+v (resolved=%t), want status 201", x.head, resolved)
	}
}

func TestFeedHeadHandlesInterimAndFinalInOneChunk(t *testing.T) {
	x := NewExchange(testDescriptor("GET", "http://example.com/"))

	resolved, err := x.feedHead([]byte("HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 204 No Content\r\n\r\n"))
	if err != nil {
		t.Fatalf("feedHead() error = %v", err)
	}
	if !resolved || x.head.Status != 204 {
		t.Fatalf("head = %+v (resolved=%t), want status 204", x.head, resolved)
	}
}

func TestFeedHeadRejectsMalformedStatusLine(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not http", "FTP/1.0 200 OK\r\n\r\n"},
		{"no status code", "HTTP/1.1\r\n\r\n"},
		{"non numeric code", "HTTP/1.1 two\r\n\r\n"},
		{"out of range code", "HTTP/1.1 42 Answer\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewExchange(testDescriptor("GET", "http://example.com/"))
			if _, err := x.feedHead([]byte(tt.raw)); err == nil {
				t.Errorf("feedHead(%q) error = nil, want protocol error", tt.raw)
			}
		})
	}
}

func TestDeclaredLength(t *testing.T) {
	header := func(kv ...string) http.Header {
		h := http.Header{}
		for i := 0; i+1 < len(kv); i += 2 {
			h.Set(kv[i], kv[i+1])
		}
		return h
	}

	tests := []struct {
		name   string
		method string
		head   Head
		want   int64
	}{
		{"plain content length", "GET", Head{Status: 200, Header: header("Content-Length", "42")}, 42},
		{"no declaration", "GET", Head{Status: 200, Header: header()}, -1},
		{"chunked wins", "GET", Head{Status: 200, Header: header("Content-Length", "42", "Transfer-Encoding", "chunked")}, -1},
		{"head request", "HEAD", Head{Status: 200, Header: header("Content-Length", "42")}, 0},
		{"no content", "GET", Head{Status: 204, Header: header("Content-Length", "42")}, 0},
		{"not modified", "GET", Head{Status: 304, Header: header("Content-Length", "42")}, 0},
		{"unparseable", "GET", Head{Status: 200, Header: header("Content-Length", "many")}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := declaredLength(tt.method, tt.head); got != tt.want {
				t.Errorf("declaredLength(%s, %d) = %d, want %d", tt.method, tt.head.Status, got, tt.want)
			}
		})
	}
}

func TestStateOrderIsForwardOnly(t *testing.T) {
	x := NewExchange(testDescriptor("GET", "http://example.com/"))

	x.advanceTo(StateReceivingBody)
	x.advanceTo(StateSending)

	if got := x.State(); got != StateReceivingBody {
		t.Errorf("State() = %v after backward advance, want %v", got, StateReceivingBody)
	}
}
