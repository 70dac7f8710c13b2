// Package wire defines the contract between the transfer loop and the HTTP
// engine that owns sockets, TLS and protocol framing.
//
// An Engine multiplexes any number of in-flight exchanges over whatever
// connections it manages. It never blocks and never spawns goroutines of its
// own: the owning loop tells it which descriptors are ready via Drive, and
// the engine reports progress back as Events. OS readiness itself comes from
// a Poller, which on Linux is implemented over epoll.
package wire

import (
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Handle identifies one exchange registered with an Engine. Handles are
// engine-scoped and never reused while the exchange is registered.
type Handle uint64

// Descriptor describes a single HTTP exchange to be performed by an Engine.
type Descriptor struct {
	Method string
	URL    *url.URL
	Proto  string // e.g. "HTTP/1.1"; empty means the engine default
	Header http.Header

	// Body supplies the request body. Nil means no body. BodyLen carries
	// the declared length so the engine can frame the request; -1 means
	// unknown (chunked).
	Body    BodySource
	BodyLen int64

	Config Config
}

// Config carries per-exchange transport tunables.
type Config struct {
	ConnectTimeout      time.Duration
	TLSHandshakeTimeout time.Duration
}

// BodySource is a non-blocking pull source for a request body.
//
// The engine calls Read from the loop goroutine, so Read must never block:
// when no data is available yet it returns ErrAgain and the exchange is
// paused until the producer signals more data.
type BodySource interface {
	// Read fills p with the next chunk of the body. It returns io.EOF at
	// the end and ErrAgain when data is not available yet.
	Read(p []byte) (int, error)

	// Rewind resets the source to its beginning so the body can be sent
	// again. It reports whether the reset was possible.
	Rewind() bool

	// Len returns the total size of the body in bytes, or -1 if unknown.
	Len() int64
}

// ErrAgain is returned by BodySource.Read when no data is available yet.
// It is a scheduling signal, not a failure.
var ErrAgain = errors.New("wire: body data not ready")

// EventKind discriminates Engine events.
type EventKind uint8

const (
	// EventNeedsRead and EventNeedsWrite ask the loop to watch the event's
	// FD for readiness. Each replaces the handle's previous interest in
	// that descriptor.
	EventNeedsRead EventKind = iota + 1
	EventNeedsWrite

	// EventHeaderData carries a fragment of the raw response head: status
	// line plus header block, terminated by an empty line. Fragments are
	// arbitrarily chunked and interim 1xx blocks may precede the final one.
	EventHeaderData

	// EventBodyData carries a fragment of the response body.
	EventBodyData

	// EventComplete reports that the exchange finished cleanly.
	EventComplete

	// EventError reports that the exchange failed. Code classifies the
	// failure, Err optionally carries detail.
	EventError
)

var _eventKindNames = map[EventKind]string{
	EventNeedsRead:  "needs_read",
	EventNeedsWrite: "needs_write",
	EventHeaderData: "header_data",
	EventBodyData:   "body_data",
	EventComplete:   "complete",
	EventError:      "error",
}

func (k EventKind) String() string {
	if s, ok := _eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event reports progress on one exchange. Data is only valid until the next
// Drive call; callers that retain it must copy.
type Event struct {
	Handle Handle
	Kind   EventKind
	FD     int       // NeedsRead / NeedsWrite
	Data   []byte    // HeaderData / BodyData
	Code   ErrorCode // Error
	Err    error     // Error, optional detail
}

// ErrorCode classifies an exchange failure reported by the engine.
type ErrorCode uint8

const (
	CodeConnect   ErrorCode = iota + 1 // connection could not be established
	CodeTimeout                        // engine-level deadline expired
	CodeResolve                        // name resolution failed
	CodeTLS                            // TLS negotiation failed
	CodeProtocol                       // peer violated HTTP framing
	CodeTruncated                      // body ended before the declared length
	CodeAborted                        // exchange torn down mid-flight
	CodeBody                           // request body source failed
	CodeInternal                       // engine bug or unclassified failure
)

var _errorCodeNames = map[ErrorCode]string{
	CodeConnect:   "connect",
	CodeTimeout:   "timeout",
	CodeResolve:   "resolve",
	CodeTLS:       "tls",
	CodeProtocol:  "protocol",
	CodeTruncated: "truncated",
	CodeAborted:   "aborted",
	CodeBody:      "body",
	CodeInternal:  "internal",
}

func (c ErrorCode) String() string {
	if s, ok := _errorCodeNames[c]; ok {
		return s
	}
	return "unknown"
}

// Engine drives HTTP exchanges over connections it owns. Implementations
// must be safe for use from a single goroutine only; the transfer loop is
// that goroutine.
type Engine interface {
	// Add registers a new exchange. The engine does no I/O here; progress
	// happens on subsequent Drive calls.
	Add(d Descriptor) (Handle, error)

	// Drive advances every exchange that can make progress: the ones whose
	// descriptors appear in ready, plus any that never exposed an FD yet.
	// It returns the events produced, in order.
	Drive(ready []Readiness) ([]Event, error)

	// Remove releases all engine resources held by the exchange. Removing
	// an unknown or already-removed handle is a no-op.
	Remove(h Handle) error

	// Pause suspends BodyData delivery and request body pulling for the
	// exchange. Resume undoes it. Both are idempotent.
	Pause(h Handle) error
	Resume(h Handle) error

	// Close releases the engine itself. All registered exchanges are
	// discarded.
	Close() error
}
