package reactor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/luizaranda/courier/pkg/telemetry/xfertrace"
	"github.com/luizaranda/courier/pkg/wire"
)

// State is the lifecycle position of an exchange. States only move forward;
// intermediate states may be skipped but never revisited.
type State int32

const (
	StateCreated State = iota
	StateQueued
	StateConnecting
	StateSending
	StateReceivingHeaders
	StateReceivingBody
	StateCompleted
	StateFailed
	StateCanceled
)

var _stateNames = map[State]string{
	StateCreated:          "created",
	StateQueued:           "queued",
	StateConnecting:       "connecting",
	StateSending:          "sending",
	StateReceivingHeaders: "receiving_headers",
	StateReceivingBody:    "receiving_body",
	StateCompleted:        "completed",
	StateFailed:           "failed",
	StateCanceled:         "canceled",
}

func (s State) String() string {
	if name, ok := _stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state is one of the three final ones.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Head is the parsed response status line and header block of an exchange.
type Head struct {
	Status int
	Proto  string
	Header http.Header
}

// Exchange is one request/response pair driven by a Reactor. It is created
// by the caller, handed to Submit, and from then on owned by the loop; the
// caller observes it through Started, Done, Head, Body and Err.
type Exchange struct {
	desc    wire.Descriptor
	timeout time.Duration
	trace   *xfertrace.TransferTrace

	state    atomic.Int32
	canceled atomic.Bool

	started chan struct{}
	done    chan struct{}

	// Everything below is owned by the loop goroutine. The head fields are
	// published to the caller by closing started, the terminal error by
	// closing done.
	handle        wire.Handle
	added         bool
	fd            int
	interest      wire.Interest
	maskedRead    bool
	pausedForFlow bool
	headBuf       []byte
	headDone      bool
	head          Head
	expectLen     int64
	gotLen        int64
	timer         *timerEntry
	err           error
	startClosed   bool

	body *bodyStream
}

// ExchangeOption configures an Exchange at construction.
type ExchangeOption func(*Exchange)

// WithTimeout bounds the whole exchange; when it expires the exchange fails
// with ErrTimeout. Zero means no deadline.
func WithTimeout(d time.Duration) ExchangeOption {
	return func(x *Exchange) { x.timeout = d }
}

// WithTrace attaches lifecycle hooks to the exchange.
func WithTrace(trace *xfertrace.TransferTrace) ExchangeOption {
	return func(x *Exchange) { x.trace = trace }
}

// NewExchange builds an exchange for the given descriptor. It performs no
// I/O until submitted to a Reactor.
func NewExchange(d wire.Descriptor, opts ...ExchangeOption) *Exchange {
	x := &Exchange{
		desc:      d,
		started:   make(chan struct{}),
		done:      make(chan struct{}),
		fd:        -1,
		expectLen: -1,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.desc.Body != nil && x.trace != nil && x.trace.WroteBodyChunk != nil {
		x.desc.Body = &tracedBody{BodySource: x.desc.Body, chunk: x.trace.WroteBodyChunk}
	}
	return x
}

// tracedBody reports every chunk the engine pulls from the request body.
// The engine is the only reader of the source, so the hook fires on the
// loop goroutine along with the other transfer hooks.
type tracedBody struct {
	wire.BodySource
	chunk func(int)
}

func (b *tracedBody) Read(p []byte) (int, error) {
	n, err := b.BodySource.Read(p)
	if n > 0 {
		b.chunk(n)
	}
	return n, err
}

// State returns the exchange's current lifecycle state.
func (x *Exchange) State() State {
	return State(x.state.Load())
}

// Started is closed exactly once, when the response head is available or
// the exchange failed before producing one.
func (x *Exchange) Started() <-chan struct{} {
	return x.started
}

// Done is closed exactly once, when the exchange reaches a terminal state.
func (x *Exchange) Done() <-chan struct{} {
	return x.done
}

// Head returns the parsed status line and headers. It must only be called
// after Started; it returns the terminal error if the exchange failed
// before the head arrived.
func (x *Exchange) Head() (Head, error) {
	select {
	case <-x.started:
	default:
		return Head{}, errors.New("reactor: Head called before Started")
	}
	if !x.headDone {
		return Head{}, x.err
	}
	return x.head, nil
}

// Body returns the response body stream. It is valid after Submit. The
// stream yields data as the exchange receives it; closing it before EOF
// tears the exchange down.
func (x *Exchange) Body() io.ReadCloser {
	return x.body
}

// Err returns the terminal error. It must only be called after Done; nil
// means the exchange completed cleanly.
func (x *Exchange) Err() error {
	select {
	case <-x.done:
	default:
		return errors.New("reactor: Err called before Done")
	}
	return x.err
}

// advanceTo moves the state forward. Backward moves are ignored, which
// makes skipped intermediate states harmless.
func (x *Exchange) advanceTo(s State) {
	if State(x.state.Load()) < s {
		x.state.Store(int32(s))
	}
}

func (x *Exchange) resolveStart() {
	if !x.startClosed {
		x.startClosed = true
		close(x.started)
	}
}

var _headTerminator = []byte("\r\n\r\n")

// maxHeadBytes bounds header accumulation so a misbehaving peer cannot
// grow the buffer without limit.
const maxHeadBytes = 1 << 20

var errHeadTooLarge = errors.New("reactor: response head exceeds 1MiB")

// feedHead accumulates raw head bytes and parses blocks as they complete.
// Interim 1xx blocks are dropped; the first final block resolves the head.
// It reports whether the final head became available.
func (x *Exchange) feedHead(data []byte) (bool, error) {
	if x.headDone {
		return false, &EngineError{Code: wire.CodeProtocol, Err: errors.New("header data after final head")}
	}

	x.headBuf = append(x.headBuf, data...)

	for {
		i := bytes.Index(x.headBuf, _headTerminator)
		if i < 0 {
			if len(x.headBuf) > maxHeadBytes {
				return false, &EngineError{Code: wire.CodeProtocol, Err: errHeadTooLarge}
			}
			return false, nil
		}

		block := x.headBuf[:i+len(_headTerminator)]
		x.headBuf = x.headBuf[i+len(_headTerminator):]

		head, err := parseHead(block)
		if err != nil {
			return false, &EngineError{Code: wire.CodeProtocol, Err: err}
		}

		// Interim blocks (100 Continue, 102 Processing, ...) precede the
		// real head. 101 ends the HTTP exchange and counts as final.
		if head.Status >= 100 && head.Status < 200 && head.Status != 101 {
			continue
		}

		if len(x.headBuf) > 0 {
			return false, &EngineError{Code: wire.CodeProtocol, Err: errors.New("trailing bytes after response head")}
		}
		x.head = head
		x.headDone = true
		x.headBuf = nil
		x.expectLen = declaredLength(x.desc.Method, head)
		return true, nil
	}
}

func parseHead(block []byte) (Head, error) {
	line, rest, ok := bytes.Cut(block, []byte("\r\n"))
	if !ok {
		return Head{}, errors.New("malformed status line")
	}

	proto, after, ok := strings.Cut(string(line), " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return Head{}, fmt.Errorf("malformed status line %q", line)
	}
	codeText, _, _ := strings.Cut(after, " ")
	status, err := strconv.Atoi(codeText)
	if err != nil || status < 100 || status > 599 {
		return Head{}, fmt.Errorf("malformed status code %q", codeText)
	}

	mimeHeader, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(rest))).ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return Head{}, fmt.Errorf("malformed header block: %w", err)
	}

	return Head{Status: status, Proto: proto, Header: http.Header(mimeHeader)}, nil
}

// declaredLength returns the expected body byte count, or -1 when the
// response does not declare one. Responses that never carry a body report
// zero regardless of their Content-Length header.
func declaredLength(method string, head Head) int64 {
	if method == http.MethodHead || head.Status == http.StatusNoContent || head.Status == http.StatusNotModified {
		return 0
	}
	if head.Header.Get("Transfer-Encoding") != "" {
		return -1
	}
	value := head.Header.Get("Content-Length")
	if value == "" {
		return -1
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// truncated reports whether the exchange completed short of its declared
// length.
func (x *Exchange) truncated() bool {
	return x.expectLen >= 0 && x.gotLen < x.expectLen
}
