package courier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/luizaranda/courier/pkg/reactor"
	"github.com/luizaranda/courier/pkg/telemetry/xfertrace"
	"github.com/luizaranda/courier/pkg/wire"
)

// dispatcher is the innermost pipeline stage: one RoundTrip is exactly one
// exchange driven through the transfer loop. Everything above it (redirects,
// cookies, caching, tracing) sees plain http.RoundTripper semantics.
type dispatcher struct {
	reactor *reactor.Reactor

	// timeout bounds each exchange from submission through body
	// completion; zero means no deadline. A request can override it via
	// WithRequestTimeout.
	timeout time.Duration

	connectTimeout      time.Duration
	tlsHandshakeTimeout time.Duration
}

// RoundTrip submits the request as a single exchange and returns as soon
// as the response head is in. The response body streams through the live
// loop as the caller reads it.
func (d *dispatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	target := req.URL.String()

	src, bodyLen, err := bodySourceFor(req)
	if err != nil {
		closeRequestBody(req)
		return nil, &Error{Kind: KindBody, URL: target, Err: err}
	}

	timeout := d.timeout
	if t, ok := requestTimeout(ctx); ok {
		timeout = t
	}

	opts := []reactor.ExchangeOption{reactor.WithTimeout(timeout)}
	if trace := xfertrace.ContextTransferTrace(ctx); trace != nil {
		opts = append(opts, reactor.WithTrace(trace))
	}

	desc := wire.Descriptor{
		Method:  req.Method,
		URL:     req.URL,
		Proto:   req.Proto,
		Header:  req.Header,
		Body:    src,
		BodyLen: bodyLen,
		Config: wire.Config{
			ConnectTimeout:      d.connectTimeout,
			TLSHandshakeTimeout: d.tlsHandshakeTimeout,
		},
	}

	x := reactor.NewExchange(desc, opts...)

	// A piped request body needs a way to tell the loop that a starved
	// pull can progress again.
	bindPipe(req.Body, func() { d.reactor.ResumeBody(x) })

	if err := d.reactor.Submit(x); err != nil {
		closeRequestBody(req)
		return nil, wrapError(target, err)
	}

	// One watcher per exchange: propagates caller cancellation into the
	// loop and releases the request body when the exchange is over.
	go func() {
		select {
		case <-ctx.Done():
			d.reactor.Cancel(x)
			<-x.Done()
		case <-x.Done():
		}
		closeRequestBody(req)
	}()

	select {
	case <-x.Started():
	case <-ctx.Done():
		// The watcher is cancelling; the loop still owns the verdict.
		<-x.Started()
	}

	head, err := x.Head()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, reactor.ErrCanceled) {
			return nil, contextError(target, ctxErr)
		}
		return nil, wrapError(target, err)
	}

	return buildResponse(req, x, head), nil
}

func closeRequestBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

// contextError translates a context verdict into the public taxonomy:
// deadline expiry is a timeout, everything else a cancellation.
func contextError(url string, err error) error {
	kind := KindCanceled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, URL: url, Err: err}
}

func buildResponse(req *http.Request, x *reactor.Exchange, head reactor.Head) *http.Response {
	major, minor, ok := http.ParseHTTPVersion(head.Proto)
	if !ok {
		major, minor = 1, 1
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", head.Status, http.StatusText(head.Status)),
		StatusCode:    head.Status,
		Proto:         head.Proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        head.Header,
		Body:          &transferBody{body: x.Body(), url: req.URL.String()},
		ContentLength: responseLength(head),
		Request:       req,
	}
}

func responseLength(head reactor.Head) int64 {
	n, err := strconv.ParseInt(head.Header.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// transferBody hands bridge reads to the caller, translating terminal
// failures into the public taxonomy. Bytes delivered before a failure
// drain normally; only the read after them reports the error.
type transferBody struct {
	body io.ReadCloser
	url  string
}

func (b *transferBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF && !errors.Is(err, reactor.ErrBodyClosed) {
		err = wrapError(b.url, err)
	}
	return n, err
}

func (b *transferBody) Close() error {
	return b.body.Close()
}

// bodySourceFor adapts the request body to the engine's pull contract.
func bodySourceFor(req *http.Request) (wire.BodySource, int64, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, 0, nil
	}

	if src, ok := req.Body.(wire.BodySource); ok {
		return src, src.Len(), nil
	}

	n := req.ContentLength
	if n == 0 {
		// A non-nil body without a declared length is unknown, not empty.
		n = -1
	}
	return &readerSource{r: req.Body, getBody: req.GetBody, n: n}, n, nil
}

// readerSource wraps a plain request body. Reads happen on the loop
// goroutine, so a body that can block belongs in NewBody or NewPipedBody
// instead; this adapter exists so a hand-built http.Request still works.
type readerSource struct {
	r       io.Reader
	getBody GetBodyFunc
	n       int64
}

func (s *readerSource) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *readerSource) Rewind() bool {
	if s.getBody == nil {
		return false
	}

	r, err := s.getBody()
	if err != nil {
		return false
	}
	s.r = r
	return true
}

func (s *readerSource) Len() int64 { return s.n }
