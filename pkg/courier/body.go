package courier

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/eapache/queue"

	"github.com/luizaranda/courier/pkg/wire"
)

// Body is a request payload. It satisfies both io.ReadCloser, so it can sit
// in http.Request.Body, and wire.BodySource, so the engine can pull it
// directly without an adapter.
//
// A Body built by NewBody is fully buffered in memory and rewindable, which
// lets redirects and retries replay it. A Body built by NewPipedBody
// streams whatever its writer produces and cannot rewind.
//
// Ownership of a Body passes to the transfer on submission; it is not safe
// for concurrent use.
type Body struct {
	cur  io.Reader
	next ReaderFunc // regenerates cur from the start; nil means no rewind
	n    int64      // declared length, -1 unknown

	pipe *pipe // non-nil for piped bodies
}

var (
	_ io.ReadCloser   = (*Body)(nil)
	_ wire.BodySource = (*Body)(nil)
)

// NewBody builds a rewindable Body from rawBody.
//
// rawBody allows many reader types, it then builds the optimal rewindable
// reader depending on the type given. Optimal body types are ReaderFunc or
// anything in-memory; a plain io.Reader is drained into memory so it can be
// replayed.
func NewBody(rawBody any) (*Body, error) {
	if body, ok := rawBody.(*Body); ok {
		return body, nil
	}

	next, contentLength, err := getBodyReaderAndContentLength(rawBody)
	if err != nil {
		return nil, err
	}

	cur, err := next()
	if err != nil {
		return nil, err
	}

	return &Body{cur: cur, next: next, n: contentLength}, nil
}

// Read fills p with the next chunk of the body. Piped bodies return
// wire.ErrAgain while the writer has not supplied data yet.
func (b *Body) Read(p []byte) (int, error) {
	if b.pipe != nil {
		return b.pipe.read(p)
	}
	return b.cur.Read(p)
}

// Rewind resets the body to its beginning so it can be sent again. It
// reports whether the reset was possible.
func (b *Body) Rewind() bool {
	if b.next == nil {
		return false
	}

	cur, err := b.next()
	if err != nil {
		return false
	}
	b.cur = cur
	return true
}

// Len returns the declared body length, or -1 when unknown.
func (b *Body) Len() int64 { return b.n }

// Close releases the body. For piped bodies it tears down the pipe so
// pending and future writes fail with io.ErrClosedPipe.
func (b *Body) Close() error {
	if b.pipe != nil {
		b.pipe.closeRead()
		return nil
	}
	if c, ok := b.cur.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// GetBody returns a fresh reader over the same payload, in the shape
// http.Request.GetBody wants. It errors when the body cannot be replayed.
func (b *Body) GetBody() (io.ReadCloser, error) {
	if b.next == nil {
		return nil, fmt.Errorf("courier: body of length %d cannot be replayed", b.n)
	}

	cur, err := b.next()
	if err != nil {
		return nil, err
	}
	return &Body{cur: cur, next: b.next, n: b.n}, nil
}

// GetBodyFunc is the function signature of http.Request.GetBody.
type GetBodyFunc func() (io.ReadCloser, error)

// ReaderFunc is a type of function that can be given natively to NewBody
// and NewRequest. It can be easily converted into a GetBodyFunc.
type ReaderFunc func() (io.Reader, error)

// GetBodyFunc decorates a ReaderFunc to be compatible with GetBodyFunc.
func (r ReaderFunc) GetBodyFunc() (io.ReadCloser, error) {
	tmp, err := r()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(tmp), nil
}

// lenReader is an interface implemented by many in-memory io.Reader's. Used
// for automatically sending the right Content-Length header when possible.
type lenReader interface{ Len() int }

func getBodyReaderAndContentLength(rawBody any) (ReaderFunc, int64, error) {
	var bodyReader ReaderFunc
	var contentLength int64

	switch body := rawBody.(type) {
	// If they gave us a function already, great! Use it.
	case ReaderFunc:
		bodyReader = body
		tmp, err := body()
		if err != nil {
			return nil, 0, err
		}
		if lr, ok := tmp.(lenReader); ok {
			contentLength = int64(lr.Len())
		} else {
			contentLength = -1
		}
		if c, ok := tmp.(io.Closer); ok {
			_ = c.Close()
		}

	case func() (io.Reader, error):
		return getBodyReaderAndContentLength(ReaderFunc(body))

	// If a regular byte slice, we can read it over and over via new
	// readers.
	case []byte:
		buf := body
		bodyReader = func() (io.Reader, error) {
			return bytes.NewReader(buf), nil
		}
		contentLength = int64(len(buf))

	// If a bytes.Buffer we can read the underlying byte slice over and
	// over.
	case *bytes.Buffer:
		buf := body
		bodyReader = func() (io.Reader, error) {
			return bytes.NewReader(buf.Bytes()), nil
		}
		contentLength = int64(buf.Len())

	// We prioritize *bytes.Reader here because we don't really want to
	// deal with it seeking so want it to match here instead of the
	// io.ReadSeeker case.
	case *bytes.Reader:
		snapshot := *body
		bodyReader = func() (io.Reader, error) {
			r := snapshot
			return &r, nil
		}
		contentLength = int64(body.Len())

	// Compat case.
	case io.ReadSeeker:
		raw := body
		bodyReader = func() (io.Reader, error) {
			_, err := raw.Seek(0, io.SeekStart)
			return io.NopCloser(raw), err
		}
		if lr, ok := raw.(lenReader); ok {
			contentLength = int64(lr.Len())
		} else {
			contentLength = -1
		}

	// Read all in so we can reset.
	case io.Reader:
		buf, err := io.ReadAll(body)
		if err != nil {
			return nil, 0, err
		}

		if len(buf) == 0 {
			bodyReader = func() (io.Reader, error) {
				return http.NoBody, nil
			}
			contentLength = 0
		} else {
			bodyReader = func() (io.Reader, error) {
				return bytes.NewReader(buf), nil
			}
			contentLength = int64(len(buf))
		}

	default:
		return nil, 0, fmt.Errorf("courier: cannot handle body type %T", rawBody)
	}

	return bodyReader, contentLength, nil
}

// _pipeBufferSize bounds how many bytes a piped Body holds before Write
// blocks waiting for the engine to drain.
const _pipeBufferSize = 64 * 1024

// NewPipedBody returns a streaming Body and the writer that feeds it. The
// engine-side pull suspends while the pipe is empty and resumes when the
// writer supplies bytes or closes; the writer blocks once the pipe holds
// _pipeBufferSize unread bytes.
//
// The Body has unknown length, so the request is framed as chunked. It
// cannot rewind: a piped request cannot survive 307/308 redirect replay or
// a retry.
func NewPipedBody() (*Body, *PipeWriter) {
	p := &pipe{chunks: queue.New()}
	p.cond.L = &p.mu
	return &Body{pipe: p, n: -1}, &PipeWriter{p: p}
}

// PipeWriter is the producing side of NewPipedBody.
type PipeWriter struct {
	p *pipe
}

// Write queues p for the engine to send. It blocks while the pipe is full
// and fails with io.ErrClosedPipe once either side is closed.
func (w *PipeWriter) Write(p []byte) (int, error) {
	return w.p.write(p)
}

// Close signals end-of-body. The engine observes io.EOF after draining
// what was written.
func (w *PipeWriter) Close() error {
	return w.p.closeWrite(nil)
}

// CloseWithError signals that the body cannot be produced. The engine
// observes err after draining what was written, failing the exchange.
func (w *PipeWriter) CloseWithError(err error) error {
	return w.p.closeWrite(err)
}

// pipe is the shared state behind a piped Body. The reader side never
// blocks: read returns wire.ErrAgain when empty and relies on notify to
// wake the transfer loop when data arrives. The writer side blocks on the
// buffer bound.
type pipe struct {
	mu   sync.Mutex
	cond sync.Cond // signaled when buffered shrinks or the pipe closes

	chunks   *queue.Queue
	head     []byte
	buffered int

	writeDone bool  // writer closed, err is the verdict
	err       error // non-nil when the writer failed the body
	readDone  bool  // reader abandoned the pipe

	notify func() // set once the transfer is live
}

func (p *pipe) write(b []byte) (int, error) {
	p.mu.Lock()

	for p.buffered >= _pipeBufferSize && !p.readDone && !p.writeDone {
		p.cond.Wait()
	}
	if p.readDone || p.writeDone {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}

	chunk := make([]byte, len(b))
	copy(chunk, b)
	p.chunks.Add(chunk)
	p.buffered += len(chunk)
	notify := p.notify
	p.mu.Unlock()

	if notify != nil {
		notify()
	}
	return len(b), nil
}

func (p *pipe) closeWrite(err error) error {
	p.mu.Lock()
	if p.writeDone {
		p.mu.Unlock()
		return nil
	}
	p.writeDone = true
	p.err = err
	notify := p.notify
	p.cond.Broadcast()
	p.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

func (p *pipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readDone {
		return 0, io.ErrClosedPipe
	}

	if len(p.head) == 0 && p.chunks.Length() > 0 {
		p.head = p.chunks.Remove().([]byte)
	}

	if len(p.head) > 0 {
		n := copy(b, p.head)
		p.head = p.head[n:]
		p.buffered -= n
		p.cond.Broadcast()
		return n, nil
	}

	if p.writeDone {
		if p.err != nil {
			return 0, p.err
		}
		return 0, io.EOF
	}
	return 0, wire.ErrAgain
}

func (p *pipe) closeRead() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readDone {
		return
	}
	p.readDone = true
	p.head = nil
	p.chunks = queue.New()
	p.buffered = 0
	p.cond.Broadcast()
}

// bind installs the wakeup used to tell the reactor that a starved pull
// can make progress again. Data written before the transfer went live is
// announced immediately.
func (p *pipe) bind(notify func()) {
	p.mu.Lock()
	p.notify = notify
	pending := p.buffered > 0 || p.writeDone
	p.mu.Unlock()

	if pending && notify != nil {
		notify()
	}
}

// bindPipe wires a piped request body to its live exchange. Non-piped
// bodies are left alone.
func bindPipe(body io.Reader, notify func()) {
	if b, ok := body.(*Body); ok && b.pipe != nil {
		b.pipe.bind(notify)
	}
}
