package reactor

import (
	"errors"
	"io"
	"sync"

	"github.com/eapache/queue"
)

// ErrBodyClosed is returned by body reads after the consumer closed the
// stream.
var ErrBodyClosed = errors.New("reactor: read on closed body")

// bodyStream bridges response body chunks from the loop goroutine to the
// consumer. The producer side never blocks: when the buffered byte count
// crosses the high watermark the loop pauses the exchange instead, and the
// consumer side asks for a resume once it drains below the low watermark.
type bodyStream struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks *queue.Queue // of []byte
	head   []byte       // partially consumed front chunk
	size   int

	high int
	low  int

	err    error // terminal, surfaced only after the buffer drains
	done   bool  // producer finished
	closed bool  // consumer closed

	paused      bool // loop paused the exchange for this stream
	lowSignaled bool

	// onLow asks the loop to resume the exchange; onClose asks it to tear
	// the exchange down. Both fire at most once per crossing, outside mu.
	onLow   func()
	onClose func()
}

func newBodyStream(high, low int, onLow, onClose func()) *bodyStream {
	s := &bodyStream{
		chunks:  queue.New(),
		high:    high,
		low:     low,
		onLow:   onLow,
		onClose: onClose,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push hands one chunk to the stream and reports whether the buffered size
// crossed the high watermark, in which case the caller must pause the
// exchange. The chunk is copied; engines reuse their event buffers.
func (s *bodyStream) push(p []byte) (crossedHigh bool) {
	if len(p) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.done {
		// Nobody will read this data.
		return false
	}

	s.chunks.Add(append([]byte(nil), p...))
	s.size += len(p)
	s.cond.Broadcast()

	if !s.paused && s.size > s.high {
		s.paused = true
		s.lowSignaled = false
		return true
	}
	return false
}

// finish marks the producer side complete. A nil error surfaces as io.EOF
// once the buffer drains; otherwise err surfaces after the last buffered
// byte is read.
func (s *bodyStream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.cond.Broadcast()
}

func (s *bodyStream) Read(p []byte) (int, error) {
	s.mu.Lock()

	for {
		if s.closed {
			s.mu.Unlock()
			return 0, ErrBodyClosed
		}

		if s.head == nil && s.chunks.Length() > 0 {
			s.head = s.chunks.Remove().([]byte)
		}
		if s.head != nil {
			n := copy(p, s.head)
			s.head = s.head[n:]
			if len(s.head) == 0 {
				s.head = nil
			}
			s.size -= n
			notify := s.maybeSignalLow()
			s.mu.Unlock()
			if notify != nil {
				notify()
			}
			return n, nil
		}

		if s.done {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}

		s.cond.Wait()
	}
}

// maybeSignalLow must be called with mu held; it returns the callback to
// invoke after unlocking, if the low watermark was just crossed.
func (s *bodyStream) maybeSignalLow() func() {
	if s.paused && !s.lowSignaled && s.size <= s.low {
		s.lowSignaled = true
		return s.onLow
	}
	return nil
}

// unpause records that the loop resumed the exchange, re-arming the high
// watermark.
func (s *bodyStream) unpause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// buffered returns the number of body bytes held, for tests.
func (s *bodyStream) buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close releases the stream from the consumer side. Buffered data is
// dropped and the exchange is torn down if still running. Closing after the
// body was fully read is the normal path and tears down nothing.
func (s *bodyStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	early := !s.done || s.chunks.Length() > 0 || s.head != nil
	s.chunks = queue.New()
	s.head = nil
	s.size = 0
	s.cond.Broadcast()
	onClose := s.onClose
	s.mu.Unlock()

	if early && onClose != nil {
		onClose()
	}
	return nil
}
