// Package wiretest provides scripted in-memory implementations of
// wire.Engine and wire.Poller for tests.
//
// An Engine is programmed with a RespondFunc that maps each added descriptor
// to a script of steps. Drive replays the script one event at a time, which
// keeps chunk-level backpressure observable, and honors Pause, Resume and
// readiness blocking the way a real engine would.
package wiretest

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/luizaranda/courier/pkg/wire"
)

// RespondFunc decides how the fake engine answers one exchange.
type RespondFunc func(d wire.Descriptor) []Step

// Engine is a scripted wire.Engine.
//
// Drive and the other wire.Engine methods are called by the transfer loop;
// the inspection methods may be called concurrently from the test goroutine.
type Engine struct {
	mu      sync.Mutex
	respond RespondFunc
	next    wire.Handle
	order   []wire.Handle
	active  map[wire.Handle]*scriptedExchange
	retired map[wire.Handle]*scriptedExchange
	closed  bool
}

type scriptedExchange struct {
	desc    wire.Descriptor
	script  []Step
	pos     int
	done    bool
	paused  bool
	starved bool // request body returned ErrAgain, waiting for Resume

	blockedFD    int // waiting for readiness on this fd, -1 when not
	blockedWrite bool

	sentBody []byte
	pauses   int
	resumes  int
}

// NewEngine returns an Engine that answers exchanges using respond.
func NewEngine(respond RespondFunc) *Engine {
	return &Engine{
		respond: respond,
		active:  make(map[wire.Handle]*scriptedExchange),
		retired: make(map[wire.Handle]*scriptedExchange),
	}
}

// lookup finds an exchange whether it is still active or already removed.
func (e *Engine) lookup(h wire.Handle) (*scriptedExchange, bool) {
	if x, ok := e.active[h]; ok {
		return x, true
	}
	x, ok := e.retired[h]
	return x, ok
}

func (e *Engine) Add(d wire.Descriptor) (wire.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, errors.New("wiretest: engine closed")
	}

	e.next++
	h := e.next
	e.active[h] = &scriptedExchange{
		desc:      d,
		script:    e.respond(d),
		blockedFD: -1,
	}
	e.order = append(e.order, h)
	return h, nil
}

func (e *Engine) Drive(ready []wire.Readiness) ([]wire.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.New("wiretest: engine closed")
	}

	var events []wire.Event
	for _, h := range e.order {
		x, ok := e.active[h]
		if !ok || x.done || x.paused || x.starved {
			continue
		}
		if x.blockedFD >= 0 && !readinessFor(ready, x.blockedFD, x.blockedWrite) {
			continue
		}
		x.blockedFD = -1

		if ev, emitted := e.advance(h, x); emitted {
			events = append(events, ev)
		}
	}
	return events, nil
}

// advance runs the exchange's script until it emits one event or stalls.
// Exhausting the script without a Complete or Error step stalls forever,
// which is how tests model a hung peer.
func (e *Engine) advance(h wire.Handle, x *scriptedExchange) (wire.Event, bool) {
	for x.pos < len(x.script) {
		step := x.script[x.pos]

		if step.PullBody {
			if !e.pullBody(x) {
				return wire.Event{}, false
			}
			x.pos++
			continue
		}

		x.pos++
		ev := wire.Event{Handle: h, Kind: step.Kind, FD: step.FD, Code: step.Code, Err: step.Err}
		if step.Data != nil {
			ev.Data = append([]byte(nil), step.Data...)
		}

		switch step.Kind {
		case wire.EventNeedsRead:
			x.blockedFD, x.blockedWrite = step.FD, false
		case wire.EventNeedsWrite:
			x.blockedFD, x.blockedWrite = step.FD, true
		case wire.EventComplete, wire.EventError:
			x.done = true
		}
		return ev, true
	}
	return wire.Event{}, false
}

// pullBody drains the descriptor's request body. It reports whether the
// body completed; on ErrAgain the exchange starves until Resume.
func (e *Engine) pullBody(x *scriptedExchange) bool {
	if x.desc.Body == nil {
		return true
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := x.desc.Body.Read(buf)
		if n > 0 {
			x.sentBody = append(x.sentBody, buf[:n]...)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return true
		case errors.Is(err, wire.ErrAgain):
			x.starved = true
			return false
		default:
			// A failing source aborts the exchange like a real engine would.
			x.script = append(x.script[:x.pos], Step{Kind: wire.EventError, Code: wire.CodeBody, Err: err})
			return true
		}
	}
}

func (e *Engine) Remove(h wire.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if x, ok := e.active[h]; ok {
		delete(e.active, h)
		e.retired[h] = x
	}
	return nil
}

func (e *Engine) Pause(h wire.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	x, ok := e.active[h]
	if !ok {
		return fmt.Errorf("wiretest: pause of unknown handle %d", h)
	}
	if !x.paused {
		x.paused = true
		x.pauses++
	}
	return nil
}

func (e *Engine) Resume(h wire.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	x, ok := e.active[h]
	if !ok {
		return fmt.Errorf("wiretest: resume of unknown handle %d", h)
	}
	if x.paused || x.starved {
		x.paused = false
		x.starved = false
		x.resumes++
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.active = map[wire.Handle]*scriptedExchange{}
	return nil
}

func readinessFor(ready []wire.Readiness, fd int, write bool) bool {
	for _, r := range ready {
		if r.FD != fd {
			continue
		}
		if write && r.Writable || !write && r.Readable {
			return true
		}
	}
	return false
}

// Handles returns every handle added so far, in order.
func (e *Engine) Handles() []wire.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]wire.Handle(nil), e.order...)
}

// Descriptor returns the descriptor the exchange was added with.
func (e *Engine) Descriptor(h wire.Handle) (wire.Descriptor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if x, ok := e.lookup(h); ok {
		return x.desc, true
	}
	return wire.Descriptor{}, false
}

// SentBody returns the request body bytes pulled from the exchange's source.
func (e *Engine) SentBody(h wire.Handle) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	if x, ok := e.lookup(h); ok {
		return append([]byte(nil), x.sentBody...)
	}
	return nil
}

// Removed reports whether Remove was called for the handle.
func (e *Engine) Removed(h wire.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.retired[h]
	return ok
}

// ActiveCount returns the number of exchanges added and not yet removed.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Pauses returns how many times the exchange transitioned into pause.
func (e *Engine) Pauses(h wire.Handle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if x, ok := e.lookup(h); ok {
		return x.pauses
	}
	return 0
}

// Resumes returns how many times the exchange was resumed.
func (e *Engine) Resumes(h wire.Handle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if x, ok := e.lookup(h); ok {
		return x.resumes
	}
	return 0
}
