package wiretest

import (
	"errors"
	"sync"
	"time"

	"github.com/luizaranda/courier/pkg/wire"
)

// Poller is a manually driven wire.Poller. Tests inject readiness with
// Signal; the loop under test observes it from Poll exactly as it would
// observe epoll readiness.
type Poller struct {
	mu         sync.Mutex
	interests  map[int]wire.Interest
	pending    []wire.Readiness
	woken      bool
	closed     bool
	signal     chan struct{}
	registered []Registration
}

// Registration records one Register call, in order.
type Registration struct {
	FD       int
	Interest wire.Interest
}

// NewPoller returns an empty manual poller.
func NewPoller() *Poller {
	return &Poller{
		interests: make(map[int]wire.Interest),
		signal:    make(chan struct{}, 1),
	}
}

func (p *Poller) Register(fd int, interest wire.Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("wiretest: poller closed")
	}
	p.interests[fd] = interest
	p.registered = append(p.registered, Registration{FD: fd, Interest: interest})
	return nil
}

func (p *Poller) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.interests, fd)
	return nil
}

func (p *Poller) Poll(timeout time.Duration) ([]wire.Readiness, error) {
	var timerC <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errors.New("wiretest: poller closed")
		}
		if len(p.pending) > 0 {
			ready := p.pending
			p.pending = nil
			p.mu.Unlock()
			return ready, nil
		}
		if p.woken {
			p.woken = false
			p.mu.Unlock()
			return nil, nil
		}
		p.mu.Unlock()

		select {
		case <-p.signal:
		case <-timerC:
			return nil, nil
		}
	}
}

func (p *Poller) Wake() error {
	p.mu.Lock()
	p.woken = true
	p.mu.Unlock()
	p.notify()
	return nil
}

func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.notify()
	return nil
}

// Signal queues readiness for a registered descriptor and unblocks a
// concurrent Poll. Readiness for unregistered descriptors is dropped, the
// way an OS poller only reports what was registered.
func (p *Poller) Signal(r wire.Readiness) {
	p.mu.Lock()
	if _, ok := p.interests[r.FD]; ok {
		p.pending = append(p.pending, r)
	}
	p.mu.Unlock()
	p.notify()
}

func (p *Poller) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Interest returns the currently registered interest for fd.
func (p *Poller) Interest(fd int) (wire.Interest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.interests[fd]
	return i, ok
}

// Registrations returns every Register call seen so far, in order.
func (p *Poller) Registrations() []Registration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Registration(nil), p.registered...)
}
