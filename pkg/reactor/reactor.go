// Package reactor runs HTTP exchanges to completion on a single background
// loop goroutine.
//
// The loop owns the wire engine, the poller registrations, the timer queue
// and the per-exchange state table. Callers interact with it only through
// Submit, Cancel and the channels exposed by Exchange, so every state
// transition happens on the loop and terminal wakeups fire exactly once.
package reactor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/luizaranda/courier/pkg/log"
	"github.com/luizaranda/courier/pkg/wire"
)

// Tunable defaults, overridable per reactor through options.
var (
	DefaultPollWait    = 100 * time.Millisecond
	DefaultQueueLength = 64

	// DefaultHighWatermark pauses an exchange once its un-consumed response
	// bytes exceed it; DefaultLowWatermark resumes the exchange once the
	// consumer drains below it.
	DefaultHighWatermark = 256 * 1024
	DefaultLowWatermark  = 64 * 1024
)

var _validate = validator.New()

type options struct {
	Logger        log.Logger
	PollWait      time.Duration `validate:"gt=0"`
	QueueLength   int           `validate:"gt=0"`
	HighWatermark int           `validate:"gt=0"`
	LowWatermark  int           `validate:"gte=0,ltefield=HighWatermark"`
}

// Opt configures a Reactor.
type Opt func(*options)

// WithLogger sets the logger used by the loop. The default logger discards
// everything.
func WithLogger(l log.Logger) Opt {
	return func(o *options) { o.Logger = l }
}

// WithPollWait sets the maximum time the loop blocks waiting for readiness
// when it has nothing else to do.
func WithPollWait(d time.Duration) Opt {
	return func(o *options) { o.PollWait = d }
}

// WithQueueLength sets the submission queue capacity. Submit blocks once
// the queue is full.
func WithQueueLength(n int) Opt {
	return func(o *options) { o.QueueLength = n }
}

// WithWatermarks sets the response buffering bounds, in bytes, applied to
// every exchange.
func WithWatermarks(high, low int) Opt {
	return func(o *options) {
		o.HighWatermark = high
		o.LowWatermark = low
	}
}

// Reactor drives submitted exchanges on its loop goroutine until Shutdown.
type Reactor struct {
	engine wire.Engine
	poller wire.Poller
	log    log.Logger
	opts   options

	mu     sync.RWMutex // guards closed; write-held only by Shutdown
	closed bool

	submitCh chan *Exchange
	stopping chan struct{}
	loopDone chan struct{}

	pendMu  sync.Mutex
	cancels []*Exchange
	resumes []*Exchange

	// Loop-owned.
	table  map[wire.Handle]*Exchange
	timers timerHeap
	hot    bool
}

// New starts a reactor over the given engine and poller. The reactor owns
// both from here on and closes them when it shuts down.
func New(engine wire.Engine, poller wire.Poller, opts ...Opt) (*Reactor, error) {
	o := options{
		Logger:        log.DefaultLogger,
		PollWait:      DefaultPollWait,
		QueueLength:   DefaultQueueLength,
		HighWatermark: DefaultHighWatermark,
		LowWatermark:  DefaultLowWatermark,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := _validate.Struct(o); err != nil {
		return nil, fmt.Errorf("reactor: invalid options: %w", err)
	}

	r := &Reactor{
		engine:   engine,
		poller:   poller,
		log:      o.Logger,
		opts:     o,
		submitCh: make(chan *Exchange, o.QueueLength),
		stopping: make(chan struct{}),
		loopDone: make(chan struct{}),
		table:    make(map[wire.Handle]*Exchange),
	}
	go r.loop()
	return r, nil
}

// Submit queues the exchange for execution. It blocks only while the
// submission queue is full, never on the loop itself, and fails with
// ErrQueueClosed once Shutdown has begun.
func (r *Reactor) Submit(x *Exchange) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrQueueClosed
	}

	x.body = newBodyStream(
		r.opts.HighWatermark,
		r.opts.LowWatermark,
		func() { r.requestResume(x) },
		func() { r.Cancel(x) },
	)

	// All caller-side writes happen before the exchange is published to
	// the loop; after the send the loop owns it.
	x.advanceTo(StateQueued)
	if x.trace != nil && x.trace.Queued != nil {
		x.trace.Queued()
	}

	select {
	case r.submitCh <- x:
	case <-r.stopping:
		return ErrQueueClosed
	}

	r.poller.Wake()
	return nil
}

// Cancel asks the loop to tear the exchange down. It never blocks, may be
// called from any goroutine any number of times, and does nothing once the
// exchange is terminal.
func (r *Reactor) Cancel(x *Exchange) {
	if x.canceled.Swap(true) {
		return
	}
	r.pendMu.Lock()
	r.cancels = append(r.cancels, x)
	r.pendMu.Unlock()
	r.poller.Wake()
}

// ResumeBody signals that the exchange's request body source, which
// previously reported wire.ErrAgain, has data (or EOF) available again.
func (r *Reactor) ResumeBody(x *Exchange) {
	r.requestResume(x)
}

func (r *Reactor) requestResume(x *Exchange) {
	r.pendMu.Lock()
	r.resumes = append(r.resumes, x)
	r.pendMu.Unlock()
	r.poller.Wake()
}

// Shutdown stops intake, cancels every in-flight exchange and waits for
// the loop to exit. The context only bounds the wait.
func (r *Reactor) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.stopping)
		r.poller.Wake()
	}
	r.mu.Unlock()

	select {
	case <-r.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reactor) loop() {
	defer close(r.loopDone)

	for {
		if activity := r.drainPending(); activity {
			r.hot = true
		}
		if activity := r.drainSubmissions(); activity {
			r.hot = true
		}

		select {
		case <-r.stopping:
			r.teardown()
			return
		default:
		}

		ready, err := r.poller.Poll(r.pollWait())
		if err != nil {
			r.log.Error("transfer loop poll failed", log.Err(err))
			r.hot = false
			continue
		}

		r.expireTimers(time.Now())

		events, err := r.engine.Drive(ready)
		if err != nil {
			r.log.Error("engine drive failed", log.Err(err))
		}
		r.hot = len(events) > 0
		for i := range events {
			r.apply(&events[i])
		}
	}
}

// pollWait is zero while the engine still has runnable work, otherwise the
// time until the next deadline, capped by the configured wait.
func (r *Reactor) pollWait() time.Duration {
	if r.hot {
		return 0
	}
	wait := r.opts.PollWait
	if at, ok := r.timers.next(); ok {
		if until := time.Until(at); until < wait {
			wait = until
		}
		if wait < 0 {
			wait = 0
		}
	}
	return wait
}

func (r *Reactor) drainPending() bool {
	r.pendMu.Lock()
	cancels := r.cancels
	resumes := r.resumes
	r.cancels = nil
	r.resumes = nil
	r.pendMu.Unlock()

	for _, x := range cancels {
		r.terminate(x, ErrCanceled)
	}
	for _, x := range resumes {
		r.resume(x)
	}
	return len(cancels) > 0 || len(resumes) > 0
}

func (r *Reactor) drainSubmissions() bool {
	accepted := false
	for {
		select {
		case x := <-r.submitCh:
			accepted = true
			r.accept(x)
		default:
			return accepted
		}
	}
}

func (r *Reactor) accept(x *Exchange) {
	if x.canceled.Load() {
		r.terminate(x, ErrCanceled)
		return
	}

	h, err := r.engine.Add(x.desc)
	if err != nil {
		r.terminate(x, fmt.Errorf("reactor: engine rejected exchange: %w", err))
		return
	}

	x.handle = h
	x.added = true
	r.table[h] = x
	x.advanceTo(StateConnecting)

	if x.timeout > 0 {
		r.timers.schedule(x, time.Now().Add(x.timeout))
	}
	if x.trace != nil && x.trace.ExchangeStart != nil {
		x.trace.ExchangeStart(x.desc.URL.String())
	}
	r.log.Debug("exchange accepted",
		log.Uint64("handle", uint64(h)),
		log.String("method", x.desc.Method),
		log.Stringer("url", x.desc.URL),
	)
}

// resume handles both watermark resumption and request body readiness.
// Which one applies is decided here on the loop, where pausedForFlow is
// owned.
func (r *Reactor) resume(x *Exchange) {
	if !x.added || x.State().Terminal() {
		return
	}

	if x.pausedForFlow {
		x.pausedForFlow = false
		x.body.unpause()
		if err := r.engine.Resume(x.handle); err != nil {
			r.log.Warn("engine resume failed", log.Uint64("handle", uint64(x.handle)), log.Err(err))
		}
		r.unmaskRead(x)
		if x.trace != nil && x.trace.Resumed != nil {
			x.trace.Resumed()
		}
		return
	}

	if err := r.engine.Resume(x.handle); err != nil {
		r.log.Warn("engine resume failed", log.Uint64("handle", uint64(x.handle)), log.Err(err))
	}
}

func (r *Reactor) expireTimers(now time.Time) {
	for _, x := range r.timers.expire(now) {
		r.terminate(x, ErrTimeout)
	}
}

func (r *Reactor) apply(ev *wire.Event) {
	x, ok := r.table[ev.Handle]
	if !ok {
		// Stale event for an exchange torn down earlier in this batch.
		return
	}

	switch ev.Kind {
	case wire.EventNeedsRead:
		r.updateInterest(x, ev.FD, wire.WantRead)

	case wire.EventNeedsWrite:
		x.advanceTo(StateSending)
		r.updateInterest(x, ev.FD, wire.WantWrite)

	case wire.EventHeaderData:
		x.advanceTo(StateReceivingHeaders)
		resolved, err := x.feedHead(ev.Data)
		if err != nil {
			r.terminate(x, err)
			return
		}
		if resolved {
			x.advanceTo(StateReceivingBody)
			x.resolveStart()
			if x.trace != nil && x.trace.GotHeaders != nil {
				x.trace.GotHeaders(x.head.Status)
			}
		}

	case wire.EventBodyData:
		if !x.headDone {
			r.terminate(x, &EngineError{Code: wire.CodeProtocol, Err: fmt.Errorf("body data before response head")})
			return
		}
		x.gotLen += int64(len(ev.Data))
		if x.trace != nil && x.trace.ReadBodyChunk != nil {
			x.trace.ReadBodyChunk(len(ev.Data))
		}
		if x.body.push(ev.Data) {
			x.pausedForFlow = true
			if err := r.engine.Pause(x.handle); err != nil {
				r.log.Warn("engine pause failed", log.Uint64("handle", uint64(x.handle)), log.Err(err))
			}
			r.maskRead(x)
			if x.trace != nil && x.trace.Paused != nil {
				x.trace.Paused()
			}
		}

	case wire.EventComplete:
		switch {
		case !x.headDone:
			r.terminate(x, &EngineError{Code: wire.CodeProtocol, Err: fmt.Errorf("exchange completed without a response head")})
		case x.truncated():
			r.terminate(x, &EngineError{
				Code: wire.CodeTruncated,
				Err:  fmt.Errorf("body truncated: got %d of %d bytes", x.gotLen, x.expectLen),
			})
		default:
			r.terminate(x, nil)
		}

	case wire.EventError:
		r.terminate(x, &EngineError{Code: ev.Code, Err: ev.Err})
	}
}

// updateInterest points the exchange's poller registration at fd with the
// given interest, honoring the read mask while the exchange is paused.
func (r *Reactor) updateInterest(x *Exchange, fd int, interest wire.Interest) {
	if x.fd >= 0 && x.fd != fd {
		r.poller.Deregister(x.fd)
		x.maskedRead = false
	}
	x.fd = fd
	x.interest = interest

	effective := interest
	if x.pausedForFlow {
		effective &^= wire.WantRead
		x.maskedRead = interest&wire.WantRead != 0
	}
	if effective == 0 {
		r.poller.Deregister(fd)
		return
	}
	if err := r.poller.Register(fd, effective); err != nil {
		r.log.Warn("poller register failed", log.Int("fd", fd), log.Err(err))
	}
}

func (r *Reactor) maskRead(x *Exchange) {
	if x.fd < 0 || x.interest&wire.WantRead == 0 {
		return
	}
	x.maskedRead = true
	if rem := x.interest &^ wire.WantRead; rem != 0 {
		r.poller.Register(x.fd, rem)
	} else {
		r.poller.Deregister(x.fd)
	}
}

func (r *Reactor) unmaskRead(x *Exchange) {
	if !x.maskedRead || x.fd < 0 {
		return
	}
	x.maskedRead = false
	if err := r.poller.Register(x.fd, x.interest); err != nil {
		r.log.Warn("poller register failed", log.Int("fd", x.fd), log.Err(err))
	}
}

// terminate resolves the exchange exactly once, releasing its engine
// handle, poller registration and timer on every path.
func (r *Reactor) terminate(x *Exchange, err error) {
	if x.State().Terminal() {
		return
	}

	if x.added {
		delete(r.table, x.handle)
		if rerr := r.engine.Remove(x.handle); rerr != nil {
			r.log.Warn("engine remove failed", log.Uint64("handle", uint64(x.handle)), log.Err(rerr))
		}
	}
	if x.fd >= 0 {
		r.poller.Deregister(x.fd)
		x.fd = -1
	}
	r.timers.drop(x)

	x.err = err
	switch err {
	case nil:
		x.state.Store(int32(StateCompleted))
	case ErrCanceled:
		x.state.Store(int32(StateCanceled))
	default:
		x.state.Store(int32(StateFailed))
	}

	if x.body != nil {
		x.body.finish(err)
	}
	x.resolveStart()
	if x.trace != nil && x.trace.Done != nil {
		x.trace.Done(err)
	}
	close(x.done)
	r.log.Debug("exchange finished",
		log.Uint64("handle", uint64(x.handle)),
		log.Stringer("state", x.State()),
		log.NamedErr("reason", err),
	)
}

// teardown cancels everything still alive and releases the engine and
// poller. It runs once, as the loop's last act.
func (r *Reactor) teardown() {
	for {
		select {
		case x := <-r.submitCh:
			r.terminate(x, ErrCanceled)
			continue
		default:
		}
		break
	}
	r.drainPending()

	inflight := make([]*Exchange, 0, len(r.table))
	for _, x := range r.table {
		inflight = append(inflight, x)
	}
	for _, x := range inflight {
		r.terminate(x, ErrCanceled)
	}

	if err := r.engine.Close(); err != nil {
		r.log.Warn("engine close failed", log.Err(err))
	}
	if err := r.poller.Close(); err != nil {
		r.log.Warn("poller close failed", log.Err(err))
	}
	r.log.Debug("transfer loop stopped")
}
