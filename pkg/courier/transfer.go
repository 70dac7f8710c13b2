package courier

import (
	"context"
	"net/http"
	"sync"
)

// Transfer is the handle for one asynchronous send. It resolves once the
// response status and headers are available; the body keeps streaming
// through the live transfer loop afterwards.
//
// A Transfer that will not be waited on must be Closed, otherwise its
// exchange keeps running to completion in the background.
type Transfer struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	resp     *http.Response
	err      error
	resolved bool
	claimed  bool // a Wait returned the response to the caller
	closed   bool
}

func newTransfer(cancel context.CancelFunc) *Transfer {
	return &Transfer{cancel: cancel, done: make(chan struct{})}
}

// resolve records the outcome exactly once. If Close already ran, nobody
// will claim a response, so its body is released here.
func (t *Transfer) resolve(resp *http.Response, err error) {
	t.mu.Lock()
	release := t.closed && resp != nil
	if release {
		t.err = &Error{Kind: KindCanceled, URL: resp.Request.URL.String(), Err: ErrCanceled}
	} else {
		t.resp, t.err = resp, err
	}
	t.resolved = true
	t.mu.Unlock()

	if release {
		_ = resp.Body.Close()
	}
	close(t.done)
}

// Wait blocks until the transfer resolves and returns its outcome. The
// context bounds the wait only: when it expires the transfer keeps
// running and Wait can be called again. Repeated calls return the same
// outcome.
func (t *Transfer) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resp != nil {
		t.claimed = true
	}
	return t.resp, t.err
}

// Done returns a channel closed when the outcome is available.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the transfer if it has not resolved yet. Cancelling a
// transfer that already produced its outcome is a no-op; in particular it
// never tears down a response body the caller is reading. Cancel is
// idempotent.
func (t *Transfer) Cancel() {
	t.mu.Lock()
	resolved := t.resolved
	t.mu.Unlock()

	if !resolved {
		t.cancel()
	}
}

// Close disposes of the transfer: an unresolved transfer is cancelled, and
// a resolved response nobody claimed has its body released. A response
// already handed out by Wait stays untouched. Close is idempotent and
// always returns nil.
func (t *Transfer) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	resolved := t.resolved
	resp := t.resp
	release := resolved && !t.claimed && resp != nil
	if release {
		t.resp = nil
		t.err = &Error{Kind: KindCanceled, URL: resp.Request.URL.String(), Err: ErrCanceled}
	}
	t.mu.Unlock()

	if !resolved {
		t.cancel()
		return nil
	}
	if release {
		_ = resp.Body.Close()
	}
	return nil
}

// SendAsync runs the request through the interceptor pipeline on its own
// goroutine and returns the handle immediately. The handle resolves when
// status and headers are in; reading the returned response's body streams
// the rest of the exchange.
func (c *Client) SendAsync(req *http.Request) *Transfer {
	ctx, cancel := context.WithCancel(req.Context())
	t := newTransfer(cancel)

	req = req.WithContext(ctx)
	go func() {
		t.resolve(c.roundTrip(req))
	}()

	return t
}

// Do executes the request and blocks until the response head is available,
// driving the same pipeline SendAsync does. The response body streams as
// it is read, like http.Client.Do.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	res, err := c.transport.RoundTrip(req)
	if err != nil {
		return nil, wrapError(req.URL.String(), err)
	}
	return res, nil
}
