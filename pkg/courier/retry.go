package courier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// _retryReadLimit bounds how much of a failed attempt's body gets drained
// before closing it to release the transfer.
const _retryReadLimit = 4 << 10

// BackoffFunc is the signature of the function returning how long to wait
// before the given retry attempt, zero being the wait before the first retry.
type BackoffFunc func(attempt int) time.Duration

// CheckRetryFunc is the signature of the function deciding whether the
// outcome of an attempt should be retried. Exactly one of res and err is
// set. Returning false makes the client hand that outcome to the caller.
type CheckRetryFunc func(ctx context.Context, res *http.Response, err error) bool

// ConstantBackoff waits the same amount of time before every retry.
func ConstantBackoff(wait time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return wait
	}
}

// ExponentialBackoff doubles the wait on each retry, starting at base and
// never exceeding max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= max || d <= 0 {
				return max
			}
		}
		return d
	}
}

// ServerErrorsRetryPolicy retries attempts that failed before reaching the
// server, and responses in the 5xx range.
//
// Timeouts and protocol failures are not retried: the server may have seen
// and acted on the request already.
func ServerErrorsRetryPolicy() CheckRetryFunc {
	return func(ctx context.Context, res *http.Response, err error) bool {
		// The caller gave up, the outcome no longer matters.
		if ctx.Err() != nil {
			return false
		}

		if err != nil {
			return errors.Is(err, ErrConnect)
		}

		return res.StatusCode >= http.StatusInternalServerError
	}
}

// RetryableClient wraps a *Client with a retry loop around Do.
//
// Requests carrying a body can only be retried when the body is rewindable,
// which NewRequest arranges for every in-memory body type. A request whose
// body cannot be replayed stops retrying after the first attempt.
type RetryableClient struct {
	// RetryMax is the number of retries after the initial attempt.
	RetryMax int

	// BackoffStrategy tells how long to wait between attempts.
	BackoffStrategy BackoffFunc

	// CheckRetry decides which outcomes are worth retrying.
	CheckRetry CheckRetryFunc

	// Client executes the individual attempts.
	Client *Client
}

// Do executes the request, retrying failed attempts according to the
// client's retry policy and backoff strategy. It returns the outcome of the
// last attempt made.
func (c *RetryableClient) Do(req *http.Request) (*http.Response, error) {
	var (
		res *http.Response
		err error
	)

	for attempt := 0; ; attempt++ {
		// Attempts run on their own clone so hooks mutating headers, like
		// the x-retry stamp, never touch the caller's request.
		r := req.Clone(withRetryCount(req.Context(), attempt))

		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, &Error{Kind: KindBody, URL: req.URL.String(), Err: bodyErr}
			}
			r.Body = body
		}

		res, err = c.Client.Do(r)

		if !c.CheckRetry(req.Context(), res, err) {
			return res, err
		}

		if attempt == c.RetryMax {
			return res, err
		}

		// A body that cannot be replayed makes further attempts impossible,
		// the outcome in hand is the final one.
		if req.Body != nil && req.GetBody == nil {
			return res, err
		}

		// Release the failed attempt's transfer before waiting.
		if res != nil {
			drainBody(res.Body)
		}

		if wait := c.BackoffStrategy(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, contextError(req.URL.String(), req.Context().Err())
			case <-timer.C:
			}
		}
	}
}

// SendAsync starts the retry loop without blocking, returning a Transfer
// that resolves with the last attempt's outcome.
func (c *RetryableClient) SendAsync(req *http.Request) *Transfer {
	ctx, cancel := context.WithCancel(req.Context())
	t := newTransfer(cancel)

	req = req.WithContext(ctx)
	go func() {
		t.resolve(c.Do(req))
	}()

	return t
}

// Close releases the underlying client.
func (c *RetryableClient) Close() error {
	return c.Client.Close()
}

func drainBody(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, _retryReadLimit)
	_ = body.Close()
}

type retryCountCtxKey struct{}

func withRetryCount(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, retryCountCtxKey{}, attempt)
}

// RetryCount returns which attempt of a retry loop the given request is,
// zero meaning the initial attempt.
func RetryCount(req *http.Request) int {
	i, _ := req.Context().Value(retryCountCtxKey{}).(int)
	return i
}
