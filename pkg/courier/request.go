package courier

import (
	"context"
	"net/http"
	"time"

	"github.com/luizaranda/courier/pkg/transport"
)

// NewRequest creates an *http.Request whose body can be replayed, so
// redirects and retries can resend it.
//
// rawBody accepts the same types NewBody does. If rawBody is nil, we use
// http.NewRequestWithContext directly.
func NewRequest(ctx context.Context, method, url string, rawBody any) (*http.Request, error) {
	if rawBody == nil {
		return http.NewRequestWithContext(ctx, method, url, nil)
	}

	body, err := NewBody(rawBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = body.Len()

	// GetBody by definition must return a reader positioned at the start of
	// the payload. The redirect stage and the retryable client use it to
	// replay the body on follow-up attempts.
	if body.next != nil {
		req.GetBody = body.GetBody
	}

	return req, nil
}

type requestTimeoutKey struct{}

// WithRequestTimeout returns a request whose exchange deadline overrides
// the client-level timeout. A zero duration disables the deadline for this
// request only.
func WithRequestTimeout(req *http.Request, d time.Duration) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), requestTimeoutKey{}, d))
}

func requestTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(requestTimeoutKey{}).(time.Duration)
	return d, ok
}

// WithRequestRedirectPolicy returns a request that overrides the client's
// redirect policy for this request only.
func WithRequestRedirectPolicy(req *http.Request, policy transport.RedirectPolicy) *http.Request {
	return req.WithContext(transport.WithRedirectPolicy(req.Context(), policy))
}

// Hops reports how many redirect hops were followed before resp was
// produced. It is zero when the first exchange answered directly.
func Hops(resp *http.Response) int {
	if resp == nil || resp.Request == nil {
		return 0
	}
	return transport.Hops(resp.Request.Context())
}
