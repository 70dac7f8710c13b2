package courier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/luizaranda/courier/pkg/reactor"
	"github.com/luizaranda/courier/pkg/transport"
	"github.com/luizaranda/courier/pkg/wire"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"engine connect", &reactor.EngineError{Code: wire.CodeConnect}, KindConnect},
		{"engine resolve", &reactor.EngineError{Code: wire.CodeResolve}, KindConnect},
		{"engine tls", &reactor.EngineError{Code: wire.CodeTLS}, KindConnect},
		{"engine timeout", &reactor.EngineError{Code: wire.CodeTimeout}, KindTimeout},
		{"engine protocol", &reactor.EngineError{Code: wire.CodeProtocol}, KindTransport},
		{"engine truncated", &reactor.EngineError{Code: wire.CodeTruncated}, KindTransport},
		{"engine aborted", &reactor.EngineError{Code: wire.CodeAborted}, KindTransport},
		{"engine body", &reactor.EngineError{Code: wire.CodeBody}, KindBody},
		{"engine internal", &reactor.EngineError{Code: wire.CodeInternal}, KindTransport},
		{"loop timeout", reactor.ErrTimeout, KindTimeout},
		{"loop canceled", reactor.ErrCanceled, KindCanceled},
		{"queue closed", reactor.ErrQueueClosed, KindCanceled},
		{"context canceled", context.Canceled, KindCanceled},
		{"context deadline", context.DeadlineExceeded, KindTimeout},
		{"too many redirects", fmt.Errorf("%w: stopped after 3 hops", transport.ErrTooManyRedirects), KindTooManyRedirects},
		{"invalid redirect", transport.ErrInvalidRedirect, KindInvalidRedirect},
		{"body not rewindable", transport.ErrBodyNotRewindable, KindBody},
		{"anything else", errors.New("surprise"), KindTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrapError("http://upstream.test/", tc.err)

			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("wrapError() = %T, want *Error", err)
			}
			if cerr.Kind != tc.want {
				t.Errorf("Kind = %v, want %v", cerr.Kind, tc.want)
			}
			if !errors.Is(err, tc.err) {
				t.Error("wrapped error lost its cause")
			}
		})
	}
}

func TestWrapErrorPassthrough(t *testing.T) {
	if err := wrapError("http://upstream.test/", nil); err != nil {
		t.Errorf("wrapError(nil) = %v, want nil", err)
	}

	already := &Error{Kind: KindTimeout, URL: "http://upstream.test/", Err: reactor.ErrTimeout}
	if err := wrapError("http://other.test/", already); err != error(already) {
		t.Errorf("wrapError(classified) = %v, want it untouched", err)
	}
}

func TestErrorSentinelMatching(t *testing.T) {
	cases := []struct {
		kind     Kind
		sentinel error
	}{
		{KindConnect, ErrConnect},
		{KindTimeout, ErrTimeout},
		{KindTooManyRedirects, ErrTooManyRedirects},
		{KindInvalidRedirect, ErrInvalidRedirect},
		{KindTransport, ErrTransport},
		{KindCanceled, ErrCanceled},
		{KindBody, ErrBody},
	}

	for _, tc := range cases {
		err := &Error{Kind: tc.kind, URL: "http://upstream.test/"}
		if !errors.Is(err, tc.sentinel) {
			t.Errorf("errors.Is(%v error, sentinel) = false", tc.kind)
		}
		for _, other := range cases {
			if other.kind == tc.kind {
				continue
			}
			if errors.Is(err, other.sentinel) {
				t.Errorf("%v error matches %v sentinel", tc.kind, other.kind)
			}
		}
	}
}

func TestErrorTimeout(t *testing.T) {
	timeout := &Error{Kind: KindTimeout, URL: "http://upstream.test/"}
	if !timeout.Timeout() || !os.IsTimeout(timeout) {
		t.Error("timeout error does not report as a timeout")
	}

	canceled := &Error{Kind: KindCanceled, URL: "http://upstream.test/"}
	if canceled.Timeout() || os.IsTimeout(canceled) {
		t.Error("canceled error reports as a timeout")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindConnect, URL: "http://upstream.test/", Err: errors.New("connection refused")}
	want := `courier: connect "http://upstream.test/": connection refused`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
