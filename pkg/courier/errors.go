package courier

import (
	"context"
	"errors"
	"fmt"

	"github.com/luizaranda/courier/pkg/reactor"
	"github.com/luizaranda/courier/pkg/transport"
	"github.com/luizaranda/courier/pkg/wire"
)

// Kind classifies a transfer failure.
type Kind int

const (
	// KindConnect covers failures establishing the connection: TCP connect,
	// name resolution and TLS negotiation.
	KindConnect Kind = iota + 1

	// KindTimeout is an exchange that ran out of time, either against its
	// own deadline or an engine-level one.
	KindTimeout

	// KindTooManyRedirects is a redirect chain longer than the configured
	// hop budget.
	KindTooManyRedirects

	// KindInvalidRedirect is a redirect response whose Location header is
	// missing or unparseable.
	KindInvalidRedirect

	// KindTransport covers protocol violations, truncated bodies and other
	// engine failures that are none of the above.
	KindTransport

	// KindCanceled is an exchange torn down by the caller before it could
	// finish.
	KindCanceled

	// KindBody is a failure reading the request body source.
	KindBody
)

var _kindNames = map[Kind]string{
	KindConnect:          "connect",
	KindTimeout:          "timeout",
	KindTooManyRedirects: "too_many_redirects",
	KindInvalidRedirect:  "invalid_redirect",
	KindTransport:        "transport",
	KindCanceled:         "canceled",
	KindBody:             "body",
}

func (k Kind) String() string {
	if s, ok := _kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Sentinels matchable with errors.Is against any *Error of the same kind.
var (
	ErrConnect          = errors.New("courier: connection failed")
	ErrTimeout          = errors.New("courier: transfer timed out")
	ErrTooManyRedirects = errors.New("courier: too many redirects")
	ErrInvalidRedirect  = errors.New("courier: invalid redirect")
	ErrTransport        = errors.New("courier: transport failure")
	ErrCanceled         = errors.New("courier: transfer canceled")
	ErrBody             = errors.New("courier: request body failure")
)

var _kindSentinels = map[Kind]error{
	KindConnect:          ErrConnect,
	KindTimeout:          ErrTimeout,
	KindTooManyRedirects: ErrTooManyRedirects,
	KindInvalidRedirect:  ErrInvalidRedirect,
	KindTransport:        ErrTransport,
	KindCanceled:         ErrCanceled,
	KindBody:             ErrBody,
}

// Error is the failure reported for a transfer. URL is the target of the
// hop that failed, which after redirects may differ from the URL the
// caller submitted.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("courier: %s %q: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("courier: %s %q", e.Kind, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel corresponding to the error's kind, so callers
// can write errors.Is(err, courier.ErrTimeout) without reaching for the
// struct.
func (e *Error) Is(target error) bool {
	return target == _kindSentinels[e.Kind]
}

// Timeout reports whether the failure was a deadline expiry. It satisfies
// the interface os.IsTimeout looks for.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

// kindForCode fixes the mapping from engine error codes to error kinds.
func kindForCode(code wire.ErrorCode) Kind {
	switch code {
	case wire.CodeConnect, wire.CodeResolve, wire.CodeTLS:
		return KindConnect
	case wire.CodeTimeout:
		return KindTimeout
	case wire.CodeBody:
		return KindBody
	default:
		return KindTransport
	}
}

// wrapError classifies err as a *Error against the given target URL. It
// is the single place reactor, engine and pipeline failures become the
// public taxonomy. A nil err or an already classified error passes
// through.
func wrapError(url string, err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	kind := KindTransport

	var engineErr *reactor.EngineError
	switch {
	case errors.As(err, &engineErr):
		kind = kindForCode(engineErr.Code)
	case errors.Is(err, reactor.ErrTimeout):
		kind = KindTimeout
	case errors.Is(err, reactor.ErrCanceled),
		errors.Is(err, reactor.ErrQueueClosed),
		errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, transport.ErrTooManyRedirects):
		kind = KindTooManyRedirects
	case errors.Is(err, transport.ErrInvalidRedirect):
		kind = KindInvalidRedirect
	case errors.Is(err, transport.ErrBodyNotRewindable):
		kind = KindBody
	}

	return &Error{Kind: kind, URL: url, Err: err}
}
