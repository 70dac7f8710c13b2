package reactor

import (
	"errors"
	"fmt"

	"github.com/luizaranda/courier/pkg/wire"
)

// ErrQueueClosed is returned by Submit once shutdown has begun.
var ErrQueueClosed = errors.New("reactor: submission queue closed")

// ErrCanceled is the terminal error of an exchange torn down by Cancel,
// consumer body close, or reactor shutdown.
var ErrCanceled = errors.New("reactor: exchange canceled")

// ErrTimeout is the terminal error of an exchange whose deadline expired.
// It reports Timeout() true.
var ErrTimeout error = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "reactor: exchange deadline exceeded" }
func (*timeoutError) Timeout() bool { return true }

// EngineError wraps a failure reported by the wire engine.
type EngineError struct {
	Code wire.ErrorCode
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reactor: engine %s error: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("reactor: engine %s error", e.Code)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Timeout reports whether the engine classified the failure as a deadline
// expiry, so EngineError satisfies the same interface as ErrTimeout.
func (e *EngineError) Timeout() bool { return e.Code == wire.CodeTimeout }
