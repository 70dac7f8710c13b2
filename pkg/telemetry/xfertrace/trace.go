// Package xfertrace provides a hook set for observing the lifecycle of a
// single transfer, in the spirit of net/http/httptrace.
//
// Traces are attached to a request context. The transfer machinery invokes
// each non-nil hook as the matching lifecycle point is crossed, so callers
// can derive per-transfer timings and byte counters without touching the
// transfer itself.
package xfertrace

import (
	"context"
	"reflect"
)

// TransferTrace is a set of hooks to run at various stages of a transfer.
// Any particular hook may be nil. Functions may be called concurrently
// from different goroutines: submission hooks fire on the caller goroutine,
// the rest fire on the transfer loop.
type TransferTrace struct {
	// Queued is called as the transfer is handed to the submission queue,
	// before any loop-side hook can fire.
	Queued func()

	// ExchangeStart is called when an individual exchange begins, once for
	// the initial request and once per redirect hop.
	ExchangeStart func(url string)

	// WroteBodyChunk is called after a chunk of the request body is handed
	// to the engine.
	WroteBodyChunk func(n int)

	// GotHeaders is called when the final header block of an exchange has
	// been parsed. Interim 1xx blocks do not trigger it.
	GotHeaders func(status int)

	// ReadBodyChunk is called for each chunk of response body surfaced to
	// the consumer side of the transfer.
	ReadBodyChunk func(n int)

	// Paused and Resumed are called when body flow control pauses or
	// resumes the underlying exchange.
	Paused  func()
	Resumed func()

	// Done is called exactly once when the transfer reaches a terminal
	// state. err is nil on completion, a cancellation or transport error
	// otherwise.
	Done func(err error)
}

type traceCtxKey struct{}

// WithTransferTrace returns a new context based on the provided parent ctx.
// Transfers started with the returned context will use the provided trace
// hooks, in addition to any previous hooks registered with ctx.
func WithTransferTrace(ctx context.Context, trace *TransferTrace) context.Context {
	if trace == nil {
		panic("xfertrace: nil trace")
	}
	old := ContextTransferTrace(ctx)
	trace.compose(old)
	return context.WithValue(ctx, traceCtxKey{}, trace)
}

// ContextTransferTrace returns the TransferTrace associated with the
// provided context. If none, it returns nil.
func ContextTransferTrace(ctx context.Context) *TransferTrace {
	trace, _ := ctx.Value(traceCtxKey{}).(*TransferTrace)
	return trace
}

// compose modifies t such that it respects the previously-registered hooks
// in old, subsequently calling t's hooks.
func (t *TransferTrace) compose(old *TransferTrace) {
	if old == nil {
		return
	}
	tv := reflect.ValueOf(t).Elem()
	ov := reflect.ValueOf(old).Elem()
	structType := tv.Type()
	for i := 0; i < structType.NumField(); i++ {
		tf := tv.Field(i)
		hookType := tf.Type()
		if hookType.Kind() != reflect.Func {
			continue
		}
		of := ov.Field(i)
		if of.IsNil() {
			continue
		}
		if tf.IsNil() {
			tf.Set(of)
			continue
		}

		// Both hooks are non-nil. Run the old one first.
		tfCopy := tf.Interface()
		newFunc := reflect.MakeFunc(hookType, func(args []reflect.Value) []reflect.Value {
			of.Call(args)
			return reflect.ValueOf(tfCopy).Call(args)
		})
		tv.Field(i).Set(newFunc)
	}
}
