// Package async provides the asynchronous handles an action may return
// instead of a plain value: a single-value Future, a multi-value Stream, and a
// Deferred thunk. The result resolver recognizes them through the Single,
// Multi, and Awaitable interfaces, so handlers can also return their own
// implementations.
package async

import (
	"errors"
	"fmt"
)

// Single is a handle that completes exactly once with a value or an error.
// OnComplete may be called before or after completion; fn runs exactly once,
// possibly on another goroutine.
type Single interface {
	OnComplete(fn func(value any, err error))
}

// Multi is a handle that emits zero or more items and then completes. onItem
// is called in emission order; onDone is called at most once, last.
//
// The returned cancel func tells the handle the subscriber wants nothing more:
// delivery stops, the producer is released, and onDone is no longer
// guaranteed. cancel is idempotent and safe to call from onItem.
type Multi interface {
	Subscribe(onItem func(item any), onDone func(err error)) (cancel func())
}

// Awaitable is a generic deferred value. Await blocks until the value is
// available; the resolver calls it off the caller's goroutine.
type Awaitable interface {
	Await() (any, error)
}

// ErrAlreadySubscribed is reported to a second Stream subscriber.
var ErrAlreadySubscribed = errors.New("async: stream already has a subscriber")

// ErrStreamClosed is returned by Emit after Close or after the subscriber
// cancelled.
var ErrStreamClosed = errors.New("async: stream closed")

// ErrStreamCanceled is the close reason of a Stream whose subscriber
// cancelled.
var ErrStreamCanceled = errors.New("async: stream canceled by subscriber")

// PanicError carries a value recovered from a panicking producer.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Deferred adapts a thunk into an Awaitable.
type Deferred[T any] func() (T, error)

// Await runs the thunk. A panic is returned as a *PanicError.
func (d Deferred[T]) Await() (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r}
		}
	}()
	return d()
}
