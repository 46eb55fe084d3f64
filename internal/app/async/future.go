package async

import (
	"context"
	"sync"
)

// Future is a single-value handle completed once by a producer. The first of
// Complete or Fail wins; later calls are ignored.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewFuture returns an incomplete Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v)
	return f
}

// Failed returns a Future already failed with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

// Go runs fn on a new goroutine and completes the returned Future with its
// result. A panic in fn fails the Future with a *PanicError.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.Fail(&PanicError{Value: r})
			}
		}()
		v, err := fn()
		if err != nil {
			f.Fail(err)
			return
		}
		f.Complete(v)
	}()
	return f
}

// Complete completes the Future with v. It reports whether this call
// completed it.
func (f *Future[T]) Complete(v T) bool {
	return f.settle(v, nil)
}

// Fail completes the Future with err. A nil err is treated as success with
// the zero value.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value, f.err = v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Then registers a typed continuation. It runs on the completing goroutine,
// or immediately on the caller's goroutine if the Future is already done.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// OnComplete implements Single.
func (f *Future[T]) OnComplete(fn func(any, error)) {
	f.Then(func(v T, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(v, nil)
	})
}

// Done is closed once the Future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
