package async

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stream is a multi-value handle fed by a producer through Emit and finished
// with Close. It supports a single subscriber.
//
// Items emitted by one goroutine before it calls Close are always delivered
// before the subscriber's onDone.
type Stream[T any] struct {
	items      chan T
	done       chan struct{}
	canceled   chan struct{}
	closeOnce  sync.Once
	cancelOnce sync.Once
	err        error
	subscribed atomic.Bool
}

// NewStream returns an open Stream whose item channel holds up to buffer
// undelivered items.
func NewStream[T any](buffer int) *Stream[T] {
	return &Stream[T]{
		items:    make(chan T, max(buffer, 0)),
		done:     make(chan struct{}),
		canceled: make(chan struct{}),
	}
}

// StreamOf returns a closed Stream holding items.
func StreamOf[T any](items ...T) *Stream[T] {
	s := NewStream[T](len(items))
	for _, item := range items {
		s.items <- item
	}
	s.Close(nil)
	return s
}

// Emit sends v to the subscriber, blocking while the buffer is full. It
// returns ErrStreamClosed after Close, or ctx.Err() if ctx ends first.
func (s *Stream[T]) Emit(ctx context.Context, v T) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	select {
	case s.items <- v:
		return nil
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close finishes the stream. A non-nil err is reported to the subscriber
// after the buffered items. Only the first call has any effect.
func (s *Stream[T]) Close(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Subscribe implements Multi. Delivery happens on a new goroutine. A second
// subscriber receives only onDone(ErrAlreadySubscribed). Cancelling closes the
// stream with ErrStreamCanceled, so a producer blocked in Emit returns
// ErrStreamClosed; buffered items are discarded.
func (s *Stream[T]) Subscribe(onItem func(any), onDone func(error)) (cancel func()) {
	if !s.subscribed.CompareAndSwap(false, true) {
		onDone(ErrAlreadySubscribed)
		return func() {}
	}
	go s.drain(onItem, onDone)
	return s.cancel
}

func (s *Stream[T]) cancel() {
	s.cancelOnce.Do(func() {
		close(s.canceled)
		s.Close(ErrStreamCanceled)
	})
}

func (s *Stream[T]) drain(onItem func(any), onDone func(error)) {
	for {
		select {
		case <-s.canceled:
			return
		default:
		}

		select {
		case v := <-s.items:
			onItem(v)
		case <-s.canceled:
			return
		case <-s.done:
			for {
				select {
				case <-s.canceled:
					return
				case v := <-s.items:
					onItem(v)
				default:
					onDone(s.err)
					return
				}
			}
		}
	}
}
