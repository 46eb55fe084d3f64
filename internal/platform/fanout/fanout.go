// Package fanout bounds how many goroutines a component runs at once.
//
// A Limiter admits work as long as a slot is free and makes callers wait
// otherwise; the local bus uses one to bound handler deliveries. Run builds
// ordered, bounded fan-out on top of it and is used for health checks and
// concurrent unit-of-work groups.
package fanout

import (
	"context"
	"sync"
)

// Limiter runs functions on their own goroutines with at most n running at
// the same time.
type Limiter struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewLimiter returns a Limiter admitting n concurrent functions. Values below
// 1 are treated as 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

// Go waits for a free slot and runs fn on a new goroutine. If ctx is done
// before a slot frees up, fn is not run and ctx.Err() is returned.
func (l *Limiter) Go(ctx context.Context, fn func()) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.wg.Add(1)
	go func() {
		defer func() {
			<-l.sem
			l.wg.Done()
		}()
		fn()
	}()
	return nil
}

// InFlight returns the number of functions currently running.
func (l *Limiter) InFlight() int {
	return len(l.sem)
}

// Wait blocks until every function started with Go has returned.
func (l *Limiter) Wait() {
	l.wg.Wait()
}

// Result holds the outcome of processing a single item.
// Either Value is populated (on success) or Err is non-nil (on failure).
type Result[R any] struct {
	Value R
	Err   error
}

// Run executes fn for each item using at most maxWorkers goroutines and
// returns the results in input order. Items still waiting for a slot when
// ctx is canceled record ctx.Err() without calling fn. Run blocks until all
// started calls complete; an empty input yields an empty non-nil slice.
func Run[T, R any](ctx context.Context, maxWorkers int, items []T, fn func(context.Context, T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	l := NewLimiter(maxWorkers)
	for i, item := range items {
		err := l.Go(ctx, func() {
			val, err := fn(ctx, item)
			results[i] = Result[R]{Value: val, Err: err}
		})
		if err != nil {
			results[i] = Result[R]{Err: err}
		}
	}

	l.Wait()
	return results
}
