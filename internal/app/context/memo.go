package appctx

import (
	"context"
	"errors"
	"fmt"
)

// ErrTypeMismatch is returned by GetOrFetch when a cached value's type does
// not match the requested type T. This indicates a programming error where
// the same cache key is used with different types.
var ErrTypeMismatch = errors.New("appctx: cached value type mismatch")

// memoEntry stores the result of a GetOrFetch call, including any error.
type memoEntry struct {
	value any
	err   error
}

// GetOrFetch returns the value cached under key for this call, or calls
// fetchFn and caches its result. Errors are cached too, so a handler and its
// continuations never repeat a failed lookup within one call.
//
// The lock is held during fetchFn; fetchFn must not call GetOrFetch on the
// same RequestContext.
func GetOrFetch[T any](rc *RequestContext, key string, fetchFn func(ctx context.Context) (T, error)) (T, error) {
	rc.memoMu.Lock()
	defer rc.memoMu.Unlock()

	if entry, ok := rc.memo[key]; ok {
		var zero T
		if entry.err != nil {
			return zero, entry.err
		}
		v, ok := entry.value.(T)
		if !ok {
			return zero, fmt.Errorf("%w: key %q holds %T, requested %T", ErrTypeMismatch, key, entry.value, zero)
		}
		return v, nil
	}

	if rc.memo == nil {
		rc.memo = make(map[string]memoEntry)
	}
	val, err := fetchFn(rc)
	rc.memo[key] = memoEntry{value: val, err: err}
	return val, err
}

// DataProvider binds a cache key and fetch function together so handlers can
// share one lookup per call.
type DataProvider[T any] struct {
	key     string
	fetchFn func(ctx context.Context) (T, error)
}

// NewDataProvider creates a DataProvider with the given cache key and fetch
// function.
func NewDataProvider[T any](key string, fetchFn func(ctx context.Context) (T, error)) *DataProvider[T] {
	return &DataProvider[T]{key: key, fetchFn: fetchFn}
}

// Get returns the cached value or fetches it.
func (p *DataProvider[T]) Get(rc *RequestContext) (T, error) {
	return GetOrFetch(rc, p.key, p.fetchFn)
}
