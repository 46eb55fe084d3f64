// Package correlation carries the request and correlation IDs of an inbound
// call in its context, so every outbound hop (bus message, remote call) can
// forward them.
package correlation

import "context"

// Header names, lower-case as they travel on bus messages.
const (
	HeaderRequestID     = "x-request-id"
	HeaderCorrelationID = "x-correlation-id"
)

type (
	requestIDKey     struct{}
	correlationIDKey struct{}
)

// WithRequestID returns a new context with the given request ID stored in it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithCorrelationID returns a new context with the given correlation ID
// stored in it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the correlation ID stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Headers returns the IDs stored in ctx as message headers. Missing IDs are
// omitted.
func Headers(ctx context.Context) map[string]string {
	h := make(map[string]string, 2)
	if id := RequestID(ctx); id != "" {
		h[HeaderRequestID] = id
	}
	if id := CorrelationID(ctx); id != "" {
		h[HeaderCorrelationID] = id
	}
	return h
}

// MaxIDLength bounds request and correlation IDs accepted from callers.
const MaxIDLength = 128

// Valid reports whether id may be carried as a request or correlation ID:
// non-empty, at most MaxIDLength bytes, and printable ASCII without spaces.
func Valid(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
