package middleware

import (
	"log/slog"
	"net/http"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
)

// Chain composes multiple middleware into a single middleware. The first
// argument becomes the outermost middleware:
//
//	Chain(Recovery, RequestID, Logging)(handler)
//
// is equivalent to:
//
//	Recovery(RequestID(Logging(handler)))
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		return handler
	}
}

// Bridge holds the dependencies of the bridge's middleware. Propagator,
// Metrics and Limiter may be nil.
type Bridge struct {
	Logger     *slog.Logger
	Propagator *telemetry.Propagator
	Metrics    *telemetry.Metrics
	Limiter    *SubjectLimiter
}

// Middlewares returns the bridge's middleware, outermost first. IDs are
// assigned before tracing so spans and logs share them, and rate limiting
// runs last so rejected calls are still logged.
func (b Bridge) Middlewares() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		Recovery(b.Logger),
		RequestID(),
		CorrelationID(),
		OpenTelemetry(b.Propagator, b.Metrics),
		Logging(b.Logger),
		RateLimit(b.Limiter),
	}
}

// Handler wraps h with the bridge's middleware.
func (b Bridge) Handler(h http.Handler) http.Handler {
	return Chain(b.Middlewares()...)(h)
}
