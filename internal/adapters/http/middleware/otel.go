package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
)

// OpenTelemetry returns middleware that starts a server span for each
// incoming request and records server request metrics. The W3C trace context
// is read from the request headers through p, so a call forwarded onto the
// bus continues the caller's trace.
//
// A disabled propagator skips tracing and a nil metrics skips recording.
func OpenTelemetry(p *telemetry.Propagator, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			spanName := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
			ctx, span := p.Extract(r.Context(), headerCarrier(p, r.Header), spanName,
				telemetry.WithSpanKind(trace.SpanKindServer),
				telemetry.WithSpanAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.String()),
				),
			)
			defer span.End()

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			status := rw.statusCode
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.MarkError(errors.New(http.StatusText(status)), "")
			}

			recordServerMetrics(ctx, metrics, r.Method, start, status)
		})
	}
}

// headerCarrier copies the propagator's fields out of h.
func headerCarrier(p *telemetry.Propagator, h http.Header) telemetry.Carrier {
	fields := p.Fields()
	if len(fields) == 0 {
		return nil
	}
	carrier := make(telemetry.Carrier, len(fields))
	for _, f := range fields {
		if v := h.Get(f); v != "" {
			carrier[strings.ToLower(f)] = v
		}
	}
	return carrier
}

// recordServerMetrics records server request duration and count metrics.
// Safe to call with nil metrics.
func recordServerMetrics(ctx context.Context, metrics *telemetry.Metrics, method string, start time.Time, status int) {
	if metrics == nil {
		return
	}

	duration := time.Since(start).Seconds()

	result := "success"
	if status >= http.StatusBadRequest {
		result = "error"
	}

	attrs := metric.WithAttributes(
		telemetry.AttrHTTPMethod.String(method),
		telemetry.AttrHTTPStatus.Int(status),
		telemetry.AttrResult.String(result),
	)

	metrics.ServerRequestDuration.Record(ctx, duration, attrs)
	metrics.ServerRequestTotal.Add(ctx, 1, attrs)
}
