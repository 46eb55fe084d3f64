// Package middleware provides HTTP middleware for the inbound request pipeline.
//
// The middleware chain processes requests in this order:
//
//	Recovery → RequestID → CorrelationID → OpenTelemetry → Logging → RateLimit → Handler
//
// Bridge assembles it; Chain composes any other list.
package middleware

import (
	"net/http"
	"strings"

	"github.com/jsamuelsen11/go-actionbus/internal/app/failure"
)

// responseWriter wraps http.ResponseWriter to capture what the bridge replied:
// the status, the body size, and whether the body is a failure document.
type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
	written       int64
	failure       bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader records the status and delegates. Only the first call takes
// effect.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.headerWritten {
		return
	}
	rw.statusCode = code
	rw.commit()
	rw.ResponseWriter.WriteHeader(code)
}

// Write delegates to the underlying writer; the first write implies 200.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.headerWritten {
		rw.commit()
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// commit freezes the header-derived state once headers go out.
func (rw *responseWriter) commit() {
	rw.headerWritten = true
	rw.failure = strings.HasPrefix(rw.Header().Get("Content-Type"), failure.ContentType)
}

// Unwrap returns the underlying http.ResponseWriter so that
// http.ResponseController works through the wrapper.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
