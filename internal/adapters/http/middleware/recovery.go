package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/dto"
)

// errInternalServer is reported to the caller in place of the panic value.
var errInternalServer = errors.New("internal server error")

// Recovery returns middleware that recovers from panics in the bridge's own
// handlers; panics inside actions are already turned into failures by the
// dispatcher. The panic is logged with its stack trace, the redacted request
// headers and, for action routes, the address; the caller gets a problem+json
// 500. If the response headers
// have already been written, only the log entry is emitted.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newResponseWriter(w)

			defer func() {
				if v := recover(); v != nil {
					attrs := append([]any{
						slog.String("panic", fmt.Sprint(v)),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						RedactHeaders(r.Header),
					}, callAttrs(r)...)
					logger.ErrorContext(r.Context(), "panic recovered", attrs...)

					if !rw.headerWritten {
						dto.WriteErrorResponse(rw, r, errInternalServer)
					}
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
