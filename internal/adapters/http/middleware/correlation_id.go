package middleware

import (
	"net/http"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/correlation"
)

const headerCorrelationID = "X-Correlation-ID"

// CorrelationID returns middleware that extracts or derives an
// X-Correlation-ID for each request. Without a valid incoming header the
// request ID is used, so this must run after RequestID.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerCorrelationID)
			if !correlation.Valid(id) {
				id = correlation.RequestID(r.Context())
			}
			ctx := correlation.WithCorrelationID(r.Context(), id)
			w.Header().Set(headerCorrelationID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
