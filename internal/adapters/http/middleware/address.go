package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// addressParam matches the URL parameter the action routes are declared with.
const addressParam = "address"

// actionAddress returns the address of the action route r was routed to, or
// "" before routing or for other routes.
func actionAddress(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.URLParam(addressParam)
}

// callAttrs describes the action call behind r for log entries.
func callAttrs(r *http.Request) []any {
	var attrs []any
	if addr := actionAddress(r); addr != "" {
		attrs = append(attrs, slog.String("address", addr))
	}
	if subject := r.Header.Get(headerSubjectID); subject != "" {
		attrs = append(attrs, slog.String("subject", subject))
	}
	return attrs
}
