package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
)

// maxBodyBytes is the maximum allowed size for a bridged request body (1 MB).
const maxBodyBytes = 1 << 20

// parseAddress validates the address path parameter.
func parseAddress(raw string) (registry.Address, error) {
	addr, err := registry.ParseAddress(raw)
	if err != nil {
		return "", &domain.ValidationError{
			Fields: map[string]string{"address": "must be scope:name without reserved characters"},
		}
	}
	return addr, nil
}

// messageHeaders flattens h into lower-case single-valued bus headers.
// Multi-value headers are joined with a comma.
func messageHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, vals := range h {
		k := strings.ToLower(key)
		if _, skip := hopHeaders[k]; skip {
			continue
		}
		out[k] = strings.Join(vals, ",")
	}
	return out
}

// hopHeaders describe the HTTP connection, not the message.
var hopHeaders = map[string]struct{}{
	"connection":        {},
	"content-length":    {},
	"keep-alive":        {},
	"te":                {},
	"trailer":           {},
	"transfer-encoding": {},
	"upgrade":           {},
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", slog.Any("error", err))
	}
}
