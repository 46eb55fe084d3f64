package middleware

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
)

const redactedValue = "[REDACTED]"

// RedactHeaders returns headers as a "headers" group attribute, keys sorted,
// with the values of logging.SensitiveHeaders replaced by "[REDACTED]".
// Multi-value headers are joined with a comma.
func RedactHeaders(headers http.Header) slog.Attr {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, key := range keys {
		value := redactedValue
		if !logging.SensitiveHeaders[strings.ToLower(key)] {
			value = strings.Join(headers[key], ",")
		}
		attrs = append(attrs, slog.String(key, value))
	}
	return slog.Attr{Key: "headers", Value: slog.GroupValue(attrs...)}
}
