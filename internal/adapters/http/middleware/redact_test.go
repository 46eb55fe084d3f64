package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/middleware"
)

func TestRedactHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers http.Header
		want    map[string]string
	}{
		{
			name:    "authorization",
			headers: http.Header{"Authorization": {"Bearer secret-token"}},
			want:    map[string]string{"Authorization": "[REDACTED]"},
		},
		{
			name:    "api key",
			headers: http.Header{"X-Api-Key": {"my-api-key-value"}},
			want:    map[string]string{"X-Api-Key": "[REDACTED]"},
		},
		{
			name:    "cookies both ways",
			headers: http.Header{"Cookie": {"session=abc123"}, "Set-Cookie": {"session=def456"}},
			want:    map[string]string{"Cookie": "[REDACTED]", "Set-Cookie": "[REDACTED]"},
		},
		{
			name:    "proxy authorization",
			headers: http.Header{"Proxy-Authorization": {"Basic dXNlcjpwYXNz"}},
			want:    map[string]string{"Proxy-Authorization": "[REDACTED]"},
		},
		{
			name: "call headers pass through",
			headers: http.Header{
				"X-Subject-Id":     {"alice"},
				"X-Correlation-Id": {"corr-1"},
				"Traceparent":      {"00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
			},
			want: map[string]string{
				"X-Subject-Id":     "alice",
				"X-Correlation-Id": "corr-1",
				"Traceparent":      "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
			},
		},
		{
			name:    "multi value joined",
			headers: http.Header{"Accept": {"application/json", "application/problem+json"}},
			want:    map[string]string{"Accept": "application/json,application/problem+json"},
		},
		{
			name:    "empty",
			headers: http.Header{},
			want:    map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			attr := middleware.RedactHeaders(tt.headers)
			if attr.Key != "headers" {
				t.Errorf("key = %q, want %q", attr.Key, "headers")
			}

			group := attr.Value.Group()
			if len(group) != len(tt.want) {
				t.Fatalf("len(group) = %d, want %d", len(group), len(tt.want))
			}
			for _, a := range group {
				if got := a.Value.String(); got != tt.want[a.Key] {
					t.Errorf("%s = %q, want %q", a.Key, got, tt.want[a.Key])
				}
			}
		})
	}
}

func TestRedactHeaders_SortedKeys(t *testing.T) {
	t.Parallel()

	attr := middleware.RedactHeaders(http.Header{
		"X-Subject-Id": {"alice"},
		"Accept":       {"*/*"},
		"Cookie":       {"a=b"},
	})

	var keys []string
	for _, a := range attr.Value.Group() {
		keys = append(keys, a.Key)
	}
	if got := strings.Join(keys, ","); got != "Accept,Cookie,X-Subject-Id" {
		t.Errorf("keys = %s, want Accept,Cookie,X-Subject-Id", got)
	}
}

func TestRedactHeaders_InLogOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/order:create", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("X-Subject-Id", "alice")
	logger.Info("call", middleware.RedactHeaders(req.Header))

	output := buf.String()
	if strings.Contains(output, "secret-token") {
		t.Errorf("log output leaked the bearer token: %s", output)
	}
	if !strings.Contains(output, "headers.X-Subject-Id=alice") {
		t.Errorf("log output missing headers.X-Subject-Id=alice, got: %s", output)
	}
}
