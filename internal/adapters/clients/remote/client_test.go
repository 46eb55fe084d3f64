package remote_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/clients/remote"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/config"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/correlation"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

func testConfig(baseURL string) *config.RemoteConfig {
	return &config.RemoteConfig{
		Enabled: true,
		Name:    "peer",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2.0,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			MaxFailures:   3,
			Timeout:       1 * time.Second,
			HalfOpenLimit: 1,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.RemoteConfig)) *remote.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	for _, m := range mutate {
		m(cfg)
	}
	return remote.New(cfg, nil, nil, testLogger())
}

func TestRequest_Success(t *testing.T) {
	t.Parallel()

	var gotPath, gotSubject, gotBody string
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSubject = r.Header.Get("X-Subject-ID")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/orders/1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	reply, err := client.Request(context.Background(), "order:create", &ports.Message{
		Headers: map[string]string{"x-subject-id": "alice"},
		Body:    []byte(`{"item":"book"}`),
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if gotPath != "/api/v1/actions/order:create" {
		t.Errorf("path = %q, want /api/v1/actions/order:create", gotPath)
	}
	if gotSubject != "alice" {
		t.Errorf("X-Subject-ID = %q, want alice", gotSubject)
	}
	if gotBody != `{"item":"book"}` {
		t.Errorf("body = %q", gotBody)
	}

	if got := reply.Header("x-status-code"); got != "201" {
		t.Errorf("x-status-code = %q, want 201", got)
	}
	if got := reply.Header("location"); got != "/orders/1" {
		t.Errorf("location = %q, want /orders/1", got)
	}
	if got := reply.Header("content-type"); got != "application/json" {
		t.Errorf("content-type = %q, want application/json", got)
	}
	if string(reply.Body) != `{"id":1}` {
		t.Errorf("reply body = %q", reply.Body)
	}
}

func TestRequest_ActionFailuresRelayedWithoutRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"validation", http.StatusBadRequest},
		{"system", http.StatusInternalServerError},
		{"peer bus timeout", http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var count atomic.Int32
			client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				count.Add(1)
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"status":0}`))
			})

			reply, err := client.Request(context.Background(), "order:create", nil)
			if err != nil {
				t.Fatalf("Request() error = %v", err)
			}
			if got := reply.Header("x-status-code"); got != strconv.Itoa(tt.status) {
				t.Errorf("x-status-code = %q, want %d", got, tt.status)
			}
			if got := count.Load(); got != 1 {
				t.Errorf("request count = %d, want 1", got)
			}
		})
	}
}

func TestRequest_RetriesUnavailablePeer(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if count.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(b)
	})

	reply, err := client.Request(context.Background(), "order:echo", &ports.Message{Body: []byte("again")})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if got := count.Load(); got != 3 {
		t.Errorf("request count = %d, want 3", got)
	}
	if string(reply.Body) != "again" {
		t.Errorf("body = %q, want body replayed on every attempt", reply.Body)
	}
}

func TestRequest_RetriesExhausted(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Request(context.Background(), "order:create", nil)
	if !errors.Is(err, ports.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}

	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Errorf("error = %v, want StatusError 502", err)
	}
	if got := count.Load(); got != 3 {
		t.Errorf("request count = %d, want 3", got)
	}
}

func TestRequest_NoHandler(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		if r.URL.Path == "/api/v1/actions/order:gone" {
			_, _ = w.Write([]byte(`{"status":404,"errorCode":"NO_HANDLER"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":404,"detail":"order 9 not found"}`))
	})

	_, err := client.Request(context.Background(), "order:gone", nil)
	if !errors.Is(err, ports.ErrNoHandler) {
		t.Errorf("error = %v, want ErrNoHandler", err)
	}

	reply, err := client.Request(context.Background(), "order:get", nil)
	if err != nil {
		t.Fatalf("action not-found should be relayed, got error %v", err)
	}
	if got := reply.Header("x-status-code"); got != "404" {
		t.Errorf("x-status-code = %q, want 404", got)
	}
}

func TestRequest_Timeout(t *testing.T) {
	t.Parallel()

	slow := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}

	t.Run("caller deadline", func(t *testing.T) {
		t.Parallel()
		client := newClient(t, slow)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.Request(ctx, "order:slow", nil)
		if !errors.Is(err, ports.ErrTimeout) {
			t.Errorf("error = %v, want ErrTimeout", err)
		}
	})

	t.Run("configured timeout", func(t *testing.T) {
		t.Parallel()
		client := newClient(t, slow, func(cfg *config.RemoteConfig) { cfg.Timeout = 50 * time.Millisecond })

		start := time.Now()
		_, err := client.Request(context.Background(), "order:slow", nil)
		if !errors.Is(err, ports.ErrTimeout) {
			t.Errorf("error = %v, want ErrTimeout", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("elapsed = %v, want the configured timeout to apply", elapsed)
		}
	})
}

func TestRequest_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	var count atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(cfg *config.RemoteConfig) {
		cfg.CircuitBreaker.MaxFailures = 1
		cfg.Retry.MaxAttempts = 1
	})

	_, _ = client.Request(context.Background(), "order:create", nil)

	countBefore := count.Load()
	_, err := client.Request(context.Background(), "order:create", nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want gobreaker.ErrOpenState", err)
	}
	if !errors.Is(err, ports.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
	if count.Load() != countBefore {
		t.Error("server was hit while circuit breaker should be open")
	}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil, want error while open")
	}
}

func TestRequest_CallerCancelDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, func(cfg *config.RemoteConfig) {
		cfg.CircuitBreaker.MaxFailures = 1
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Request(ctx, "order:create", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}
}

func TestRequest_PropagatesTraceAndCorrelation(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	p := telemetry.NewPropagator(tp)

	var gotTraceparent, gotRequestID, gotCorrelationID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("Traceparent")
		gotRequestID = r.Header.Get("X-Request-ID")
		gotCorrelationID = r.Header.Get("X-Correlation-ID")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := remote.New(testConfig(srv.URL), p, nil, testLogger())

	ctx := correlation.WithRequestID(context.Background(), "req-1")
	ctx = correlation.WithCorrelationID(ctx, "corr-1")
	if _, err := client.Request(ctx, "order:create", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if gotRequestID != "req-1" || gotCorrelationID != "corr-1" {
		t.Errorf("correlation headers = %q/%q, want req-1/corr-1", gotRequestID, gotCorrelationID)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "HTTP POST order:create" {
		t.Errorf("span name = %q", span.Name)
	}
	if span.SpanKind != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", span.SpanKind)
	}
	if gotTraceparent == "" || !containsTraceID(gotTraceparent, span.SpanContext.TraceID().String()) {
		t.Errorf("traceparent = %q, want trace %s", gotTraceparent, span.SpanContext.TraceID())
	}
}

func TestClient_Name(t *testing.T) {
	t.Parallel()

	client := remote.New(testConfig("http://localhost"), nil, nil, testLogger())
	if got := client.Name(); got != "peer" {
		t.Errorf("Name() = %q, want peer", got)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil when closed", err)
	}
}

func TestRequest_WithMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	metrics, err := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := remote.New(testConfig(srv.URL), nil, metrics, testLogger())
	if _, err := client.Request(context.Background(), "order:create", nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "action.client.request.total" {
				found = true
			}
		}
	}
	if !found {
		t.Error("action.client.request.total not recorded")
	}
}

func containsTraceID(traceparent, traceID string) bool {
	// version-traceid-spanid-flags
	return len(traceparent) > 35 && traceparent[3:35] == traceID
}
