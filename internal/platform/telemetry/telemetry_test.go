package telemetry_test

import (
	"context"
	"slices"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
)

var exporterCases = []struct {
	name     string
	exporter string
	endpoint string
	wantErr  bool
}{
	{"stdout", telemetry.ExporterStdout, "", false},
	{"otlp over http", telemetry.ExporterOTLP, "http://localhost:4318", false},
	{"otlp over https", telemetry.ExporterOTLP, "https://collector.example:4318", false},
	{"otlp without endpoint", telemetry.ExporterOTLP, "", true},
	{"unsupported", "zipkin", "", true},
}

// InitTracer and InitMeter install globals, so these tests run serially.

func TestInitTracer(t *testing.T) {
	for _, tt := range exporterCases {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			tp, err := telemetry.InitTracer(ctx, "actionbus-test", tt.exporter, tt.endpoint)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("InitTracer(%s) error = nil, want error", tt.exporter)
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracer(%s) error = %v", tt.exporter, err)
			}
			// Shutdown of the OTLP exporter fails without a collector.
			t.Cleanup(func() { _ = tp.Shutdown(ctx) })
		})
	}
}

func TestInitTracer_InstallsW3CPropagator(t *testing.T) {
	ctx := context.Background()

	tp, err := telemetry.InitTracer(ctx, "actionbus-test", telemetry.ExporterStdout, "")
	if err != nil {
		t.Fatalf("InitTracer error = %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	fields := otel.GetTextMapPropagator().Fields()
	for _, want := range []string{"traceparent", "baggage"} {
		if !slices.Contains(fields, want) {
			t.Errorf("global propagator fields = %v, want %q", fields, want)
		}
	}
}

func TestInitTracer_SampleRatioFollowsParent(t *testing.T) {
	ctx := context.Background()

	tp, err := telemetry.InitTracer(ctx, "actionbus-test", telemetry.ExporterStdout, "",
		telemetry.WithSampleRatio(0))
	if err != nil {
		t.Fatalf("InitTracer error = %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })
	tracer := tp.Tracer("test")

	_, root := tracer.Start(ctx, "order:create")
	root.End()
	if root.SpanContext().IsSampled() {
		t.Error("root span sampled at ratio 0")
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0xf7},
		SpanID:     trace.SpanID{0xb7, 0xad},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	_, child := tracer.Start(trace.ContextWithRemoteSpanContext(ctx, parent), "order:create")
	child.End()
	if !child.SpanContext().IsSampled() {
		t.Error("child of a sampled caller span was dropped")
	}
}

func TestInitMeter(t *testing.T) {
	for _, tt := range exporterCases {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()

			mp, err := telemetry.InitMeter(ctx, "actionbus-test", tt.exporter, tt.endpoint)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("InitMeter(%s) error = nil, want error", tt.exporter)
				}
				return
			}
			if err != nil {
				t.Fatalf("InitMeter(%s) error = %v", tt.exporter, err)
			}
			t.Cleanup(func() { _ = mp.Shutdown(ctx) })
		})
	}
}

func TestNewMetrics_RecordsBridgeAndClientCalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	m, err := telemetry.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics error = %v", err)
	}

	call := metric.WithAttributes(telemetry.AttrAddress.String("order:create"), telemetry.AttrResult.String("success"))
	m.ServerRequestTotal.Add(ctx, 1, call)
	m.ServerRequestDuration.Record(ctx, 0.01, call)
	m.ClientRequestTotal.Add(ctx, 2, call)
	m.ClientRequestDuration.Record(ctx, 0.02, call)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect error = %v", err)
	}

	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names = append(names, md.Name)
		}
	}
	for _, want := range []string{
		"http.server.request.duration",
		"http.server.request.total",
		"action.client.request.duration",
		"action.client.request.total",
	} {
		if !slices.Contains(names, want) {
			t.Errorf("collected metrics = %v, want %q", names, want)
		}
	}
}
