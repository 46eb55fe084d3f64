package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jsamuelsen11/go-actionbus"

// Carrier holds the serialized trace context for a single hop. Keys are the
// W3C header names (traceparent, tracestate, baggage) and are opaque to
// everything except the Propagator.
type Carrier map[string]string

// DefaultTextMapPropagator returns the W3C TraceContext + Baggage propagator.
func DefaultTextMapPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// Propagator moves trace context across transport hops. A Propagator built
// without a TracerProvider is disabled: Inject returns an empty carrier and
// Extract returns a nil *Span. It never returns an error.
type Propagator struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// PropagatorOption configures a Propagator.
type PropagatorOption func(*Propagator)

// WithTextMapPropagator overrides the default W3C propagator.
func WithTextMapPropagator(tmp propagation.TextMapPropagator) PropagatorOption {
	return func(p *Propagator) {
		p.propagator = tmp
	}
}

// NewPropagator creates a Propagator backed by tp. Pass nil to disable
// tracing.
func NewPropagator(tp trace.TracerProvider, opts ...PropagatorOption) *Propagator {
	p := &Propagator{propagator: DefaultTextMapPropagator()}
	if tp != nil {
		p.tracer = tp.Tracer(instrumentationName)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enabled reports whether a tracer is configured.
func (p *Propagator) Enabled() bool {
	return p != nil && p.tracer != nil
}

// Tracer returns the configured tracer, or nil when tracing is disabled.
func (p *Propagator) Tracer() trace.Tracer {
	if !p.Enabled() {
		return nil
	}
	return p.tracer
}

// Fields returns the carrier keys the propagator reads and writes.
func (p *Propagator) Fields() []string {
	if p == nil {
		return nil
	}
	return p.propagator.Fields()
}

// SpanOption configures spans started by Start and Extract.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  trace.SpanKind
	attrs []attribute.KeyValue
}

// WithDestination tags the span with the bus address, subject, or route the
// message was delivered to.
func WithDestination(destination string) SpanOption {
	return func(c *spanConfig) {
		if destination != "" {
			c.attrs = append(c.attrs, AttrDestination.String(destination))
		}
	}
}

// WithSpanKind sets the span kind. Extracted spans default to Consumer.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithSpanAttributes adds attributes to the span at start.
func WithSpanAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// Start begins a span as a child of whatever span ctx already carries.
func (p *Propagator) Start(ctx context.Context, operation string, opts ...SpanOption) (context.Context, *Span) {
	if !p.Enabled() {
		return ctx, nil
	}
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, s := p.tracer.Start(ctx, operation,
		trace.WithSpanKind(cfg.kind),
		trace.WithAttributes(cfg.attrs...),
	)
	return ctx, newSpan(s)
}

// Inject serializes the trace context of span into a new carrier. When span is
// nil the span already in ctx, if any, is used. Disabled propagators return an
// empty carrier.
func (p *Propagator) Inject(ctx context.Context, span *Span) Carrier {
	carrier := Carrier{}
	if !p.Enabled() {
		return carrier
	}
	if span != nil {
		ctx = trace.ContextWithSpan(ctx, span.span)
	}
	p.propagator.Inject(ctx, propagation.MapCarrier(carrier))
	return carrier
}

// Extract reads the remote trace context from carrier and starts a span for
// operation as its child. If the carrier holds no valid context a new root
// span is started. Disabled propagators return ctx unchanged and a nil span.
func (p *Propagator) Extract(ctx context.Context, carrier Carrier, operation string, opts ...SpanOption) (context.Context, *Span) {
	if !p.Enabled() {
		return ctx, nil
	}
	cfg := spanConfig{kind: trace.SpanKindConsumer}
	for _, opt := range opts {
		opt(&cfg)
	}

	if carrier != nil {
		ctx = p.propagator.Extract(ctx, propagation.MapCarrier(carrier))
	}
	ctx, s := p.tracer.Start(ctx, operation,
		trace.WithSpanKind(cfg.kind),
		trace.WithAttributes(cfg.attrs...),
	)
	return ctx, newSpan(s)
}
