package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps an OpenTelemetry span owned by a single call. End is guarded so
// the span finishes exactly once no matter how many exit paths reach it.
//
// A nil *Span is valid and every method on it is a no-op; that is the span a
// call gets when no tracer is configured.
type Span struct {
	span trace.Span
	once sync.Once
}

func newSpan(s trace.Span) *Span {
	return &Span{span: s}
}

// SpanContext returns the span's context, or an empty one for a nil span.
func (s *Span) SpanContext() trace.SpanContext {
	if s == nil {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}

// SetAttributes records attributes on the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// MarkError records err on the span and sets its status to Error.
func (s *Span) MarkError(err error, code string) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	if code != "" {
		s.span.SetAttributes(AttrErrorCode.String(code))
	}
}

// End finishes the span. Only the first call has any effect; it reports
// whether this call was the one that ended the span.
func (s *Span) End() bool {
	if s == nil {
		return false
	}
	ended := false
	s.once.Do(func() {
		s.span.End()
		ended = true
	})
	return ended
}
