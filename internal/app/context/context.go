// Package appctx provides the per-call request context shared by every
// transport adapter.
//
// RequestContext extends Go's context.Context with transport-neutral access
// to the inbound message: headers, raw body, caller identity, named
// arguments, and the span extracted from the trace carrier. Every derived
// view is computed at most once and is immutable afterwards.
//
// A new RequestContext is created per inbound call and must not be reused:
//
//	rc := appctx.New(ctx, appctx.Source{
//		Headers: func() map[string]string { return msg.Headers },
//		Body:    func() []byte { return msg.Body },
//	}, appctx.WithOperation("order:create"), appctx.WithPropagator(p))
//
//	principal := rc.Identity()
//	cmd, err := appctx.Command[CreateOrder](rc)
package appctx

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
)

// Well-known header keys. All header keys are lower-cased by RequestContext.
const (
	HeaderSubjectID    = "x-subject-id"
	HeaderSubjectRoles = "x-subject-roles"
)

// Source supplies the raw transport inputs. Each function is called at most
// once, on first access. Args holds the transport's named arguments (for
// example GraphQL field arguments) and is nil for transports without them.
type Source struct {
	Headers func() map[string]string
	Body    func() []byte
	Args    map[string]any
}

// RequestContext is the per-call context handed to action handlers. It
// embeds context.Context; once the span has been extracted, Value lookups
// also see it, so trace.SpanFromContext(rc) returns the call's span.
//
// Accessors are safe for concurrent use. Concurrent first access to Span
// starts exactly one span.
type RequestContext struct {
	context.Context

	source      Source
	propagator  *telemetry.Propagator
	operation   string
	destination string
	spanOpts    []telemetry.SpanOption

	headersOnce sync.Once
	headers     map[string]string

	bodyOnce sync.Once
	body     []byte

	identityOnce sync.Once
	identity     *domain.Principal

	spanOnce sync.Once
	span     *telemetry.Span
	traced   atomic.Pointer[tracedContext]

	memoMu sync.Mutex
	memo   map[string]memoEntry

	queueMu   sync.Mutex
	queue     []staged
	committed bool
}

type tracedContext struct {
	ctx context.Context
}

// Option configures a RequestContext.
type Option func(*RequestContext)

// WithPropagator sets the trace propagator used to extract the call's span.
// Without one the call is untraced.
func WithPropagator(p *telemetry.Propagator) Option {
	return func(rc *RequestContext) {
		rc.propagator = p
	}
}

// WithOperation sets the span name, normally the action address.
func WithOperation(operation string) Option {
	return func(rc *RequestContext) {
		rc.operation = operation
	}
}

// WithDestination sets the logical destination (bus address, subject, or
// route) attached to the span.
func WithDestination(destination string) Option {
	return func(rc *RequestContext) {
		rc.destination = destination
	}
}

// WithSpanOptions passes extra options to span extraction.
func WithSpanOptions(opts ...telemetry.SpanOption) Option {
	return func(rc *RequestContext) {
		rc.spanOpts = append(rc.spanOpts, opts...)
	}
}

// New creates a RequestContext for one inbound call.
func New(ctx context.Context, src Source, opts ...Option) *RequestContext {
	rc := &RequestContext{
		Context: ctx,
		source:  src,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Value resolves keys against the traced context once the span exists, and
// against the wrapped context before that.
func (rc *RequestContext) Value(key any) any {
	if t := rc.traced.Load(); t != nil {
		return t.ctx.Value(key)
	}
	return rc.Context.Value(key)
}

// Operation returns the operation name the context was created for.
func (rc *RequestContext) Operation() string {
	return rc.operation
}

// Headers returns a copy of the inbound headers with lower-cased keys.
func (rc *RequestContext) Headers() map[string]string {
	return maps.Clone(rc.loadHeaders())
}

// Header returns a single header value. The key is case-insensitive.
func (rc *RequestContext) Header(key string) string {
	return rc.loadHeaders()[strings.ToLower(key)]
}

func (rc *RequestContext) loadHeaders() map[string]string {
	rc.headersOnce.Do(func() {
		var raw map[string]string
		if rc.source.Headers != nil {
			raw = rc.source.Headers()
		}
		rc.headers = make(map[string]string, len(raw))
		// Sorted so that keys differing only in case resolve deterministically.
		for _, k := range slices.Sorted(maps.Keys(raw)) {
			rc.headers[strings.ToLower(k)] = raw[k]
		}
	})
	return rc.headers
}

// Body returns the raw inbound body. The returned slice must not be modified.
func (rc *RequestContext) Body() []byte {
	rc.bodyOnce.Do(func() {
		if rc.source.Body != nil {
			rc.body = rc.source.Body()
		}
	})
	return rc.body
}

// BodyAsString returns the body as text. It reports false when there is no
// body or the body is not valid UTF-8.
func (rc *RequestContext) BodyAsString() (string, bool) {
	b := rc.Body()
	if len(b) == 0 || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

// Identity returns the caller identity, or nil for unauthenticated calls.
func (rc *RequestContext) Identity() *domain.Principal {
	rc.identityOnce.Do(func() {
		rc.identity = parsePrincipal(rc.Header(HeaderSubjectID), rc.Header(HeaderSubjectRoles))
	})
	return rc.identity
}

// StripIdentity removes the identity headers from lower-cased headers h.
// Transport edges call it for callers not trusted to assert who they are.
func StripIdentity(h map[string]string) {
	delete(h, HeaderSubjectID)
	delete(h, HeaderSubjectRoles)
}

func parsePrincipal(subject, roles string) *domain.Principal {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil
	}
	p := &domain.Principal{Subject: subject}
	for _, role := range strings.Split(roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			p.Roles = append(p.Roles, role)
		}
	}
	return p
}

// Tracer returns the configured tracer, or nil when tracing is disabled.
func (rc *RequestContext) Tracer() trace.Tracer {
	return rc.propagator.Tracer()
}

// Span returns the call's span, extracting it from the header carrier on
// first access. It returns nil when no tracer is configured. The caller that
// owns the call is responsible for ending it.
func (rc *RequestContext) Span() *telemetry.Span {
	rc.spanOnce.Do(func() {
		opts := append([]telemetry.SpanOption{telemetry.WithDestination(rc.destination)}, rc.spanOpts...)
		ctx, span := rc.propagator.Extract(rc.Context, telemetry.Carrier(rc.loadHeaders()), rc.operation, opts...)
		rc.span = span
		if span != nil {
			rc.traced.Store(&tracedContext{ctx: ctx})
		}
	})
	return rc.span
}

// Arg returns a named argument supplied by the transport.
func (rc *RequestContext) Arg(name string) (any, bool) {
	v, ok := rc.source.Args[name]
	return v, ok
}

// HasArgs reports whether the transport exposes named arguments at all.
func (rc *RequestContext) HasArgs() bool {
	return rc.source.Args != nil
}

type ctxKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the RequestContext carried by ctx. A *RequestContext
// passed directly is returned as is.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	if rc, ok := ctx.(*RequestContext); ok {
		return rc, true
	}
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}
