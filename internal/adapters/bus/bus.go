// Package bus holds what every message transport shares: the reply header
// conventions and the glue that runs an inbound message through the
// dispatcher and turns the outcome into a reply message.
//
// Transports (the in-process bus in bus/local, the NATS adapter in
// bus/natsbus) receive a message, then call Serve with a Respond function
// that knows how to send the reply back over the wire.
package bus

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/jsamuelsen11/go-actionbus/internal/app/async"
	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/app/dispatch"
	"github.com/jsamuelsen11/go-actionbus/internal/app/failure"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/app/result"
	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

// Reply header names.
const (
	HeaderStatusCode  = "x-status-code"
	HeaderContentType = "content-type"
)

// Respond sends a reply message back to the caller. It is called at most once
// per inbound message.
type Respond func(reply *ports.Message)

// Serve runs the action at address for msg and passes the reply, success or
// failure, to respond exactly once. It returns as soon as the action's
// synchronous part is done; respond may be called later from another
// goroutine. A panic on the way to the dispatcher is answered with
// PanicReply.
func Serve(ctx context.Context, d *dispatch.Dispatcher, p *telemetry.Propagator, address registry.Address, msg *ports.Message, respond Respond) {
	var once sync.Once
	reply := func(m *ports.Message) { once.Do(func() { respond(m) }) }

	defer func() {
		if rec := recover(); rec != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "serve panicked",
				slog.String("operation", "bus.Serve"),
				slog.String("address", string(address)),
				slog.Any("panic", rec),
			)
			reply(PanicReply(address, rec))
		}
	}()

	rc := NewRequestContext(ctx, msg, address, p)
	d.Dispatch(rc, address, dispatch.ReplyFuncs{
		OnReply: func(pl *result.Payload) { reply(FromPayload(pl)) },
		OnFail:  func(f *failure.Failure) { reply(FromFailure(f)) },
	})
}

// PanicReply is the failure reply a transport sends for a panic it recovered
// while serving address. It classifies as a system failure.
func PanicReply(address registry.Address, rec any) *ports.Message {
	err := &domain.InvocationError{Address: string(address), Err: &async.PanicError{Value: rec}}
	return FromFailure(failure.New(string(address), err))
}

// NewRequestContext builds the per-call context for msg. Headers and body are
// read lazily from the message.
func NewRequestContext(ctx context.Context, msg *ports.Message, address registry.Address, p *telemetry.Propagator) *appctx.RequestContext {
	if msg == nil {
		msg = &ports.Message{}
	}
	return appctx.New(ctx, appctx.Source{
		Headers: func() map[string]string { return msg.Headers },
		Body:    func() []byte { return msg.Body },
	},
		appctx.WithPropagator(p),
		appctx.WithOperation(string(address)),
		appctx.WithDestination(string(address)),
	)
}

// FromPayload converts a resolved payload into a reply message carrying the
// status in HeaderStatusCode. A payload without a status replies 200.
func FromPayload(p *result.Payload) *ports.Message {
	status := p.Status
	if status == 0 {
		status = http.StatusOK
	}

	headers := make(map[string]string, len(p.Headers)+2)
	for k, v := range p.Headers {
		headers[strings.ToLower(k)] = v
	}
	if p.ContentType != "" {
		headers[HeaderContentType] = p.ContentType
	}
	headers[HeaderStatusCode] = strconv.Itoa(status)

	return &ports.Message{Headers: headers, Body: p.Body}
}

// FromFailure converts a classified failure into a problem+json reply.
func FromFailure(f *failure.Failure) *ports.Message {
	body, err := f.Encode()
	if err != nil {
		body = []byte(`{"title":"Internal Server Error","status":500}`)
	}
	return &ports.Message{
		Headers: map[string]string{
			HeaderContentType: failure.ContentType,
			HeaderStatusCode:  strconv.Itoa(f.Status),
		},
		Body: body,
	}
}

// Status returns the status carried by a reply, or 200 when the header is
// missing or malformed.
func Status(reply *ports.Message) int {
	if v := reply.Header(HeaderStatusCode); v != "" {
		if code, err := strconv.Atoi(v); err == nil && code >= 100 && code <= 999 {
			return code
		}
	}
	return http.StatusOK
}

// IsFailure reports whether reply carries a failure body.
func IsFailure(reply *ports.Message) bool {
	return Status(reply) >= http.StatusBadRequest &&
		strings.HasPrefix(reply.Header(HeaderContentType), failure.ContentType)
}

// Clone returns a copy of msg whose headers map the receiver may modify.
func Clone(msg *ports.Message) *ports.Message {
	if msg == nil {
		return &ports.Message{Headers: map[string]string{}}
	}
	headers := maps.Clone(msg.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	return &ports.Message{Headers: headers, Body: msg.Body}
}
