// Package dispatch runs one inbound call through the action pipeline:
// lookup, parameter binding, invocation, and result resolution, ending in
// exactly one reply or one classified failure.
//
// Transport adapters build an appctx.RequestContext for the message and call
// Dispatch with an implementation of Reply:
//
//	d := dispatch.New(reg, result.New(), dispatch.WithMetrics(m))
//	d.Dispatch(rc, "order:create", replier)
package dispatch

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/app/async"
	"github.com/jsamuelsen11/go-actionbus/internal/app/failure"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/app/result"
	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
)

// State is the stage a call has reached.
type State int

const (
	StateReceived State = iota
	StateBound
	StateInvoked
	StateResolving
	StateReplied
	StateFailed
)

var stateNames = [...]string{
	StateReceived:  "received",
	StateBound:     "bound",
	StateInvoked:   "invoked",
	StateResolving: "resolving",
	StateReplied:   "replied",
	StateFailed:    "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateReplied || s == StateFailed
}

// Reply is implemented by transport adapters to receive the outcome of a
// call. Exactly one method is called, exactly once, possibly on a goroutine
// other than the one that called Dispatch.
type Reply interface {
	Reply(p *result.Payload)
	Fail(f *failure.Failure)
}

// ReplyFuncs adapts two functions into a Reply.
type ReplyFuncs struct {
	OnReply func(*result.Payload)
	OnFail  func(*failure.Failure)
}

// Reply implements Reply.
func (r ReplyFuncs) Reply(p *result.Payload) {
	if r.OnReply != nil {
		r.OnReply(p)
	}
}

// Fail implements Reply.
func (r ReplyFuncs) Fail(f *failure.Failure) {
	if r.OnFail != nil {
		r.OnFail(f)
	}
}

// StateObserver is notified of each state a call enters.
type StateObserver func(address registry.Address, state State)

// Dispatcher routes calls to registered actions. It holds no per-call state
// and is safe for concurrent use.
type Dispatcher struct {
	registry *registry.Registry
	resolver *result.Resolver
	logger   *slog.Logger
	metrics  *Metrics
	observe  StateObserver
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used when the call's context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records per-call Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithStateObserver registers a callback for state transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// New creates a Dispatcher over reg.
func New(reg *registry.Registry, resolver *result.Resolver, opts ...Option) *Dispatcher {
	if resolver == nil {
		resolver = result.New()
	}
	d := &Dispatcher{registry: reg, resolver: resolver}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the dispatch table.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Dispatch runs the call addressed to address. The call's span, if any, is
// extracted from rc and ended exactly once before reply is signalled.
func (d *Dispatcher) Dispatch(rc *appctx.RequestContext, address registry.Address, reply Reply) {
	c := &call{
		d:       d,
		rc:      rc,
		address: address,
		reply:   reply,
		start:   time.Now(),
		label:   unknownAddressLabel,
	}
	c.run()
}

// call carries the state of one Dispatch.
type call struct {
	d       *Dispatcher
	rc      *appctx.RequestContext
	address registry.Address
	reply   Reply
	start   time.Time
	once    sync.Once

	// label is the metrics address label; unknown addresses share one
	// series.
	label string
}

func (c *call) run() {
	c.d.metrics.begin()
	defer c.recoverPanic()
	c.enter(StateReceived)
	c.rc.Span()

	action, ok := c.d.registry.Lookup(c.address)
	if !ok {
		c.fail(fmt.Errorf("action %s: %w", c.address, domain.ErrNotFound))
		return
	}
	c.label = string(c.address)

	args, err := action.Plan().Bind(c.rc)
	if err != nil {
		c.fail(err)
		return
	}
	c.enter(StateBound)

	value, err := c.invoke(action, args)
	c.enter(StateInvoked)
	if err != nil {
		c.fail(err)
		return
	}

	c.enter(StateResolving)
	c.d.resolver.Resolve(value, result.Callbacks{
		OnReply: c.succeed,
		OnFail: func(err error) {
			c.fail(&domain.InvocationError{Address: string(c.address), Err: err})
		},
	})
}

// recoverPanic turns a panic anywhere in the synchronous part of the call
// (lookup, binding, command validation, invocation, resolution) into a
// system failure. A call that already signalled keeps its signal.
func (c *call) recoverPanic() {
	if rec := recover(); rec != nil {
		c.fail(&domain.InvocationError{Address: string(c.address), Err: &async.PanicError{Value: rec}})
	}
}

// invoke calls the handler, wrapping a returned error in an
// *domain.InvocationError. Panics are left to recoverPanic.
func (c *call) invoke(action *registry.Action, args []reflect.Value) (any, error) {
	value, err := action.Plan().Call(args)
	if err != nil {
		return nil, &domain.InvocationError{Address: string(c.address), Err: err}
	}
	return value, nil
}

func (c *call) enter(s State) {
	if c.d.observe != nil {
		c.d.observe(c.address, s)
	}
}

func (c *call) logger() *slog.Logger {
	return logging.FromContextOr(c.rc, c.d.logger)
}

func (c *call) succeed(p *result.Payload) {
	c.once.Do(func() {
		c.rc.Span().End()
		c.d.metrics.end(c.label, outcomeReplied, time.Since(c.start).Seconds())
		c.enter(StateReplied)
		c.reply.Reply(p)
	})
}

func (c *call) fail(err error) {
	c.once.Do(func() {
		f := failure.New(string(c.address), err)
		class := f.Classification()

		span := c.rc.Span()
		if class.TagSpanError {
			span.MarkError(err, class.Code)
		}
		span.End()

		if class.LogServerSide {
			c.logger().ErrorContext(c.rc, "action failed",
				slog.String("operation", "Dispatch"),
				slog.String("address", string(c.address)),
				slog.Int("status", class.Status),
				slog.Any("error", err),
			)
		} else {
			c.logger().DebugContext(c.rc, "action rejected",
				slog.String("operation", "Dispatch"),
				slog.String("address", string(c.address)),
				slog.String("kind", class.Kind.String()),
				slog.String("error_code", class.Code),
			)
		}

		c.d.metrics.end(c.label, class.Kind.String(), time.Since(c.start).Seconds())
		c.enter(StateFailed)
		c.reply.Fail(f)
	})
}
