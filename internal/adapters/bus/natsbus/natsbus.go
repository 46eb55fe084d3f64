// Package natsbus exposes registered actions on NATS and sends requests to
// actions hosted by other processes.
//
// Every action address gets a queue subscription on "{prefix}.{address}", so
// replicas of the service share the load. A message with a reply subject is
// answered with the action's reply; a message without one is treated as a
// broker delivery and its outcome is only logged. Message headers carry the
// identity and the trace carrier exactly as the local bus does.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus"
	"github.com/jsamuelsen11/go-actionbus/internal/app/dispatch"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/config"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/fanout"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

const (
	connectTimeout = 10 * time.Second
	reconnectWait  = 2 * time.Second
	maxReconnects  = 60

	defaultPrefix      = "action"
	defaultSendTimeout = 30 * time.Second
	defaultWorkers     = 64
)

// Compile-time interface checks.
var (
	_ ports.ActionRequester = (*Adapter)(nil)
	_ ports.ActionPublisher = (*Adapter)(nil)
	_ ports.HealthChecker   = (*Adapter)(nil)
)

// Connect opens a NATS connection configured from cfg. Connection state
// changes are logged on logger.
func Connect(cfg config.NATSConfig, logger *slog.Logger, opts ...nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}

	logger.Info("nats connected", slog.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Adapter binds actions to NATS subjects.
type Adapter struct {
	conn        *nats.Conn
	prefix      string
	queue       string
	sendTimeout time.Duration
	logger      *slog.Logger
	workers     *fanout.Limiter

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSubjectPrefix sets the first subject token. Defaults to "action".
func WithSubjectPrefix(prefix string) Option {
	return func(a *Adapter) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

// WithQueueGroup sets the queue group shared by replicas. An empty group
// makes every replica receive every message.
func WithQueueGroup(queue string) Option {
	return func(a *Adapter) {
		a.queue = queue
	}
}

// WithSendTimeout sets the reply timeout applied when the request context has
// no deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.sendTimeout = d
		}
	}
}

// WithWorkers bounds the number of inbound messages handled at once.
func WithWorkers(n int) Option {
	return func(a *Adapter) {
		a.workers = fanout.NewLimiter(n)
	}
}

// WithLogger sets the adapter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates an adapter over an open connection.
func New(conn *nats.Conn, opts ...Option) *Adapter {
	a := &Adapter{
		conn:        conn,
		prefix:      defaultPrefix,
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default(),
		workers:     fanout.NewLimiter(defaultWorkers),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subject returns the subject that carries messages for address.
func (a *Adapter) Subject(address string) string {
	return a.prefix + "." + address
}

// Mount subscribes every action in the dispatcher's registry.
func (a *Adapter) Mount(d *dispatch.Dispatcher, p *telemetry.Propagator) error {
	for _, address := range d.Registry().Addresses() {
		subject := a.Subject(string(address))
		sub, err := a.conn.QueueSubscribe(subject, a.queue, a.handler(d, p, address))
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}

		a.mu.Lock()
		a.subs = append(a.subs, sub)
		a.mu.Unlock()

		a.logger.Debug("action subscribed",
			slog.String("address", string(address)),
			slog.String("subject", subject),
		)
	}
	return nil
}

func (a *Adapter) handler(d *dispatch.Dispatcher, p *telemetry.Propagator, address registry.Address) nats.MsgHandler {
	ctx := logging.WithLogger(context.Background(), a.logger)

	return func(m *nats.Msg) {
		in := &ports.Message{Headers: fromHeader(m.Header), Body: m.Data}

		err := a.workers.Go(ctx, func() {
			var once sync.Once
			respond := func(reply *ports.Message) {
				once.Do(func() { a.respond(ctx, m, address, reply) })
			}
			defer func() {
				if rec := recover(); rec != nil {
					a.logger.ErrorContext(ctx, "handler panicked",
						slog.String("operation", "natsbus.handle"),
						slog.String("address", string(address)),
						slog.Any("panic", rec),
					)
					respond(bus.PanicReply(address, rec))
				}
			}()
			bus.Serve(ctx, d, p, address, in, respond)
		})
		if err != nil {
			a.logger.ErrorContext(ctx, "dropping message",
				slog.String("operation", "natsbus.handle"),
				slog.String("address", string(address)),
				slog.Any("error", err),
			)
		}
	}
}

func (a *Adapter) respond(ctx context.Context, m *nats.Msg, address registry.Address, reply *ports.Message) {
	if m.Reply == "" {
		if bus.IsFailure(reply) {
			a.logger.WarnContext(ctx, "broker delivery failed",
				slog.String("operation", "natsbus.respond"),
				slog.String("address", string(address)),
				slog.Int("status", bus.Status(reply)),
			)
		}
		return
	}

	if err := m.RespondMsg(&nats.Msg{Header: toHeader(reply.Headers), Data: reply.Body}); err != nil {
		a.logger.ErrorContext(ctx, "sending reply",
			slog.String("operation", "natsbus.respond"),
			slog.String("address", string(address)),
			slog.Any("error", err),
		)
	}
}

// Request sends msg to the action at address and waits for its reply.
func (a *Adapter) Request(ctx context.Context, address string, msg *ports.Message) (*ports.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.sendTimeout)
		defer cancel()
	}

	out := a.outbound(address, msg)
	reply, err := a.conn.RequestMsgWithContext(ctx, out)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, fmt.Errorf("%w: %s", ports.ErrNoHandler, address)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return nil, fmt.Errorf("%w: %s", ports.ErrTimeout, address)
		default:
			return nil, fmt.Errorf("request to %s: %w: %w", address, ports.ErrUnavailable, err)
		}
	}

	return &ports.Message{Headers: fromHeader(reply.Header), Body: reply.Data}, nil
}

// Publish sends msg to address without a reply subject.
func (a *Adapter) Publish(_ context.Context, address string, msg *ports.Message) error {
	if err := a.conn.PublishMsg(a.outbound(address, msg)); err != nil {
		return fmt.Errorf("publishing to %s: %w", address, err)
	}
	return nil
}

func (a *Adapter) outbound(address string, msg *ports.Message) *nats.Msg {
	if msg == nil {
		msg = &ports.Message{}
	}
	return &nats.Msg{
		Subject: a.Subject(address),
		Header:  toHeader(msg.Headers),
		Data:    msg.Body,
	}
}

// Name implements ports.HealthChecker.
func (a *Adapter) Name() string {
	return "nats"
}

// HealthCheck reports an error unless the connection is established.
func (a *Adapter) HealthCheck(_ context.Context) error {
	if status := a.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats: connection %s", strings.ToLower(status.String()))
	}
	return nil
}

// Drain stops receiving new messages, lets pending ones finish, and waits
// for running handlers to return.
func (a *Adapter) Drain() error {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("draining %s: %w", sub.Subject, err))
		}
	}
	a.workers.Wait()
	return errors.Join(errs...)
}

func fromHeader(h nats.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func toHeader(m map[string]string) nats.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(nats.Header, len(m))
	for k, v := range m {
		h[k] = []string{v}
	}
	return h
}
