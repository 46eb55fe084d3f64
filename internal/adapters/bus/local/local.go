// Package local is an in-process message bus keyed by action address. Each
// address has at most one consumer; requests wait for exactly one reply or
// the send timeout, whichever comes first. Deliveries run on a bounded set
// of goroutines.
//
//	b := local.New(local.WithSendTimeout(5 * time.Second))
//	if err := local.Mount(b, dispatcher, propagator); err != nil { ... }
//	reply, err := b.Request(ctx, "order:get", &ports.Message{Body: body})
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus"
	"github.com/jsamuelsen11/go-actionbus/internal/app/dispatch"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/fanout"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

const (
	defaultSendTimeout = 30 * time.Second
	defaultWorkers     = 64
)

var (
	// ErrClosed is returned for sends on a closed bus.
	ErrClosed = fmt.Errorf("bus closed: %w", ports.ErrUnavailable)

	// ErrAddressTaken is returned when a second consumer is registered for
	// an address.
	ErrAddressTaken = errors.New("address already has a consumer")
)

// Compile-time interface checks.
var (
	_ ports.ActionRequester = (*Bus)(nil)
	_ ports.ActionPublisher = (*Bus)(nil)
)

// Consumer handles one delivered message. respond may be called at most once,
// from any goroutine; fire-and-forget deliveries discard the reply.
type Consumer func(ctx context.Context, msg *ports.Message, respond bus.Respond)

// Bus is an in-process, address-keyed message bus. Safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	consumers map[string]Consumer
	closed    bool
	// inflight counts accepted deliveries. Add happens under mu while the
	// bus is open, so it never races Close's Wait.
	inflight sync.WaitGroup

	workers     *fanout.Limiter
	sendTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithSendTimeout sets the reply timeout applied when the request context
// has no deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithWorkers bounds the number of deliveries running at once.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		b.workers = fanout.NewLimiter(n)
	}
}

// WithLogger sets the logger used when the delivery context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		consumers:   make(map[string]Consumer),
		workers:     fanout.NewLimiter(defaultWorkers),
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendTimeout returns the default reply timeout.
func (b *Bus) SendTimeout() time.Duration {
	return b.sendTimeout
}

// Consumer registers c for address.
func (b *Bus) Consumer(address string, c Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.consumers[address]; ok {
		return fmt.Errorf("%w: %s", ErrAddressTaken, address)
	}
	b.consumers[address] = c
	return nil
}

// Len returns the number of registered consumers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.consumers)
}

// Request delivers msg to the consumer of address and waits for its reply.
// The bus send timeout applies unless ctx already carries a deadline. Once
// delivered, the consumer is not canceled when the caller gives up.
func (b *Bus) Request(ctx context.Context, address string, msg *ports.Message) (*ports.Message, error) {
	c, err := b.lookup(address)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.sendTimeout)
		defer cancel()
	}

	replies := make(chan *ports.Message, 1)
	respond := func(reply *ports.Message) {
		select {
		case replies <- reply:
		default:
		}
	}

	if err := b.deliver(ctx, address, c, msg, respond); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, timeoutError(address, ctx.Err())
	}
}

// Publish delivers msg to the consumer of address without waiting for a
// reply. It blocks only while all delivery workers are busy.
func (b *Bus) Publish(ctx context.Context, address string, msg *ports.Message) error {
	c, err := b.lookup(address)
	if err != nil {
		return err
	}
	return b.deliver(ctx, address, c, msg, func(*ports.Message) {})
}

// Close stops accepting messages and waits for running deliveries to return.
// Replies for asynchronous results still in flight are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()
}

func (b *Bus) lookup(address string) (Consumer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	c, ok := b.consumers[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrNoHandler, address)
	}
	return c, nil
}

// deliver runs c on a worker. A consumer that panics is answered with a
// failure reply, so the caller does not wait out its timeout.
func (b *Bus) deliver(ctx context.Context, address string, c Consumer, msg *ports.Message, respond bus.Respond) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.inflight.Add(1)
	b.mu.RUnlock()

	delivered := bus.Clone(msg)
	// The consumer keeps the caller's values but not its cancellation.
	consumerCtx := context.WithoutCancel(ctx)

	err := b.workers.Go(ctx, func() {
		defer b.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContextOr(consumerCtx, b.logger).ErrorContext(consumerCtx, "consumer panicked",
					slog.String("operation", "local.deliver"),
					slog.String("address", address),
					slog.Any("panic", rec),
				)
				respond(bus.PanicReply(registry.Address(address), rec))
			}
		}()
		c(consumerCtx, delivered, respond)
	})
	if err != nil {
		b.inflight.Done()
		return timeoutError(address, err)
	}
	return nil
}

func timeoutError(address string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ports.ErrTimeout, address)
	}
	return fmt.Errorf("request to %s: %w", address, err)
}

// Mount registers one consumer per action in the dispatcher's registry. Each
// consumer runs the action through d and replies with the outcome.
func Mount(b *Bus, d *dispatch.Dispatcher, p *telemetry.Propagator) error {
	var errs []error
	for _, address := range d.Registry().Addresses() {
		err := b.Consumer(string(address), func(ctx context.Context, msg *ports.Message, respond bus.Respond) {
			bus.Serve(ctx, d, p, address, msg, respond)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
