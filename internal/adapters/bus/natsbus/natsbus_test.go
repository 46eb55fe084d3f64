package natsbus_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus/natsbus"
	"github.com/jsamuelsen11/go-actionbus/internal/app/dispatch"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/app/result"
	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/config"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// startServer runs an in-process NATS server on a random port and returns a
// connection to it.
func startServer(t *testing.T) *nats.Conn {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   natsserver.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server failed to start")
	}

	nc, err := natsbus.Connect(config.NATSConfig{URL: ns.ClientURL(), Name: "actionbus-test"}, discard)
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

type crashingCommand struct {
	Name string `json:"name"`
}

func (crashingCommand) Validate() error {
	var rules map[string]bool
	rules["name"] = true
	return nil
}

func newDispatcher(t *testing.T, published chan<- string) *dispatch.Dispatcher {
	t.Helper()

	reg, err := registry.Discover(registry.ModuleFunc(func() []registry.Definition {
		return []registry.Definition{
			{Scope: "test", Name: "echo", Handler: func(s string) string { return s }},
			{Scope: "test", Name: "whoami", Handler: func(p domain.Principal) string { return p.Subject }},
			{Scope: "test", Name: "reject", Handler: func() error { return domain.NewValidationError("id required") }},
			{Scope: "test", Name: "record", Handler: func(s string) { published <- s }},
			{Scope: "test", Name: "crash", Handler: func(c crashingCommand) string { return c.Name }},
		}
	}))
	require.NoError(t, err)
	return dispatch.New(reg, result.New())
}

func mounted(t *testing.T, p *telemetry.Propagator) (*natsbus.Adapter, chan string) {
	t.Helper()

	nc := startServer(t)
	published := make(chan string, 1)

	a := natsbus.New(nc,
		natsbus.WithQueueGroup("actionbus-test"),
		natsbus.WithSendTimeout(2*time.Second),
		natsbus.WithLogger(discard),
	)
	require.NoError(t, a.Mount(newDispatcher(t, published), p))
	require.NoError(t, nc.Flush())
	return a, published
}

func TestRequest_RoundTrip(t *testing.T) {
	t.Parallel()
	a, _ := mounted(t, nil)

	reply, err := a.Request(context.Background(), "test:echo", &ports.Message{Body: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(reply.Body))
	assert.Equal(t, http.StatusOK, bus.Status(reply))
	assert.Equal(t, result.ContentTypeText, reply.Header(bus.HeaderContentType))
}

func TestRequest_IdentityHeader(t *testing.T) {
	t.Parallel()
	a, _ := mounted(t, nil)

	reply, err := a.Request(context.Background(), "test:whoami", &ports.Message{
		Headers: map[string]string{"X-Subject-Id": "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", string(reply.Body))
}

func TestRequest_FailureReply(t *testing.T) {
	t.Parallel()
	a, _ := mounted(t, nil)

	reply, err := a.Request(context.Background(), "test:reject", &ports.Message{})
	require.NoError(t, err)
	assert.True(t, bus.IsFailure(reply))
	assert.Equal(t, http.StatusBadRequest, bus.Status(reply))
}

func TestRequest_PanickingValidationRepliesWithFailure(t *testing.T) {
	t.Parallel()
	a, _ := mounted(t, nil)

	for range 2 {
		reply, err := a.Request(context.Background(), "test:crash", &ports.Message{Body: []byte(`{"name":"x"}`)})
		require.NoError(t, err)
		require.True(t, bus.IsFailure(reply))
		assert.Equal(t, http.StatusInternalServerError, bus.Status(reply))
	}

	// The adapter is still serving after the panic.
	reply, err := a.Request(context.Background(), "test:echo", &ports.Message{Body: []byte("still here")})
	require.NoError(t, err)
	assert.Equal(t, "still here", string(reply.Body))
}

func TestRequest_NoResponders(t *testing.T) {
	t.Parallel()
	a, _ := mounted(t, nil)

	_, err := a.Request(context.Background(), "test:missing", &ports.Message{})
	assert.ErrorIs(t, err, ports.ErrNoHandler)
}

func TestRequest_Timeout(t *testing.T) {
	t.Parallel()

	nc := startServer(t)
	a := natsbus.New(nc, natsbus.WithSendTimeout(50*time.Millisecond), natsbus.WithLogger(discard))

	// A subscriber that never answers keeps the request from failing fast.
	sub, err := nc.Subscribe(a.Subject("slow:never"), func(*nats.Msg) {})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, nc.Flush())

	_, err = a.Request(context.Background(), "slow:never", &ports.Message{})
	assert.ErrorIs(t, err, ports.ErrTimeout)
}

func TestPublish_FireAndForget(t *testing.T) {
	t.Parallel()
	a, published := mounted(t, nil)

	require.NoError(t, a.Publish(context.Background(), "test:record", &ports.Message{Body: []byte("event")}))

	select {
	case got := <-published:
		assert.Equal(t, "event", got)
	case <-time.After(2 * time.Second):
		t.Fatal("action did not receive the published message")
	}
}

func TestRequest_TraceContinuesAcrossHop(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	p := telemetry.NewPropagator(tp)

	a, _ := mounted(t, p)

	ctx, caller := p.Start(context.Background(), "caller")
	_, err := a.Request(ctx, "test:echo", &ports.Message{Headers: p.Inject(ctx, caller)})
	require.NoError(t, err)
	caller.End()

	var callee sdktrace.ReadOnlySpan
	for _, s := range exporter.GetSpans().Snapshots() {
		if s.Name() == "test:echo" {
			callee = s
		}
	}
	require.NotNil(t, callee)
	assert.Equal(t, caller.SpanContext().TraceID(), callee.SpanContext().TraceID())
	assert.Equal(t, caller.SpanContext().SpanID(), callee.Parent().SpanID())
	assert.True(t, callee.Parent().IsRemote())
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	nc := startServer(t)
	a := natsbus.New(nc)
	assert.Equal(t, "nats", a.Name())
	require.NoError(t, a.HealthCheck(context.Background()))

	nc.Close()
	assert.Error(t, a.HealthCheck(context.Background()))
}

func TestDrain(t *testing.T) {
	t.Parallel()
	a, _ := mounted(t, nil)

	require.NoError(t, a.Drain())

	require.Eventually(t, func() bool {
		_, err := a.Request(context.Background(), "test:echo", &ports.Message{})
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConnect_InvalidURL(t *testing.T) {
	t.Parallel()

	nc, err := natsbus.Connect(config.NATSConfig{URL: "invalid://not-a-nats-server", Name: "test"}, discard)
	require.Error(t, err)
	assert.Nil(t, nc)
}

func TestSubject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "action.order:create", natsbus.New(nil).Subject("order:create"))
	assert.Equal(t, "svc.order:create", natsbus.New(nil, natsbus.WithSubjectPrefix("svc")).Subject("order:create"))
}
