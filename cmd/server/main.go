// Package main is the entry point for the action bus service. It wires all
// dependencies using samber/do v2, mounts the registered actions on the
// configured transports, starts the HTTP bridge, and handles graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus/local"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus/natsbus"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/clients/remote"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/graphql"
	adapthttp "github.com/jsamuelsen11/go-actionbus/internal/adapters/http"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/handlers"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/middleware"

	"github.com/jsamuelsen11/go-actionbus/internal/app/dispatch"
	"github.com/jsamuelsen11/go-actionbus/internal/app/orders"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/app/result"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/config"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/health"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	serverShutdownTimeout = 15 * time.Second
	otelShutdownTimeout   = 5 * time.Second
)

// seedStock is the inventory the sample order actions start with.
var seedStock = map[string]int{
	"widget": 100,
	"gadget": 25,
	"gizmo":  5,
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	profile := os.Getenv("ACTIONBUS_PROFILE")
	if profile == "" {
		return errors.New("ACTIONBUS_PROFILE environment variable is required (e.g. local, dev, qa, prod)")
	}

	// Bootstrap: config, logger, telemetry.
	cfg, err := config.Load(profile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr,
		logging.WithRedactFields(cfg.Log.RedactFields...),
		logging.WithAttrs(slog.String("service", cfg.Telemetry.ServiceName)),
	)

	ctx := context.Background()
	otel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	// DI container.
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	do.ProvideValue(injector, otel.metrics)
	do.ProvideValue(injector, otel.propagator())

	registerDependencies(injector, cfg, logger)

	// Resolve the server (eagerly wires the full graph, mounting every
	// action on its transports).
	server, err := do.Invoke[*adapthttp.Server](injector)
	if err != nil {
		return fmt.Errorf("resolving server: %w", err)
	}

	reg := do.MustInvoke[*registry.Registry](injector)
	localBus := do.MustInvoke[*local.Bus](injector)
	logger.Info("actions registered", slog.Int("count", reg.Len()))

	// Register health checkers after the graph is wired.
	healthRegistry := do.MustInvoke[ports.HealthRegistry](injector)
	if cfg.NATS.Enabled {
		healthRegistry.Register(do.MustInvoke[*natsbus.Adapter](injector))
	}
	if cfg.Remote.Enabled {
		healthRegistry.Register(do.MustInvoke[*remote.Client](injector))
	}

	// Start server in background.
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for shutdown signal or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Graceful shutdown: drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Wait for Start() goroutine to return.
	<-serverErr

	// Stop the transports: broker subscriptions first, then the local bus.
	if cfg.NATS.Enabled {
		drainNATS(injector, cfg.NATS.DrainTimeout, logger)
	}
	localBus.Close()

	// Flush telemetry.
	otelCtx, otelCancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
	defer otelCancel()

	if err := otel.Shutdown(otelCtx); err != nil {
		logger.Error("telemetry shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// drainNATS lets in-flight broker messages finish, giving up after timeout,
// then closes the connection.
func drainNATS(injector do.Injector, timeout time.Duration, logger *slog.Logger) {
	adapter := do.MustInvoke[*natsbus.Adapter](injector)
	conn := do.MustInvoke[*nats.Conn](injector)

	done := make(chan error, 1)
	go func() {
		done <- adapter.Drain()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("nats drain error", slog.Any("error", err))
		}
	case <-time.After(timeout):
		logger.Warn("nats drain timed out", slog.Duration("timeout", timeout))
	}
	conn.Close()
}

// otelProviders bundles OpenTelemetry provider lifecycle. All fields are nil
// when telemetry is disabled.
type otelProviders struct {
	tracer  *sdktrace.TracerProvider
	meter   *sdkmetric.MeterProvider
	metrics *telemetry.Metrics
}

// propagator returns the trace propagator, disabled when there is no tracer.
func (o *otelProviders) propagator() *telemetry.Propagator {
	if o.tracer == nil {
		return telemetry.NewPropagator(nil)
	}
	return telemetry.NewPropagator(o.tracer)
}

// Shutdown flushes both providers. Nil-safe.
func (o *otelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if o.tracer != nil {
		if err := o.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if o.meter != nil {
		if err := o.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*otelProviders, error) {
	if !cfg.Telemetry.Enabled {
		return &otelProviders{}, nil
	}

	tp, err := telemetry.InitTracer(ctx,
		cfg.Telemetry.ServiceName,
		cfg.Telemetry.Exporter,
		cfg.Telemetry.Endpoint,
		telemetry.WithSampleRatio(cfg.Telemetry.SampleRatio),
	)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	mp, err := telemetry.InitMeter(ctx,
		cfg.Telemetry.ServiceName,
		cfg.Telemetry.Exporter,
		cfg.Telemetry.Endpoint,
	)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("init meter: %w", err)
	}

	metrics, err := telemetry.NewMetrics(mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	return &otelProviders{
		tracer:  tp,
		meter:   mp,
		metrics: metrics,
	}, nil
}

func registerDependencies(injector *do.RootScope, cfg *config.Config, logger *slog.Logger) {
	registerActions(injector, cfg, logger)
	registerTransports(injector, cfg, logger)
	registerHTTP(injector, cfg, logger)
}

// registerActions provides the action modules, the dispatch table, and the
// dispatcher.
func registerActions(injector *do.RootScope, cfg *config.Config, logger *slog.Logger) {
	do.Provide(injector, func(_ do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg, nil
	})

	do.Provide(injector, func(_ do.Injector) (*orders.Service, error) {
		return orders.NewService(orders.NewStore(), orders.NewInventory(seedStock), logger), nil
	})

	do.Provide(injector, func(i do.Injector) (*registry.Registry, error) {
		svc := do.MustInvoke[*orders.Service](i)
		return registry.Discover(svc)
	})

	do.Provide(injector, func(i do.Injector) (*dispatch.Dispatcher, error) {
		reg := do.MustInvoke[*registry.Registry](i)
		metrics, err := dispatch.NewMetrics(do.MustInvoke[*prometheus.Registry](i))
		if err != nil {
			return nil, err
		}
		return dispatch.New(reg,
			result.New(result.WithMaxStreamItems(cfg.Bus.MaxStreamItems)),
			dispatch.WithMetrics(metrics),
			dispatch.WithLogger(logger),
		), nil
	})
}

// registerTransports provides the local bus, the optional NATS adapter and
// remote peer client, and the requester the bridges send through.
func registerTransports(injector *do.RootScope, cfg *config.Config, logger *slog.Logger) {
	do.Provide(injector, func(i do.Injector) (*local.Bus, error) {
		d := do.MustInvoke[*dispatch.Dispatcher](i)
		p := do.MustInvoke[*telemetry.Propagator](i)

		b := local.New(
			local.WithSendTimeout(cfg.Bus.SendTimeout),
			local.WithWorkers(cfg.Bus.Workers),
			local.WithLogger(logger),
		)
		if err := local.Mount(b, d, p); err != nil {
			return nil, fmt.Errorf("mounting actions on local bus: %w", err)
		}
		return b, nil
	})

	do.Provide(injector, func(_ do.Injector) (*nats.Conn, error) {
		return natsbus.Connect(cfg.NATS, logger)
	})

	do.Provide(injector, func(i do.Injector) (*natsbus.Adapter, error) {
		conn := do.MustInvoke[*nats.Conn](i)
		d := do.MustInvoke[*dispatch.Dispatcher](i)
		p := do.MustInvoke[*telemetry.Propagator](i)

		a := natsbus.New(conn,
			natsbus.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			natsbus.WithQueueGroup(cfg.NATS.QueueGroup),
			natsbus.WithSendTimeout(cfg.Bus.SendTimeout),
			natsbus.WithWorkers(cfg.Bus.Workers),
			natsbus.WithLogger(logger),
		)
		if err := a.Mount(d, p); err != nil {
			return nil, fmt.Errorf("mounting actions on nats: %w", err)
		}
		return a, nil
	})

	do.Provide(injector, func(i do.Injector) (*remote.Client, error) {
		p := do.MustInvoke[*telemetry.Propagator](i)
		metrics := do.MustInvoke[*telemetry.Metrics](i)
		return remote.New(&cfg.Remote, p, metrics, logger), nil
	})

	// The bridges send through NATS when it is enabled so any instance may
	// serve the call, and fall back to the peer for addresses nobody here
	// handles.
	do.Provide(injector, func(i do.Injector) (ports.ActionRequester, error) {
		var primary ports.ActionRequester = do.MustInvoke[*local.Bus](i)
		if cfg.NATS.Enabled {
			primary = do.MustInvoke[*natsbus.Adapter](i)
		}
		if !cfg.Remote.Enabled {
			return primary, nil
		}
		return &bus.Fallback{Primary: primary, Secondary: do.MustInvoke[*remote.Client](i)}, nil
	})
}

// registerHTTP provides the handlers, router, and server of the HTTP bridge.
func registerHTTP(injector *do.RootScope, cfg *config.Config, logger *slog.Logger) {
	do.Provide(injector, func(_ do.Injector) (ports.HealthRegistry, error) {
		return health.New(), nil
	})

	do.Provide(injector, func(i do.Injector) (*handlers.ActionHandler, error) {
		requester := do.MustInvoke[ports.ActionRequester](i)
		p := do.MustInvoke[*telemetry.Propagator](i)
		reg := do.MustInvoke[*registry.Registry](i)
		opts := []handlers.ActionHandlerOption{
			handlers.WithTimeouts(cfg.Bus.SendTimeout, cfg.Bus.MaxSendTimeout),
			handlers.WithCatalog(reg),
		}
		if cfg.Server.TrustIdentityHeaders {
			opts = append(opts, handlers.WithTrustedIdentity())
		}
		return handlers.NewActionHandler(requester, p, opts...), nil
	})

	do.Provide(injector, func(i do.Injector) (*handlers.HealthHandler, error) {
		checks := do.MustInvoke[ports.HealthRegistry](i)
		return handlers.NewHealthHandler(checks, handlers.WithActions(do.MustInvoke[*registry.Registry](i))), nil
	})

	do.Provide(injector, func(i do.Injector) (nethttp.Handler, error) {
		routes := adapthttp.Routes{
			Actions: do.MustInvoke[*handlers.ActionHandler](i),
			Health:  do.MustInvoke[*handlers.HealthHandler](i),
		}

		if cfg.Metrics.Enabled {
			promReg := do.MustInvoke[*prometheus.Registry](i)
			routes.Metrics = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
			routes.MetricsPath = cfg.Metrics.Path
		}

		if cfg.Server.GraphQL {
			reg := do.MustInvoke[*registry.Registry](i)
			d := do.MustInvoke[*dispatch.Dispatcher](i)
			schema, err := graphql.SchemaFor(reg, graphql.NewResolvers(d, do.MustInvoke[*telemetry.Propagator](i)))
			if err != nil {
				return nil, fmt.Errorf("building graphql schema: %w", err)
			}
			var gqlOpts []graphql.HandlerOption
			if cfg.Server.TrustIdentityHeaders {
				gqlOpts = append(gqlOpts, graphql.WithTrustedIdentity())
			}
			routes.GraphQL = graphql.NewHandler(schema, gqlOpts...)
		}

		p := do.MustInvoke[*telemetry.Propagator](i)
		metrics := do.MustInvoke[*telemetry.Metrics](i)
		limit := cfg.Server.RateLimit

		bridge := middleware.Bridge{
			Logger:     logger,
			Propagator: p,
			Metrics:    metrics,
			Limiter:    middleware.NewSubjectLimiter(limit.RequestsPerSecond, limit.BurstSize, limit.IdleTTL),
		}
		return adapthttp.NewRouter(routes, bridge.Middlewares()...), nil
	})

	do.Provide(injector, func(i do.Injector) (*adapthttp.Server, error) {
		handler := do.MustInvoke[nethttp.Handler](i)
		return adapthttp.NewServer(cfg.Server, handler, logger), nil
	})
}
