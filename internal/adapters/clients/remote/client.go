// Package remote invokes actions on a peer service through its HTTP bridge.
// It implements ports.ActionRequester, so the bridge and other callers can
// target a peer exactly as they target the local bus.
//
// Each request passes through, in order:
//
//	Circuit Breaker → Rate Limiter → Header Injection → Client Span → Retry → HTTP
//
// Construction:
//
//	client := remote.New(&cfg.Remote, propagator, metrics, logger)
//	reply, err := client.Request(ctx, "order:create", &ports.Message{Body: body})
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/dto"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/config"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/correlation"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

// ActionsPath is the peer bridge route that actions are posted to.
const ActionsPath = "/api/v1/actions/"

// headerStatusCode carries the peer's HTTP status on the reply message.
const headerStatusCode = "x-status-code"

// maxReplyBytes bounds the reply body read from the peer (4 MB).
const maxReplyBytes = 4 << 20

// retryConfig holds the retry policy values extracted from config.RetryConfig.
type retryConfig struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
}

// Client sends action requests to a peer's HTTP bridge.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	serviceName string
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	limiter     *rate.Limiter // nil when rate limiting is disabled
	retryCfg    retryConfig
	propagator  *telemetry.Propagator
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

var _ ports.ActionRequester = (*Client)(nil)

// New creates a Client for the peer described by cfg. cfg.Name identifies the
// peer in traces, metrics, and health checks. A nil propagator disables client
// spans; nil metrics skips metric recording.
func New(cfg *config.RemoteConfig, p *telemetry.Propagator, metrics *telemetry.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: toUint32(cfg.CircuitBreaker.HalfOpenLimit),
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.CircuitBreaker.MaxFailures
		},
		// A caller giving up says nothing about the peer.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize)
	}

	return &Client{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		serviceName: cfg.Name,
		timeout:     cfg.Timeout,
		breaker:     cb,
		limiter:     limiter,
		retryCfg: retryConfig{
			maxAttempts:     cfg.Retry.MaxAttempts,
			initialInterval: cfg.Retry.InitialInterval,
			maxInterval:     cfg.Retry.MaxInterval,
			multiplier:      cfg.Retry.Multiplier,
		},
		propagator: p,
		metrics:    metrics,
		logger:     logger,
	}
}

// Request posts msg to the peer's action at address and returns its reply.
// The reply carries the peer's status in the x-status-code header, including
// for failures the peer's action reported. Transport problems map to the
// ports sentinels: ErrNoHandler when the peer has no such action, ErrTimeout
// when ctx expires, and ErrUnavailable for network errors, exhausted retries,
// or an open circuit.
func (c *Client) Request(ctx context.Context, address string, msg *ports.Message) (*ports.Message, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if msg == nil {
		msg = &ports.Message{}
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		if err := c.waitForRateLimit(ctx); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, address, msg)
		if err != nil {
			return nil, err
		}

		spanCtx, span := c.startSpan(ctx, address, req)
		defer span.End()

		resp, err := c.doWithRetry(spanCtx, req.WithContext(spanCtx), msg.Body)
		c.finishSpan(span, resp, err)
		return resp, err
	})
	c.recordMetrics(ctx, start, resp, err)

	if err != nil {
		return nil, c.transportError(ctx, address, err)
	}
	defer func() { _ = resp.Body.Close() }()

	reply, err := toMessage(resp)
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w: %w", address, ports.ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound && isNoHandler(reply) {
		return nil, fmt.Errorf("request to %s on %s: %w", address, c.serviceName, ports.ErrNoHandler)
	}
	return reply, nil
}

// Name returns the peer identifier.
func (c *Client) Name() string {
	return c.serviceName
}

// HealthCheck reports the peer's availability from the circuit breaker state
// without making a network call.
func (c *Client) HealthCheck(_ context.Context) error {
	state := c.breaker.State()
	switch state {
	case gobreaker.StateClosed:
		return nil
	case gobreaker.StateHalfOpen:
		return fmt.Errorf("%s: degraded (circuit breaker half-open)", c.serviceName)
	case gobreaker.StateOpen:
		return fmt.Errorf("%s: failing (circuit breaker open)", c.serviceName)
	default:
		return fmt.Errorf("%s: unknown circuit breaker state %v", c.serviceName, state)
	}
}

func (c *Client) newRequest(ctx context.Context, address string, msg *ports.Message) (*http.Request, error) {
	target := c.baseURL + ActionsPath + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range correlation.Headers(ctx) {
		req.Header.Set(k, v)
	}
	return req, nil
}

// waitForRateLimit blocks until the limiter admits the request. A wait that
// cannot finish before the deadline is reported as a timeout.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: rate limit: %w", ports.ErrTimeout, err)
	}
	return nil
}

// startSpan starts the client span and writes its trace context into the
// request headers.
func (c *Client) startSpan(ctx context.Context, address string, req *http.Request) (context.Context, *telemetry.Span) {
	ctx, span := c.propagator.Start(ctx, "HTTP POST "+address,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithSpanAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
			telemetry.AttrPeerService.String(c.serviceName),
			telemetry.AttrAddress.String(address),
		),
	)
	for k, v := range c.propagator.Inject(ctx, span) {
		req.Header.Set(k, v)
	}
	return ctx, span
}

func (c *Client) finishSpan(span *telemetry.Span, resp *http.Response, err error) {
	if resp != nil {
		span.SetAttributes(telemetry.AttrHTTPStatus.Int(resp.StatusCode))
	}
	if err != nil {
		span.MarkError(err, "")
	}
}

// transportError maps a failed exchange onto the ports sentinels.
func (c *Client) transportError(ctx context.Context, address string, err error) error {
	switch {
	case errors.Is(err, ports.ErrTimeout), errors.Is(err, ports.ErrNoHandler):
		return fmt.Errorf("request to %s: %w", address, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("request to %s: %w: %w", address, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("request to %s: %w", address, err)
	default:
		return fmt.Errorf("request to %s on %s: %w: %w", address, c.serviceName, ports.ErrUnavailable, err)
	}
}

// recordMetrics records client request duration and count. It runs outside
// the circuit breaker so rejections are captured.
func (c *Client) recordMetrics(ctx context.Context, start time.Time, resp *http.Response, err error) {
	if c.metrics == nil {
		return
	}

	statusCode := 0
	result := "error"
	if resp != nil {
		statusCode = resp.StatusCode
		if statusCode < http.StatusBadRequest {
			result = "success"
		}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		result = "circuit_open"
	}

	attrs := metric.WithAttributes(
		telemetry.AttrHTTPMethod.String(http.MethodPost),
		telemetry.AttrHTTPStatus.Int(statusCode),
		telemetry.AttrPeerService.String(c.serviceName),
		telemetry.AttrResult.String(result),
	)

	c.metrics.ClientRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	c.metrics.ClientRequestTotal.Add(ctx, 1, attrs)
}

// toMessage converts the peer's response into a reply message with
// lower-case headers and the status in x-status-code.
func toMessage(resp *http.Response) (*ports.Message, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}

	headers := make(map[string]string, len(resp.Header)+1)
	for k, vals := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vals, ",")
	}
	delete(headers, "content-length")
	headers[headerStatusCode] = strconv.Itoa(resp.StatusCode)

	if len(body) == 0 {
		body = nil
	}
	return &ports.Message{Headers: headers, Body: body}, nil
}

// isNoHandler reports whether a 404 reply is the peer bridge saying it has
// no such action, as opposed to an action that reported not found.
func isNoHandler(reply *ports.Message) bool {
	var problem dto.ErrorResponse
	if err := json.NewDecoder(bytes.NewReader(reply.Body)).Decode(&problem); err != nil {
		return false
	}
	return problem.ErrorCode == dto.CodeNoHandler
}

// toUint32 converts a non-negative int to uint32, clamping at the uint32
// maximum. Negative values are treated as zero.
func toUint32(v int) uint32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
