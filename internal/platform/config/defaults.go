package config

const (
	defaultServerPort = 8080

	defaultBusWorkers        = 64
	defaultBusMaxStreamItems = 10_000

	defaultRetryMaxAttempts = 3
	defaultRetryMultiplier  = 2.0

	defaultCircuitBreakerMaxFailures = 5
	defaultCircuitBreakerHalfOpen    = 1
)

// defaults returns the default configuration values.
// These are loaded first and can be overridden by base.yaml, profile YAML, and env vars.
func defaults() map[string]any {
	return map[string]any{
		"server.host":          "0.0.0.0",
		"server.port":          defaultServerPort,
		"server.read_timeout":  "5s",
		"server.write_timeout": "65s",
		"server.idle_timeout":  "120s",
		"server.graphql":       true,

		"server.trust_identity_headers": false,

		"server.rate_limit.requests_per_second": 0,
		"server.rate_limit.burst_size":          0,
		"server.rate_limit.idle_ttl":            "10m",

		"log.level":  "info",
		"log.format": "json",

		"bus.send_timeout":     "30s",
		"bus.max_send_timeout": "60s",
		"bus.workers":          defaultBusWorkers,
		"bus.max_stream_items": defaultBusMaxStreamItems,

		"nats.enabled":        false,
		"nats.url":            "nats://127.0.0.1:4222",
		"nats.name":           "actionbus",
		"nats.queue_group":    "actionbus",
		"nats.subject_prefix": "action",
		"nats.drain_timeout":  "10s",

		"remote.enabled":                         false,
		"remote.name":                            "peer",
		"remote.base_url":                        "http://localhost:8081",
		"remote.timeout":                         "30s",
		"remote.retry.max_attempts":              defaultRetryMaxAttempts,
		"remote.retry.initial_interval":          "100ms",
		"remote.retry.max_interval":              "10s",
		"remote.retry.multiplier":                defaultRetryMultiplier,
		"remote.circuit_breaker.max_failures":    defaultCircuitBreakerMaxFailures,
		"remote.circuit_breaker.timeout":         "30s",
		"remote.circuit_breaker.half_open_limit": defaultCircuitBreakerHalfOpen,
		"remote.rate_limit.requests_per_second":  0,
		"remote.rate_limit.burst_size":           0,

		"telemetry.enabled":      false,
		"telemetry.exporter":     "stdout",
		"telemetry.endpoint":     "",
		"telemetry.service_name": "actionbus",
		"telemetry.sample_ratio": 1.0,

		"metrics.enabled": true,
		"metrics.path":    "/metrics",
	}
}
