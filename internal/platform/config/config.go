// Package config provides configuration loading and validation for the service.
// Configuration is loaded from YAML files with environment variable overrides
// using a layered system: defaults -> base.yaml -> {profile}.yaml -> env vars.
package config

import "time"

// Config holds all configuration for the service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Bus       BusConfig       `koanf:"bus"`
	NATS      NATSConfig      `koanf:"nats"`
	Remote    RemoteConfig    `koanf:"remote"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// ServerConfig holds HTTP bridge server settings.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`

	// RateLimit bounds requests per caller. Callers are keyed by the
	// X-Subject-ID header, or by remote IP when it is absent.
	RateLimit CallerRateLimitConfig `koanf:"rate_limit"`

	// GraphQL mounts the GraphQL endpoint next to the action routes.
	GraphQL bool `koanf:"graphql"`

	// TrustIdentityHeaders forwards the caller's X-Subject-ID and
	// X-Subject-Roles to actions. Enable it only behind a proxy that
	// authenticates callers and sets those headers itself.
	TrustIdentityHeaders bool `koanf:"trust_identity_headers"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// RedactFields names extra log attributes to mask, such as action
	// arguments that carry personal data.
	RedactFields []string `koanf:"redact_fields"`
}

// BusConfig holds in-process bus and result resolution settings.
type BusConfig struct {
	// SendTimeout bounds every request/reply exchange. The HTTP bridge may
	// raise it per request with the timeout query parameter.
	SendTimeout    time.Duration `koanf:"send_timeout"`
	MaxSendTimeout time.Duration `koanf:"max_send_timeout"`
	Workers        int           `koanf:"workers"`
	MaxStreamItems int           `koanf:"max_stream_items"`
}

// NATSConfig holds the broker adapter settings.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Name          string        `koanf:"name"`
	QueueGroup    string        `koanf:"queue_group"`
	SubjectPrefix string        `koanf:"subject_prefix"`
	DrainTimeout  time.Duration `koanf:"drain_timeout"`
}

// RemoteConfig holds settings for the client that invokes actions on a peer
// service's HTTP bridge.
type RemoteConfig struct {
	Enabled        bool                 `koanf:"enabled"`
	Name           string               `koanf:"name"`
	BaseURL        string               `koanf:"base_url"`
	Timeout        time.Duration        `koanf:"timeout"`
	Retry          RetryConfig          `koanf:"retry"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	RateLimit      RateLimitConfig      `koanf:"rate_limit"`
}

// RetryConfig holds retry policy settings with exponential backoff.
type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	MaxFailures   int           `koanf:"max_failures"`
	Timeout       time.Duration `koanf:"timeout"`
	HalfOpenLimit int           `koanf:"half_open_limit"`
}

// RateLimitConfig holds token bucket settings. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	BurstSize         int     `koanf:"burst_size"`
}

// CallerRateLimitConfig holds per-caller token bucket settings. A zero rate
// disables limiting; buckets idle for IdleTTL are dropped.
type CallerRateLimitConfig struct {
	RateLimitConfig `koanf:",squash"`
	IdleTTL         time.Duration `koanf:"idle_ttl"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Exporter    string `koanf:"exporter"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	// SampleRatio is the fraction of new traces recorded. Calls that arrive
	// with a parent span follow the parent's decision.
	SampleRatio float64 `koanf:"sample_ratio"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}
