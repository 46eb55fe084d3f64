package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks all configuration values and returns aggregated errors.
func (c *Config) Validate() error {
	return errors.Join(
		c.Server.validate(),
		c.Log.validate(),
		c.Bus.validate(),
		c.NATS.validate(),
		c.Remote.validate(),
		c.Telemetry.validate(),
		c.Metrics.validate(),
	)
}

func (s *ServerConfig) validate() error {
	var errs []error

	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port))
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	errs = append(errs, s.RateLimit.validate("server.rate_limit"))
	if s.RateLimit.RequestsPerSecond > 0 && s.RateLimit.IdleTTL <= 0 {
		errs = append(errs, errors.New("server.rate_limit.idle_ttl must be positive when rate limiting is enabled"))
	}

	return errors.Join(errs...)
}

func (l *LogConfig) validate() error {
	var errs []error

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels.
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", l.Level))
	}

	switch l.Format {
	case "json", "text":
		// Valid formats.
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", l.Format))
	}

	return errors.Join(errs...)
}

func (b *BusConfig) validate() error {
	var errs []error

	if b.SendTimeout <= 0 {
		errs = append(errs, errors.New("bus.send_timeout must be positive"))
	}
	if b.MaxSendTimeout < b.SendTimeout {
		errs = append(errs, fmt.Errorf("bus.max_send_timeout (%s) must not be below bus.send_timeout (%s)",
			b.MaxSendTimeout, b.SendTimeout))
	}
	if b.Workers < 1 {
		errs = append(errs, fmt.Errorf("bus.workers must be >= 1, got %d", b.Workers))
	}
	if b.MaxStreamItems < 1 {
		errs = append(errs, fmt.Errorf("bus.max_stream_items must be >= 1, got %d", b.MaxStreamItems))
	}

	return errors.Join(errs...)
}

func (n *NATSConfig) validate() error {
	if !n.Enabled {
		return nil
	}

	var errs []error

	if n.URL == "" {
		errs = append(errs, errors.New("nats.url must not be empty when nats is enabled"))
	}
	if n.SubjectPrefix == "" || strings.ContainsAny(n.SubjectPrefix, " *>") {
		errs = append(errs, fmt.Errorf("nats.subject_prefix must be a literal subject token, got %q", n.SubjectPrefix))
	}

	return errors.Join(errs...)
}

func (r *RemoteConfig) validate() error {
	if !r.Enabled {
		return nil
	}

	var errs []error

	if u, err := url.Parse(r.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("remote.base_url must be an absolute URL, got %q", r.BaseURL))
	}
	if r.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if r.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("remote.retry.max_attempts must be >= 1, got %d", r.Retry.MaxAttempts))
	}
	if r.Retry.Multiplier <= 0 {
		errs = append(errs, fmt.Errorf("remote.retry.multiplier must be positive, got %f", r.Retry.Multiplier))
	}
	if r.CircuitBreaker.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("remote.circuit_breaker.max_failures must be >= 1, got %d",
			r.CircuitBreaker.MaxFailures))
	}
	errs = append(errs, r.RateLimit.validate("remote.rate_limit"))

	return errors.Join(errs...)
}

func (r *RateLimitConfig) validate(prefix string) error {
	var errs []error

	if r.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("%s.requests_per_second must not be negative", prefix))
	}
	if r.RequestsPerSecond > 0 && r.BurstSize < 1 {
		errs = append(errs, fmt.Errorf("%s.burst_size must be >= 1 when rate limiting is enabled", prefix))
	}

	return errors.Join(errs...)
}

func (t *TelemetryConfig) validate() error {
	if !t.Enabled {
		return nil
	}

	var errs []error

	switch t.Exporter {
	case "stdout", "otlp":
		// Valid exporters.
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter must be one of: stdout, otlp; got %q", t.Exporter))
	}

	if t.Exporter == "otlp" && t.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint must not be empty when exporter is otlp"))
	}

	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %v", t.SampleRatio))
	}

	return errors.Join(errs...)
}

func (m *MetricsConfig) validate() error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", m.Path)
	}
	return nil
}
