package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/config"
)

func TestLoad_LocalProfile(t *testing.T) {
	t.Chdir("../../..")

	cfg, err := config.Load("local")
	if err != nil {
		t.Fatalf("Load(\"local\") error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want \"debug\"", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want \"text\"", cfg.Log.Format)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false for local")
	}
	if !cfg.Server.TrustIdentityHeaders {
		t.Error("Server.TrustIdentityHeaders = false, want true for local")
	}
}

func TestLoad_ProdProfile(t *testing.T) {
	t.Chdir("../../..")

	cfg, err := config.Load("prod")
	if err != nil {
		t.Fatalf("Load(\"prod\") error: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want \"info\"", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want \"json\"", cfg.Log.Format)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = false, want true for prod")
	}
	if cfg.Telemetry.Exporter != "otlp" {
		t.Errorf("Telemetry.Exporter = %q, want \"otlp\"", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.Endpoint == "" {
		t.Error("Telemetry.Endpoint is empty, want non-empty for prod")
	}
	if cfg.Telemetry.SampleRatio != 0.25 {
		t.Errorf("Telemetry.SampleRatio = %v, want 0.25 for prod", cfg.Telemetry.SampleRatio)
	}
	if !cfg.NATS.Enabled {
		t.Error("NATS.Enabled = false, want true for prod")
	}
	if cfg.Remote.RateLimit.RequestsPerSecond != 200 {
		t.Errorf("Remote.RateLimit.RequestsPerSecond = %v, want 200", cfg.Remote.RateLimit.RequestsPerSecond)
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50 || cfg.Server.RateLimit.BurstSize != 100 {
		t.Errorf("Server.RateLimit = %+v, want 50 rps burst 100", cfg.Server.RateLimit)
	}
	if cfg.Server.RateLimit.IdleTTL != 10*time.Minute {
		t.Errorf("Server.RateLimit.IdleTTL = %v, want 10m from base", cfg.Server.RateLimit.IdleTTL)
	}
	if !cfg.Server.GraphQL {
		t.Error("Server.GraphQL = false, want true")
	}
	if cfg.Server.TrustIdentityHeaders {
		t.Error("Server.TrustIdentityHeaders = true, want false unless a profile enables it")
	}
}

func TestLoad_DefaultsFillMissingKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), "log:\n  level: warn\n")
	writeFile(t, filepath.Join(dir, "test.yaml"), "server:\n  port: 9999\n")

	cfg, err := config.Load("test", config.WithConfigDir(dir))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want \"warn\"", cfg.Log.Level)
	}
	if cfg.Bus.SendTimeout != 30*time.Second {
		t.Errorf("Bus.SendTimeout = %v, want 30s (default)", cfg.Bus.SendTimeout)
	}
	if cfg.NATS.SubjectPrefix != "action" {
		t.Errorf("NATS.SubjectPrefix = %q, want \"action\" (default)", cfg.NATS.SubjectPrefix)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want \"/metrics\" (default)", cfg.Metrics.Path)
	}
}

func TestLoad_EnvOverrideDefaultOnlyKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), "log:\n  level: info\n")
	writeFile(t, filepath.Join(dir, "test.yaml"), "log:\n  format: json\n")
	t.Setenv("ACTIONBUS_BUS_MAX_STREAM_ITEMS", "42")

	cfg, err := config.Load("test", config.WithConfigDir(dir))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Bus.MaxStreamItems != 42 {
		t.Errorf("Bus.MaxStreamItems = %d, want 42 (env override)", cfg.Bus.MaxStreamItems)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoad_BaseConfigInheritance(t *testing.T) {
	t.Chdir("../../..")

	cfg, err := config.Load("local")
	if err != nil {
		t.Fatalf("Load(\"local\") error: %v", err)
	}

	// These come from base.yaml, not overridden by local.yaml.
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want \"0.0.0.0\" (from base)", cfg.Server.Host)
	}
	if cfg.Remote.Retry.MaxAttempts != 3 {
		t.Errorf("Remote.Retry.MaxAttempts = %d, want 3 (from base)", cfg.Remote.Retry.MaxAttempts)
	}
	if cfg.Bus.MaxStreamItems != 10000 {
		t.Errorf("Bus.MaxStreamItems = %d, want 10000 (from base)", cfg.Bus.MaxStreamItems)
	}
	if cfg.Bus.SendTimeout != 10*time.Second {
		t.Errorf("Bus.SendTimeout = %v, want 10s (from local)", cfg.Bus.SendTimeout)
	}
}

func TestLoad_EnvOverrideSimpleKey(t *testing.T) {
	t.Chdir("../../..")
	t.Setenv("ACTIONBUS_SERVER_PORT", "9090")

	cfg, err := config.Load("local")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090 (env override)", cfg.Server.Port)
	}
}

func TestLoad_EnvOverrideSnakeCaseKey(t *testing.T) {
	t.Chdir("../../..")
	t.Setenv("ACTIONBUS_SERVER_READ_TIMEOUT", "15s")

	cfg, err := config.Load("local")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	want := 15 * time.Second
	if cfg.Server.ReadTimeout != want {
		t.Errorf("Server.ReadTimeout = %v, want %v (env override)", cfg.Server.ReadTimeout, want)
	}
}

func TestLoad_EnvOverrideDeeplyNestedKey(t *testing.T) {
	t.Chdir("../../..")
	t.Setenv("ACTIONBUS_REMOTE_RETRY_MAX_ATTEMPTS", "7")

	cfg, err := config.Load("local")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Remote.Retry.MaxAttempts != 7 {
		t.Errorf("Remote.Retry.MaxAttempts = %d, want 7 (env override)", cfg.Remote.Retry.MaxAttempts)
	}
}

func TestLoad_RedactFieldsFromBase(t *testing.T) {
	t.Chdir("../../..")

	cfg, err := config.Load("local")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if !slices.Equal(cfg.Log.RedactFields, []string{"email", "card_number"}) {
		t.Errorf("Log.RedactFields = %v, want [email card_number] (from base)", cfg.Log.RedactFields)
	}
}

func TestLoad_EnvOverrideListKey(t *testing.T) {
	t.Chdir("../../..")
	t.Setenv("ACTIONBUS_LOG_REDACT_FIELDS", "iban, phone,,")

	cfg, err := config.Load("local")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if !slices.Equal(cfg.Log.RedactFields, []string{"iban", "phone"}) {
		t.Errorf("Log.RedactFields = %v, want [iban phone] (env override)", cfg.Log.RedactFields)
	}
}

func TestLoad_MissingProfile(t *testing.T) {
	t.Chdir("../../..")

	_, err := config.Load("nonexistent")
	if err == nil {
		t.Fatal("Load(\"nonexistent\") returned nil error, want error")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	t.Parallel()

	cfg := validBaseConfig()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() returned nil, want error for port=0")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := validBaseConfig()
	cfg.Log.Level = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() returned nil, want error for invalid log level")
	}
}

func TestValidate_SampleRatioRange(t *testing.T) {
	t.Parallel()

	for _, ratio := range []float64{-0.1, 1.5} {
		cfg := validBaseConfig()
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.SampleRatio = ratio

		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate() returned nil for sample_ratio %v, want error", ratio)
		}
	}
}

func TestValidate_OtlpWithoutEndpoint(t *testing.T) {
	t.Parallel()

	cfg := validBaseConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Exporter = "otlp"
	cfg.Telemetry.Endpoint = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() returned nil, want error for otlp without endpoint")
	}
}

func TestValidate_SendTimeoutAboveMax(t *testing.T) {
	t.Parallel()

	cfg := validBaseConfig()
	cfg.Bus.SendTimeout = 2 * time.Minute

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() returned nil, want error for send_timeout above max_send_timeout")
	}
}

func TestValidate_RemoteOnlyCheckedWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := validBaseConfig()
	cfg.Remote = config.RemoteConfig{BaseURL: "not a url"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error for disabled remote: %v", err)
	}

	cfg.Remote.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() returned nil, want error for enabled remote with bad settings")
	}
}

func TestValidate_ServerRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rl   config.CallerRateLimitConfig
		ok   bool
	}{
		{"disabled", config.CallerRateLimitConfig{}, true},
		{"enabled", config.CallerRateLimitConfig{
			RateLimitConfig: config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5},
			IdleTTL:         time.Minute,
		}, true},
		{"negative rate", config.CallerRateLimitConfig{
			RateLimitConfig: config.RateLimitConfig{RequestsPerSecond: -1},
		}, false},
		{"no burst", config.CallerRateLimitConfig{
			RateLimitConfig: config.RateLimitConfig{RequestsPerSecond: 10},
			IdleTTL:         time.Minute,
		}, false},
		{"no idle ttl", config.CallerRateLimitConfig{
			RateLimitConfig: config.RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validBaseConfig()
			cfg.Server.RateLimit = tt.rl
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}
}

func TestValidate_NATSSubjectPrefix(t *testing.T) {
	t.Parallel()

	cfg := validBaseConfig()
	cfg.NATS.Enabled = true
	cfg.NATS.SubjectPrefix = "action.*"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() returned nil, want error for wildcard subject prefix")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := validBaseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() returned error for valid config: %v", err)
	}
}

// validBaseConfig returns a Config with all fields set to valid values.
func validBaseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Bus: config.BusConfig{
			SendTimeout:    30 * time.Second,
			MaxSendTimeout: 60 * time.Second,
			Workers:        8,
			MaxStreamItems: 100,
		},
		NATS: config.NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "action",
		},
		Remote: config.RemoteConfig{
			Enabled: true,
			BaseURL: "http://localhost:8081",
			Timeout: 30 * time.Second,
			Retry: config.RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     10 * time.Second,
				Multiplier:      2.0,
			},
			CircuitBreaker: config.CircuitBreakerConfig{
				MaxFailures:   5,
				Timeout:       30 * time.Second,
				HalfOpenLimit: 1,
			},
		},
		Telemetry: config.TelemetryConfig{
			Enabled:     false,
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
