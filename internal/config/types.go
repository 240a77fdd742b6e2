package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Postgres       PostgresConfig       `yaml:"postgres"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	Provider       ProviderConfig       `yaml:"provider"`
	Worker         WorkerConfig         `yaml:"worker"`
	Admission      AdmissionConfig      `yaml:"admission"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// PostgresConfig holds the durable store connection settings.
type PostgresConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// KafkaConfig holds the event-topic broker settings.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	PaymentTopic string   `yaml:"payment_topic"`
	RefundTopic  string   `yaml:"refund_topic"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// ProviderConfig holds the external payment provider's API settings.
type ProviderConfig struct {
	BaseURL   string   `yaml:"base_url"`
	ShopID    string   `yaml:"shop_id"`
	SecretKey string   `yaml:"-"` // loaded from GATEWAY_PROVIDER_SECRET_KEY only
	Timeout   Duration `yaml:"timeout"`
}

// WorkerConfig holds the polling cadence for the three core loops and the
// webhook timeout. ClaimBatchSize is loaded but not read by the loops: each
// tick claims a single row.
type WorkerConfig struct {
	PollInterval       Duration `yaml:"poll_interval"`
	RefundInterval     Duration `yaml:"refund_interval"`
	NotifyInterval     Duration `yaml:"notify_interval"`
	ClaimBatchSize     int      `yaml:"claim_batch_size"`
	NotificationTimeout Duration `yaml:"notification_timeout"`
}

// AdmissionConfig holds the external facade's HTTP server settings.
type AdmissionConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RateLimitRequests  int      `yaml:"rate_limit_requests"`
	RateLimitWindow    Duration `yaml:"rate_limit_window"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Service     string `yaml:"service"`     // reported service name
	Environment string `yaml:"environment"` // production, staging, development
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`  // Enable circuit breakers (default: true)
	Provider BreakerServiceConfig `yaml:"provider"` // payment provider API circuit breaker
	Webhook  BreakerServiceConfig `yaml:"webhook"`  // handler-notification circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
