package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
		},
		Kafka: KafkaConfig{
			PaymentTopic: "payment",
			RefundTopic:  "refund",
			WriteTimeout: Duration{Duration: 10 * time.Second},
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.yookassa.ru/v3",
			Timeout: Duration{Duration: 60 * time.Second},
		},
		Worker: WorkerConfig{
			PollInterval:        Duration{Duration: 1 * time.Second},
			RefundInterval:      Duration{Duration: 3 * time.Second},
			NotifyInterval:      Duration{Duration: 1 * time.Second},
			ClaimBatchSize:      1,
			NotificationTimeout: Duration{Duration: 5 * time.Second},
		},
		Admission: AdmissionConfig{
			Address:           ":8080",
			ReadTimeout:        Duration{Duration: 15 * time.Second},
			WriteTimeout:       Duration{Duration: 15 * time.Second},
			IdleTimeout:        Duration{Duration: 60 * time.Second},
			RateLimitRequests:  60,
			RateLimitWindow:    Duration{Duration: 1 * time.Minute},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Service:     "payment-gateway",
			Environment: "production",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Provider: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second}, // Longer timeout for webhooks
				ConsecutiveFailures: 10,                                  // More tolerant for webhooks
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
