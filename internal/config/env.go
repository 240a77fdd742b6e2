package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the GATEWAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Postgres config
	setIfEnv(&c.Postgres.DSN, "GATEWAY_POSTGRES_DSN")
	setIntIfEnv(&c.Postgres.MaxOpenConns, "GATEWAY_POSTGRES_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Postgres.MaxIdleConns, "GATEWAY_POSTGRES_MAX_IDLE_CONNS")
	setDurationIfEnv(&c.Postgres.ConnMaxLifetime, "GATEWAY_POSTGRES_CONN_MAX_LIFETIME")

	// Kafka config
	setSliceIfEnv(&c.Kafka.Brokers, "GATEWAY_KAFKA_BROKERS")
	setIfEnv(&c.Kafka.PaymentTopic, "GATEWAY_KAFKA_PAYMENT_TOPIC")
	setIfEnv(&c.Kafka.RefundTopic, "GATEWAY_KAFKA_REFUND_TOPIC")
	setDurationIfEnv(&c.Kafka.WriteTimeout, "GATEWAY_KAFKA_WRITE_TIMEOUT")

	// Provider config
	setIfEnv(&c.Provider.BaseURL, "GATEWAY_PROVIDER_BASE_URL")
	setIfEnv(&c.Provider.ShopID, "GATEWAY_PROVIDER_SHOP_ID")
	setIfEnv(&c.Provider.SecretKey, "GATEWAY_PROVIDER_SECRET_KEY")
	setDurationIfEnv(&c.Provider.Timeout, "GATEWAY_PROVIDER_TIMEOUT")

	// Worker config
	setDurationIfEnv(&c.Worker.PollInterval, "GATEWAY_WORKER_POLL_INTERVAL")
	setDurationIfEnv(&c.Worker.RefundInterval, "GATEWAY_WORKER_REFUND_INTERVAL")
	setDurationIfEnv(&c.Worker.NotifyInterval, "GATEWAY_WORKER_NOTIFY_INTERVAL")
	setIntIfEnv(&c.Worker.ClaimBatchSize, "GATEWAY_WORKER_CLAIM_BATCH_SIZE")
	setDurationIfEnv(&c.Worker.NotificationTimeout, "GATEWAY_WORKER_NOTIFICATION_TIMEOUT")

	// Admission facade config
	setIfEnv(&c.Admission.Address, "GATEWAY_ADMISSION_ADDRESS")
	setDurationIfEnv(&c.Admission.ReadTimeout, "GATEWAY_ADMISSION_READ_TIMEOUT")
	setDurationIfEnv(&c.Admission.WriteTimeout, "GATEWAY_ADMISSION_WRITE_TIMEOUT")
	setDurationIfEnv(&c.Admission.IdleTimeout, "GATEWAY_ADMISSION_IDLE_TIMEOUT")
	setSliceIfEnv(&c.Admission.CORSAllowedOrigins, "GATEWAY_ADMISSION_CORS_ALLOWED_ORIGINS")
	setIntIfEnv(&c.Admission.RateLimitRequests, "GATEWAY_ADMISSION_RATE_LIMIT_REQUESTS")
	setDurationIfEnv(&c.Admission.RateLimitWindow, "GATEWAY_ADMISSION_RATE_LIMIT_WINDOW")

	// Logging config
	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Service, "GATEWAY_LOG_SERVICE")
	setIfEnv(&c.Logging.Environment, "GATEWAY_ENVIRONMENT")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "GATEWAY_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setSliceIfEnv sets a string slice pointer from a comma-separated environment variable.
func setSliceIfEnv(target *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		*target = out
	}
}
