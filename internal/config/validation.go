package config

import (
	"errors"
	"fmt"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Admission.Address == "" {
		c.Admission.Address = ":8080"
	}
	if c.Kafka.PaymentTopic == "" {
		c.Kafka.PaymentTopic = "payment"
	}
	if c.Kafka.RefundTopic == "" {
		c.Kafka.RefundTopic = "refund"
	}
	if c.Worker.ClaimBatchSize <= 0 {
		c.Worker.ClaimBatchSize = 1
	}

	return c.validate()
}

// validate checks that the configuration describes a runnable system.
func (c *Config) validate() error {
	var errs []error

	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn (or GATEWAY_POSTGRES_DSN) is required"))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers (or GATEWAY_KAFKA_BROKERS) is required"))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if c.Provider.ShopID == "" {
		errs = append(errs, errors.New("provider.shop_id (or GATEWAY_PROVIDER_SHOP_ID) is required"))
	}
	if c.Provider.SecretKey == "" {
		errs = append(errs, errors.New("provider secret key (GATEWAY_PROVIDER_SECRET_KEY) is required"))
	}
	if c.Worker.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if c.Worker.RefundInterval.Duration <= 0 {
		errs = append(errs, errors.New("worker.refund_interval must be positive"))
	}
	if c.Worker.NotifyInterval.Duration <= 0 {
		errs = append(errs, errors.New("worker.notify_interval must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}
