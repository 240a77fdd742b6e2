// Package events publishes terminal Payment/Refund outcomes to the
// "payment" and "refund" topics with synchronous send-and-await-ack.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/metrics"
)

// ErrNotStarted is returned when Publish is called before Start, or after Stop.
var ErrNotStarted = errors.New("events: publisher not started")

// EventPublisher is the interface workers depend on, satisfied by both the
// real Kafka-backed Publisher and the in-memory Fake used in tests.
type EventPublisher interface {
	Start(ctx context.Context) error
	Stop() error
	PublishPayment(ctx context.Context, event PaymentEvent) error
	PublishRefund(ctx context.Context, event RefundEvent) error
}

// PaymentEvent is the payload published to the "payment" topic.
type PaymentEvent struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	ExtraData json.RawMessage `json:"extra_data"`
}

// RefundEvent is the payload published to the "refund" topic.
type RefundEvent struct {
	ID                         string          `json:"id"`
	Status                     string          `json:"status"`
	ExternalCancellationReason *string         `json:"external_cancellation_reason"`
	ExtraData                  json.RawMessage `json:"extra_data"`
}

// Publisher sends JSON events to the payment and refund topics. Workers
// must not call Publish before Start completes or after Stop.
type Publisher struct {
	mu      sync.RWMutex
	started bool

	paymentWriter *kafka.Writer
	refundWriter  *kafka.Writer
	metrics       *metrics.Metrics
}

// New builds a Publisher. Call Start before publishing.
func New(cfg config.KafkaConfig, m *metrics.Metrics) *Publisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			WriteTimeout: cfg.WriteTimeout.Duration,
		}
	}
	return &Publisher{
		paymentWriter: newWriter(cfg.PaymentTopic),
		refundWriter:  newWriter(cfg.RefundTopic),
		metrics:       m,
	}
}

// Start marks the publisher ready to accept Publish calls. It does not
// contact the broker and always returns nil; an unreachable broker shows
// up as an error from Publish.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

// Stop closes the underlying writers and rejects any further Publish calls.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false

	var errs []error
	if err := p.paymentWriter.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.refundWriter.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close allows Publisher to participate in lifecycle.Manager's
// io.Closer-based LIFO shutdown.
func (p *Publisher) Close() error { return p.Stop() }

// PublishPayment sends a PaymentEvent and blocks until the broker
// acknowledges it, with no partition key (consumers do not require
// partition affinity).
func (p *Publisher) PublishPayment(ctx context.Context, event PaymentEvent) error {
	return p.publish(ctx, "payment", p.paymentWriter, event)
}

// PublishRefund sends a RefundEvent and blocks until the broker
// acknowledges it.
func (p *Publisher) PublishRefund(ctx context.Context, event RefundEvent) error {
	return p.publish(ctx, "refund", p.refundWriter, event)
}

func (p *Publisher) publish(ctx context.Context, topic string, writer *kafka.Writer, event any) error {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s event: %w", topic, err)
	}

	err = writer.WriteMessages(ctx, kafka.Message{Value: value})
	if p.metrics != nil && err == nil {
		p.metrics.ObserveEventPublished(topic)
	}
	if err != nil {
		return fmt.Errorf("events: publish to %s: %w", topic, err)
	}
	return nil
}
