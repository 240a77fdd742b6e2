// Package core assembles the durable-workflow engine: the store, provider
// client, event publisher, and the three background loops under one
// supervisor.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paygateway/server/internal/circuitbreaker"
	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/events"
	"github.com/paygateway/server/internal/lifecycle"
	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/metrics"
	"github.com/paygateway/server/internal/provider"
	"github.com/paygateway/server/internal/storage"
	"github.com/paygateway/server/internal/worker"
)

// App wires the worker process's components for reuse or standalone running.
type App struct {
	Config     *config.Config
	Store      storage.Store
	Provider   *provider.Client
	Publisher  events.EventPublisher
	Supervisor *worker.Supervisor

	metricsCollector *metrics.Metrics
	resourceManager  *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store     storage.Store
	publisher events.EventPublisher
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithPublisher injects a custom event publisher.
func WithPublisher(publisher events.EventPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

// NewApp assembles the worker engine. Resources the app opens itself (the
// Postgres pool, the Kafka writers) are owned by its lifecycle manager and
// released by Close in LIFO order.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("core: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	app.metricsCollector = metricsCollector

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.NewPostgresStore(cfg.Postgres, metricsCollector)
		if err != nil {
			return nil, fmt.Errorf("core: open store: %w", err)
		}
		app.Store = store
		app.resourceManager.Register("storage", store)
	}

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	app.Provider = provider.NewClient(cfg.Provider, breaker, metricsCollector)

	if optState.publisher != nil {
		app.Publisher = optState.publisher
	} else {
		publisher := events.New(cfg.Kafka, metricsCollector)
		app.Publisher = publisher
		app.resourceManager.Register("event-publisher", publisher)
	}

	poll := worker.NewPollWorker(app.Store, app.Provider, app.Publisher, metricsCollector, cfg.Worker.PollInterval.Duration)
	refund := worker.NewRefundWorker(app.Store, app.Provider, app.Publisher, metricsCollector, cfg.Worker.RefundInterval.Duration)
	notify := worker.NewNotifyWorker(app.Store, breaker, metricsCollector, cfg.Worker.NotifyInterval.Duration, cfg.Worker.NotificationTimeout.Duration)
	app.Supervisor = worker.NewSupervisor(poll, refund, notify)

	return app, nil
}

// Run starts the publisher and the worker loops, then blocks until ctx is
// cancelled. A publisher that cannot start is the one fatal boot condition;
// everything after that is retried at the claim boundary instead of
// propagated.
func (a *App) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	if err := a.Publisher.Start(ctx); err != nil {
		return fmt.Errorf("core: start event publisher: %w", err)
	}

	a.Supervisor.Start(ctx)
	log.Info().
		Dur("poll_interval", a.Config.Worker.PollInterval.Duration).
		Dur("refund_interval", a.Config.Worker.RefundInterval.Duration).
		Dur("notify_interval", a.Config.Worker.NotifyInterval.Duration).
		Msg("core.workers_started")

	<-ctx.Done()

	a.Supervisor.Stop()
	log.Info().Msg("core.workers_stopped")
	return nil
}

// Close releases resources owned by the app (store, publisher).
func (a *App) Close() error {
	return a.resourceManager.Close()
}
