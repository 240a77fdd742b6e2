package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/events"
	"github.com/paygateway/server/internal/lifecycle"
	"github.com/paygateway/server/internal/provider"
	"github.com/paygateway/server/internal/storage"
	"github.com/paygateway/server/internal/worker"
)

func testConfig() *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{
			PollInterval:        config.Duration{Duration: 10 * time.Millisecond},
			RefundInterval:      config.Duration{Duration: 10 * time.Millisecond},
			NotifyInterval:      config.Duration{Duration: 10 * time.Millisecond},
			NotificationTimeout: config.Duration{Duration: time.Second},
		},
		Provider: config.ProviderConfig{
			BaseURL: "http://127.0.0.1:0",
			ShopID:  "shop-1",
			Timeout: config.Duration{Duration: time.Second},
		},
	}
}

// NewApp with injected store and publisher must not open a database or a
// broker connection; the injected dependencies are used as-is.
func TestNewApp_WiresInjectedDependencies(t *testing.T) {
	store := storage.NewMemoryStore()
	pub := events.NewFake()

	app, err := NewApp(testConfig(), WithStore(store), WithPublisher(pub))
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	if app.Store != storage.Store(store) {
		t.Error("expected the injected store to be used")
	}
	if app.Publisher != events.EventPublisher(pub) {
		t.Error("expected the injected publisher to be used")
	}
	if app.Supervisor == nil {
		t.Error("expected a supervisor over the three loops")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// Give the loops a few ticks against an empty queue, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

type failingPublisher struct {
	events.Fake
}

func (f *failingPublisher) Start(ctx context.Context) error {
	return errors.New("broker unreachable")
}

// A publisher that cannot start is the one fatal boot condition.
func TestRun_PublisherStartFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	store := storage.NewMemoryStore()
	pub := &failingPublisher{}

	p := provider.NewClient(cfg.Provider, nil, nil)
	poll := worker.NewPollWorker(store, p, pub, nil, cfg.Worker.PollInterval.Duration)
	refund := worker.NewRefundWorker(store, p, pub, nil, cfg.Worker.RefundInterval.Duration)
	notify := worker.NewNotifyWorker(store, nil, nil, cfg.Worker.NotifyInterval.Duration, cfg.Worker.NotificationTimeout.Duration)

	app := &App{
		Config:          cfg,
		Store:           store,
		Provider:        p,
		Publisher:       pub,
		Supervisor:      worker.NewSupervisor(poll, refund, notify),
		resourceManager: lifecycle.NewManager(),
	}

	if err := app.Run(context.Background()); err == nil {
		t.Fatal("expected Run to fail when the publisher cannot start")
	}
}
