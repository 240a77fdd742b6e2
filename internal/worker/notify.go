package worker

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/paygateway/server/internal/circuitbreaker"
	"github.com/paygateway/server/internal/httputil"
	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/metrics"
	"github.com/paygateway/server/internal/storage"
)

// NotifyWorker delivers HandlerNotificationRequest rows to their webhook
// URL. Delivery is retried at a fixed interval with no backoff and no
// dead-letter queue: a webhook that never comes back up is retried forever,
// which is an accepted tradeoff for the gateway's at-least-once delivery
// guarantee.
type NotifyWorker struct {
	store      storage.Store
	httpClient *http.Client
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
	interval   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNotifyWorker builds a NotifyWorker. timeout bounds each webhook POST.
func NewNotifyWorker(store storage.Store, breaker *circuitbreaker.Manager, m *metrics.Metrics, interval, timeout time.Duration) *NotifyWorker {
	return &NotifyWorker{
		store:      store,
		httpClient: httputil.NewClient(timeout),
		breaker:    breaker,
		metrics:    m,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the notify loop in a background goroutine.
func (w *NotifyWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish its current claim.
func (w *NotifyWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *NotifyWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *NotifyWorker) tick(ctx context.Context) {
	log := logger.FromContext(ctx)
	start := time.Now()

	claim, err := w.store.ClaimNotificationRequest(ctx, w.interval)
	if err == storage.ErrNoWork {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("notify_worker.claim_error")
		return
	}

	result := "failure"
	defer func() {
		if w.metrics != nil {
			w.metrics.ObserveWebhook(result, time.Since(start))
		}
	}()

	if err := w.deliver(ctx, claim.Request); err != nil {
		log.Warn().Err(err).Str("handler_url", claim.Request.HandlerURL).Msg("notify_worker.delivery_failed")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("notify_worker.release_error")
		}
		return
	}

	if err := claim.Commit(ctx); err != nil {
		log.Error().Err(err).Str("handler_url", claim.Request.HandlerURL).Msg("notify_worker.commit_error")
		return
	}
	result = "success"
}

func (w *NotifyWorker) deliver(ctx context.Context, req storage.HandlerNotificationRequest) error {
	post := func() (interface{}, error) {
		return nil, w.post(ctx, req)
	}

	var err error
	if w.breaker != nil {
		_, err = w.breaker.Execute(circuitbreaker.ServiceWebhook, post)
	} else {
		_, err = post()
	}
	return err
}

func (w *NotifyWorker) post(ctx context.Context, req storage.HandlerNotificationRequest) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.HandlerURL, bytes.NewReader([]byte(req.Data)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &webhookStatusError{statusCode: resp.StatusCode}
	}
	return nil
}

type webhookStatusError struct {
	statusCode int
}

func (e *webhookStatusError) Error() string {
	return "webhook returned status " + http.StatusText(e.statusCode)
}
