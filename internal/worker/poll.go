package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paygateway/server/internal/events"
	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/metrics"
	"github.com/paygateway/server/internal/provider"
	"github.com/paygateway/server/internal/storage"
)

// PollWorker drives PaymentRequest rows to a terminal state by polling the
// provider for the Payment's current status.
type PollWorker struct {
	store     storage.Store
	provider  *provider.Client
	publisher events.EventPublisher
	metrics   *metrics.Metrics
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPollWorker builds a PollWorker.
func NewPollWorker(store storage.Store, p *provider.Client, publisher events.EventPublisher, m *metrics.Metrics, interval time.Duration) *PollWorker {
	return &PollWorker{
		store:     store,
		provider:  p,
		publisher: publisher,
		metrics:   m,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the poll loop in a background goroutine.
func (w *PollWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish its current claim.
func (w *PollWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *PollWorker) loop(ctx context.Context) {
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

func (w *PollWorker) tick(ctx context.Context) {
	log := logger.FromContext(ctx)
	start := time.Now()

	claim, err := w.store.ClaimPaymentRequest(ctx, w.interval)
	if err == storage.ErrNoWork {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("poll_worker.claim_error")
		return
	}

	outcome := "released"
	defer func() {
		if w.metrics != nil {
			w.metrics.ObserveClaim("poll", outcome, time.Since(start))
		}
	}()

	result, err := w.provider.GetPayment(ctx, claim.Payment.ExternalID)
	if err != nil {
		log.Warn().Err(err).Str("payment_id", claim.Payment.ID).Msg("poll_worker.provider_error")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("poll_worker.release_error")
		}
		return
	}

	status := result.Payment.Status
	// waiting_for_capture cannot occur for charges created with
	// capture=true; if the provider ever reports it anyway, it is as
	// transitional as pending.
	if status == "pending" || status == "waiting_for_capture" {
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("poll_worker.release_error")
		}
		return
	}

	// The provider spells its cancelled status without the second "l"; the
	// gateway's own vocabulary always uses "cancelled".
	if status == "canceled" {
		status = "cancelled"
	}
	if status != string(storage.StatusSucceeded) && status != string(storage.StatusCancelled) {
		log.Warn().Str("status", status).Str("payment_id", claim.Payment.ID).Msg("poll_worker.unknown_status")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("poll_worker.release_error")
		}
		return
	}

	var cancellationReason *string
	if result.Payment.CancellationDetails != nil {
		reason := result.Payment.CancellationDetails.Reason
		cancellationReason = &reason
	}

	if err := w.publisher.PublishPayment(ctx, events.PaymentEvent{
		ID:        claim.Payment.ID,
		Status:    status,
		ExtraData: toRawMessage(claim.Request.ExtraData),
	}); err != nil {
		log.Error().Err(err).Str("payment_id", claim.Payment.ID).Msg("poll_worker.publish_error")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("poll_worker.release_error")
		}
		return
	}

	var notification *storage.HandlerNotificationRequest
	if claim.Request.HandlerURL != nil {
		notification = &storage.HandlerNotificationRequest{
			ID:         uuid.NewString(),
			CreatedAt:  time.Now().UTC(),
			HandlerURL: *claim.Request.HandlerURL,
			Data:       buildPaymentNotificationPayload(claim.Payment.ID, status, claim.Request.ExtraData),
		}
	}

	if err := claim.Commit(ctx, storage.PaymentStatus(status), cancellationReason, notification); err != nil {
		log.Error().Err(err).Str("payment_id", claim.Payment.ID).Msg("poll_worker.commit_error")
		return
	}
	outcome = "settled"
}
