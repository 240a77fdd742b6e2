package worker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paygateway/server/internal/events"
	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/metrics"
	"github.com/paygateway/server/internal/provider"
	"github.com/paygateway/server/internal/storage"
)

// RefundWorker drives RefundRequest rows to a terminal state by calling the
// provider's create-refund endpoint. The request's own id is used as the
// idempotency key, so a crash between the provider call and the commit
// resolves cleanly on retry: the provider returns the same refund.
type RefundWorker struct {
	store     storage.Store
	provider  *provider.Client
	publisher events.EventPublisher
	metrics   *metrics.Metrics
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRefundWorker builds a RefundWorker.
func NewRefundWorker(store storage.Store, p *provider.Client, publisher events.EventPublisher, m *metrics.Metrics, interval time.Duration) *RefundWorker {
	return &RefundWorker{
		store:     store,
		provider:  p,
		publisher: publisher,
		metrics:   m,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the refund loop in a background goroutine.
func (w *RefundWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish its current claim.
func (w *RefundWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *RefundWorker) loop(ctx context.Context) {
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

func (w *RefundWorker) tick(ctx context.Context) {
	log := logger.FromContext(ctx)
	start := time.Now()

	claim, err := w.store.ClaimRefundRequest(ctx, w.interval)
	if err == storage.ErrNoWork {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("refund_worker.claim_error")
		return
	}

	outcome := "released"
	defer func() {
		if w.metrics != nil {
			w.metrics.ObserveClaim("refund", outcome, time.Since(start))
		}
	}()

	result, err := w.provider.CreateRefund(ctx, claim.Request.ID, claim.Payment.ExternalID, claim.Refund.AmountValue, claim.Refund.Currency, claim.Refund.ID)
	if err != nil {
		log.Warn().Err(err).Str("refund_id", claim.Refund.ID).Msg("refund_worker.provider_error")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("refund_worker.release_error")
		}
		return
	}

	var status string
	var cancellationReason *string
	var externalID *string

	switch result.StatusCode {
	case http.StatusOK:
		if result.Refund == nil {
			log.Error().Str("refund_id", claim.Refund.ID).Msg("refund_worker.empty_success_body")
			if releaseErr := claim.Release(ctx); releaseErr != nil {
				log.Error().Err(releaseErr).Msg("refund_worker.release_error")
			}
			return
		}
		status = result.Refund.Status
		if status == "canceled" {
			status = string(storage.StatusCancelled)
		}
		externalID = &result.Refund.ID
		if result.Refund.CancellationDetails != nil {
			reason := result.Refund.CancellationDetails.Reason
			cancellationReason = &reason
		}
	case http.StatusBadRequest:
		if result.Domain == nil {
			log.Error().Str("refund_id", claim.Refund.ID).Msg("refund_worker.empty_domain_body")
			if releaseErr := claim.Release(ctx); releaseErr != nil {
				log.Error().Err(releaseErr).Msg("refund_worker.release_error")
			}
			return
		}
		status = string(storage.StatusCancelled)
		reason := result.Domain.Description
		cancellationReason = &reason
	default:
		log.Warn().Int("status_code", result.StatusCode).Str("refund_id", claim.Refund.ID).Msg("refund_worker.unexpected_status")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("refund_worker.release_error")
		}
		return
	}

	if status != string(storage.StatusSucceeded) && status != string(storage.StatusCancelled) {
		log.Warn().Str("status", status).Str("refund_id", claim.Refund.ID).Msg("refund_worker.unknown_status")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("refund_worker.release_error")
		}
		return
	}

	if err := w.publisher.PublishRefund(ctx, events.RefundEvent{
		ID:                         claim.Refund.ID,
		Status:                     status,
		ExternalCancellationReason: cancellationReason,
		ExtraData:                  toRawMessage(claim.Request.ExtraData),
	}); err != nil {
		log.Error().Err(err).Str("refund_id", claim.Refund.ID).Msg("refund_worker.publish_error")
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("refund_worker.release_error")
		}
		return
	}

	var notification *storage.HandlerNotificationRequest
	if claim.Request.HandlerURL != nil {
		notification = &storage.HandlerNotificationRequest{
			ID:         uuid.NewString(),
			CreatedAt:  time.Now().UTC(),
			HandlerURL: *claim.Request.HandlerURL,
			Data:       buildRefundNotificationPayload(claim.Refund.ID, status, cancellationReason, claim.Request.ExtraData),
		}
	}

	if err := claim.Commit(ctx, storage.PaymentStatus(status), externalID, cancellationReason, notification); err != nil {
		log.Error().Err(err).Str("refund_id", claim.Refund.ID).Msg("refund_worker.commit_error")
		return
	}
	outcome = "settled"
}
