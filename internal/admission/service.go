// Package admission is the HTTP-facing facade that accepts charge and
// refund requests, inserts the rows the background workers drive to
// completion, and returns the provider's confirmation URL for charges.
//
// No external refund side effect happens here: refund admission only
// records intent, which is what makes it crash-safe. The refund worker
// owns the provider call.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/money"
	"github.com/paygateway/server/internal/provider"
	"github.com/paygateway/server/internal/storage"
)

// ErrPaymentDoesntExist is returned when a refund references an unknown
// payment id.
var ErrPaymentDoesntExist = errors.New("admission: payment doesn't exist")

// ErrProviderUnavailable is returned when charge creation cannot reach the
// provider or the provider answers with something other than a created
// payment. The charge is not recorded locally in that case.
var ErrProviderUnavailable = errors.New("admission: external payment provider unavailable")

// ErrStorageFailure wraps a durable-store error. For a charge this means
// the provider-side payment exists but was not recorded locally; it will
// expire unconfirmed at the provider.
var ErrStorageFailure = errors.New("admission: storage failure")

// ChargeParams carries a validated charge admission request.
type ChargeParams struct {
	UserID     string
	Amount     money.Amount
	ReturnURL  string
	HandlerURL *string
	ExtraData  storage.RawJSON
}

// ChargeInfo is returned to the caller of POST /payment.
type ChargeInfo struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
}

// RefundParams carries a validated refund admission request.
type RefundParams struct {
	Amount     money.Amount
	HandlerURL *string
	ExtraData  storage.RawJSON
}

// RefundInfo is returned to the caller of POST /payment/{id}/refund.
type RefundInfo struct {
	RefundID string `json:"refund_id"`
}

// Service implements the admission operations over the shared store and
// provider client.
type Service struct {
	store    storage.Store
	provider *provider.Client
}

// NewService builds a Service.
func NewService(store storage.Store, p *provider.Client) *Service {
	return &Service{store: store, provider: p}
}

// Charge creates the payment at the provider with immediate capture, then
// inserts the Payment and its PaymentRequest atomically. The provider call
// happens first so a local insert failure leaves an orphan at the provider
// (never the reverse); an unconfirmed provider payment expires on its own.
func (s *Service) Charge(ctx context.Context, params ChargeParams) (ChargeInfo, error) {
	log := logger.FromContext(ctx)

	resp, err := s.provider.CreatePayment(ctx, params.Amount.String(), params.Amount.Currency, params.ReturnURL)
	if err != nil {
		log.Error().Err(err).Str("user_id", params.UserID).Msg("admission.charge.provider_error")
		return ChargeInfo{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.Confirmation == nil || resp.Confirmation.ConfirmationURL == "" {
		log.Error().Str("external_id", resp.ID).Msg("admission.charge.no_confirmation_url")
		return ChargeInfo{}, fmt.Errorf("%w: provider returned no confirmation url", ErrProviderUnavailable)
	}

	now := time.Now().UTC()
	payment := storage.Payment{
		ID:          uuid.NewString(),
		ExternalID:  resp.ID,
		UserID:      params.UserID,
		CreatedAt:   now,
		AmountValue: params.Amount.String(),
		Currency:    params.Amount.Currency,
		Status:      storage.StatusCreated,
	}
	request := storage.PaymentRequest{
		ID:         uuid.NewString(),
		PaymentID:  payment.ID,
		HandlerURL: params.HandlerURL,
		ExtraData:  params.ExtraData,
		CreatedAt:  now,
	}

	if err := s.store.CreatePayment(ctx, payment, request); err != nil {
		return ChargeInfo{}, fmt.Errorf("%w: record payment: %v", ErrStorageFailure, err)
	}

	log.Info().
		Str("payment_id", payment.ID).
		Str("external_id", payment.ExternalID).
		Str("amount", payment.AmountValue).
		Str("currency", payment.Currency).
		Msg("admission.charge.created")

	return ChargeInfo{PaymentID: payment.ID, ConfirmationURL: resp.Confirmation.ConfirmationURL}, nil
}

// Refund verifies the Payment exists and inserts the Refund and its
// RefundRequest atomically. The RefundRequest's id doubles as the provider
// idempotency key once the refund worker picks it up.
func (s *Service) Refund(ctx context.Context, paymentID string, params RefundParams) (RefundInfo, error) {
	log := logger.FromContext(ctx)

	if _, err := s.store.GetPayment(ctx, paymentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RefundInfo{}, ErrPaymentDoesntExist
		}
		return RefundInfo{}, fmt.Errorf("%w: load payment: %v", ErrStorageFailure, err)
	}

	now := time.Now().UTC()
	refund := storage.Refund{
		ID:          uuid.NewString(),
		PaymentID:   paymentID,
		CreatedAt:   now,
		Status:      storage.StatusCreated,
		AmountValue: params.Amount.String(),
		Currency:    params.Amount.Currency,
	}
	request := storage.RefundRequest{
		ID:         uuid.NewString(),
		RefundID:   refund.ID,
		HandlerURL: params.HandlerURL,
		ExtraData:  params.ExtraData,
		CreatedAt:  now,
	}

	if err := s.store.CreateRefund(ctx, refund, request); err != nil {
		return RefundInfo{}, fmt.Errorf("%w: record refund: %v", ErrStorageFailure, err)
	}

	log.Info().
		Str("refund_id", refund.ID).
		Str("payment_id", paymentID).
		Str("amount", refund.AmountValue).
		Msg("admission.refund.queued")

	return RefundInfo{RefundID: refund.ID}, nil
}
