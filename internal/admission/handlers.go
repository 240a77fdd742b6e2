package admission

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/paygateway/server/internal/errors"
	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/metrics"
	"github.com/paygateway/server/internal/money"
	"github.com/paygateway/server/internal/storage"
	"github.com/paygateway/server/pkg/responders"
)

type handlers struct {
	svc     *Service
	metrics *metrics.Metrics
}

// chargeRequest is the POST /payment body. Clients that pass handler_url
// are notified of the terminal outcome with a POST; the handler must accept
// replays (delivery is at-least-once, keyed on the payload's id).
type chargeRequest struct {
	UserID     string          `json:"user_id"`
	Amount     string          `json:"amount"`
	Currency   string          `json:"currency"`
	ReturnURL  string          `json:"return_url"`
	HandlerURL *string         `json:"handler_url"`
	ExtraData  json.RawMessage `json:"extra_data"`
}

// refundRequest is the POST /payment/{payment_id}/refund body.
type refundRequest struct {
	Amount     string          `json:"amount"`
	Currency   string          `json:"currency"`
	HandlerURL *string         `json:"handler_url"`
	ExtraData  json.RawMessage `json:"extra_data"`
}

// createPayment handles POST /payment.
func (h *handlers) createPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req chargeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("admission.charge.invalid_body")
		h.writeError(w, "create_payment", apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	if req.UserID == "" {
		h.writeError(w, "create_payment", apierrors.ErrCodeMissingField, "user_id required")
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		h.writeError(w, "create_payment", apierrors.ErrCodeInvalidField, "user_id must be a uuid")
		return
	}
	if req.ReturnURL == "" {
		h.writeError(w, "create_payment", apierrors.ErrCodeMissingField, "return_url required")
		return
	}
	if req.Currency == "" {
		req.Currency = "RUB"
	}

	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		h.writeError(w, "create_payment", apierrors.ErrCodeInvalidAmount, err.Error())
		return
	}

	info, err := h.svc.Charge(r.Context(), ChargeParams{
		UserID:     req.UserID,
		Amount:     amount,
		ReturnURL:  req.ReturnURL,
		HandlerURL: req.HandlerURL,
		ExtraData:  storage.RawJSON(req.ExtraData),
	})
	if err != nil {
		if errors.Is(err, ErrProviderUnavailable) {
			h.writeError(w, "create_payment", apierrors.ErrCodeProviderUnavailable, "external payment provider unavailable")
			return
		}
		log.Error().Err(err).Msg("admission.charge.failed")
		if errors.Is(err, ErrStorageFailure) {
			h.writeError(w, "create_payment", apierrors.ErrCodeDatabaseError, "failed to record payment")
			return
		}
		h.writeError(w, "create_payment", apierrors.ErrCodeInternalError, "failed to create payment")
		return
	}

	h.observe("create_payment", http.StatusOK)
	responders.JSON(w, http.StatusOK, info)
}

// createRefund handles POST /payment/{payment_id}/refund.
func (h *handlers) createRefund(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	paymentID := chi.URLParam(r, "payment_id")
	if _, err := uuid.Parse(paymentID); err != nil {
		h.writeError(w, "create_refund", apierrors.ErrCodeInvalidField, "payment id must be a uuid")
		return
	}

	var req refundRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("admission.refund.invalid_body")
		h.writeError(w, "create_refund", apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	if req.Currency == "" {
		req.Currency = "RUB"
	}
	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		h.writeError(w, "create_refund", apierrors.ErrCodeInvalidAmount, err.Error())
		return
	}

	info, err := h.svc.Refund(r.Context(), paymentID, RefundParams{
		Amount:     amount,
		HandlerURL: req.HandlerURL,
		ExtraData:  storage.RawJSON(req.ExtraData),
	})
	if err != nil {
		if errors.Is(err, ErrPaymentDoesntExist) {
			h.writeError(w, "create_refund", apierrors.ErrCodePaymentNotFound, "payment not found")
			return
		}
		log.Error().Err(err).Str("payment_id", paymentID).Msg("admission.refund.failed")
		if errors.Is(err, ErrStorageFailure) {
			h.writeError(w, "create_refund", apierrors.ErrCodeDatabaseError, "failed to record refund")
			return
		}
		h.writeError(w, "create_refund", apierrors.ErrCodeInternalError, "failed to queue refund")
		return
	}

	h.observe("create_refund", http.StatusOK)
	responders.JSON(w, http.StatusOK, info)
}

// health handles GET /health.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) writeError(w http.ResponseWriter, route string, code apierrors.ErrorCode, message string) {
	h.observe(route, code.HTTPStatus())
	apierrors.WriteSimpleError(w, code, message)
}

func (h *handlers) observe(route string, status int) {
	if h.metrics != nil {
		h.metrics.ObserveAdmissionRequest(route, strconv.Itoa(status))
	}
}

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
