package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/events"
	"github.com/paygateway/server/internal/provider"
	"github.com/paygateway/server/internal/storage"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *provider.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return provider.NewClient(config.ProviderConfig{
		BaseURL:   server.URL,
		ShopID:    "shop-1",
		SecretKey: "secret",
		Timeout:   config.Duration{Duration: 2 * time.Second},
	}, nil, nil)
}

func seedPayment(t *testing.T, store storage.Store, handlerURL string) (storage.Payment, storage.PaymentRequest) {
	t.Helper()
	payment := storage.Payment{
		ID:          "pay-1",
		ExternalID:  "ext-1",
		UserID:      "user-1",
		CreatedAt:   time.Now().UTC(),
		AmountValue: "100.00",
		Currency:    "RUB",
		Status:      storage.StatusCreated,
	}
	req := storage.PaymentRequest{
		ID:        "pay-req-1",
		PaymentID: payment.ID,
		CreatedAt: time.Now().UTC(),
	}
	if handlerURL != "" {
		req.HandlerURL = &handlerURL
	}
	if err := store.CreatePayment(context.Background(), payment, req); err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}
	return payment, req
}

// Happy charge: the provider reports success and the payment settles with
// the event published and the request row cleared.
func TestPollWorker_HappyCharge(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPayment(t, store, "")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.PaymentResponse{ID: "ext-1", Status: "succeeded"})
	})
	pub := events.NewFake()

	w := NewPollWorker(store, p, pub, nil, time.Hour)
	w.tick(context.Background())

	payment, err := store.GetPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetPayment() error = %v", err)
	}
	if payment.Status != storage.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", payment.Status)
	}
	if len(pub.PaymentEvents) != 1 || pub.PaymentEvents[0].Status != "succeeded" {
		t.Errorf("expected a published succeeded event, got %+v", pub.PaymentEvents)
	}

	if _, err := store.ClaimPaymentRequest(context.Background(), 0); err != storage.ErrNoWork {
		t.Errorf("expected request row to be cleared, got err=%v", err)
	}
}

// A request with a handler URL enqueues a webhook outbox row carrying the
// same payload as the topic event, in the same commit that clears the
// request.
func TestPollWorker_EnqueuesHandlerNotification(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPayment(t, store, "https://client.example/hook")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.PaymentResponse{ID: "ext-1", Status: "succeeded"})
	})
	pub := events.NewFake()

	w := NewPollWorker(store, p, pub, nil, time.Hour)
	w.tick(context.Background())

	claim, err := store.ClaimNotificationRequest(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected an enqueued handler notification, got %v", err)
	}
	if claim.Request.HandlerURL != "https://client.example/hook" {
		t.Errorf("unexpected handler url %q", claim.Request.HandlerURL)
	}

	var payload struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(claim.Request.Data), &payload); err != nil {
		t.Fatalf("decode notification payload: %v", err)
	}
	if payload.ID != "pay-1" || payload.Status != "succeeded" {
		t.Errorf("unexpected payload %+v", payload)
	}
	_ = claim.Release(context.Background())
}

// A cancelled payment records the provider's cancellation reason on the
// Payment row, but the payment webhook payload stays {id, status,
// extra_data}: the reason field belongs to the refund schema only.
func TestPollWorker_CancelledPaymentNotificationOmitsReason(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPayment(t, store, "https://client.example/hook")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.PaymentResponse{
			ID:                  "ext-1",
			Status:              "canceled",
			CancellationDetails: &provider.CancellationDetails{Reason: "expired_on_confirmation"},
		})
	})
	pub := events.NewFake()

	w := NewPollWorker(store, p, pub, nil, time.Hour)
	w.tick(context.Background())

	payment, err := store.GetPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetPayment() error = %v", err)
	}
	if payment.Status != storage.StatusCancelled {
		t.Errorf("expected cancelled, got %s", payment.Status)
	}
	if payment.ExternalCancellationReason == nil || *payment.ExternalCancellationReason != "expired_on_confirmation" {
		t.Errorf("expected the cancellation reason stored on the payment, got %v", payment.ExternalCancellationReason)
	}

	claim, err := store.ClaimNotificationRequest(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected an enqueued handler notification, got %v", err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(claim.Request.Data), &payload); err != nil {
		t.Fatalf("decode notification payload: %v", err)
	}
	if _, ok := payload["external_cancellation_reason"]; ok {
		t.Errorf("payment webhook payload must not carry external_cancellation_reason: %s", claim.Request.Data)
	}
	if string(payload["status"]) != `"cancelled"` {
		t.Errorf("expected normalized cancelled status, got %s", payload["status"])
	}
	_ = claim.Release(context.Background())
}

// Provider pending: the loop releases the claim without mutating state or
// publishing anything, and the row remains claimable on the next tick.
func TestPollWorker_ProviderPending(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPayment(t, store, "")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.PaymentResponse{ID: "ext-1", Status: "pending"})
	})
	pub := events.NewFake()

	w := NewPollWorker(store, p, pub, nil, time.Hour)
	w.tick(context.Background())

	payment, err := store.GetPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetPayment() error = %v", err)
	}
	if payment.Status != storage.StatusCreated {
		t.Errorf("expected payment to remain created while pending, got %s", payment.Status)
	}
	if len(pub.PaymentEvents) != 0 {
		t.Errorf("expected no event published for a pending payment, got %+v", pub.PaymentEvents)
	}
}

func seedRefund(t *testing.T, store storage.Store, handlerURL string) {
	t.Helper()
	payment := storage.Payment{
		ID:          "pay-2",
		ExternalID:  "ext-2",
		UserID:      "user-1",
		CreatedAt:   time.Now().UTC(),
		AmountValue: "100.00",
		Currency:    "RUB",
		Status:      storage.StatusSucceeded,
	}
	processedAt := time.Now().UTC()
	paymentReq := storage.PaymentRequest{ID: "pay-req-2", PaymentID: payment.ID, CreatedAt: processedAt, ProcessedAt: &processedAt}
	if err := store.CreatePayment(context.Background(), payment, paymentReq); err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	refund := storage.Refund{
		ID:          "ref-1",
		PaymentID:   payment.ID,
		CreatedAt:   time.Now().UTC(),
		Status:      storage.StatusCreated,
		AmountValue: "50.00",
		Currency:    "RUB",
	}
	refundReq := storage.RefundRequest{ID: "ref-req-1", RefundID: refund.ID, CreatedAt: time.Now().UTC()}
	if handlerURL != "" {
		refundReq.HandlerURL = &handlerURL
	}
	if err := store.CreateRefund(context.Background(), refund, refundReq); err != nil {
		t.Fatalf("CreateRefund() error = %v", err)
	}
}

// Happy refund: the provider accepts the refund and it settles as succeeded.
func TestRefundWorker_HappyRefund(t *testing.T) {
	store := storage.NewMemoryStore()
	seedRefund(t, store, "")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.RefundResponse{ID: "ext-ref-1", Status: "succeeded"})
	})
	pub := events.NewFake()

	w := NewRefundWorker(store, p, pub, nil, time.Hour)
	w.tick(context.Background())

	refund, err := store.GetRefund(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("GetRefund() error = %v", err)
	}
	if refund.Status != storage.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", refund.Status)
	}
	if refund.ExternalID == nil || *refund.ExternalID != "ext-ref-1" {
		t.Errorf("expected external id to be recorded, got %v", refund.ExternalID)
	}
	if len(pub.RefundEvents) != 1 {
		t.Errorf("expected a published refund event, got %+v", pub.RefundEvents)
	}
}

// Refund over-amount: the provider's 400 domain error settles the refund
// as cancelled with the description recorded as the cancellation reason.
func TestRefundWorker_OverAmount(t *testing.T) {
	store := storage.NewMemoryStore()
	seedRefund(t, store, "")

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(provider.DomainErrorBody{
			Type: "error", Code: "invalid_request", Parameter: "amount.value",
			Description: "refund amount exceeds the payment amount",
		})
	})
	pub := events.NewFake()

	w := NewRefundWorker(store, p, pub, nil, time.Hour)
	w.tick(context.Background())

	refund, err := store.GetRefund(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("GetRefund() error = %v", err)
	}
	if refund.Status != storage.StatusCancelled {
		t.Errorf("expected cancelled, got %s", refund.Status)
	}
	if refund.ExternalCancellationReason == nil || *refund.ExternalCancellationReason != "refund amount exceeds the payment amount" {
		t.Errorf("expected the domain description as the cancellation reason, got %v", refund.ExternalCancellationReason)
	}
}

// Duplicate refund call: the idempotency key passed to the provider is the
// RefundRequest's own id, so a retried call after a crash is indistinguishable
// from the first attempt to the provider.
func TestRefundWorker_IdempotencyKeyIsRequestID(t *testing.T) {
	store := storage.NewMemoryStore()
	seedRefund(t, store, "")

	var gotKey string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotence-Key")
		json.NewEncoder(w).Encode(provider.RefundResponse{ID: "ext-ref-1", Status: "succeeded"})
	})
	pub := events.NewFake()

	w := NewRefundWorker(store, p, pub, nil, time.Hour)
	w.tick(context.Background())

	if gotKey != "ref-req-1" {
		t.Errorf("expected idempotency key to equal the refund request id, got %q", gotKey)
	}
}

// Handler unreachable then reachable: the notify worker releases a failed
// delivery for retry, and a later attempt against a now-healthy endpoint
// clears the request.
func TestNotifyWorker_UnreachableThenReachable(t *testing.T) {
	store := storage.NewMemoryStore()

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	req := storage.HandlerNotificationRequest{
		ID:         "notif-1",
		CreatedAt:  time.Now().UTC(),
		HandlerURL: server.URL,
		Data:       storage.RawJSON(`{"id":"pay-1","status":"succeeded"}`),
	}
	store.SeedNotification(req)

	w := NewNotifyWorker(store, nil, nil, time.Millisecond, 2*time.Second)

	w.tick(context.Background())
	if attempts != 1 {
		t.Fatalf("expected one attempt, got %d", attempts)
	}

	// The released row becomes due again once the retry interval elapses.
	time.Sleep(5 * time.Millisecond)

	w.tick(context.Background())
	if attempts != 2 {
		t.Fatalf("expected a second attempt after release, got %d", attempts)
	}

	if _, err := store.ClaimNotificationRequest(context.Background(), 0); err != storage.ErrNoWork {
		t.Errorf("expected the notification request to be cleared after success, got err=%v", err)
	}
}
