package storage

import (
	"context"
	"testing"
	"time"
)

func newTestPayment(id string) (Payment, PaymentRequest) {
	now := time.Now().UTC()
	payment := Payment{
		ID:          id,
		ExternalID:  "ext-" + id,
		UserID:      "user-1",
		CreatedAt:   now,
		AmountValue: "100.00",
		Currency:    "RUB",
		Status:      StatusCreated,
	}
	request := PaymentRequest{
		ID:        id,
		PaymentID: id,
		CreatedAt: now,
	}
	return payment, request
}

func TestMemoryStore_ClaimPaymentRequest_NoWork(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.ClaimPaymentRequest(context.Background(), 0); err != ErrNoWork {
		t.Fatalf("expected ErrNoWork, got %v", err)
	}
}

func TestMemoryStore_ClaimPaymentRequest_CommitRemovesRequest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payment, request := newTestPayment("pay-1")
	if err := store.CreatePayment(ctx, payment, request); err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	claim, err := store.ClaimPaymentRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimPaymentRequest() error = %v", err)
	}
	if claim.Payment.ID != payment.ID {
		t.Fatalf("claimed wrong payment: %s", claim.Payment.ID)
	}

	if err := claim.Commit(ctx, StatusSucceeded, nil, nil); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if _, err := store.ClaimPaymentRequest(ctx, 0); err != ErrNoWork {
		t.Fatalf("expected request to be gone after commit, got %v", err)
	}

	got, err := store.GetPayment(ctx, payment.ID)
	if err != nil {
		t.Fatalf("GetPayment() error = %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("expected status succeeded, got %s", got.Status)
	}
}

func TestMemoryStore_ClaimPaymentRequest_ReleaseKeepsRequest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payment, request := newTestPayment("pay-2")
	if err := store.CreatePayment(ctx, payment, request); err != nil {
		t.Fatalf("CreatePayment() error = %v", err)
	}

	claim, err := store.ClaimPaymentRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimPaymentRequest() error = %v", err)
	}
	if err := claim.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	claim2, err := store.ClaimPaymentRequest(ctx, 0)
	if err != nil {
		t.Fatalf("expected to reclaim released request, got %v", err)
	}
	if claim2.Request.ID != request.ID {
		t.Errorf("expected same request to be reclaimed, got %s", claim2.Request.ID)
	}
	_ = claim2.Release(ctx)
}

func TestMemoryStore_ClaimPaymentRequest_OpenClaimIsInvisible(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payment, request := newTestPayment("pay-locked")
	_ = store.CreatePayment(ctx, payment, request)

	claim, err := store.ClaimPaymentRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimPaymentRequest() error = %v", err)
	}

	// A second worker must not see the row while the first claim is open.
	if _, err := store.ClaimPaymentRequest(ctx, 0); err != ErrNoWork {
		t.Fatalf("expected locked row to be skipped, got %v", err)
	}

	if err := claim.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := store.ClaimPaymentRequest(ctx, 0); err != nil {
		t.Errorf("expected row claimable again after release, got %v", err)
	}
}

func TestMemoryStore_ClaimPaymentRequest_RecentlyProcessedNotDue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payment, request := newTestPayment("pay-fresh")
	recent := time.Now().UTC().Add(-time.Second)
	request.ProcessedAt = &recent
	_ = store.CreatePayment(ctx, payment, request)

	// Processed one second ago: not yet due with a one-hour interval.
	if _, err := store.ClaimPaymentRequest(ctx, time.Hour); err != ErrNoWork {
		t.Fatalf("expected recently released row to be skipped, got %v", err)
	}

	// Due once the interval has elapsed.
	claim, err := store.ClaimPaymentRequest(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("expected row due after interval, got %v", err)
	}
	_ = claim.Release(ctx)
}

func TestMemoryStore_Claim_DoubleResolveFails(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payment, request := newTestPayment("pay-3")
	_ = store.CreatePayment(ctx, payment, request)

	claim, err := store.ClaimPaymentRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimPaymentRequest() error = %v", err)
	}
	if err := claim.Release(ctx); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := claim.Release(ctx); err != errAlreadyResolved {
		t.Errorf("expected errAlreadyResolved on second resolve, got %v", err)
	}
}

func TestMemoryStore_ClaimOrdering_OldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC().Add(-time.Minute)

	paymentA, requestA := newTestPayment("pay-a")
	requestA.ProcessedAt = &older
	paymentB, requestB := newTestPayment("pay-b")
	requestB.ProcessedAt = &newer

	_ = store.CreatePayment(ctx, paymentA, requestA)
	_ = store.CreatePayment(ctx, paymentB, requestB)

	claim, err := store.ClaimPaymentRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimPaymentRequest() error = %v", err)
	}
	if claim.Request.ID != requestA.ID {
		t.Errorf("expected oldest processed_at claimed first, got %s", claim.Request.ID)
	}
	_ = claim.Release(ctx)
}

func TestMemoryStore_ClaimOrdering_UnprocessedBeforeProcessed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	processed := time.Now().UTC().Add(-time.Hour)

	paymentA, requestA := newTestPayment("pay-c")
	requestA.ProcessedAt = &processed // already seen once
	paymentB, requestB := newTestPayment("pay-d") // never seen, ProcessedAt nil

	_ = store.CreatePayment(ctx, paymentA, requestA)
	_ = store.CreatePayment(ctx, paymentB, requestB)

	claim, err := store.ClaimPaymentRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimPaymentRequest() error = %v", err)
	}
	if claim.Request.ID != requestB.ID {
		t.Errorf("expected unprocessed (NULLS FIRST) request claimed first, got %s", claim.Request.ID)
	}
	_ = claim.Release(ctx)
}

func TestMemoryStore_RefundClaim_CommitSetsExternalID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payment, paymentReq := newTestPayment("pay-5")
	_ = store.CreatePayment(ctx, payment, paymentReq)

	now := time.Now().UTC()
	refund := Refund{ID: "ref-1", PaymentID: payment.ID, CreatedAt: now, Status: StatusCreated, AmountValue: "50.00", Currency: "RUB"}
	refundReq := RefundRequest{ID: "ref-1", RefundID: "ref-1", CreatedAt: now}
	if err := store.CreateRefund(ctx, refund, refundReq); err != nil {
		t.Fatalf("CreateRefund() error = %v", err)
	}

	claim, err := store.ClaimRefundRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimRefundRequest() error = %v", err)
	}
	if claim.Payment.ID != payment.ID {
		t.Errorf("expected parent payment loaded, got %s", claim.Payment.ID)
	}

	extID := "yk-refund-123"
	if err := claim.Commit(ctx, StatusSucceeded, &extID, nil, nil); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, err := store.GetRefund(ctx, refund.ID)
	if err != nil {
		t.Fatalf("GetRefund() error = %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("expected status succeeded, got %s", got.Status)
	}
	if got.ExternalID == nil || *got.ExternalID != extID {
		t.Errorf("expected external id %q, got %v", extID, got.ExternalID)
	}
}

func TestMemoryStore_NotificationClaim_CommitDeletesRequest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.notifications["n1"] = HandlerNotificationRequest{
		ID:         "n1",
		CreatedAt:  time.Now().UTC(),
		HandlerURL: "https://example.com/webhook",
		Data:       RawJSON(`{"status":"succeeded"}`),
	}

	claim, err := store.ClaimNotificationRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimNotificationRequest() error = %v", err)
	}
	if err := claim.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if _, err := store.ClaimNotificationRequest(ctx, 0); err != ErrNoWork {
		t.Errorf("expected notification queue empty, got %v", err)
	}
}

func TestMemoryStore_NotificationClaim_ReleaseRetainsForRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.notifications["n2"] = HandlerNotificationRequest{
		ID:         "n2",
		CreatedAt:  time.Now().UTC(),
		HandlerURL: "https://example.com/webhook",
		Data:       RawJSON(`{"status":"succeeded"}`),
	}

	claim, err := store.ClaimNotificationRequest(ctx, 0)
	if err != nil {
		t.Fatalf("ClaimNotificationRequest() error = %v", err)
	}
	if err := claim.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := store.ClaimNotificationRequest(ctx, 0); err != nil {
		t.Fatalf("expected notification reclaimable after release, got %v", err)
	}
}
