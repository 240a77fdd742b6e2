package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests that exercise worker and
// facade logic without a database. Claim discipline is approximated with a
// mutex plus a set of open claims per table: a row with an unresolved claim
// is invisible to further claims, which is the same visibility SKIP LOCKED
// gives a real deployment.
type MemoryStore struct {
	mu sync.Mutex

	payments        map[string]Payment
	paymentsByExtID map[string]string
	paymentRequests map[string]PaymentRequest

	refunds        map[string]Refund
	refundRequests map[string]RefundRequest

	notifications map[string]HandlerNotificationRequest

	claimedPaymentRequests map[string]bool
	claimedRefundRequests  map[string]bool
	claimedNotifications   map[string]bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:               make(map[string]Payment),
		paymentsByExtID:        make(map[string]string),
		paymentRequests:        make(map[string]PaymentRequest),
		refunds:                make(map[string]Refund),
		refundRequests:         make(map[string]RefundRequest),
		notifications:          make(map[string]HandlerNotificationRequest),
		claimedPaymentRequests: make(map[string]bool),
		claimedRefundRequests:  make(map[string]bool),
		claimedNotifications:   make(map[string]bool),
	}
}

func (m *MemoryStore) Close() error { return nil }

// SeedNotification inserts a HandlerNotificationRequest directly, for tests
// that need a notification to claim without driving it through a payment
// or refund settlement first.
func (m *MemoryStore) SeedNotification(req HandlerNotificationRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[req.ID] = req
}

func (m *MemoryStore) CreatePayment(ctx context.Context, payment Payment, request PaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = payment
	m.paymentsByExtID[payment.ExternalID] = payment.ID
	m.paymentRequests[request.ID] = request
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) GetPaymentByExternalID(ctx context.Context, externalID string) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.paymentsByExtID[externalID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return m.payments[id], nil
}

func (m *MemoryStore) CreateRefund(ctx context.Context, refund Refund, request RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[refund.ID] = refund
	m.refundRequests[request.ID] = request
	return nil
}

func (m *MemoryStore) GetRefund(ctx context.Context, id string) (Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return Refund{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) ClaimPaymentRequest(ctx context.Context, olderThan time.Duration) (*PaymentClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.oldestPaymentRequest(time.Now().UTC().Add(-olderThan))
	if !ok {
		return nil, ErrNoWork
	}
	m.claimedPaymentRequests[req.ID] = true
	payment := m.payments[req.PaymentID]

	claim := &PaymentClaim{Request: req, Payment: payment}
	claim.commit = func(ctx context.Context, status PaymentStatus, cancellationReason *string, notification *HandlerNotificationRequest) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.claimedPaymentRequests, req.ID)
		p := m.payments[payment.ID]
		p.Status = status
		p.ExternalCancellationReason = cancellationReason
		m.payments[payment.ID] = p
		if notification != nil {
			m.notifications[notification.ID] = *notification
		}
		delete(m.paymentRequests, req.ID)
		return nil
	}
	claim.release = func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.claimedPaymentRequests, req.ID)
		now := time.Now().UTC()
		req.ProcessedAt = &now
		m.paymentRequests[req.ID] = req
		return nil
	}
	return claim, nil
}

func (m *MemoryStore) oldestPaymentRequest(cutoff time.Time) (PaymentRequest, bool) {
	var candidates []PaymentRequest
	for _, r := range m.paymentRequests {
		if m.claimedPaymentRequests[r.ID] || !claimable(r.ProcessedAt, cutoff) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return PaymentRequest{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return processedAtKey(candidates[i].ProcessedAt).Before(processedAtKey(candidates[j].ProcessedAt))
	})
	return candidates[0], true
}

func (m *MemoryStore) ClaimRefundRequest(ctx context.Context, olderThan time.Duration) (*RefundClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.oldestRefundRequest(time.Now().UTC().Add(-olderThan))
	if !ok {
		return nil, ErrNoWork
	}
	m.claimedRefundRequests[req.ID] = true
	refund := m.refunds[req.RefundID]
	payment := m.payments[refund.PaymentID]

	claim := &RefundClaim{Request: req, Refund: refund, Payment: payment}
	claim.commit = func(ctx context.Context, status PaymentStatus, externalID *string, cancellationReason *string, notification *HandlerNotificationRequest) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.claimedRefundRequests, req.ID)
		r := m.refunds[refund.ID]
		r.Status = status
		r.ExternalID = externalID
		r.ExternalCancellationReason = cancellationReason
		m.refunds[refund.ID] = r
		if notification != nil {
			m.notifications[notification.ID] = *notification
		}
		delete(m.refundRequests, req.ID)
		return nil
	}
	claim.release = func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.claimedRefundRequests, req.ID)
		now := time.Now().UTC()
		req.ProcessedAt = &now
		m.refundRequests[req.ID] = req
		return nil
	}
	return claim, nil
}

func (m *MemoryStore) oldestRefundRequest(cutoff time.Time) (RefundRequest, bool) {
	var candidates []RefundRequest
	for _, r := range m.refundRequests {
		if m.claimedRefundRequests[r.ID] || !claimable(r.ProcessedAt, cutoff) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return RefundRequest{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return processedAtKey(candidates[i].ProcessedAt).Before(processedAtKey(candidates[j].ProcessedAt))
	})
	return candidates[0], true
}

func (m *MemoryStore) ClaimNotificationRequest(ctx context.Context, olderThan time.Duration) (*NotificationClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.oldestNotificationRequest(time.Now().UTC().Add(-olderThan))
	if !ok {
		return nil, ErrNoWork
	}
	m.claimedNotifications[req.ID] = true

	claim := &NotificationClaim{Request: req}
	claim.commit = func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.claimedNotifications, req.ID)
		delete(m.notifications, req.ID)
		return nil
	}
	claim.release = func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.claimedNotifications, req.ID)
		now := time.Now().UTC()
		req.ProcessedAt = &now
		m.notifications[req.ID] = req
		return nil
	}
	return claim, nil
}

func (m *MemoryStore) oldestNotificationRequest(cutoff time.Time) (HandlerNotificationRequest, bool) {
	var candidates []HandlerNotificationRequest
	for _, r := range m.notifications {
		if m.claimedNotifications[r.ID] || !claimable(r.ProcessedAt, cutoff) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return HandlerNotificationRequest{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return processedAtKey(candidates[i].ProcessedAt).Before(processedAtKey(candidates[j].ProcessedAt))
	})
	return candidates[0], true
}

// claimable reports whether a request row is due: never processed, or last
// processed at or before the cutoff.
func claimable(processedAt *time.Time, cutoff time.Time) bool {
	return processedAt == nil || !processedAt.After(cutoff)
}

// processedAtKey treats a nil ProcessedAt as older than any set value,
// matching ORDER BY processed_at ASC NULLS FIRST.
func processedAtKey(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
