package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("storage: not found")

// ErrNoWork is returned by claim methods when no claimable row exists.
// It is not a failure for a poll loop: the caller sleeps until the next tick.
var ErrNoWork = errors.New("storage: no claimable work")

// Store is the durable backing for the gateway's entities and work queues.
//
// Every Claim* method locks exactly one queue row with SELECT ... FOR UPDATE
// SKIP LOCKED inside a transaction and returns a claim handle that must be
// resolved with exactly one of its Commit or Release methods — never both,
// never neither. The row stays locked, invisible to every other worker and
// every other process, until the claim resolves.
type Store interface {
	// CreatePayment inserts a Payment and its PaymentRequest atomically.
	CreatePayment(ctx context.Context, payment Payment, request PaymentRequest) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (Payment, error)

	// CreateRefund inserts a Refund and its RefundRequest atomically.
	CreateRefund(ctx context.Context, refund Refund, request RefundRequest) error
	GetRefund(ctx context.Context, id string) (Refund, error)

	// ClaimPaymentRequest locks the oldest PaymentRequest whose
	// processed_at is NULL or older than olderThan, along with its Payment.
	// Returns ErrNoWork if none is claimable.
	ClaimPaymentRequest(ctx context.Context, olderThan time.Duration) (*PaymentClaim, error)

	// ClaimRefundRequest locks the oldest claimable RefundRequest and
	// reads its Refund and the Refund's parent Payment. Returns ErrNoWork
	// if none is claimable.
	ClaimRefundRequest(ctx context.Context, olderThan time.Duration) (*RefundClaim, error)

	// ClaimNotificationRequest locks the oldest claimable
	// HandlerNotificationRequest. Returns ErrNoWork if none is claimable.
	ClaimNotificationRequest(ctx context.Context, olderThan time.Duration) (*NotificationClaim, error)

	Close() error
}

// PaymentClaim is a locked PaymentRequest plus its Payment, held open in a
// transaction until Commit or Release resolves it.
type PaymentClaim struct {
	Request PaymentRequest
	Payment Payment

	resolved bool
	commit   func(ctx context.Context, status PaymentStatus, cancellationReason *string, notification *HandlerNotificationRequest) error
	release  func(ctx context.Context) error
}

// Commit persists the Payment's new terminal status, inserts the handler
// notification, and deletes the PaymentRequest, all within the claim's
// transaction. Call only after any external event has already been
// published and acknowledged.
func (c *PaymentClaim) Commit(ctx context.Context, status PaymentStatus, cancellationReason *string, notification *HandlerNotificationRequest) error {
	if c.resolved {
		return errAlreadyResolved
	}
	c.resolved = true
	return c.commit(ctx, status, cancellationReason, notification)
}

// Release leaves the Payment and PaymentRequest untouched except for
// bumping processed_at, and releases the row lock. Use this when the
// provider reports the payment is still pending.
func (c *PaymentClaim) Release(ctx context.Context) error {
	if c.resolved {
		return errAlreadyResolved
	}
	c.resolved = true
	return c.release(ctx)
}

// RefundClaim is a locked RefundRequest plus its Refund and the Refund's
// parent Payment, held open in a transaction.
type RefundClaim struct {
	Request RefundRequest
	Refund  Refund
	Payment Payment

	resolved bool
	commit   func(ctx context.Context, status PaymentStatus, externalID *string, cancellationReason *string, notification *HandlerNotificationRequest) error
	release  func(ctx context.Context) error
}

// Commit persists the Refund's new terminal status, inserts the handler
// notification, and deletes the RefundRequest, within the claim's
// transaction.
func (c *RefundClaim) Commit(ctx context.Context, status PaymentStatus, externalID *string, cancellationReason *string, notification *HandlerNotificationRequest) error {
	if c.resolved {
		return errAlreadyResolved
	}
	c.resolved = true
	return c.commit(ctx, status, externalID, cancellationReason, notification)
}

// Release leaves the Refund and RefundRequest untouched except for bumping
// processed_at, and releases the row lock.
func (c *RefundClaim) Release(ctx context.Context) error {
	if c.resolved {
		return errAlreadyResolved
	}
	c.resolved = true
	return c.release(ctx)
}

// NotificationClaim is a locked HandlerNotificationRequest, held open in a
// transaction.
type NotificationClaim struct {
	Request HandlerNotificationRequest

	resolved bool
	commit   func(ctx context.Context) error
	release  func(ctx context.Context) error
}

// Commit deletes the HandlerNotificationRequest after a successful delivery.
func (c *NotificationClaim) Commit(ctx context.Context) error {
	if c.resolved {
		return errAlreadyResolved
	}
	c.resolved = true
	return c.commit(ctx)
}

// Release bumps processed_at and releases the row lock without deleting it,
// so the fixed-interval retry loop picks it up again next tick.
func (c *NotificationClaim) Release(ctx context.Context) error {
	if c.resolved {
		return errAlreadyResolved
	}
	c.resolved = true
	return c.release(ctx)
}

var errAlreadyResolved = errors.New("storage: claim already resolved")
