package storage

import (
	"encoding/json"
	"time"
)

// PaymentStatus is the lifecycle state of a Payment or Refund. Terminal
// states (Succeeded, Cancelled) are sticky: no row transitions out of them.
type PaymentStatus string

const (
	StatusCreated   PaymentStatus = "created"
	StatusSucceeded PaymentStatus = "succeeded"
	StatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether the status is sticky.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusCancelled
}

// RawJSON is an opaque JSON value. Entities carry it without parsing it;
// only the provider client and worker handlers inspect specific fields.
type RawJSON json.RawMessage

// MarshalJSON passes the raw bytes through unchanged.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores the raw bytes unchanged.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// Payment is a charge attempt against the provider.
type Payment struct {
	ID                         string
	ExternalID                 string
	UserID                     string
	CreatedAt                  time.Time
	AmountValue                string // decimal major-unit string, e.g. "100.00"
	Currency                   string
	Status                     PaymentStatus
	ExternalCancellationReason *string
}

// PaymentRequest is a work item: "observe this Payment until terminal and notify".
type PaymentRequest struct {
	ID          string
	PaymentID   string
	HandlerURL  *string
	ExtraData   RawJSON
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Refund is a refund attempt against a Payment.
type Refund struct {
	ID                         string
	PaymentID                  string
	ExternalID                 *string
	CreatedAt                  time.Time
	Status                     PaymentStatus
	ExternalCancellationReason *string
	AmountValue                string
	Currency                   string
}

// RefundRequest is a work item that drives a Refund through the provider.
// Its own ID is the provider idempotency key for the create-refund call.
type RefundRequest struct {
	ID          string
	RefundID    string
	HandlerURL  *string
	ExtraData   RawJSON
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// HandlerNotificationRequest is an outbound webhook outbox row.
type HandlerNotificationRequest struct {
	ID          string
	CreatedAt   time.Time
	ProcessedAt *time.Time
	HandlerURL  string
	Data        RawJSON
}
