package events

import (
	"context"
	"testing"
)

func TestFake_PublishBeforeStartFails(t *testing.T) {
	f := &Fake{}
	err := f.PublishPayment(context.Background(), PaymentEvent{ID: "p1", Status: "succeeded"})
	if err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestFake_PublishAfterStart(t *testing.T) {
	f := NewFake()
	err := f.PublishPayment(context.Background(), PaymentEvent{ID: "p1", Status: "succeeded"})
	if err != nil {
		t.Fatalf("PublishPayment() error = %v", err)
	}
	if len(f.PaymentEvents) != 1 || f.PaymentEvents[0].ID != "p1" {
		t.Errorf("expected recorded event, got %+v", f.PaymentEvents)
	}
}

func TestFake_PublishAfterStop(t *testing.T) {
	f := NewFake()
	if err := f.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := f.PublishRefund(context.Background(), RefundEvent{ID: "r1", Status: "succeeded"}); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted after Stop, got %v", err)
	}
}

func TestFake_FailNextIsConsumedOnce(t *testing.T) {
	f := NewFake()
	boom := ErrNotStarted
	f.FailNext = boom

	if err := f.PublishPayment(context.Background(), PaymentEvent{ID: "p1"}); err != boom {
		t.Fatalf("expected FailNext error, got %v", err)
	}
	if err := f.PublishPayment(context.Background(), PaymentEvent{ID: "p2"}); err != nil {
		t.Fatalf("expected second call to succeed, got %v", err)
	}
	if len(f.PaymentEvents) != 1 {
		t.Errorf("expected only the succeeding call recorded, got %d", len(f.PaymentEvents))
	}
}

var _ EventPublisher = (*Fake)(nil)
var _ EventPublisher = (*Publisher)(nil)
