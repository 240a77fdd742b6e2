package events

import (
	"context"
	"sync"
)

// Fake records published events in memory for tests that exercise worker
// logic without a broker.
type Fake struct {
	mu      sync.Mutex
	started bool

	PaymentEvents []PaymentEvent
	RefundEvents  []RefundEvent

	// FailNext, if set, is returned once by the next Publish call and then cleared.
	FailNext error
}

// NewFake returns a started Fake ready to record events.
func NewFake() *Fake {
	return &Fake{started: true}
}

func (f *Fake) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

func (f *Fake) PublishPayment(ctx context.Context, event PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ErrNotStarted
	}
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	f.PaymentEvents = append(f.PaymentEvents, event)
	return nil
}

func (f *Fake) PublishRefund(ctx context.Context, event RefundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ErrNotStarted
	}
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	f.RefundEvents = append(f.RefundEvents, event)
	return nil
}
