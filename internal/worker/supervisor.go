package worker

import "context"

// loop is satisfied by each of the three workers.
type loop interface {
	Start(ctx context.Context)
	Stop()
}

// Supervisor starts and stops the poll, refund, and notify loops together.
// Cancelling ctx stops each loop at its next tick boundary; Stop blocks
// until all three have returned.
type Supervisor struct {
	loops []loop
}

// NewSupervisor assembles a Supervisor over the three core workers.
func NewSupervisor(poll *PollWorker, refund *RefundWorker, notify *NotifyWorker) *Supervisor {
	return &Supervisor{loops: []loop{poll, refund, notify}}
}

// Start launches every loop.
func (s *Supervisor) Start(ctx context.Context) {
	for _, l := range s.loops {
		l.Start(ctx)
	}
}

// Stop stops every loop and waits for each to finish its in-flight claim.
func (s *Supervisor) Stop() {
	for _, l := range s.loops {
		l.Stop()
	}
}
