package metrics

import (
	"time"
)

// MeasureDBQuery wraps a database operation with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureDBQuery(m, "claim_payment_request")()
//
// Or with explicit start time:
//
//	start := time.Now()
//	// ... do database work ...
//	metrics.RecordDBQuery(m, "claim_payment_request", time.Since(start))
func MeasureDBQuery(m *Metrics, operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, time.Since(start))
	}
}

// RecordDBQuery records a database query duration directly (when timing is already captured).
func RecordDBQuery(m *Metrics, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ObserveDBQuery(operation, duration)
}
