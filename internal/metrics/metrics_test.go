package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}

	// Verify all metrics are initialized
	if m.ClaimsTotal == nil {
		t.Error("ClaimsTotal should be initialized")
	}
	if m.ClaimOutcomeTotal == nil {
		t.Error("ClaimOutcomeTotal should be initialized")
	}
	if m.ClaimDuration == nil {
		t.Error("ClaimDuration should be initialized")
	}
	if m.ProviderCallsTotal == nil {
		t.Error("ProviderCallsTotal should be initialized")
	}
	if m.ProviderCallDuration == nil {
		t.Error("ProviderCallDuration should be initialized")
	}
	if m.EventsPublishedTotal == nil {
		t.Error("EventsPublishedTotal should be initialized")
	}
	if m.WebhooksTotal == nil {
		t.Error("WebhooksTotal should be initialized")
	}
	if m.AdmissionRequestsTotal == nil {
		t.Error("AdmissionRequestsTotal should be initialized")
	}
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

func TestObserveClaim(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveClaim("poll", "settled", 120*time.Millisecond)
	m.ObserveClaim("poll", "released", 80*time.Millisecond)
	m.ObserveClaim("refund", "released", 30*time.Millisecond)

	claims := promtest.ToFloat64(m.ClaimsTotal.WithLabelValues("poll"))
	if claims != 2 {
		t.Errorf("expected 2 poll claims, got %.0f", claims)
	}

	settled := promtest.ToFloat64(m.ClaimOutcomeTotal.WithLabelValues("poll", "settled"))
	if settled != 1 {
		t.Errorf("expected 1 settled poll claim, got %.0f", settled)
	}

	released := promtest.ToFloat64(m.ClaimOutcomeTotal.WithLabelValues("refund", "released"))
	if released != 1 {
		t.Errorf("expected 1 released refund claim, got %.0f", released)
	}
}

func TestObserveProviderCall(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		result   string
		want     float64
	}{
		{
			name:     "successful call",
			endpoint: "get_payment",
			result:   "ok",
			want:     1,
		},
		{
			name:     "transport failure",
			endpoint: "create_refund",
			result:   "error",
			want:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset registry for each test
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveProviderCall(tt.endpoint, tt.result, 100*time.Millisecond)

			calls := promtest.ToFloat64(m.ProviderCallsTotal.WithLabelValues(tt.endpoint, tt.result))
			if calls != tt.want {
				t.Errorf("expected %.0f provider calls, got %.0f", tt.want, calls)
			}
		})
	}
}

func TestObserveEventPublished(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveEventPublished("payment")
	m.ObserveEventPublished("payment")
	m.ObserveEventPublished("refund")

	payments := promtest.ToFloat64(m.EventsPublishedTotal.WithLabelValues("payment"))
	if payments != 2 {
		t.Errorf("expected 2 payment events, got %.0f", payments)
	}

	refunds := promtest.ToFloat64(m.EventsPublishedTotal.WithLabelValues("refund"))
	if refunds != 1 {
		t.Errorf("expected 1 refund event, got %.0f", refunds)
	}
}

func TestObserveWebhook(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveWebhook("success", 500*time.Millisecond)
	m.ObserveWebhook("failure", 2*time.Second)

	success := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("success"))
	if success != 1 {
		t.Errorf("expected 1 successful webhook delivery, got %.0f", success)
	}

	failure := promtest.ToFloat64(m.WebhooksTotal.WithLabelValues("failure"))
	if failure != 1 {
		t.Errorf("expected 1 failed webhook delivery, got %.0f", failure)
	}
}

func TestObserveAdmissionRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveAdmissionRequest("create_payment", "200")
	m.ObserveAdmissionRequest("create_refund", "401")

	created := promtest.ToFloat64(m.AdmissionRequestsTotal.WithLabelValues("create_payment", "200"))
	if created != 1 {
		t.Errorf("expected 1 create_payment request, got %.0f", created)
	}
}

func TestObserveDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDBQuery("claim_payment_request", 50*time.Millisecond)

	// For histograms, verify the metric exists and was created successfully
	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

func TestMeasureDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	done := MeasureDBQuery(m, "get_payment")
	done()

	// Nil collector must be a no-op rather than a panic.
	MeasureDBQuery(nil, "get_payment")()
	RecordDBQuery(nil, "get_payment", time.Millisecond)
}
