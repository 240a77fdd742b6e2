package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway's workers and facade.
type Metrics struct {
	ClaimsTotal       *prometheus.CounterVec
	ClaimOutcomeTotal *prometheus.CounterVec
	ClaimDuration     *prometheus.HistogramVec

	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	EventsPublishedTotal *prometheus.CounterVec

	WebhooksTotal   *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec

	AdmissionRequestsTotal *prometheus.CounterVec

	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// ClaimsTotal counts every claimed row the poll and refund loops
		// process, labeled by worker ("poll", "refund"). Notify deliveries
		// are counted by WebhooksTotal instead.
		ClaimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_claims_total",
				Help: "Total number of work-queue rows claimed for processing",
			},
			[]string{"worker"},
		),
		// ClaimOutcomeTotal counts what happened to a claimed row: "settled"
		// (a terminal status was committed) or "released" (left for a later
		// tick). The reason for a release is not broken out.
		ClaimOutcomeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_claim_outcome_total",
				Help: "Outcome of a claimed work-queue row",
			},
			[]string{"worker", "outcome"},
		),
		ClaimDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_claim_duration_seconds",
				Help:    "Wall time from claim acquisition to commit or release",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"worker"},
		),
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_calls_total",
				Help: "Total calls made to the external payment provider",
			},
			[]string{"endpoint", "result"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_provider_call_duration_seconds",
				Help:    "Duration of calls to the external payment provider",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_events_published_total",
				Help: "Total events acknowledged by the broker",
			},
			[]string{"topic"},
		),
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhooks_total",
				Help: "Total handler-notification delivery attempts",
			},
			[]string{"result"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_webhook_duration_seconds",
				Help:    "Duration of handler-notification POSTs",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"result"},
		),
		AdmissionRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_requests_total",
				Help: "Total requests handled by the admission facade",
			},
			[]string{"route", "status"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_db_query_duration_seconds",
				Help:    "Database query duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation"},
		),
	}
}

// ObserveClaim records a single claim attempt and its outcome.
func (m *Metrics) ObserveClaim(worker, outcome string, duration time.Duration) {
	m.ClaimsTotal.WithLabelValues(worker).Inc()
	m.ClaimOutcomeTotal.WithLabelValues(worker, outcome).Inc()
	m.ClaimDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// ObserveProviderCall records a call to the external payment provider.
func (m *Metrics) ObserveProviderCall(endpoint, result string, duration time.Duration) {
	m.ProviderCallsTotal.WithLabelValues(endpoint, result).Inc()
	m.ProviderCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveEventPublished records a successful, acknowledged topic publish.
func (m *Metrics) ObserveEventPublished(topic string) {
	m.EventsPublishedTotal.WithLabelValues(topic).Inc()
}

// ObserveWebhook records a handler-notification delivery attempt.
func (m *Metrics) ObserveWebhook(result string, duration time.Duration) {
	m.WebhooksTotal.WithLabelValues(result).Inc()
	m.WebhookDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveAdmissionRequest records a request handled by the admission facade.
func (m *Metrics) ObserveAdmissionRequest(route, status string) {
	m.AdmissionRequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveDBQuery records a database query duration.
func (m *Metrics) ObserveDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
