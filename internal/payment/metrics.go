package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricWebhookEventsTotal     = "payment_webhook_events_total"
	MetricProviderVerifyDuration = "payment_provider_verify_duration_seconds"
)

// Metrics contains Prometheus metrics for webhook processing.
// All operations are thread-safe.
type Metrics struct {
	webhookEvents  *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWebhookEventsTotal,
				Help: "Total number of verified webhook events by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		verifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricProviderVerifyDuration,
				Help:    "Latency of provider transaction re-verification calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "result"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncWebhookEvent counts a processed webhook event.
func (m *Metrics) IncWebhookEvent(provider string, outcome Outcome) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, string(outcome)).Inc()
}

// ObserveVerify records a re-verification call. result is "success", "unpaid" or "error".
func (m *Metrics) ObserveVerify(provider, result string, seconds float64) {
	if m == nil {
		return
	}
	m.verifyDuration.WithLabelValues(provider, result).Observe(seconds)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.webhookEvents,
		m.verifyDuration,
	}
}
