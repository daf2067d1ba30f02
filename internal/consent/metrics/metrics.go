package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks consent lifecycle operations. A nil *Metrics is a no-op.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	CheckResults      *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

// New registers consent metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers consent metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieconsent_consent_operations_total",
			Help: "Consent lifecycle operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cookieconsent_consent_operation_duration_seconds",
			Help:    "Duration of consent lifecycle operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		CheckResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieconsent_consent_checks_total",
			Help: "Consent checks by result",
		}, []string{"has_consent"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieconsent_consent_events_published_total",
			Help: "Consent history events produced to the event stream by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveOperation records the outcome and duration of one operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncrementCheck records a consent check result.
func (m *Metrics) IncrementCheck(hasConsent bool) {
	if m == nil {
		return
	}
	label := "false"
	if hasConsent {
		label = "true"
	}
	m.CheckResults.WithLabelValues(label).Inc()
}

// IncrementEventPublished records an event stream produce outcome.
func (m *Metrics) IncrementEventPublished(outcome string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}
