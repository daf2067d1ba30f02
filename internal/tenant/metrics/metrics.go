package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for API key authentication. A nil *Metrics
// is a no-op.
type Metrics struct {
	AuthAttempts *prometheus.CounterVec
	AuthDuration prometheus.Histogram
	KeysIssued   prometheus.Counter
}

// New registers tenant metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers tenant metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieconsent_api_key_auth_total",
			Help: "API key authentication attempts by outcome",
		}, []string{"outcome"}),
		AuthDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cookieconsent_api_key_auth_duration_seconds",
			Help:    "Duration of API key authentication",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		KeysIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "cookieconsent_api_keys_issued_total",
			Help: "Total number of API keys issued",
		}),
	}
}

// ObserveAuth records one authentication attempt.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAuth(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(outcome).Inc()
	m.AuthDuration.Observe(time.Since(start).Seconds())
}

// IncrementKeysIssued records a successful key issuance.
func (m *Metrics) IncrementKeysIssued() {
	if m == nil {
		return
	}
	m.KeysIssued.Inc()
}
