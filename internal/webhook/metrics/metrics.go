package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks webhook delivery outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	Enqueued         prometheus.Counter
	Dropped          *prometheus.CounterVec
	Delivered        prometheus.Counter
	Failed           *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	QueueDepth       prometheus.Gauge
}

// New registers webhook metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers webhook metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "cookieconsent_webhook_enqueued_total",
			Help: "Webhook deliveries accepted into the dispatch queue",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieconsent_webhook_dropped_total",
			Help: "Webhook deliveries dropped before dispatch",
		}, []string{"reason"}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "cookieconsent_webhook_delivered_total",
			Help: "Webhook deliveries acknowledged with a 2xx response",
		}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cookieconsent_webhook_failed_total",
			Help: "Webhook deliveries that failed",
		}, []string{"reason"}),
		DeliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cookieconsent_webhook_delivery_duration_seconds",
			Help:    "Duration of a single webhook delivery attempt",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "cookieconsent_webhook_queue_depth",
			Help: "Webhook deliveries waiting for a worker",
		}),
	}
}

func (m *Metrics) IncEnqueued() {
	if m == nil {
		return
	}
	m.Enqueued.Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncDelivered() {
	if m == nil {
		return
	}
	m.Delivered.Inc()
}

func (m *Metrics) IncFailed(reason string) {
	if m == nil {
		return
	}
	m.Failed.WithLabelValues(reason).Inc()
}

// ObserveDelivery records the duration of one delivery attempt.
// Call with time.Now() at the start of the attempt.
func (m *Metrics) ObserveDelivery(start time.Time) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
