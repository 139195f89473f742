// Package metrics exposes Prometheus instruments for the booking engine and
// its post-commit side effects. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	operations  *prometheus.CounterVec
	txRetries   *prometheus.CounterVec
	txDuration  *prometheus.HistogramVec
	sideEffects *prometheus.CounterVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classbook",
			Name:      "booking_operations_total",
			Help:      "Booking engine operations by outcome.",
		}, []string{"operation", "outcome"}),
		txRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classbook",
			Name:      "tx_retries_total",
			Help:      "Units of work re-run after a serialization failure or deadlock.",
		}, []string{"operation"}),
		txDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "classbook",
			Name:      "tx_duration_seconds",
			Help:      "Wall time of a unit of work including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		sideEffects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classbook",
			Name:      "side_effects_total",
			Help:      "Post-commit side effects by kind and outcome.",
		}, []string{"effect", "outcome"}),
	}
}

func (m *Metrics) Operation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.txDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) TxRetry(op string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) SideEffect(effect, outcome string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(effect, outcome).Inc()
}

// OperationCounter exposes the underlying series for assertions.
func (m *Metrics) OperationCounter(op, outcome string) prometheus.Counter {
	return m.operations.WithLabelValues(op, outcome)
}

func (m *Metrics) TxRetryCounter(op string) prometheus.Counter {
	return m.txRetries.WithLabelValues(op)
}

func (m *Metrics) SideEffectCounter(effect, outcome string) prometheus.Counter {
	return m.sideEffects.WithLabelValues(effect, outcome)
}
