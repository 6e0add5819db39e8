// Package metrics holds the Prometheus instruments for a voice session.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the controller.
type Metrics struct {
	State             *prometheus.GaugeVec
	Transitions       *prometheus.CounterVec
	Triggers          *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	Failures          *prometheus.CounterVec
	CompletionLatency prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New registers the instruments with reg under namespace.
// A nil reg uses a fresh registry.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State transitions by source and target state.",
		}, []string{"from", "to"}),
		Triggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Triggers consumed by kind.",
		}, []string{"kind"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Absorbed failures by kind.",
		}, []string{"kind"}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_seconds",
			Help:      "Latency of completion requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.State.WithLabelValues(from).Set(0)
	m.State.WithLabelValues(to).Set(1)
}

func (m *Metrics) ObserveTrigger(kind string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
