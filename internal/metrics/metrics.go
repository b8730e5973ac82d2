package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for ensemble runs
type Metrics struct {
	BootstrapAttempts prometheus.Counter
	BootstrapDiscards *prometheus.CounterVec
	AssemblySeconds   prometheus.Histogram
	IntervalViews     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BootstrapAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "egretci_bootstrap_attempts_total",
			Help: "Number of bootstrap re-estimations attempted",
		}),
		BootstrapDiscards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egretci_bootstrap_discards_total",
				Help: "Number of bootstrap re-estimations discarded, by reason",
			},
			[]string{"reason"},
		),
		AssemblySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "egretci_assembly_seconds",
			Help:    "Wall time to assemble one replicate ensemble",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		IntervalViews: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "egretci_interval_views_total",
				Help: "Number of prediction-interval views computed, by resolution",
			},
			[]string{"resolution"},
		),
	}
}

// NewUnregistered returns collectors on a private registry, for tests and
// one-shot CLI runs
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveAttempt counts one bootstrap attempt
func (m *Metrics) ObserveAttempt() {
	if m == nil {
		return
	}
	m.BootstrapAttempts.Inc()
}

// ObserveDiscard counts one discarded attempt
func (m *Metrics) ObserveDiscard(reason string) {
	if m == nil {
		return
	}
	m.BootstrapDiscards.WithLabelValues(reason).Inc()
}

// ObserveAssembly records the duration of one assembly
func (m *Metrics) ObserveAssembly(d time.Duration) {
	if m == nil {
		return
	}
	m.AssemblySeconds.Observe(d.Seconds())
}

// ObserveView counts one computed interval view
func (m *Metrics) ObserveView(resolution string) {
	if m == nil {
		return
	}
	m.IntervalViews.WithLabelValues(resolution).Inc()
}
