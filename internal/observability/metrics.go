package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "catalog"

// Metrics holds the collectors recorded by the search pipeline. Each
// instance owns its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	TierOutcomes    *prometheus.CounterVec
	TierDuration    *prometheus.HistogramVec
	SearchMethod    *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec
	EmbeddingErrors prometheus.Counter
	Interactions    *prometheus.CounterVec
	QueueDropped    prometheus.Counter
	Fusions         *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TierOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "tier_total",
				Help:      "Retrieval tier executions by outcome (hit, empty, error, timeout)",
			},
			[]string{"tier", "outcome"},
		),
		TierDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "tier_duration_seconds",
				Help:      "Retrieval tier duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
			[]string{"tier"},
		),
		SearchMethod: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "method_total",
				Help:      "Completed searches by method used",
			},
			[]string{"method"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "End-to-end search duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		EmbeddingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "errors_total",
			Help:      "Embedding calls that failed and caused a tier to be skipped",
		}),
		Interactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feedback",
				Name:      "interactions_total",
				Help:      "Recorded interaction events by type",
			},
			[]string{"type"},
		),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "dropped_total",
			Help:      "Interaction events dropped because the write queue was full",
		}),
		Fusions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ranking",
				Name:      "fusions_total",
				Help:      "Ranked result sets by whether personal history weights were used",
			},
			[]string{"history"},
		),
	}

	m.registry.MustRegister(
		m.TierOutcomes, m.TierDuration, m.SearchMethod, m.SearchDuration,
		m.EmbeddingErrors, m.Interactions, m.QueueDropped, m.Fusions,
	)
	return m
}

// ObserveTier records one tier execution
func (m *Metrics) ObserveTier(tier, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TierOutcomes.WithLabelValues(tier, outcome).Inc()
	m.TierDuration.WithLabelValues(tier).Observe(d.Seconds())
}

// ObserveSearch records a completed search
func (m *Metrics) ObserveSearch(kind, method string, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchMethod.WithLabelValues(method).Inc()
	m.SearchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncEmbeddingErrors counts a failed embedding call
func (m *Metrics) IncEmbeddingErrors() {
	if m == nil {
		return
	}
	m.EmbeddingErrors.Inc()
}

// IncInteraction counts a recorded interaction
func (m *Metrics) IncInteraction(kind string) {
	if m == nil {
		return
	}
	m.Interactions.WithLabelValues(kind).Inc()
}

// IncDropped counts an interaction dropped by a full queue
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

// ObserveFusion counts one ranked result set
func (m *Metrics) ObserveFusion(hasHistory bool) {
	if m == nil {
		return
	}
	label := "false"
	if hasHistory {
		label = "true"
	}
	m.Fusions.WithLabelValues(label).Inc()
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
