package warehouse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "tripwh"

// Metrics holds Prometheus metrics for dimension resolution and fact loading.
type Metrics struct {
	DimensionResolved *prometheus.CounterVec
	DimensionRaceLost *prometheus.CounterVec
	FactsWritten      *prometheus.CounterVec
}

// NewMetrics creates warehouse metrics registered with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DimensionResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "dimension_resolve_total",
			Help:      "Dimension resolutions by dimension and where the surrogate came from (cache, store, created)",
		}, []string{"dimension", "source"}),
		DimensionRaceLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "dimension_race_lost_total",
			Help:      "Dimension inserts that lost to a concurrent writer and re-queried",
		}, []string{"dimension"}),
		FactsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "facts_written_total",
			Help:      "Fact inserts by outcome (inserted, skipped)",
		}, []string{"outcome"}),
	}
}
