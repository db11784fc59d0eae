package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

type Metrics struct {
	RowsWritten    *prometheus.CounterVec
	InsertDuration prometheus.Histogram
	InsertErrors   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: warehouse.MetricsNamespace,
			Subsystem: "export",
			Name:      "rows_total",
			Help:      "Trip views exported by writer",
		}, []string{"writer"}),
		InsertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: warehouse.MetricsNamespace,
			Subsystem: "export",
			Name:      "clickhouse_insert_duration_seconds",
			Help:      "Time spent sending a batch to ClickHouse",
			Buckets:   prometheus.DefBuckets,
		}),
		InsertErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: warehouse.MetricsNamespace,
			Subsystem: "export",
			Name:      "clickhouse_insert_errors_total",
			Help:      "ClickHouse batch sends that failed",
		}),
	}
}
