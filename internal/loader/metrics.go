package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

const (
	outcomeInserted        = "inserted"
	outcomeSkipped         = "skipped"
	outcomeValidationError = "validation_error"
	outcomeStorageError    = "storage_error"

	runStatusCompleted = "completed"
	runStatusAborted   = "aborted"
)

type Metrics struct {
	Records        *prometheus.CounterVec
	RecordDuration prometheus.Histogram
	Runs           *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: warehouse.MetricsNamespace,
			Subsystem: "loader",
			Name:      "records_total",
			Help:      "Records processed by outcome (inserted, skipped, validation_error, storage_error)",
		}, []string{"outcome"}),
		RecordDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: warehouse.MetricsNamespace,
			Subsystem: "loader",
			Name:      "record_duration_seconds",
			Help:      "Time to resolve dimensions and insert the fact for one record",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: warehouse.MetricsNamespace,
			Subsystem: "loader",
			Name:      "runs_total",
			Help:      "Load runs by final status (completed, aborted)",
		}, []string{"status"}),
	}
}
