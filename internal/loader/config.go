package loader

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

const (
	DefaultErrorBudget    = 100
	DefaultWorkers        = 1
	DefaultRecordTimeout  = 30 * time.Second
	DefaultProgressEvery  = 1000
	DefaultMaxFailures    = 1000
	DefaultBreakerTimeout = 10 * time.Second

	finalizeTimeout = 30 * time.Second
)

// StrictErrorBudget as Config.ErrorBudget tolerates no failed records.
const StrictErrorBudget = -1

type Config struct {
	Logger           *slog.Logger
	Clock            clockwork.Clock
	Store            warehouse.Store
	Metrics          *Metrics
	WarehouseMetrics *warehouse.Metrics

	// Source names the input in logs and the load run audit row.
	Source string

	// ErrorBudget is the number of failed records tolerated. The run aborts
	// on the first failure past it. Zero selects DefaultErrorBudget and
	// StrictErrorBudget aborts on the first failure.
	ErrorBudget int

	// Workers is the number of records loaded concurrently. One loads
	// records sequentially in input order.
	Workers int

	// RecordTimeout bounds the store work for a single record.
	RecordTimeout time.Duration

	// RunTimeout bounds the whole run. Zero means no deadline.
	RunTimeout time.Duration

	// ProgressEvery is the number of processed records between progress logs.
	ProgressEvery int

	// CacheSize bounds the run-scoped dimension surrogate cache.
	CacheSize int

	// BreakerFailures opens a circuit breaker around the store after this
	// many consecutive storage failures. Zero disables the breaker.
	BreakerFailures int
	BreakerTimeout  time.Duration

	// MaxFailures caps the failures listed in the summary.
	MaxFailures int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.WarehouseMetrics == nil {
		cfg.WarehouseMetrics = warehouse.NewMetrics(nil)
	}
	if cfg.ErrorBudget < StrictErrorBudget {
		return errors.New("error budget must not be negative")
	}
	if cfg.ErrorBudget == 0 {
		cfg.ErrorBudget = DefaultErrorBudget
	}
	if cfg.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RecordTimeout < 0 {
		return errors.New("record timeout must not be negative")
	}
	if cfg.RecordTimeout == 0 {
		cfg.RecordTimeout = DefaultRecordTimeout
	}
	if cfg.RunTimeout < 0 {
		return errors.New("run timeout must not be negative")
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.CacheSize < 0 {
		return errors.New("cache size must not be negative")
	}
	if cfg.BreakerFailures < 0 {
		return errors.New("breaker failures must not be negative")
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}
	if cfg.MaxFailures < 0 {
		return errors.New("max failures must not be negative")
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	return nil
}

// tolerance is the number of failed records the run may accumulate.
func (cfg *Config) tolerance() int {
	if cfg.ErrorBudget == StrictErrorBudget {
		return 0
	}
	return cfg.ErrorBudget
}
