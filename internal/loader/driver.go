// Package loader drives a load run: it feeds cleaned trips through the fact
// loader, tolerates per-record failures up to an error budget and reports a
// summary of the run.
package loader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

type Driver struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Driver{log: cfg.Logger, cfg: cfg}, nil
}

// Run loads every record of the sequence. Per-record validation and storage
// failures are tallied and do not stop the run until they exceed the error
// budget. The returned summary is never nil. The error is a *FatalError when
// the run was aborted.
func (d *Driver) Run(ctx context.Context, records iter.Seq2[trips.Trip, error]) (*Summary, error) {
	summary := NewSummary(d.cfg.Source, d.cfg.Clock.Now())
	log := d.log.With("run_id", summary.RunID)

	if d.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.RunTimeout)
		defer cancel()
	}

	if fatal := contextFatal(ctx); fatal != nil {
		return d.finish(ctx, log, summary, nil, fatal), fatal
	}
	before, err := d.cfg.Store.Counts(ctx)
	if err != nil {
		fatal := &FatalError{Reason: ReasonStoreUnreachable, Err: err}
		return d.finish(ctx, log, summary, nil, fatal), fatal
	}

	run, err := d.newRun(log, summary)
	if err != nil {
		return summary, err
	}
	log.Info("load: starting", "source", d.cfg.Source, "workers", d.cfg.Workers, "error_budget", d.cfg.tolerance())

	var fatal *FatalError
	if d.cfg.Workers > 1 {
		fatal = run.parallel(ctx, records)
	} else {
		fatal = run.sequential(ctx, records)
	}

	summary = d.finish(ctx, log, summary, &before, fatal)
	if fatal != nil {
		return summary, fatal
	}
	return summary, nil
}

// finish stamps the summary, verifies table counts and records the run.
// It runs on a context detached from ctx so aborted runs still report.
func (d *Driver) finish(ctx context.Context, log *slog.Logger, summary *Summary, before *warehouse.TableCounts, fatal *FatalError) *Summary {
	summary.FinishedAt = d.cfg.Clock.Now().UTC()
	status := runStatusCompleted
	if fatal != nil {
		summary.Abort(fatal, summary.FinishedAt)
		status = runStatusAborted
	}
	d.cfg.Metrics.Runs.WithLabelValues(status).Inc()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if before != nil {
		after, err := d.cfg.Store.Counts(ctx)
		if err != nil {
			log.Warn("load: failed to read table counts", "error", err)
		} else {
			summary.Counts = &after
			log.Info("load: table counts", "dim_date", after.Dates, "dim_location", after.Locations, "dim_vehicles", after.Vehicles, "fact_trips", after.Facts)
			if grown := after.Facts - before.Facts; grown < int64(summary.Inserted) {
				log.Warn("load: fact table grew by less than the inserted count", "grown", grown, "inserted", summary.Inserted)
			}
		}

		if err := d.cfg.Store.RecordLoadRun(ctx, summary.LoadRun()); err != nil {
			log.Warn("load: failed to record load run", "error", err)
		}
	}

	if fatal != nil {
		log.Error("load: aborted", append(summary.LogAttrs(), "error", fatal)...)
	} else {
		log.Info("load: finished", summary.LogAttrs()...)
	}
	return summary
}

type loadFunc func(ctx context.Context, t trips.Trip) (warehouse.Outcome, error)

// run holds the state of one Run call.
type run struct {
	log     *slog.Logger
	cfg     *Config
	metrics *Metrics
	load    loadFunc

	mu      sync.Mutex
	summary *Summary
}

func (d *Driver) newRun(log *slog.Logger, summary *Summary) (*run, error) {
	resolver, err := warehouse.NewResolver(warehouse.ResolverConfig{
		Logger:    log,
		Store:     d.cfg.Store,
		Metrics:   d.cfg.WarehouseMetrics,
		CacheSize: d.cfg.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	facts, err := warehouse.NewFactLoader(resolver, d.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create fact loader: %w", err)
	}

	r := &run{
		log:     log,
		cfg:     &d.cfg,
		metrics: d.cfg.Metrics,
		load:    facts.LoadFact,
		summary: summary,
	}
	if d.cfg.BreakerFailures > 0 {
		r.load = withBreaker(log, d.cfg.BreakerFailures, d.cfg.BreakerTimeout, facts.LoadFact)
	}
	return r, nil
}

// withBreaker stops calling the store after consecutive storage failures
// until the breaker's timeout elapses. Validation failures do not count.
func withBreaker(log *slog.Logger, failures int, timeout time.Duration, load loadFunc) loadFunc {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "warehouse-store",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || classify(err) == FailureValidation
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("load: circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return func(ctx context.Context, t trips.Trip) (warehouse.Outcome, error) {
		v, err := cb.Execute(func() (interface{}, error) {
			return load(ctx, t)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, &warehouse.StorageError{Op: "load fact", Err: err}
		}
		if err != nil {
			return 0, err
		}
		return v.(warehouse.Outcome), nil
	}
}
