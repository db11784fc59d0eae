package loader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

// sequential loads records one at a time in input order and stops at the
// first failure past the error budget.
func (r *run) sequential(ctx context.Context, records iter.Seq2[trips.Trip, error]) *FatalError {
	for t, err := range records {
		if fatal := contextFatal(ctx); fatal != nil {
			return fatal
		}
		if err != nil {
			if fatal := r.inputError(err); fatal != nil {
				return fatal
			}
		} else {
			outcome, err := r.loadRecord(ctx, t)
			if err != nil && ctx.Err() != nil {
				return contextFatal(ctx)
			}
			r.tally(t.Row, t.TripUUID, outcome, err)
		}
		if r.budgetExceeded() {
			return r.budgetFatal()
		}
	}
	return nil
}

// parallel loads records on a worker pool with at most Workers records in
// flight. Once the budget is exceeded no further records are submitted;
// records already in flight finish and are tallied.
func (r *run) parallel(ctx context.Context, records iter.Seq2[trips.Trip, error]) *FatalError {
	pool := pond.NewPool(r.cfg.Workers)
	sem := make(chan struct{}, r.cfg.Workers)
	var (
		fatal       *FatalError
		interrupted atomic.Bool
	)

	for t, err := range records {
		if r.budgetExceeded() {
			break
		}
		if fatal = contextFatal(ctx); fatal != nil {
			break
		}
		if err != nil {
			if fatal = r.inputError(err); fatal != nil {
				break
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if fatal = contextFatal(ctx); fatal != nil {
			break
		}
		// A worker may have exceeded the budget while we waited for its slot.
		if r.budgetExceeded() {
			<-sem
			break
		}
		pool.Submit(func() {
			defer func() { <-sem }()
			outcome, err := r.loadRecord(ctx, t)
			if err != nil && ctx.Err() != nil {
				interrupted.Store(true)
				return
			}
			r.tally(t.Row, t.TripUUID, outcome, err)
		})
	}
	pool.StopAndWait()

	if fatal == nil && interrupted.Load() {
		fatal = contextFatal(ctx)
	}
	if fatal == nil && r.budgetExceeded() {
		fatal = r.budgetFatal()
	}
	return fatal
}

// loadRecord loads one trip under the per-record deadline. A timeout is
// reported as a storage failure.
func (r *run) loadRecord(ctx context.Context, t trips.Trip) (warehouse.Outcome, error) {
	rctx, cancel := context.WithTimeout(ctx, r.cfg.RecordTimeout)
	defer cancel()

	start := r.cfg.Clock.Now()
	outcome, err := r.load(rctx, t)
	r.metrics.RecordDuration.Observe(r.cfg.Clock.Since(start).Seconds())

	if err != nil && classify(err) == FailureStorage {
		var serr *warehouse.StorageError
		if !errors.As(err, &serr) {
			err = &warehouse.StorageError{Op: "load fact", Err: err}
		}
	}
	return outcome, err
}

// inputError tallies a malformed input row, or turns a failure to read the
// input into a fatal error.
func (r *run) inputError(err error) *FatalError {
	var verr *trips.ValidationError
	if !errors.As(err, &verr) {
		return &FatalError{Reason: ReasonInputFailed, Err: err}
	}
	r.tally(verr.Row, verr.TripUUID, 0, err)
	return nil
}

func (r *run) tally(row int, tripUUID string, outcome warehouse.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.summary
	s.Total++
	switch {
	case err != nil:
		kind := classify(err)
		s.Errors++
		if len(s.Failures) < r.cfg.MaxFailures {
			s.Failures = append(s.Failures, Failure{Row: row, TripUUID: tripUUID, Kind: kind, Error: err.Error()})
		} else {
			s.FailuresDropped++
		}
		if kind == FailureValidation {
			r.metrics.Records.WithLabelValues(outcomeValidationError).Inc()
		} else {
			r.metrics.Records.WithLabelValues(outcomeStorageError).Inc()
		}
		r.log.Warn("load: record failed", "row", row, "trip_uuid", tripUUID, "kind", kind, "error", err)
	case outcome == warehouse.OutcomeInserted:
		s.Inserted++
		r.metrics.Records.WithLabelValues(outcomeInserted).Inc()
	default:
		s.Skipped++
		r.metrics.Records.WithLabelValues(outcomeSkipped).Inc()
	}

	if s.Total%r.cfg.ProgressEvery == 0 {
		r.log.Info("load: progress", "total", s.Total, "inserted", s.Inserted, "skipped", s.Skipped, "errors", s.Errors)
	}
}

func (r *run) budgetExceeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary.Errors > r.cfg.tolerance()
}

func (r *run) budgetFatal() *FatalError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &FatalError{
		Reason: ReasonErrorBudget,
		Err:    fmt.Errorf("%w: %d errors with a budget of %d", ErrErrorBudgetExceeded, r.summary.Errors, r.cfg.tolerance()),
	}
}

func contextFatal(ctx context.Context) *FatalError {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &FatalError{Reason: ReasonRunDeadline, Err: err}
	default:
		return &FatalError{Reason: ReasonCanceled, Err: err}
	}
}
