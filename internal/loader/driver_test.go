package loader_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartlogix/tripwarehouse/internal/loader"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
	"github.com/stretchr/testify/require"
)

func newDriver(t *testing.T, cfg loader.Config) *loader.Driver {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = newTestLogger()
	}
	d, err := loader.New(cfg)
	require.NoError(t, err)
	return d
}

func TestLoader_Config_Validate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	tests := []struct {
		name    string
		cfg     loader.Config
		wantErr string
	}{
		{name: "missing logger", cfg: loader.Config{Store: store}, wantErr: "logger is required"},
		{name: "missing store", cfg: loader.Config{Logger: newTestLogger()}, wantErr: "store is required"},
		{name: "negative budget", cfg: loader.Config{Logger: newTestLogger(), Store: store, ErrorBudget: -2}, wantErr: "error budget must not be negative"},
		{name: "negative workers", cfg: loader.Config{Logger: newTestLogger(), Store: store, Workers: -2}, wantErr: "workers must not be negative"},
		{name: "negative run timeout", cfg: loader.Config{Logger: newTestLogger(), Store: store, RunTimeout: -time.Second}, wantErr: "run timeout must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.ErrorContains(t, err, tt.wantErr)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg := loader.Config{Logger: newTestLogger(), Store: store}
		require.NoError(t, cfg.Validate())
		require.Equal(t, loader.DefaultErrorBudget, cfg.ErrorBudget)
		require.Equal(t, 1, cfg.Workers)
		require.Equal(t, loader.DefaultRecordTimeout, cfg.RecordTimeout)
		require.Equal(t, loader.DefaultProgressEvery, cfg.ProgressEvery)
		require.Equal(t, loader.DefaultMaxFailures, cfg.MaxFailures)
		require.NotNil(t, cfg.Clock)
		require.NotNil(t, cfg.Metrics)
	})
}

func TestLoader_Run_Idempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store})

	r := validTrip(0)
	summary, err := d.Run(context.Background(), trips.FromSlice([]trips.Trip{r, r}))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Inserted)
	require.Equal(t, 1, summary.Skipped)
	require.Zero(t, summary.Errors)
	require.False(t, summary.Aborted)

	summary, err = d.Run(context.Background(), trips.FromSlice([]trips.Trip{r}))
	require.NoError(t, err)
	require.Zero(t, summary.Inserted)
	require.Equal(t, 1, summary.Skipped)
	require.NotNil(t, summary.Counts)
	require.Equal(t, int64(1), summary.Counts.Facts)
}

func TestLoader_Run_SharedDimensions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store})

	summary, err := d.Run(context.Background(), trips.FromSlice(validTrips(2)))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Inserted)
	require.Equal(t, &warehouse.TableCounts{Dates: 1, Locations: 2, Vehicles: 1, Facts: 2}, summary.Counts)

	views, err := store.TripViews(context.Background(), warehouse.TripFilter{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.NotEqual(t, views[0].TripID, views[1].TripID)
	require.Equal(t, 20.0, views[0].TimeDeviation)
	require.Equal(t, 20.0, views[1].TimeDeviation)
}

func TestLoader_Run_PartialFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store})

	records := validTrips(10)
	records[4].TripUUID = ""

	summary, err := d.Run(context.Background(), trips.FromSlice(records))
	require.NoError(t, err)
	require.Equal(t, 10, summary.Total)
	require.Equal(t, 9, summary.Inserted)
	require.Equal(t, 1, summary.Errors)
	require.False(t, summary.Aborted)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, 5, summary.Failures[0].Row)
	require.Equal(t, loader.FailureValidation, summary.Failures[0].Kind)
	require.Contains(t, summary.Failures[0].Error, "trip_uuid")
	require.Equal(t, int64(9), summary.Counts.Facts)
}

func TestLoader_Run_ErrorBudgetExceeded(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store, ErrorBudget: 100})

	records := make([]trips.Trip, 150)
	for i := range records {
		records[i] = validTrip(i)
		records[i].TripUUID = ""
	}

	var pulled int
	summary, err := d.Run(context.Background(), counting(trips.FromSlice(records), &pulled))
	require.Error(t, err)

	var fatal *loader.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, loader.ReasonErrorBudget, fatal.Reason)
	require.ErrorIs(t, err, loader.ErrErrorBudgetExceeded)

	require.Equal(t, 101, summary.Errors)
	require.Equal(t, 101, summary.Total)
	require.Equal(t, 101, pulled)
	require.True(t, summary.Aborted)
	require.Equal(t, string(loader.ReasonErrorBudget), summary.AbortReason)
	require.Zero(t, summary.Inserted)
}

func TestLoader_Run_ReaderValidationErrorsCount(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store})

	seq := func(yield func(trips.Trip, error) bool) {
		if !yield(validTrip(0), nil) {
			return
		}
		if !yield(trips.Trip{}, &trips.ValidationError{Row: 2, TripUUID: "trip-bad", Field: trips.ColActualTime, Reason: "not a number"}) {
			return
		}
		yield(validTrip(2), nil)
	}

	summary, err := d.Run(context.Background(), seq)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Inserted)
	require.Equal(t, 1, summary.Errors)
	require.Equal(t, loader.Failure{Row: 2, TripUUID: "trip-bad", Kind: loader.FailureValidation, Error: summary.Failures[0].Error}, summary.Failures[0])
}

func TestLoader_Run_InputFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store})

	readErr := errors.New("unexpected EOF")
	seq := func(yield func(trips.Trip, error) bool) {
		if !yield(validTrip(0), nil) {
			return
		}
		yield(trips.Trip{}, readErr)
	}

	summary, err := d.Run(context.Background(), seq)
	var fatal *loader.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, loader.ReasonInputFailed, fatal.Reason)
	require.ErrorIs(t, err, readErr)
	require.Equal(t, 1, summary.Inserted)
	require.True(t, summary.Aborted)
}

func TestLoader_Run_StorageFailuresContinue(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: newTestStore(t), failFacts: map[string]bool{"trip-00003": true}}
	d := newDriver(t, loader.Config{Store: store})

	summary, err := d.Run(context.Background(), trips.FromSlice(validTrips(6)))
	require.NoError(t, err)
	require.Equal(t, 5, summary.Inserted)
	require.Equal(t, 1, summary.Errors)
	require.Equal(t, loader.FailureStorage, summary.Failures[0].Kind)
	require.Equal(t, "trip-00003", summary.Failures[0].TripUUID)
	require.Contains(t, summary.Failures[0].Error, "connection reset by peer")
}

func TestLoader_Run_StoreUnreachable(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: newTestStore(t), countsErr: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")}
	d := newDriver(t, loader.Config{Store: store})

	summary, err := d.Run(context.Background(), trips.FromSlice(validTrips(3)))
	var fatal *loader.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, loader.ReasonStoreUnreachable, fatal.Reason)
	require.Zero(t, summary.Total)
	require.Zero(t, store.calls())
	require.True(t, summary.Aborted)
}

func TestLoader_Run_Canceled(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seq := func(yield func(trips.Trip, error) bool) {
		for i, r := range validTrips(10) {
			if i == 3 {
				cancel()
			}
			if !yield(r, nil) {
				return
			}
		}
	}

	summary, err := d.Run(ctx, seq)
	var fatal *loader.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, loader.ReasonCanceled, fatal.Reason)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 3, summary.Inserted)
	require.NotNil(t, summary.Counts, "verification runs after cancellation")
	require.Equal(t, int64(3), summary.Counts.Facts)
}

func TestLoader_Run_RunDeadline(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: newTestStore(t), block: true}
	d := newDriver(t, loader.Config{Store: store, RunTimeout: 50 * time.Millisecond})

	summary, err := d.Run(context.Background(), trips.FromSlice(validTrips(3)))
	var fatal *loader.FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, loader.ReasonRunDeadline, fatal.Reason)
	require.Zero(t, summary.Errors, "the interrupted record is not counted")
	require.True(t, summary.Aborted)
}

func TestLoader_Run_RecordTimeoutIsStorageError(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: newTestStore(t), block: true}
	d := newDriver(t, loader.Config{Store: store, RecordTimeout: 20 * time.Millisecond})

	summary, err := d.Run(context.Background(), trips.FromSlice(validTrips(2)))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Errors)
	for _, f := range summary.Failures {
		require.Equal(t, loader.FailureStorage, f.Kind)
		require.Contains(t, f.Error, "deadline exceeded")
	}
}

func TestLoader_Run_CircuitBreaker(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: newTestStore(t), failAll: true}
	d := newDriver(t, loader.Config{Store: store, BreakerFailures: 2, BreakerTimeout: time.Hour})

	summary, err := d.Run(context.Background(), trips.FromSlice(validTrips(5)))
	require.NoError(t, err)
	require.Equal(t, 5, summary.Errors)
	require.Equal(t, 2, store.calls(), "breaker stops store calls once open")
	for _, f := range summary.Failures {
		require.Equal(t, loader.FailureStorage, f.Kind)
	}
	require.Contains(t, summary.Failures[4].Error, "circuit breaker is open")
}

func TestLoader_Run_BreakerIgnoresValidationFailures(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store, BreakerFailures: 1, BreakerTimeout: time.Hour})

	records := validTrips(4)
	records[0].TripUUID = ""
	records[1].SourceName = ""

	summary, err := d.Run(context.Background(), trips.FromSlice(records))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Errors)
	require.Equal(t, 2, summary.Inserted)
}

func TestLoader_Run_Parallel(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	reg := prometheus.NewRegistry()
	metrics := loader.NewMetrics(reg)
	d := newDriver(t, loader.Config{Store: store, Workers: 8, Metrics: metrics})

	records := validTrips(200)
	for i := range records {
		records[i].CreatedAt = baseTime.AddDate(0, 0, i%7)
		if i%2 == 0 {
			records[i].VehicleType = "Truck"
		}
	}
	records[17].TripUUID = ""

	summary, err := d.Run(context.Background(), trips.FromSlice(records))
	require.NoError(t, err)
	require.Equal(t, 200, summary.Total)
	require.Equal(t, 199, summary.Inserted)
	require.Equal(t, 1, summary.Errors)
	require.Equal(t, &warehouse.TableCounts{Dates: 7, Locations: 2, Vehicles: 2, Facts: 199}, summary.Counts)

	require.Equal(t, 199.0, testutil.ToFloat64(metrics.Records.WithLabelValues("inserted")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Records.WithLabelValues("validation_error")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("completed")))
}

func TestLoader_Run_StrictBudgetAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store, ErrorBudget: loader.StrictErrorBudget})

	records := make([]trips.Trip, 5)
	for i := range records {
		records[i] = validTrip(i)
	}
	records[2].TripUUID = ""

	summary, err := d.Run(context.Background(), trips.FromSlice(records))
	require.ErrorIs(t, err, loader.ErrErrorBudgetExceeded)
	require.True(t, summary.Aborted)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 2, summary.Inserted)
	require.Equal(t, 1, summary.Errors)
}

func TestLoader_Run_ParallelBudgetOvershootIsBounded(t *testing.T) {
	t.Parallel()

	const (
		workers = 4
		budget  = 10
		runs    = 200
	)
	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store, Workers: workers, ErrorBudget: budget})

	records := make([]trips.Trip, 300)
	for i := range records {
		records[i] = validTrip(i)
		records[i].TripUUID = ""
	}

	// The aborting failure plus at most one per other in-flight worker.
	for range runs {
		summary, err := d.Run(context.Background(), trips.FromSlice(records))
		require.ErrorIs(t, err, loader.ErrErrorBudgetExceeded)
		require.True(t, summary.Aborted)
		require.Greater(t, summary.Errors, budget)
		require.LessOrEqual(t, summary.Errors, budget+1+(workers-1))
		require.Less(t, summary.Total, len(records))
	}
}

func TestLoader_Run_SummaryAndAuditRow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC))
	d := newDriver(t, loader.Config{Store: store, Clock: clock, Source: "cleaned_delhivery.csv"})

	summary, err := d.Run(context.Background(), trips.FromSlice(validTrips(3)))
	require.NoError(t, err)
	require.Len(t, summary.RunID, 26)
	require.Equal(t, clock.Now(), summary.StartedAt)
	require.Equal(t, "cleaned_delhivery.csv", summary.Source)

	var (
		source   string
		inserted int64
		aborted  bool
	)
	err = store.DB().QueryRowContext(context.Background(),
		`SELECT source, inserted_count, aborted FROM etl_load_runs WHERE run_id = $1`, summary.RunID,
	).Scan(&source, &inserted, &aborted)
	require.NoError(t, err)
	require.Equal(t, "cleaned_delhivery.csv", source)
	require.Equal(t, int64(3), inserted)
	require.False(t, aborted)

	var buf bytes.Buffer
	require.NoError(t, summary.WriteJSON(&buf))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, summary.RunID, decoded["run_id"])
	require.Equal(t, 3.0, decoded["inserted_count"])
	require.Equal(t, 0.0, decoded["error_count"])
	require.Equal(t, 3.0, decoded["total_count"])
	require.Equal(t, []any{}, decoded["failures"])
}

func TestLoader_Run_MaxFailuresCapsList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	d := newDriver(t, loader.Config{Store: store, MaxFailures: 2})

	records := validTrips(5)
	for i := range records {
		records[i].TripUUID = ""
	}

	summary, err := d.Run(context.Background(), trips.FromSlice(records))
	require.NoError(t, err)
	require.Equal(t, 5, summary.Errors)
	require.Len(t, summary.Failures, 2)
	require.Equal(t, 3, summary.FailuresDropped)
}
