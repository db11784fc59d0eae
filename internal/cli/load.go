package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/loader"
	"github.com/smartlogix/tripwarehouse/internal/source"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
	"github.com/spf13/cobra"
)

type LoadCmd struct {
	input           string
	errorBudget     int
	workers         int
	recordTimeout   time.Duration
	runTimeout      time.Duration
	progressEvery   int
	cacheSize       int
	breakerFailures int
	maxFailures     int
	output          string
}

func NewLoadCmd() *LoadCmd {
	return &LoadCmd{}
}

func (c *LoadCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load cleaned trips into the warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cancel()
			return c.run(e, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&c.input, "input", "i", getenv("TRIPWH_INPUT", "cleaned_delhivery.csv"), "cleaned CSV: path, s3://bucket/key or - for stdin (env: TRIPWH_INPUT)")
	cmd.Flags().IntVar(&c.errorBudget, "error-budget", getenvInt("TRIPWH_ERROR_BUDGET", loader.DefaultErrorBudget), "failed records tolerated before the run aborts; 0 aborts on the first failure (env: TRIPWH_ERROR_BUDGET)")
	cmd.Flags().IntVar(&c.workers, "workers", getenvInt("TRIPWH_WORKERS", loader.DefaultWorkers), "records loaded concurrently; 1 loads in input order (env: TRIPWH_WORKERS)")
	cmd.Flags().DurationVar(&c.recordTimeout, "record-timeout", getenvDuration("TRIPWH_RECORD_TIMEOUT", loader.DefaultRecordTimeout), "deadline for loading one record (env: TRIPWH_RECORD_TIMEOUT)")
	cmd.Flags().DurationVar(&c.runTimeout, "run-timeout", getenvDuration("TRIPWH_RUN_TIMEOUT", 0), "deadline for the whole run, 0 for none (env: TRIPWH_RUN_TIMEOUT)")
	cmd.Flags().IntVar(&c.progressEvery, "progress-every", getenvInt("TRIPWH_PROGRESS_EVERY", loader.DefaultProgressEvery), "records between progress logs (env: TRIPWH_PROGRESS_EVERY)")
	cmd.Flags().IntVar(&c.cacheSize, "cache-size", getenvInt("TRIPWH_CACHE_SIZE", 10_000), "dimension surrogates cached during the run (env: TRIPWH_CACHE_SIZE)")
	cmd.Flags().IntVar(&c.breakerFailures, "breaker-failures", getenvInt("TRIPWH_BREAKER_FAILURES", 0), "consecutive storage failures that open the store circuit breaker, 0 to disable (env: TRIPWH_BREAKER_FAILURES)")
	cmd.Flags().IntVar(&c.maxFailures, "max-failures", getenvInt("TRIPWH_MAX_FAILURES", loader.DefaultMaxFailures), "failed records listed in the summary (env: TRIPWH_MAX_FAILURES)")
	cmd.Flags().StringVar(&c.output, "output", getenv("TRIPWH_OUTPUT", "text"), "summary format: text or json (env: TRIPWH_OUTPUT)")
	return cmd
}

func (c *LoadCmd) run(e *env, stdout io.Writer) error {
	if c.output != "text" && c.output != "json" {
		return fmt.Errorf("invalid output type: %s (must be text or json)", c.output)
	}

	if c.errorBudget < 0 {
		return fmt.Errorf("invalid error budget: %d (must not be negative)", c.errorBudget)
	}
	errorBudget := c.errorBudget
	if errorBudget == 0 {
		errorBudget = loader.StrictErrorBudget
	}

	store, err := openStore(e.ctx, e.log, e.storeURI)
	if err != nil {
		return c.abort(e, stdout, loader.ReasonStoreUnreachable, err)
	}
	defer store.Close()

	in, err := source.Open(e.ctx, e.log, c.input)
	if err != nil {
		return c.abort(e, stdout, loader.ReasonInputFailed, err)
	}
	defer in.Close()

	reader, err := trips.NewReader(in)
	if err != nil {
		return c.abort(e, stdout, loader.ReasonInputFailed, fmt.Errorf("failed to read %s: %w", c.input, err))
	}

	driver, err := loader.New(loader.Config{
		Logger:           e.log,
		Store:            store,
		Metrics:          loader.NewMetrics(metricsRegisterer),
		WarehouseMetrics: warehouse.NewMetrics(metricsRegisterer),
		Source:           c.input,
		ErrorBudget:      errorBudget,
		Workers:          c.workers,
		RecordTimeout:    c.recordTimeout,
		RunTimeout:       c.runTimeout,
		ProgressEvery:    c.progressEvery,
		CacheSize:        c.cacheSize,
		BreakerFailures:  c.breakerFailures,
		MaxFailures:      c.maxFailures,
	})
	if err != nil {
		return err
	}

	summary, runErr := driver.Run(e.ctx, reader.All())
	if err := c.printSummary(stdout, summary); err != nil {
		return err
	}

	var fatal *loader.FatalError
	if errors.As(runErr, &fatal) {
		return fatal
	}
	return runErr
}

// abort reports a run that ended before any record was read, printing its
// empty summary like any other run.
func (c *LoadCmd) abort(e *env, stdout io.Writer, reason loader.FatalReason, err error) error {
	fatal := &loader.FatalError{Reason: reason, Err: err}
	now := time.Now()
	summary := loader.NewSummary(c.input, now)
	summary.Abort(fatal, now)
	e.log.Error("load: aborted", append(summary.LogAttrs(), "error", fatal)...)
	if err := c.printSummary(stdout, summary); err != nil {
		return err
	}
	return fatal
}

func (c *LoadCmd) printSummary(w io.Writer, s *loader.Summary) error {
	if c.output == "json" {
		return s.WriteJSON(w)
	}

	table := newTable(w, []string{"Run", "Total", "Inserted", "Skipped", "Errors", "Duration", "Status"})
	status := "completed"
	if s.Aborted {
		status = "aborted: " + s.AbortReason
	}
	table.Append([]string{s.RunID, itoa(s.Total), itoa(s.Inserted), itoa(s.Skipped), itoa(s.Errors), s.Duration().Round(time.Millisecond).String(), status})
	table.Render()

	if len(s.Failures) > 0 {
		failures := newTable(w, []string{"Row", "Trip", "Kind", "Error"})
		for _, f := range s.Failures {
			failures.Append([]string{itoa(f.Row), f.TripUUID, string(f.Kind), f.Error})
		}
		failures.Render()
		if s.FailuresDropped > 0 {
			fmt.Fprintf(w, "%d more failures not listed\n", s.FailuresDropped)
		}
	}
	if s.Counts != nil {
		printCounts(w, *s.Counts)
	}
	return nil
}

func printCounts(w io.Writer, c warehouse.TableCounts) {
	table := newTable(w, []string{"Table", "Rows"})
	table.Append([]string{"dim_date", itoa(c.Dates)})
	table.Append([]string{"dim_location", itoa(c.Locations)})
	table.Append([]string{"dim_vehicles", itoa(c.Vehicles)})
	table.Append([]string{"fact_trips", itoa(c.Facts)})
	table.Render()
}
