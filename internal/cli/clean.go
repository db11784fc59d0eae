package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/smartlogix/tripwarehouse/internal/clean"
	"github.com/smartlogix/tripwarehouse/internal/source"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/spf13/cobra"
)

var errExpectationsFailed = errors.New("data quality expectations failed")

type CleanCmd struct {
	input        string
	output       string
	expectations string
	force        bool
	reportFormat string
}

func NewCleanCmd() *CleanCmd {
	return &CleanCmd{}
}

func (c *CleanCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean a raw trip export into the canonical trip CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cancel()
			return c.run(e, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&c.input, "input", "i", getenv("TRIPWH_RAW_INPUT", source.Stdio), "raw CSV: path, s3://bucket/key or - for stdin; .gz and .zst are decompressed (env: TRIPWH_RAW_INPUT)")
	cmd.Flags().StringVarP(&c.output, "output", "o", getenv("TRIPWH_CLEAN_OUTPUT", source.Stdio), "cleaned CSV path or - for stdout; .gz and .zst are compressed (env: TRIPWH_CLEAN_OUTPUT)")
	cmd.Flags().StringVar(&c.expectations, "expectations", getenv("TRIPWH_EXPECTATIONS", ""), "YAML expectations file overriding the built-in checks (env: TRIPWH_EXPECTATIONS)")
	cmd.Flags().BoolVar(&c.force, "force", false, "write the output even when expectations fail")
	cmd.Flags().StringVar(&c.reportFormat, "report", "text", "report format: text or json")
	return cmd
}

func (c *CleanCmd) run(e *env, stdout io.Writer) error {
	if c.reportFormat != "text" && c.reportFormat != "json" {
		return fmt.Errorf("invalid report format: %s (must be text or json)", c.reportFormat)
	}

	cfg := clean.Config{Logger: e.log}
	if c.expectations != "" {
		data, err := os.ReadFile(c.expectations)
		if err != nil {
			return fmt.Errorf("failed to read expectations: %w", err)
		}
		exps, err := clean.ParseExpectations(data)
		if err != nil {
			return err
		}
		cfg.Expectations = exps
	}
	cleaner, err := clean.New(cfg)
	if err != nil {
		return err
	}

	in, err := source.Open(e.ctx, e.log, c.input)
	if err != nil {
		return err
	}
	defer in.Close()

	cleaned, report, err := cleaner.Clean(e.ctx, in)
	if err != nil {
		return err
	}

	// The report goes to stderr when the cleaned CSV is on stdout.
	reportOut := stdout
	if c.output == source.Stdio {
		reportOut = os.Stderr
	}
	if err := c.printReport(reportOut, report); err != nil {
		return err
	}

	if !report.Passed() && !c.force {
		return fmt.Errorf("%w: output not written (use --force to write it anyway)", errExpectationsFailed)
	}
	if !report.Passed() {
		e.log.Warn("clean: expectations failed, writing output because of --force")
	}

	out, err := source.Create(c.output)
	if err != nil {
		return err
	}
	w := trips.NewWriter(out)
	for _, t := range cleaned {
		if err := w.Write(t); err != nil {
			_ = out.Close()
			return fmt.Errorf("failed to write trip %s: %w", t.TripUUID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}

	e.log.Info("clean: finished", "rows_in", report.RowsIn, "duplicates", report.Duplicates, "rows_out", report.RowsOut, "output", c.output)
	return nil
}

func (c *CleanCmd) printReport(w io.Writer, report *clean.Report) error {
	if c.reportFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(w, "rows in: %d, duplicates dropped: %d, rows out: %d\n", report.RowsIn, report.Duplicates, report.RowsOut)
	for _, counts := range []struct {
		label string
		byCol map[string]int
	}{
		{"invalid timestamps", report.InvalidTimestamps},
		{"coerced numbers", report.CoercedNumbers},
		{"coerced flags", report.CoercedFlags},
	} {
		cols := make([]string, 0, len(counts.byCol))
		for col := range counts.byCol {
			cols = append(cols, col)
		}
		slices.Sort(cols)
		for _, col := range cols {
			fmt.Fprintf(w, "%s: %s=%d\n", counts.label, col, counts.byCol[col])
		}
	}

	table := newTable(w, []string{"Expectation", "Evaluated", "Unexpected", "Samples", "Result"})
	for _, res := range report.Expectations {
		result := "PASS"
		if !res.Success() {
			result = "FAIL"
		}
		table.Append([]string{res.Rule, itoa(res.Evaluated), itoa(res.Unexpected), strings.Join(res.Samples, ", "), result})
	}
	table.Render()
	return nil
}
