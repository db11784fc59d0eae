package clean

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/smartlogix/tripwarehouse/internal/trips"
)

var (
	timestampColumns = []string{"trip_creation_time", "od_start_time", "od_end_time", "cutoff_timestamp"}
	textColumns      = []string{trips.ColRouteType, trips.ColSourceName, trips.ColDestName}
	flagColumns      = []string{trips.ColIsCutoff}
	numericColumns   = []string{
		trips.ColActualTime,
		trips.ColOSRMTime,
		"factor",
		trips.ColActualDistance,
		trips.ColOSRMDistance,
		"segment_actual_time",
		"segment_osrm_time",
		"segment_osrm_distance",
		trips.ColSegmentFactor,
	}
)

const progressEvery = 50_000

type Config struct {
	Logger *slog.Logger

	// Expectations defaults to the embedded expectations.
	Expectations []Expectation
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Expectations == nil {
		exps, err := DefaultExpectations()
		if err != nil {
			return fmt.Errorf("failed to load default expectations: %w", err)
		}
		cfg.Expectations = exps
	}
	for _, e := range cfg.Expectations {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Report summarises a cleaning pass.
type Report struct {
	RowsIn            int                 `json:"rows_in"`
	Duplicates        int                 `json:"duplicates"`
	RowsOut           int                 `json:"rows_out"`
	InvalidTimestamps map[string]int      `json:"invalid_timestamps,omitempty"`
	CoercedNumbers    map[string]int      `json:"coerced_numbers,omitempty"`
	CoercedFlags      map[string]int      `json:"coerced_flags,omitempty"`
	Expectations      []ExpectationResult `json:"expectations"`
}

// Passed reports whether every expectation held.
func (r *Report) Passed() bool {
	for _, res := range r.Expectations {
		if !res.Success() {
			return false
		}
	}
	return true
}

// Cleaner turns raw trip exports into canonical cleaned trips.
type Cleaner struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Cleaner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Cleaner{log: cfg.Logger, cfg: cfg}, nil
}

// Clean reads a raw CSV export and returns the cleaned trips in input order
// along with a report. Expectation failures are reported, not returned as errors.
func (c *Cleaner) Clean(ctx context.Context, in io.Reader) ([]trips.Trip, *Report, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("empty input: no header")
		}
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = trips.NormalizeColumn(name)
	}
	if !slices.Contains(columns, trips.ColTripUUID) {
		return nil, nil, fmt.Errorf("input has no %s column", trips.ColTripUUID)
	}

	report := &Report{
		InvalidTimestamps: map[string]int{},
		CoercedNumbers:    map[string]int{},
		CoercedFlags:      map[string]int{},
	}
	eval := newEvaluator(c.cfg.Expectations)
	seen := make(map[string]struct{})

	var out []trips.Trip
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read row %d: %w", report.RowsIn+1, err)
		}
		report.RowsIn++

		key := strings.Join(record, "\x1f")
		if _, dup := seen[key]; dup {
			report.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		row := make(map[string]string, len(columns)+1)
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		c.cleanRow(row, report)
		eval.observe(row)

		out = append(out, toTrip(len(out)+1, row))
		if report.RowsIn%progressEvery == 0 {
			c.log.Debug("cleaning progress", "rows", report.RowsIn, "duplicates", report.Duplicates)
		}
	}

	report.RowsOut = len(out)
	report.Expectations = eval.results

	c.log.Info("cleaning complete",
		"rows_in", report.RowsIn,
		"duplicates", report.Duplicates,
		"rows_out", report.RowsOut,
		"passed", report.Passed(),
	)
	for _, res := range report.Expectations {
		if !res.Success() {
			c.log.Warn("expectation failed", "rule", res.Rule, "unexpected", res.Unexpected, "evaluated", res.Evaluated, "samples", strings.Join(res.Samples, "|"))
		}
	}

	return out, report, nil
}

// cleanRow normalises a row in place and derives time_deviation.
func (c *Cleaner) cleanRow(row map[string]string, report *Report) {
	for _, col := range timestampColumns {
		v, ok := row[col]
		if !ok || v == "" {
			continue
		}
		t, err := trips.ParseTimestamp(v)
		if err != nil {
			report.InvalidTimestamps[col]++
			row[col] = ""
			continue
		}
		row[col] = t.Format(trips.TimestampLayout)
	}

	for _, col := range textColumns {
		if v, ok := row[col]; ok {
			row[col] = TitleCase(v)
		}
	}

	for _, col := range numericColumns {
		v, ok := row[col]
		if !ok {
			continue
		}
		f, err := trips.ParseNumber(v)
		if err != nil {
			report.CoercedNumbers[col]++
			f = 0
		}
		row[col] = strconv.FormatFloat(f, 'f', -1, 64)
	}

	for _, col := range flagColumns {
		v, ok := row[col]
		if !ok {
			continue
		}
		b, err := trips.ParseFlag(v)
		if err != nil {
			report.CoercedFlags[col]++
			b = false
		}
		row[col] = strconv.FormatBool(b)
	}

	actual, _ := strconv.ParseFloat(row[trips.ColActualTime], 64)
	osrm, _ := strconv.ParseFloat(row[trips.ColOSRMTime], 64)
	row[trips.ColTimeDeviation] = strconv.FormatFloat(actual-osrm, 'f', -1, 64)
}

func toTrip(n int, row map[string]string) trips.Trip {
	t := trips.Trip{
		Row:               n,
		TripUUID:          row[trips.ColTripUUID],
		RouteScheduleUUID: row[trips.ColRouteScheduleUUID],
		RouteType:         row[trips.ColRouteType],
		SourceCenter:      row[trips.ColSourceCenter],
		SourceName:        row[trips.ColSourceName],
		DestinationCenter: row[trips.ColDestCenter],
		DestinationName:   row[trips.ColDestName],
		VehicleType:       row[trips.ColVehicleType],
	}
	// cleanRow normalised every timestamp, number and flag cell, so parse
	// failures here mean the column is absent.
	t.CreatedAt, _ = trips.ParseTimestamp(row[trips.ColCreatedAt])
	t.ActualTime, _ = trips.ParseNumber(row[trips.ColActualTime])
	t.OSRMTime, _ = trips.ParseNumber(row[trips.ColOSRMTime])
	t.ActualDistance, _ = trips.ParseNumber(row[trips.ColActualDistance])
	t.OSRMDistance, _ = trips.ParseNumber(row[trips.ColOSRMDistance])
	t.SegmentFactor, _ = trips.ParseNumber(row[trips.ColSegmentFactor])
	t.IsCutoff, _ = trips.ParseFlag(row[trips.ColIsCutoff])
	return t
}

// TitleCase upper-cases the first letter of every run of letters and
// lower-cases the rest, so "last-mile" becomes "Last-Mile".
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToUpper(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
