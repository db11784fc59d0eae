package trips

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
)

// Reader reads cleaned trips from CSV. Columns may appear in any order.
type Reader struct {
	csv   *csv.Reader
	index map[string]int
	row   int
}

// NewReader reads the header and checks that every required column is present.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty dataset: no header")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[NormalizeColumn(name)] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	return &Reader{csv: cr, index: index}, nil
}

// Read returns the next trip. It returns io.EOF at the end of input and a
// *ValidationError for a malformed row, after which reading may continue.
func (r *Reader) Read() (Trip, error) {
	record, err := r.csv.Read()
	if err != nil {
		return Trip{}, err
	}
	r.row++

	cell := func(col string) string {
		i, ok := r.index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	t := Trip{
		Row:               r.row,
		TripUUID:          cell(ColTripUUID),
		RouteScheduleUUID: cell(ColRouteScheduleUUID),
		RouteType:         cell(ColRouteType),
		SourceCenter:      cell(ColSourceCenter),
		SourceName:        cell(ColSourceName),
		DestinationCenter: cell(ColDestCenter),
		DestinationName:   cell(ColDestName),
		VehicleType:       cell(ColVehicleType),
	}
	invalid := func(field string, err error) (Trip, error) {
		return t, &ValidationError{Row: t.Row, TripUUID: t.TripUUID, Field: field, Reason: err.Error()}
	}

	if raw := cell(ColCreatedAt); raw != "" {
		if t.CreatedAt, err = ParseTimestamp(raw); err != nil {
			return invalid(ColCreatedAt, err)
		}
	}

	numbers := []struct {
		col string
		dst *float64
	}{
		{ColActualTime, &t.ActualTime},
		{ColOSRMTime, &t.OSRMTime},
		{ColActualDistance, &t.ActualDistance},
		{ColOSRMDistance, &t.OSRMDistance},
		{ColSegmentFactor, &t.SegmentFactor},
	}
	for _, n := range numbers {
		if *n.dst, err = ParseNumber(cell(n.col)); err != nil {
			return invalid(n.col, err)
		}
	}

	if t.IsCutoff, err = ParseFlag(cell(ColIsCutoff)); err != nil {
		return invalid(ColIsCutoff, err)
	}

	return t, nil
}

// All yields every row. Validation errors are yielded alongside the partially
// parsed trip and iteration continues; any other error is yielded once and ends
// the sequence.
func (r *Reader) All() iter.Seq2[Trip, error] {
	return func(yield func(Trip, error) bool) {
		for {
			t, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			var verr *ValidationError
			if err != nil && !errors.As(err, &verr) {
				yield(Trip{Row: r.row + 1}, fmt.Errorf("failed to read row %d: %w", r.row+1, err))
				return
			}
			if !yield(t, err) {
				return
			}
		}
	}
}

// FromSlice yields the given trips in order, numbering rows that have none.
func FromSlice(ts []Trip) iter.Seq2[Trip, error] {
	return func(yield func(Trip, error) bool) {
		for i, t := range slices.Clone(ts) {
			if t.Row == 0 {
				t.Row = i + 1
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}
