package trips

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Writer writes trips in the canonical cleaned column order.
type Writer struct {
	csv         *csv.Writer
	wroteHeader bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

func (w *Writer) Write(t Trip) error {
	if !w.wroteHeader {
		if err := w.csv.Write(Columns); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		w.wroteHeader = true
	}

	var created string
	if !t.CreatedAt.IsZero() {
		created = t.CreatedAt.UTC().Format(TimestampLayout)
	}

	return w.csv.Write([]string{
		t.TripUUID,
		t.RouteScheduleUUID,
		t.RouteType,
		created,
		t.SourceCenter,
		t.SourceName,
		t.DestinationCenter,
		t.DestinationName,
		t.Vehicle(),
		formatNumber(t.ActualTime),
		formatNumber(t.OSRMTime),
		formatNumber(t.TimeDeviation()),
		formatNumber(t.ActualDistance),
		formatNumber(t.OSRMDistance),
		formatNumber(t.SegmentFactor),
		strconv.FormatBool(t.IsCutoff),
	})
}

// Flush writes buffered rows and reports any write error.
func (w *Writer) Flush() error {
	if !w.wroteHeader {
		if err := w.csv.Write(Columns); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		w.wroteHeader = true
	}
	w.csv.Flush()
	return w.csv.Error()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
