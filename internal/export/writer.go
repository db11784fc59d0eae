// Package export writes joined trip views out of the warehouse to JSON
// lines, CSV or a ClickHouse table.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

// RecordWriter writes batches of trip views to a destination.
type RecordWriter interface {
	Write(ctx context.Context, views []warehouse.TripView) error
	Close() error
}

// StdoutRecordWriter writes each trip view as a JSON line.
type StdoutRecordWriter struct {
	writer  io.Writer
	encoder *json.Encoder
}

type StdoutRecordWriterOption func(*StdoutRecordWriter)

// WithStdoutWriter sets a custom writer (defaults to os.Stdout).
func WithStdoutWriter(w io.Writer) StdoutRecordWriterOption {
	return func(s *StdoutRecordWriter) {
		s.writer = w
	}
}

func NewStdoutRecordWriter(opts ...StdoutRecordWriterOption) *StdoutRecordWriter {
	s := &StdoutRecordWriter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.encoder = json.NewEncoder(s.writer)
	return s
}

func (s *StdoutRecordWriter) Write(ctx context.Context, views []warehouse.TripView) error {
	for _, v := range views {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.encoder.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *StdoutRecordWriter) Close() error {
	return nil
}

// CSVRecordWriter writes trip views as CSV with a header row named after the
// views' JSON fields.
type CSVRecordWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func NewCSVRecordWriter(w io.Writer) *CSVRecordWriter {
	return &CSVRecordWriter{w: csv.NewWriter(w)}
}

func (c *CSVRecordWriter) Write(ctx context.Context, views []warehouse.TripView) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvColumns()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		c.wroteHeader = true
	}
	for _, v := range views {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.w.Write(csvRecord(v)); err != nil {
			return fmt.Errorf("failed to write trip %s: %w", v.TripUUID, err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes buffered rows, writing the header if nothing was written.
func (c *CSVRecordWriter) Close() error {
	if !c.wroteHeader {
		if err := c.w.Write(csvColumns()); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		c.wroteHeader = true
	}
	c.w.Flush()
	return c.w.Error()
}

var tripViewType = reflect.TypeFor[warehouse.TripView]()

func csvColumns() []string {
	cols := make([]string, 0, tripViewType.NumField())
	for i := range tripViewType.NumField() {
		name := strings.Split(tripViewType.Field(i).Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		cols = append(cols, name)
	}
	return cols
}

func csvRecord(v warehouse.TripView) []string {
	val := reflect.ValueOf(v)
	out := make([]string, 0, val.NumField())
	for i := range val.NumField() {
		name := strings.Split(tripViewType.Field(i).Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		out = append(out, formatCSVValue(val.Field(i).Interface()))
	}
	return out
}

func formatCSVValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.DateOnly)
	default:
		return fmt.Sprint(x)
	}
}
