package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureStorage    FailureKind = "storage"
)

// Failure identifies a record that was not loaded.
type Failure struct {
	Row      int         `json:"row"`
	TripUUID string      `json:"trip_uuid,omitempty"`
	Kind     FailureKind `json:"kind"`
	Error    string      `json:"error"`
}

// Summary reports the outcome of a run. It is produced for every run,
// including aborted ones.
type Summary struct {
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Total       int       `json:"total_count"`
	Inserted    int       `json:"inserted_count"`
	Skipped     int       `json:"skipped_count"`
	Errors      int       `json:"error_count"`
	Aborted     bool      `json:"aborted"`
	AbortReason string    `json:"abort_reason,omitempty"`

	// Failures lists failed records, capped at the configured maximum.
	// FailuresDropped counts those left out.
	Failures        []Failure `json:"failures"`
	FailuresDropped int       `json:"failures_dropped,omitempty"`

	// Counts holds the table row counts observed after the run, when they
	// could be read.
	Counts *warehouse.TableCounts `json:"counts,omitempty"`
}

// NewSummary starts the summary of a run reading from source, identified
// by a fresh ULID.
func NewSummary(source string, startedAt time.Time) *Summary {
	return &Summary{
		RunID:     ulid.Make().String(),
		Source:    source,
		StartedAt: startedAt.UTC(),
		Failures:  []Failure{},
	}
}

// Abort marks the summary finished at t and aborted by fatal.
func (s *Summary) Abort(fatal *FatalError, t time.Time) {
	s.FinishedAt = t.UTC()
	s.Aborted = true
	s.AbortReason = string(fatal.Reason)
}

func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// LogAttrs returns the summary as slog key-value pairs.
func (s *Summary) LogAttrs() []any {
	attrs := []any{
		"run_id", s.RunID,
		"total", s.Total,
		"inserted", s.Inserted,
		"skipped", s.Skipped,
		"errors", s.Errors,
		"duration", s.Duration().Round(time.Millisecond),
	}
	if s.Aborted {
		attrs = append(attrs, "aborted", true, "abort_reason", s.AbortReason)
	}
	return attrs
}

func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// LoadRun converts the summary to its audit row.
func (s *Summary) LoadRun() warehouse.LoadRun {
	return warehouse.LoadRun{
		RunID:       s.RunID,
		Source:      s.Source,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Total:       s.Total,
		Inserted:    s.Inserted,
		Skipped:     s.Skipped,
		Errors:      s.Errors,
		Aborted:     s.Aborted,
		AbortReason: s.AbortReason,
	}
}

func classify(err error) FailureKind {
	var verr *trips.ValidationError
	if errors.As(err, &verr) || errors.Is(err, warehouse.ErrInvalidKey) {
		return FailureValidation
	}
	return FailureStorage
}
