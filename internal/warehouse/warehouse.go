// Package warehouse defines the star-schema model for trips, the store
// contracts the Postgres and DuckDB backends implement, and the dimension
// resolution and fact loading built on top of them.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by a store lookup when no row has the natural key.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by a store insert that lost to an existing row with the same natural key.
	ErrConflict = errors.New("natural key already exists")
	// ErrInvalidKey is returned when a natural key fails the resolver's input constraints.
	ErrInvalidKey = errors.New("invalid natural key")
)

// StorageError reports a store read or write that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type LocationType string

const (
	LocationSource      LocationType = "Source"
	LocationDestination LocationType = "Destination"
)

func (t LocationType) Valid() bool {
	return t == LocationSource || t == LocationDestination
}

// DateRow is a dim_date row. The natural key is FullDate.
type DateRow struct {
	ID        int64
	FullDate  time.Time
	Day       int
	Month     int
	Year      int
	DayOfWeek string
	IsWeekend bool
}

// NewDateRow derives the date dimension attributes for the calendar day of t.
func NewDateRow(t time.Time) DateRow {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	wd := d.Weekday()
	return DateRow{
		FullDate:  d,
		Day:       d.Day(),
		Month:     int(d.Month()),
		Year:      d.Year(),
		DayOfWeek: wd.String(),
		IsWeekend: wd == time.Saturday || wd == time.Sunday,
	}
}

// LocationKey is the natural key of a dim_location row.
type LocationKey struct {
	Code string
	Name string
	Type LocationType
}

func (k LocationKey) String() string {
	return string(k.Type) + "|" + k.Code + "|" + k.Name
}

// FactRow is a fact_trips row.
type FactRow struct {
	TripUUID              string
	RouteScheduleUUID     string
	RouteType             string
	DateID                int64
	SourceLocationID      int64
	DestinationLocationID int64
	VehicleID             int64
	ActualTime            float64
	OSRMTime              float64
	TimeDeviation         float64
	ActualDistance        float64
	OSRMDistance          float64
	SegmentFactor         float64
	IsCutoff              bool
}

// TableCounts holds row counts per warehouse table.
type TableCounts struct {
	Dates     int64 `json:"dim_date"`
	Locations int64 `json:"dim_location"`
	Vehicles  int64 `json:"dim_vehicles"`
	Facts     int64 `json:"fact_trips"`
}

// LoadRun is an etl_load_runs audit row.
type LoadRun struct {
	RunID       string
	Source      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Total       int
	Inserted    int
	Skipped     int
	Errors      int
	Aborted     bool
	AbortReason string
}

// DimensionStore provides the lookup and insert-if-absent primitives the
// resolver is built on. Lookups return ErrNotFound for an unseen key and
// inserts return ErrConflict when the key already exists; inserts never
// modify an existing row.
type DimensionStore interface {
	FindDate(ctx context.Context, day time.Time) (int64, error)
	InsertDate(ctx context.Context, row DateRow) (int64, error)
	FindLocation(ctx context.Context, key LocationKey) (int64, error)
	InsertLocation(ctx context.Context, key LocationKey) (int64, error)
	FindVehicle(ctx context.Context, vehicleType string) (int64, error)
	InsertVehicle(ctx context.Context, vehicleType string) (int64, error)
}

// FactStore inserts fact rows. InsertFact reports false without error when a
// row with the same trip identifier already exists.
type FactStore interface {
	InsertFact(ctx context.Context, row FactRow) (bool, error)
}

// Store is a warehouse backend.
type Store interface {
	DimensionStore
	FactStore

	EnsureSchema(ctx context.Context) error
	Counts(ctx context.Context) (TableCounts, error)
	RecordLoadRun(ctx context.Context, run LoadRun) error
	TripViews(ctx context.Context, filter TripFilter) ([]TripView, error)
	Close() error
}

// RedactURI hides the password in a connection URI for logging.
func RedactURI(uri string) string {
	if uri == "" {
		return uri
	}
	if strings.Contains(uri, "://") {
		parsed, err := url.Parse(uri)
		if err != nil {
			return "[REDACTED: invalid URI]"
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				parsed.User = url.UserPassword(parsed.User.Username(), "REDACTED")
			}
		}
		return parsed.String()
	}
	if strings.Contains(uri, "password=") {
		parts := strings.Fields(uri)
		for i, part := range parts {
			if strings.HasPrefix(part, "password=") {
				parts[i] = "password=REDACTED"
			}
		}
		return strings.Join(parts, " ")
	}
	return uri
}
