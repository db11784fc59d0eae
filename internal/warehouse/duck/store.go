// Package duck implements the trip warehouse on an embedded DuckDB database.
package duck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

type Config struct {
	Logger *slog.Logger

	// Path is the database file. Empty opens an in-memory database.
	Path string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Store is a warehouse.Store backed by DuckDB. Writes are autocommitted
// statements retried on transaction conflicts.
type Store struct {
	log  *slog.Logger
	db   *sql.DB
	path string
}

var _ warehouse.Store = (*Store)(nil)

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	cfg.Logger.Info("opened duckdb", "path", path)
	return &Store{log: cfg.Logger, db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for ad hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) FindDate(ctx context.Context, day time.Time) (int64, error) {
	return s.queryID(ctx, "find date", warehouse.FindDateSQL, day)
}

func (s *Store) InsertDate(ctx context.Context, row warehouse.DateRow) (int64, error) {
	return s.insertID(ctx, "insert date", warehouse.InsertDateSQL, row.Args()...)
}

func (s *Store) FindLocation(ctx context.Context, key warehouse.LocationKey) (int64, error) {
	return s.queryID(ctx, "find location", warehouse.FindLocationSQL, key.Args()...)
}

func (s *Store) InsertLocation(ctx context.Context, key warehouse.LocationKey) (int64, error) {
	return s.insertID(ctx, "insert location", warehouse.InsertLocationSQL, key.Args()...)
}

func (s *Store) FindVehicle(ctx context.Context, vehicleType string) (int64, error) {
	return s.queryID(ctx, "find vehicle", warehouse.FindVehicleSQL, vehicleType)
}

func (s *Store) InsertVehicle(ctx context.Context, vehicleType string) (int64, error) {
	return s.insertID(ctx, "insert vehicle", warehouse.InsertVehicleSQL, vehicleType)
}

func (s *Store) InsertFact(ctx context.Context, row warehouse.FactRow) (bool, error) {
	_, err := s.insertID(ctx, "insert fact", warehouse.InsertFactSQL, row.Args()...)
	if errors.Is(err, warehouse.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Counts(ctx context.Context) (warehouse.TableCounts, error) {
	var c warehouse.TableCounts
	err := s.db.QueryRowContext(ctx, warehouse.CountsSQL).Scan(&c.Dates, &c.Locations, &c.Vehicles, &c.Facts)
	if err != nil {
		return c, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}

func (s *Store) RecordLoadRun(ctx context.Context, run warehouse.LoadRun) error {
	_, err := retryOnConflict(ctx, s.log, "record load run", func() (sql.Result, error) {
		return s.db.ExecContext(ctx, warehouse.InsertLoadRunSQL, run.Args()...)
	})
	if err != nil {
		return fmt.Errorf("failed to record load run: %w", err)
	}
	return nil
}

func (s *Store) TripViews(ctx context.Context, filter warehouse.TripFilter) ([]warehouse.TripView, error) {
	query, args := warehouse.TripViewQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trip views: %w", err)
	}
	defer rows.Close()

	var views []warehouse.TripView
	for rows.Next() {
		var v warehouse.TripView
		if err := rows.Scan(v.ScanTargets()...); err != nil {
			return nil, fmt.Errorf("failed to scan trip view: %w", err)
		}
		v.Derive()
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trip views: %w", err)
	}
	return views, nil
}

func (s *Store) queryID(ctx context.Context, op, query string, args ...any) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, warehouse.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return id, nil
}

// insertID runs an INSERT ... ON CONFLICT DO NOTHING RETURNING statement. No
// returned row, or a unique violation raised against a concurrently committed
// row, means the natural key already existed.
func (s *Store) insertID(ctx context.Context, op, query string, args ...any) (int64, error) {
	id, err := retryOnConflict(ctx, s.log, op, func() (int64, error) {
		var id int64
		err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
		return id, err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		return 0, warehouse.ErrConflict
	case err != nil:
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return id, nil
}
