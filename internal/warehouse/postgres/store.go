// Package postgres implements the trip warehouse on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

const (
	defaultMaxConns       = 10
	defaultMinConns       = 2
	defaultConnectTimeout = 30 * time.Second
)

type Config struct {
	Logger *slog.Logger
	URL    string

	MaxConns int32
	MinConns int32

	// ConnectTimeout bounds how long Open keeps retrying an unreachable server.
	ConnectTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.URL == "" {
		return errors.New("url is required")
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = defaultMinConns
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return nil
}

// Store is a warehouse.Store backed by a pgx connection pool. Every write is
// a single autocommitted statement.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ warehouse.Store = (*Store)(nil)

// Open connects to Postgres, retrying with exponential backoff until the
// server answers or ConnectTimeout elapses.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	redacted := warehouse.RedactURI(cfg.URL)
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := pool.Ping(ctx); err != nil {
			if isAuthError(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			cfg.Logger.Warn("postgres not reachable, retrying", "url", redacted, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(cfg.ConnectTimeout),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres at %s: %w", redacted, err)
	}

	cfg.Logger.Info("connected to postgres", "url", redacted, "max_conns", cfg.MaxConns)
	return &Store{log: cfg.Logger, pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema creates the warehouse tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn("failed to rollback schema transaction", "error", err)
		}
	}()

	// Serialise concurrent schema setup across processes.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('tripwh_schema'))`); err != nil {
		return fmt.Errorf("failed to acquire schema lock: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

func (s *Store) FindDate(ctx context.Context, day time.Time) (int64, error) {
	return s.queryID(ctx, warehouse.FindDateSQL, day)
}

func (s *Store) InsertDate(ctx context.Context, row warehouse.DateRow) (int64, error) {
	return s.insertID(ctx, warehouse.InsertDateSQL, row.Args()...)
}

func (s *Store) FindLocation(ctx context.Context, key warehouse.LocationKey) (int64, error) {
	return s.queryID(ctx, warehouse.FindLocationSQL, key.Args()...)
}

func (s *Store) InsertLocation(ctx context.Context, key warehouse.LocationKey) (int64, error) {
	return s.insertID(ctx, warehouse.InsertLocationSQL, key.Args()...)
}

func (s *Store) FindVehicle(ctx context.Context, vehicleType string) (int64, error) {
	return s.queryID(ctx, warehouse.FindVehicleSQL, vehicleType)
}

func (s *Store) InsertVehicle(ctx context.Context, vehicleType string) (int64, error) {
	return s.insertID(ctx, warehouse.InsertVehicleSQL, vehicleType)
}

func (s *Store) InsertFact(ctx context.Context, row warehouse.FactRow) (bool, error) {
	_, err := s.insertID(ctx, warehouse.InsertFactSQL, row.Args()...)
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
	err := s.pool.QueryRow(ctx, warehouse.CountsSQL).Scan(&c.Dates, &c.Locations, &c.Vehicles, &c.Facts)
	if err != nil {
		return c, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}

func (s *Store) RecordLoadRun(ctx context.Context, run warehouse.LoadRun) error {
	if _, err := s.pool.Exec(ctx, warehouse.InsertLoadRunSQL, run.Args()...); err != nil {
		return fmt.Errorf("failed to record load run: %w", err)
	}
	return nil
}

func (s *Store) TripViews(ctx context.Context, filter warehouse.TripFilter) ([]warehouse.TripView, error) {
	query, args := warehouse.TripViewQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *Store) queryID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, warehouse.ErrNotFound
	}
	return id, err
}

// insertID runs an INSERT ... ON CONFLICT DO NOTHING RETURNING statement. No
// returned row means the natural key already existed.
func (s *Store) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, warehouse.ErrConflict
	}
	return id, err
}

func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 28: invalid authorization specification. 3D000: unknown database.
		return strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000"
	}
	return false
}
