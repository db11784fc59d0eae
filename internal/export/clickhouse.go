package export

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

const (
	DefaultClickhouseTable = "trip_views"

	chErrCodeUnknownTable      = 60
	chErrCodeUnknownDatabase   = 81
	chErrCodeAuthFailed        = 516
	chErrCodeSyntaxError       = 62
	chErrCodeTypeMismatch      = 53
	clickhouseMaxTries         = 3
	clickhouseConnectMaxTries  = 5
	clickhouseInitialRetryWait = 200 * time.Millisecond
)

// IsRetryableClickhouseError reports whether err is transient and the
// operation may be retried.
func IsRetryableClickhouseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exception *clickhouse.Exception
	if errors.As(err, &exception) {
		switch exception.Code {
		case chErrCodeUnknownTable, chErrCodeUnknownDatabase, chErrCodeAuthFailed, chErrCodeSyntaxError, chErrCodeTypeMismatch:
			return false
		}
	}
	return true
}

// tripViewColumns holds the ClickHouse column layout of TripView, derived
// from its ch tags.
type tripViewColumns struct {
	names   []string
	types   []string
	indexes []int
}

var (
	columnsOnce sync.Once
	columns     tripViewColumns
	columnsErr  error
)

func tripViewLayout() (tripViewColumns, error) {
	columnsOnce.Do(func() {
		timeType := reflect.TypeFor[time.Time]()
		for i := range tripViewType.NumField() {
			field := tripViewType.Field(i)
			name := strings.Split(field.Tag.Get("ch"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			var chType string
			switch {
			case field.Type == timeType:
				chType = "Date"
			case field.Type.Kind() == reflect.String:
				chType = "String"
			case field.Type.Kind() == reflect.Int64:
				chType = "Int64"
			case field.Type.Kind() == reflect.Int32:
				chType = "Int32"
			case field.Type.Kind() == reflect.Float64:
				chType = "Float64"
			case field.Type.Kind() == reflect.Bool:
				chType = "Bool"
			default:
				columnsErr = fmt.Errorf("unsupported type %s for column %q", field.Type, name)
				return
			}
			columns.names = append(columns.names, name)
			columns.types = append(columns.types, chType)
			columns.indexes = append(columns.indexes, i)
		}
	})
	return columns, columnsErr
}

// ClickhouseRecordWriter mirrors trip views into a ReplacingMergeTree table
// keyed on trip_uuid, so re-exporting a trip replaces its row on merge.
type ClickhouseRecordWriter struct {
	addr       string
	db         string
	user       string
	pass       string
	table      string
	disableTLS bool
	conn       clickhouse.Conn
	logger     *slog.Logger
	metrics    *Metrics

	mu           sync.Mutex
	tableCreated bool
}

type ClickhouseWriterOption func(*ClickhouseRecordWriter)

func WithClickhouseAddr(addr string) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.addr = addr
	}
}

func WithClickhouseDB(db string) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.db = db
	}
}

func WithClickhouseUser(user string) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.user = user
	}
}

func WithClickhousePassword(pass string) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.pass = pass
	}
}

// WithClickhouseTable sets the destination table (defaults to trip_views).
func WithClickhouseTable(table string) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.table = table
	}
}

func WithClickhouseTLSDisabled(disabled bool) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.disableTLS = disabled
	}
}

func WithClickhouseLogger(logger *slog.Logger) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.logger = logger
	}
}

func WithClickhouseMetrics(metrics *Metrics) ClickhouseWriterOption {
	return func(cw *ClickhouseRecordWriter) {
		cw.metrics = metrics
	}
}

// NewClickhouseRecordWriter connects to ClickHouse, retrying transient
// connection failures. The address must be set with WithClickhouseAddr.
func NewClickhouseRecordWriter(ctx context.Context, opts ...ClickhouseWriterOption) (*ClickhouseRecordWriter, error) {
	cw := &ClickhouseRecordWriter{
		db:      "default",
		user:    "default",
		table:   DefaultClickhouseTable,
		metrics: NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(cw)
	}

	if cw.addr == "" {
		return nil, errors.New("clickhouse address is required: use WithClickhouseAddr")
	}
	if cw.logger == nil {
		cw.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	chOpts := &clickhouse.Options{
		Addr: []string{cw.addr},
		Auth: clickhouse.Auth{
			Database: cw.db,
			Username: cw.user,
			Password: cw.pass,
		},
	}
	if !cw.disableTLS {
		chOpts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, fmt.Errorf("error opening clickhouse connection: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := conn.Ping(ctx); err != nil {
			if !IsRetryableClickhouseError(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(newClickhouseBackOff()),
		backoff.WithMaxTries(clickhouseConnectMaxTries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			cw.logger.Warn("clickhouse not ready, retrying", "addr", cw.addr, "delay", delay, "error", err)
		}),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error connecting to clickhouse: %w", err)
	}

	cw.conn = conn
	return cw, nil
}

func newClickhouseBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = clickhouseInitialRetryWait
	return b
}

// Write sends the views as one batch. A retryable failure resends the whole
// batch.
func (cw *ClickhouseRecordWriter) Write(ctx context.Context, views []warehouse.TripView) error {
	if len(views) == 0 {
		return nil
	}
	if err := cw.ensureTable(ctx); err != nil {
		return err
	}
	layout, err := tripViewLayout()
	if err != nil {
		return err
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := cw.writeBatch(ctx, layout, views); err != nil {
			if !IsRetryableClickhouseError(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(newClickhouseBackOff()),
		backoff.WithMaxTries(clickhouseMaxTries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			cw.logger.Warn("clickhouse batch failed, retrying", "table", cw.table, "rows", len(views), "delay", delay, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("error writing to table %s: %w", cw.table, err)
	}
	return nil
}

func (cw *ClickhouseRecordWriter) Close() error {
	return cw.conn.Close()
}

func (cw *ClickhouseRecordWriter) qualifiedTable() string {
	return cw.db + "." + cw.table
}

func (cw *ClickhouseRecordWriter) ensureTable(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.tableCreated {
		return nil
	}

	layout, err := tripViewLayout()
	if err != nil {
		return err
	}
	defs := make([]string, len(layout.names))
	for i, name := range layout.names {
		defs[i] = name + " " + layout.types[i]
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s,\n\texported_at DateTime64(3) DEFAULT now64(3)\n) ENGINE = ReplacingMergeTree(exported_at)\nORDER BY trip_uuid",
		cw.qualifiedTable(), strings.Join(defs, ",\n\t"))
	if err := cw.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("error creating table %s: %w", cw.qualifiedTable(), err)
	}
	cw.tableCreated = true
	cw.logger.Debug("ensured clickhouse table", "table", cw.qualifiedTable())
	return nil
}

// writeBatch fails fast: any append error aborts the whole batch so the
// caller can resend it in full.
func (cw *ClickhouseRecordWriter) writeBatch(ctx context.Context, layout tripViewColumns, views []warehouse.TripView) error {
	query := fmt.Sprintf("INSERT INTO %s (%s)", cw.qualifiedTable(), strings.Join(layout.names, ", "))
	batch, err := cw.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("error preparing batch: %w", err)
	}

	for i, v := range views {
		val := reflect.ValueOf(v)
		values := make([]any, len(layout.indexes))
		for j, idx := range layout.indexes {
			values[j] = val.Field(idx).Interface()
		}
		if err := batch.Append(values...); err != nil {
			_ = batch.Close()
			return fmt.Errorf("error appending record %d to batch: %w", i, err)
		}
	}

	timer := prometheus.NewTimer(cw.metrics.InsertDuration)
	if err := batch.Send(); err != nil {
		_ = batch.Close()
		cw.metrics.InsertErrors.Inc()
		return fmt.Errorf("error sending batch: %w", err)
	}
	timer.ObserveDuration()

	if err := batch.Close(); err != nil {
		return fmt.Errorf("error closing batch: %w", err)
	}
	cw.logger.Debug("wrote trip views to clickhouse", "count", len(views))
	return nil
}
