package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

type Config struct {
	Logger  *slog.Logger
	Viewer  warehouse.TripViewer
	Writer  RecordWriter
	Metrics *Metrics

	// WriterName labels the rows written metric.
	WriterName string

	Filter    warehouse.TripFilter
	BatchSize int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Viewer == nil {
		return errors.New("viewer is required")
	}
	if cfg.Writer == nil {
		return errors.New("writer is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.WriterName == "" {
		cfg.WriterName = "unknown"
	}
	if cfg.BatchSize < 0 {
		return errors.New("batch size must not be negative")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = warehouse.DefaultPageSize
	}
	return nil
}

// Export pages through the matching trip views and hands each page to the
// writer. It returns the number of views written.
func Export(ctx context.Context, cfg Config) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("failed to validate config: %w", err)
	}

	written := 0
	for page, err := range warehouse.TripViewPages(ctx, cfg.Viewer, cfg.Filter, cfg.BatchSize) {
		if err != nil {
			return written, fmt.Errorf("failed to read trip views: %w", err)
		}
		if err := cfg.Writer.Write(ctx, page); err != nil {
			return written, fmt.Errorf("failed to write batch after %d rows: %w", written, err)
		}
		written += len(page)
		cfg.Metrics.RowsWritten.WithLabelValues(cfg.WriterName).Add(float64(len(page)))
		cfg.Logger.Debug("export: wrote batch", "rows", len(page), "total", written)
	}
	cfg.Logger.Info("export: finished", "writer", cfg.WriterName, "rows", written)
	return written, nil
}
