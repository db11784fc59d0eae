package cli

import (
	"fmt"
	"io"

	"github.com/smartlogix/tripwarehouse/internal/export"
	"github.com/smartlogix/tripwarehouse/internal/source"
	"github.com/spf13/cobra"
)

const (
	exportFormatStdout     = "stdout"
	exportFormatCSV        = "csv"
	exportFormatClickhouse = "clickhouse"
)

type ExportCmd struct {
	filterFlags

	format    string
	out       string
	batchSize int

	chAddr        string
	chDB          string
	chUser        string
	chPassword    string
	chTable       string
	chTLSDisabled bool
}

func NewExportCmd() *ExportCmd {
	return &ExportCmd{}
}

func (c *ExportCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export denormalized trip views as JSON lines, CSV or into ClickHouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.cancel()
			return c.run(e, cmd.OutOrStdout())
		},
	}
	c.filterFlags.register(cmd.Flags())
	cmd.Flags().StringVar(&c.format, "format", exportFormatStdout, "output format: stdout (JSON lines), csv or clickhouse")
	cmd.Flags().StringVarP(&c.out, "out", "o", source.Stdio, "csv output path or - for stdout")
	cmd.Flags().IntVar(&c.batchSize, "batch-size", getenvInt("TRIPWH_EXPORT_BATCH_SIZE", 5000), "trip views read and written per batch (env: TRIPWH_EXPORT_BATCH_SIZE)")
	cmd.Flags().StringVar(&c.chAddr, "clickhouse-addr", getenv("CLICKHOUSE_ADDR", ""), "ClickHouse address host:port (env: CLICKHOUSE_ADDR)")
	cmd.Flags().StringVar(&c.chDB, "clickhouse-db", getenv("CLICKHOUSE_DB", "default"), "ClickHouse database (env: CLICKHOUSE_DB)")
	cmd.Flags().StringVar(&c.chUser, "clickhouse-user", getenv("CLICKHOUSE_USER", "default"), "ClickHouse user (env: CLICKHOUSE_USER)")
	cmd.Flags().StringVar(&c.chPassword, "clickhouse-password", getenv("CLICKHOUSE_PASSWORD", ""), "ClickHouse password (env: CLICKHOUSE_PASSWORD)")
	cmd.Flags().StringVar(&c.chTable, "clickhouse-table", getenv("CLICKHOUSE_TABLE", export.DefaultClickhouseTable), "ClickHouse table (env: CLICKHOUSE_TABLE)")
	cmd.Flags().BoolVar(&c.chTLSDisabled, "clickhouse-tls-disabled", getenv("CLICKHOUSE_TLS_DISABLED", "") == "true", "disable TLS for ClickHouse (env: CLICKHOUSE_TLS_DISABLED)")
	return cmd
}

func (c *ExportCmd) run(e *env, stdout io.Writer) error {
	filter, err := c.filter()
	if err != nil {
		return err
	}

	metrics := export.NewMetrics(metricsRegisterer)

	var writer export.RecordWriter
	switch c.format {
	case exportFormatStdout:
		writer = export.NewStdoutRecordWriter(export.WithStdoutWriter(stdout))
	case exportFormatCSV:
		if c.out == source.Stdio {
			writer = export.NewCSVRecordWriter(stdout)
			break
		}
		out, err := source.Create(c.out)
		if err != nil {
			return err
		}
		defer out.Close()
		writer = export.NewCSVRecordWriter(out)
	case exportFormatClickhouse:
		cw, err := export.NewClickhouseRecordWriter(e.ctx,
			export.WithClickhouseAddr(c.chAddr),
			export.WithClickhouseDB(c.chDB),
			export.WithClickhouseUser(c.chUser),
			export.WithClickhousePassword(c.chPassword),
			export.WithClickhouseTable(c.chTable),
			export.WithClickhouseTLSDisabled(c.chTLSDisabled),
			export.WithClickhouseLogger(e.log),
			export.WithClickhouseMetrics(metrics),
		)
		if err != nil {
			return fmt.Errorf("failed to create clickhouse writer: %w", err)
		}
		writer = cw
	default:
		return fmt.Errorf("invalid format: %s (must be stdout, csv or clickhouse)", c.format)
	}

	store, err := openStore(e.ctx, e.log, e.storeURI)
	if err != nil {
		_ = writer.Close()
		return err
	}
	defer store.Close()

	_, err = export.Export(e.ctx, export.Config{
		Logger:     e.log,
		Viewer:     store,
		Writer:     writer,
		Metrics:    metrics,
		WriterName: c.format,
		Filter:     filter,
		BatchSize:  c.batchSize,
	})
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close %s writer: %w", c.format, closeErr)
	}
	return err
}
