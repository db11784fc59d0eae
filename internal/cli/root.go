// Package cli implements the tripwh command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/smartlogix/tripwarehouse/internal/loader"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess        = 0
	exitCodeError          = 1
	exitCodeBudgetExceeded = 2
)

const (
	flagVerbose     = "verbose"
	flagStore       = "store"
	flagMetricsAddr = "metrics-addr"
)

func Run() ExitCode {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCodeFor(err)
	}
	return exitCodeSuccess
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tripwh",
		Short:         "Clean delivery trip exports and load them into a star-schema warehouse.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP(flagVerbose, "v", getenv("TRIPWH_VERBOSE", "") == "true", "set debug logging level (env: TRIPWH_VERBOSE)")
	rootCmd.PersistentFlags().String(flagStore, getenv("TRIPWH_STORE", defaultStoreURI()), "warehouse URI: postgres://... or duckdb://<path> (env: TRIPWH_STORE)")
	rootCmd.PersistentFlags().String(flagMetricsAddr, getenv("TRIPWH_METRICS_ADDR", ""), "serve Prometheus metrics on this address, e.g. :2112 (env: TRIPWH_METRICS_ADDR)")

	rootCmd.AddCommand(
		NewCleanCmd().Command(),
		NewLoadCmd().Command(),
		NewVerifyCmd().Command(),
		NewExportCmd().Command(),
		NewReportCmd().Command(),
		newVersionCmd(),
	)
	return rootCmd
}

func exitCodeFor(err error) ExitCode {
	if errors.Is(err, loader.ErrErrorBudgetExceeded) {
		return exitCodeBudgetExceeded
	}
	return exitCodeError
}

// env is the state shared by every subcommand.
type env struct {
	log      *slog.Logger
	storeURI string
	ctx      context.Context
	cancel   context.CancelFunc
}

func newEnv(cmd *cobra.Command) (*env, error) {
	flags := cmd.Root().PersistentFlags()
	verbose, err := flags.GetBool(flagVerbose)
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	storeURI, err := flags.GetString(flagStore)
	if err != nil {
		return nil, fmt.Errorf("failed to get store flag: %w", err)
	}
	metricsAddr, err := flags.GetString(flagMetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}

	log := newLogger(verbose)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if metricsAddr != "" {
		BuildInfo.WithLabelValues(version, commit, date).Set(1)
		errCh := startMetricsServer(ctx, log, metricsAddr, defaultMetricsShutdownTimeout)
		go func() {
			if err, ok := <-errCh; ok && err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	return &env{log: log, storeURI: storeURI, ctx: ctx, cancel: cancel}, nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s, commit: %s, date: %s\n", version, commit, date)
		},
	}
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
