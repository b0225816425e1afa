// Command loadtest drives concurrent appends through a commit coordinator
// against one of the log backends and reports throughput and decisions.
//
//	loadtest --backend badger --streams 50 --writers 16 --batches 2000
//	loadtest --config loadtest.yaml --metrics-addr :9090
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		flags      = DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:          "loadtest",
		Short:        "Append load generator for the event store commit path",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, flags)

			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			if cfg.MetricsAddr != "" {
				srv := serveMetrics(cfg.MetricsAddr, reg, log)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			rep, err := run(ctx, cfg, log, reg)
			if rep != nil {
				rep.Print(cmd.OutOrStdout())
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVar(&flags.Backend, "backend", flags.Backend, "log backend: mem, badger, sql or nats")
	f.IntVar(&flags.Streams, "streams", flags.Streams, "number of streams")
	f.IntVar(&flags.Writers, "writers", flags.Writers, "number of concurrent writers")
	f.IntVar(&flags.Batches, "batches", flags.Batches, "appends per writer")
	f.IntVar(&flags.BatchSize, "batch-size", flags.BatchSize, "events per append")
	f.Float64Var(&flags.Rate, "rate", flags.Rate, "appends per second, 0 for unlimited")
	f.Float64Var(&flags.Replay, "replay", flags.Replay, "share of appends that resubmit the previous batch")
	f.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "abort the run after this long")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn or error")
	f.StringVar(&flags.MetricsAddr, "metrics-addr", flags.MetricsAddr, "serve Prometheus metrics on this address")
	f.StringVar(&flags.TraceFile, "trace-file", flags.TraceFile, "write sampled spans to this file")
	f.Float64Var(&flags.TraceSample, "trace-sample", flags.TraceSample, "share of appends traced")
	f.StringVar(&flags.Badger.Path, "badger-path", flags.Badger.Path, "badger directory, in-memory when empty")
	f.StringVar(&flags.SQL.Dialect, "sql-dialect", flags.SQL.Dialect, "sqlite, postgres or mysql")
	f.StringVar(&flags.SQL.DSN, "sql-dsn", flags.SQL.DSN, "database DSN")
	f.StringVar(&flags.NATS.URL, "nats-url", flags.NATS.URL, "NATS server URL")
	f.BoolVar(&flags.NATS.Memory, "nats-memory", flags.NATS.Memory, "keep JetStream data in memory")

	return cmd
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cmd *cobra.Command, cfg *Config, flags Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("backend", func() { cfg.Backend = flags.Backend })
	set("streams", func() { cfg.Streams = flags.Streams })
	set("writers", func() { cfg.Writers = flags.Writers })
	set("batches", func() { cfg.Batches = flags.Batches })
	set("batch-size", func() { cfg.BatchSize = flags.BatchSize })
	set("rate", func() { cfg.Rate = flags.Rate })
	set("replay", func() { cfg.Replay = flags.Replay })
	set("timeout", func() { cfg.Timeout = flags.Timeout })
	set("log-level", func() { cfg.LogLevel = flags.LogLevel })
	set("metrics-addr", func() { cfg.MetricsAddr = flags.MetricsAddr })
	set("trace-file", func() { cfg.TraceFile = flags.TraceFile })
	set("trace-sample", func() { cfg.TraceSample = flags.TraceSample })
	set("badger-path", func() { cfg.Badger.Path = flags.Badger.Path })
	set("sql-dialect", func() { cfg.SQL.Dialect = flags.SQL.Dialect })
	set("sql-dsn", func() { cfg.SQL.DSN = flags.SQL.DSN })
	set("nats-url", func() { cfg.NATS.URL = flags.NATS.URL })
	set("nats-memory", func() { cfg.NATS.Memory = flags.NATS.Memory })
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("prometheus metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("prometheus server error", slog.Any("error", err))
		}
	}()
	return srv
}
