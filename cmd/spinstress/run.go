package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-spin/v1/config"
	"github.com/mirkobrombin/go-spin/v1/harness"
	"github.com/mirkobrombin/go-spin/v1/logging"
	"github.com/mirkobrombin/go-spin/v1/metrics"
	"github.com/mirkobrombin/go-spin/v1/presets"
	"github.com/mirkobrombin/go-spin/v1/watchbus"
)

// flag name to config key
var runFlags = map[string]string{
	"workers":        "harness.workers",
	"rounds":         "harness.rounds",
	"step":           "harness.step",
	"prelock":        "harness.prelock",
	"hold":           "harness.hold_delay",
	"critical-delay": "harness.critical_delay",
	"timeout":        "harness.timeout",
	"backend":        "lock.backend",
	"backoff":        "lock.backoff",
	"max-backoff":    "lock.max_backoff",
	"key":            "lock.key",
	"ttl":            "lock.ttl",
	"bus":            "bus.kind",
	"store":          "report.store",
	"report-dsn":     "report.dsn",
	"redis-addr":     "redis.addr",
	"nats-url":       "nats.url",
	"kafka-brokers":  "kafka.brokers",
	"metrics-addr":   "metrics.addr",
	"trace":          "tracing.enabled",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the contention harness",
		Long: `Run spawns the configured number of workers per round, lets each one
increment the shared counter once under the lock and prints
counter=<n> expected=<m> ok=<bool>. The command fails when the run
errors or the counter does not match.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd, runFlags)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runHarness(cmd, cfg)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.IntP("workers", "n", d.Harness.Workers, "workers per round")
	f.IntP("rounds", "r", d.Harness.Rounds, "rounds run against the same lock")
	f.Int("step", d.Harness.Step, "increment applied in each critical section")
	f.Bool("prelock", d.Harness.PreLock, "hold the lock while workers are spawned")
	f.Duration("hold", d.Harness.HoldDelay, "how long the controller holds the lock")
	f.Duration("critical-delay", d.Harness.CriticalDelay, "sleep inside each critical section")
	f.Duration("timeout", d.Harness.Timeout, "abort the run after this long (0 disables)")
	f.String("backend", d.Lock.Backend, "lock backend: spin, owned, memory, redis")
	f.String("backoff", d.Lock.Backoff, "backoff policy: spin, yield, exponential")
	f.Int("max-backoff", d.Lock.MaxBackoff, "maximum yields per exponential backoff step")
	f.String("key", d.Lock.Key, "lock key for keyed backends")
	f.Duration("ttl", d.Lock.TTL, "lock ttl for keyed backends")
	f.String("bus", d.Bus.Kind, "event bus: none, memory, redis, nats, kafka")
	f.String("store", d.Report.Store, "report store: none, memory, redis, sql")
	f.String("report-dsn", d.Report.DSN, "sqlite database for the sql report store")
	f.String("redis-addr", d.Redis.Addr, "redis address")
	f.String("nats-url", d.NATS.URL, "nats server url")
	f.StringSlice("kafka-brokers", d.Kafka.Brokers, "kafka broker addresses")
	f.String("metrics-addr", d.Metrics.Addr, "serve Prometheus metrics and live progress on this address")
	f.Bool("trace", d.Tracing.Enabled, "print spans to stderr")
	f.String("log-level", d.Logging.Level, "log level: debug, info, warn, error")
	f.String("log-format", d.Logging.Format, "log format: text, json")
	return cmd
}

// bindFlags binds the flags of the command being executed. Binding happens at
// run time because several commands share config keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command, flags map[string]string) error {
	for name, key := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func runHarness(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())

	reg := metrics.NewRegistry()
	metrics.RegisterHarnessMetrics(reg)

	stack, err := presets.FromConfig(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn("closing backends", "err", err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		stop := serve(cfg.Metrics.Addr, reg, stack.Watch, log)
		defer stop()
	}

	opts := []harness.Option{
		harness.WithLogger(log),
		harness.WithBackend(stack.Backend),
		harness.WithWatch(stack.Watch),
	}
	if stack.Bus != nil {
		opts = append(opts, harness.WithBus(stack.Bus))
	}
	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()
		opts = append(opts, harness.WithTracerProvider(tp))
	}

	rep, runErr := harness.Run(ctx, stack.Mutex, harness.Config{
		Workers:       cfg.Harness.Workers,
		Rounds:        cfg.Harness.Rounds,
		Step:          cfg.Harness.Step,
		PreLock:       cfg.Harness.PreLock,
		HoldDelay:     cfg.Harness.HoldDelay,
		CriticalDelay: cfg.Harness.CriticalDelay,
		Timeout:       cfg.Harness.Timeout,
	}, opts...)
	if rep == nil {
		return runErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), rep.String())

	if stack.Store != nil {
		if err := stack.Store.Save(ctx, rep); err != nil {
			log.Error("saving report", "id", rep.ID, "err", err)
		} else {
			log.Info("report saved", "id", rep.ID)
		}
	}
	return runErr
}

func newTracerProvider(cmd *cobra.Command) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)), nil
}

func newMux(reg *prometheus.Registry, watch watchbus.WatchBus) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/progress", watchbus.SSEHandler(watch, harness.ProgressKey))
	mux.Handle("/progress/ws", watchbus.WebSocketHandler(watch, harness.ProgressKey))
	return mux
}

// serve exposes /metrics and the live progress stream on addr.
func serve(addr string, reg *prometheus.Registry, watch watchbus.WatchBus, log *slog.Logger) (stop func()) {
	srv := &http.Server{Addr: addr, Handler: newMux(reg, watch), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	log.Info("serving metrics and progress", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
