package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-spin/v1/logging"
	"github.com/mirkobrombin/go-spin/v1/metrics"
	"github.com/mirkobrombin/go-spin/v1/syncbus"
	"github.com/mirkobrombin/go-spin/v1/watchbus"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

const tracerName = "github.com/mirkobrombin/go-spin/v1/harness"

const (
	// RoundTopic is published on the bus after every completed round.
	RoundTopic = "harness:round"
	// DoneTopic is published on the bus once a run has finished.
	DoneTopic = "harness:done"
	// ProgressKey carries JSON encoded Progress snapshots on the watch bus.
	ProgressKey = "harness:progress"
)

// Progress is a snapshot published on the watch bus after every round and
// once more when the run ends.
type Progress struct {
	Run      string `json:"run"`
	Backend  string `json:"backend"`
	Round    int    `json:"round"`
	Rounds   int    `json:"rounds"`
	Counter  int    `json:"counter"`
	Expected int    `json:"expected"`
	Done     bool   `json:"done"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Config describes a harness run.
type Config struct {
	// Workers is the number of tasks spawned per round. Must be positive.
	Workers int
	// Rounds is how many times the same lock is exercised. Defaults to 1.
	Rounds int
	// Step is added to the counter inside each critical section. Defaults to 1.
	Step int
	// PreLock makes the controller hold the lock while workers are spawned.
	PreLock bool
	// HoldDelay is how long the controller keeps the lock after spawning.
	HoldDelay time.Duration
	// CriticalDelay is slept inside every critical section.
	CriticalDelay time.Duration
	// Timeout bounds the whole run. Zero means no bound.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Rounds == 0 {
		c.Rounds = 1
	}
	if c.Step == 0 {
		c.Step = 1
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.Rounds < 0:
		return fmt.Errorf("rounds must not be negative, got %d", c.Rounds)
	case c.Step < 0:
		return fmt.Errorf("step must not be negative, got %d", c.Step)
	case c.HoldDelay < 0, c.CriticalDelay < 0, c.Timeout < 0:
		return errors.New("durations must not be negative")
	}
	return nil
}

// Option configures a run.
type Option func(*runner)

// WithLogger sets the logger used for run and round lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithBus publishes RoundTopic and DoneTopic events on bus.
func WithBus(bus syncbus.Bus) Option {
	return func(r *runner) { r.bus = bus }
}

// WithWatch publishes Progress snapshots on ProgressKey.
func WithWatch(w watchbus.WatchBus) Option {
	return func(r *runner) { r.watch = w }
}

// WithBackend records the lock backend name in the report and spans.
func WithBackend(name string) Option {
	return func(r *runner) { r.backend = name }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *runner) { r.tracer = tp.Tracer(tracerName) }
}

type runner struct {
	mu      Mutex
	cfg     Config
	log     *slog.Logger
	bus     syncbus.Bus
	watch   watchbus.WatchBus
	backend string
	tracer  trace.Tracer

	counter   int // guarded by mu
	entries   atomic.Int64
	inside    atomic.Int32
	maxInside atomic.Int32
}

// Run executes cfg against mu and returns the report. The returned error is
// non-nil when the run could not complete (acquire or release failed, the
// timeout expired) or when the report fails verification; in the latter case
// the report is returned as well.
func Run(ctx context.Context, mu Mutex, cfg Config, opts ...Option) (*Report, error) {
	if mu == nil {
		return nil, errors.New("harness: nil mutex")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	r := &runner{
		mu:      mu,
		cfg:     cfg,
		log:     logging.Discard(),
		backend: "custom",
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("harness: run id: %w", err)
	}
	rep := &Report{
		ID:       id,
		Backend:  r.backend,
		Workers:  cfg.Workers,
		Rounds:   cfg.Rounds,
		Step:     cfg.Step,
		PreLock:  cfg.PreLock,
		Expected: cfg.Workers * cfg.Rounds * cfg.Step,
		Started:  time.Now(),
	}

	ctx, span := r.tracer.Start(ctx, "Harness.Run", trace.WithAttributes(
		attribute.String("harness.id", id),
		attribute.String("harness.backend", r.backend),
		attribute.Int("harness.workers", cfg.Workers),
		attribute.Int("harness.rounds", cfg.Rounds),
		attribute.Bool("harness.prelock", cfg.PreLock),
	))
	defer span.End()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	metrics.RunCounter.Inc()
	log := r.log.With("run", id, "backend", r.backend)
	log.Info("harness run started", "workers", cfg.Workers, "rounds", cfg.Rounds, "prelock", cfg.PreLock)

	err = r.run(ctx, rep, log)
	rep.Counter = r.counter
	rep.Entries = r.entries.Load()
	rep.MaxInside = r.maxInside.Load()
	rep.Duration = time.Since(rep.Started)
	metrics.RunDuration.Observe(rep.Duration.Seconds())

	if err == nil {
		err = rep.Verify()
	} else if errors.Is(err, context.DeadlineExceeded) && cfg.Timeout > 0 {
		err = fmt.Errorf("%w: run exceeded %s: %w", spinerrors.ErrTimeout, cfg.Timeout, err)
	}
	if err != nil {
		metrics.FailedRunCounter.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("harness run failed", "counter", rep.Counter, "expected", rep.Expected, "err", err)
	} else {
		log.Info("harness run finished", "counter", rep.Counter, "duration", rep.Duration)
	}
	done := Progress{Round: len(rep.RoundCounters), Done: true, OK: err == nil}
	if err != nil {
		done.Error = err.Error()
	}
	r.progress(context.WithoutCancel(ctx), rep, done)
	r.publish(context.WithoutCancel(ctx), DoneTopic)
	return rep, err
}

func (r *runner) run(ctx context.Context, rep *Report, log *slog.Logger) error {
	for n := 1; n <= r.cfg.Rounds; n++ {
		hold, err := r.round(ctx, n)
		if err != nil {
			return fmt.Errorf("round %d: %w", n, err)
		}
		if hold != nil {
			rep.Holds = append(rep.Holds, *hold)
		}
		rep.RoundCounters = append(rep.RoundCounters, r.counter)
		log.Debug("harness round finished", "round", n, "counter", r.counter)
		r.progress(ctx, rep, Progress{Round: n})
		r.publish(ctx, RoundTopic)
	}
	return nil
}

func (r *runner) round(ctx context.Context, n int) (*HoldObservation, error) {
	ctx, span := r.tracer.Start(ctx, "Harness.Round", trace.WithAttributes(attribute.Int("harness.round", n)))
	defer span.End()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	base := r.counter
	var release Release
	if r.cfg.PreLock {
		var err error
		if release, err = r.mu.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("controller acquire: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		metrics.WorkerGauge.Inc()
		g.Go(func() error {
			defer metrics.WorkerGauge.Dec()
			return r.work(gctx)
		})
	}

	var hold *HoldObservation
	if r.cfg.PreLock {
		hold = &HoldObservation{AfterSpawn: r.counter - base}
		if r.cfg.HoldDelay > 0 {
			t := time.NewTimer(r.cfg.HoldDelay)
			select {
			case <-t.C:
			case <-gctx.Done():
				t.Stop()
			}
		}
		hold.AfterDelay = r.counter - base
		if err := release(context.WithoutCancel(ctx)); err != nil {
			cancel()
			_ = g.Wait()
			return hold, fmt.Errorf("controller release: %w", err)
		}
	}
	if err := g.Wait(); err != nil {
		return hold, err
	}
	return hold, nil
}

func (r *runner) work(ctx context.Context) error {
	release, err := r.mu.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	n := r.inside.Add(1)
	for {
		m := r.maxInside.Load()
		if n <= m || r.maxInside.CompareAndSwap(m, n) {
			break
		}
	}
	r.counter += r.cfg.Step
	if r.cfg.CriticalDelay > 0 {
		time.Sleep(r.cfg.CriticalDelay)
	}
	r.inside.Add(-1)
	r.entries.Add(1)
	metrics.EntryCounter.Inc()
	// Release even when a sibling failed, otherwise the rest spin until ctx ends.
	if err := release(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

func (r *runner) publish(ctx context.Context, topic string) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, topic); err != nil {
		r.log.Warn("harness event not published", "topic", topic, "err", err)
	}
}

func (r *runner) progress(ctx context.Context, rep *Report, p Progress) {
	if r.watch == nil {
		return
	}
	p.Run = rep.ID
	p.Backend = rep.Backend
	p.Rounds = rep.Rounds
	p.Counter = r.counter
	p.Expected = rep.Expected
	data, err := json.Marshal(p)
	if err != nil {
		r.log.Warn("harness progress not encoded", "err", err)
		return
	}
	if err := r.watch.Publish(ctx, ProgressKey, data); err != nil {
		r.log.Warn("harness progress not published", "err", err)
	}
}
