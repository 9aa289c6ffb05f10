// Package presets assembles ready-to-run lock stacks (the mutex under test,
// the event and progress buses and the report store) built either from a few
// options or from a config.Config.
package presets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-spin/v1/config"
	"github.com/mirkobrombin/go-spin/v1/harness"
	"github.com/mirkobrombin/go-spin/v1/lock"
	"github.com/mirkobrombin/go-spin/v1/report"
	"github.com/mirkobrombin/go-spin/v1/spinlock"
	"github.com/mirkobrombin/go-spin/v1/syncbus"
	"github.com/mirkobrombin/go-spin/v1/watchbus"
)

// LockName labels the spin lock built by the presets in metrics and errors.
const LockName = "counter"

const (
	breakerThreshold = 5
	breakerTimeout   = time.Second
	memoryReports    = 1024
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func (o RedisOptions) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
}

// Stack is everything a harness run needs. Bus and Store may be nil.
type Stack struct {
	Backend string
	Mutex   harness.Mutex
	Bus     syncbus.Bus
	Watch   watchbus.WatchBus
	Store   report.Store

	closers []func() error
}

func (s *Stack) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases connections in reverse order of creation.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// NewInMemoryStandalone returns a stack with no external dependencies: a
// spin lock, an in-memory bus and a ristretto report store.
func NewInMemoryStandalone() (*Stack, error) {
	s := &Stack{
		Backend: "spin",
		Mutex:   harness.Spin(spinlock.New(spinlock.WithName(LockName))),
		Watch:   watchbus.NewInMemory(),
	}
	bus := syncbus.NewInMemoryBus()
	s.Bus = bus
	s.onClose(bus.Close)

	store, err := report.NewMemory(memoryReports, 0)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Store = store
	s.onClose(func() error { store.Close(); return nil })
	return s, nil
}

// NewRedis returns a stack where the lock, the bus and the store all live in
// Redis. key names the lock and ttl bounds how long a crashed holder keeps it.
func NewRedis(opts RedisOptions, key string, ttl time.Duration) *Stack {
	client := opts.client()
	bus := syncbus.NewRedisBus(client)
	s := &Stack{
		Backend: "redis",
		Mutex:   harness.Keyed(lock.NewRedis(client, bus), key, ttl),
		Bus:     bus,
		Watch:   watchbus.NewRedis(client),
		Store:   report.NewRedis(client, nil, 0),
	}
	s.onClose(client.Close)
	s.onClose(bus.Close)
	return s
}

// FromConfig builds the stack selected by cfg. Per-lock metrics are
// registered on reg when it is non-nil.
func FromConfig(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Stack, error) {
	b := &builder{cfg: cfg, stack: &Stack{}}
	if err := b.build(ctx, reg); err != nil {
		_ = b.stack.Close()
		return nil, err
	}
	return b.stack, nil
}

type builder struct {
	cfg   *config.Config
	stack *Stack
	redis *redis.Client
}

func (b *builder) build(ctx context.Context, reg prometheus.Registerer) error {
	bus, err := b.bus(ctx)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	if bus != nil {
		b.stack.Bus = syncbus.NewCircuitBreaker(bus, breakerThreshold, breakerTimeout)
	}
	// progress follows the bus into Redis so other processes can watch it
	if b.redis != nil && strings.EqualFold(b.cfg.Bus.Kind, "redis") {
		b.stack.Watch = watchbus.NewRedis(b.redis)
	} else {
		b.stack.Watch = watchbus.NewInMemory()
	}

	b.stack.Backend = strings.ToLower(b.cfg.Lock.Backend)
	b.stack.Mutex, err = b.mutex(ctx, reg)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}

	b.stack.Store, err = b.store(ctx)
	if err != nil {
		return fmt.Errorf("report store: %w", err)
	}
	return nil
}

// redisClient connects lazily and pings once, so that every Redis backed
// component shares one client.
func (b *builder) redisClient(ctx context.Context) (*redis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	c := RedisOptions{
		Addr:     b.cfg.Redis.Addr,
		Password: b.cfg.Redis.Password,
		DB:       b.cfg.Redis.DB,
	}.client()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis %s: %w", b.cfg.Redis.Addr, err)
	}
	b.redis = c
	b.stack.onClose(c.Close)
	return c, nil
}

func (b *builder) bus(ctx context.Context) (syncbus.Bus, error) {
	switch strings.ToLower(b.cfg.Bus.Kind) {
	case "", "none":
		return nil, nil
	case "memory":
		bus := syncbus.NewInMemoryBus()
		b.stack.onClose(bus.Close)
		return bus, nil
	case "redis":
		c, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		bus := syncbus.NewRedisBus(c)
		b.stack.onClose(bus.Close)
		return bus, nil
	case "nats":
		conn, err := nats.Connect(b.cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats %s: %w", b.cfg.NATS.URL, err)
		}
		b.stack.onClose(func() error { conn.Close(); return nil })
		return syncbus.NewNATSBus(conn), nil
	case "kafka":
		kcfg := sarama.NewConfig()
		kcfg.ClientID = "spinstress"
		bus, err := syncbus.NewKafkaBus(b.cfg.Kafka.Brokers, kcfg)
		if err != nil {
			return nil, fmt.Errorf("kafka %v: %w", b.cfg.Kafka.Brokers, err)
		}
		b.stack.onClose(bus.Close)
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown bus %q", b.cfg.Bus.Kind)
	}
}

func (b *builder) mutex(ctx context.Context, reg prometheus.Registerer) (harness.Mutex, error) {
	backoff, err := spinlock.ParseBackoff(strings.ToLower(b.cfg.Lock.Backoff), b.cfg.Lock.MaxBackoff)
	if err != nil {
		return nil, err
	}

	switch b.stack.Backend {
	case "spin":
		opts := []spinlock.Option{spinlock.WithBackoff(backoff), spinlock.WithName(LockName)}
		if reg != nil {
			opts = append(opts, spinlock.WithMetrics(reg, LockName))
		}
		return harness.Spin(spinlock.New(opts...)), nil
	case "owned":
		return harness.Owned(spinlock.NewOwned(spinlock.WithBackoff(backoff), spinlock.WithName(LockName))), nil
	case "memory":
		l := lock.NewInMemory(b.stack.Bus, lock.WithBackoff(backoff))
		return harness.Keyed(l, b.cfg.Lock.Key, b.cfg.Lock.TTL), nil
	case "redis":
		c, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		l := lock.NewRedis(c, b.stack.Bus, lock.WithBackoff(backoff))
		return harness.Keyed(l, b.cfg.Lock.Key, b.cfg.Lock.TTL), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", b.cfg.Lock.Backend)
	}
}

func (b *builder) store(ctx context.Context) (report.Store, error) {
	switch strings.ToLower(b.cfg.Report.Store) {
	case "", "none":
		return nil, nil
	case "memory":
		s, err := report.NewMemory(memoryReports, b.cfg.Report.TTL)
		if err != nil {
			return nil, err
		}
		b.stack.onClose(func() error { s.Close(); return nil })
		return s, nil
	case "redis":
		c, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return report.NewRedis(c, nil, b.cfg.Report.TTL), nil
	case "sql":
		db, err := gorm.Open(sqlite.Open(b.cfg.Report.DSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite %s: %w", b.cfg.Report.DSN, err)
		}
		if sqlDB, err := db.DB(); err == nil {
			b.stack.onClose(sqlDB.Close)
		}
		return report.NewGorm(db)
	default:
		return nil, fmt.Errorf("unknown report store %q", b.cfg.Report.Store)
	}
}
