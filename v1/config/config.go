// Package config holds the settings of the spinstress tool. Values come from
// defaults, an optional YAML file, SPIN_* environment variables and command
// line flags, merged by viper.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the complete stress tool configuration.
type Config struct {
	Harness HarnessConfig `mapstructure:"harness"`
	Lock    LockConfig    `mapstructure:"lock"`
	Bus     BusConfig     `mapstructure:"bus"`
	Report  ReportConfig  `mapstructure:"report"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HarnessConfig mirrors harness.Config.
type HarnessConfig struct {
	Workers       int           `mapstructure:"workers"`
	Rounds        int           `mapstructure:"rounds"`
	Step          int           `mapstructure:"step"`
	PreLock       bool          `mapstructure:"prelock"`
	HoldDelay     time.Duration `mapstructure:"hold_delay"`
	CriticalDelay time.Duration `mapstructure:"critical_delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LockConfig selects the lock under test.
type LockConfig struct {
	// Backend is one of spin, owned, memory, redis.
	Backend string `mapstructure:"backend"`
	// Backoff is one of spin, yield, exponential.
	Backoff    string `mapstructure:"backoff"`
	MaxBackoff int    `mapstructure:"max_backoff"`
	// Key and TTL apply to the keyed backends.
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl"`
}

// BusConfig selects where lock and harness events are published.
type BusConfig struct {
	// Kind is one of none, memory, redis, nats, kafka.
	Kind string `mapstructure:"kind"`
}

// ReportConfig selects where reports are stored.
type ReportConfig struct {
	// Store is one of none, memory, redis, sql.
	Store string        `mapstructure:"store"`
	TTL   time.Duration `mapstructure:"ttl"`
	// DSN is the sqlite database used by the sql store.
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration: the 100 worker, controller
// holds for one second scenario on the spin backend.
func Default() *Config {
	return &Config{
		Harness: HarnessConfig{
			Workers:   100,
			Rounds:    1,
			Step:      1,
			PreLock:   true,
			HoldDelay: time.Second,
			Timeout:   time.Minute,
		},
		Lock: LockConfig{
			Backend:    "spin",
			Backoff:    "exponential",
			MaxBackoff: 16,
			Key:        "spin:counter",
			TTL:        10 * time.Second,
		},
		Bus:     BusConfig{Kind: "none"},
		Report:  ReportConfig{Store: "none", TTL: 24 * time.Hour, DSN: "spin.db"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		NATS:    NATSConfig{URL: "nats://127.0.0.1:4222"},
		Kafka:   KafkaConfig{Brokers: []string{"localhost:9092"}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers Default's values on v so that every key is known to
// viper even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("harness.workers", d.Harness.Workers)
	v.SetDefault("harness.rounds", d.Harness.Rounds)
	v.SetDefault("harness.step", d.Harness.Step)
	v.SetDefault("harness.prelock", d.Harness.PreLock)
	v.SetDefault("harness.hold_delay", d.Harness.HoldDelay)
	v.SetDefault("harness.critical_delay", d.Harness.CriticalDelay)
	v.SetDefault("harness.timeout", d.Harness.Timeout)

	v.SetDefault("lock.backend", d.Lock.Backend)
	v.SetDefault("lock.backoff", d.Lock.Backoff)
	v.SetDefault("lock.max_backoff", d.Lock.MaxBackoff)
	v.SetDefault("lock.key", d.Lock.Key)
	v.SetDefault("lock.ttl", d.Lock.TTL)

	v.SetDefault("bus.kind", d.Bus.Kind)
	v.SetDefault("report.store", d.Report.Store)
	v.SetDefault("report.ttl", d.Report.TTL)
	v.SetDefault("report.dsn", d.Report.DSN)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}
