package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func ValidBackends() []string   { return []string{"spin", "owned", "memory", "redis"} }
func ValidBackoffs() []string   { return []string{"spin", "yield", "exponential"} }
func ValidBuses() []string      { return []string{"none", "memory", "redis", "nats", "kafka"} }
func ValidStores() []string     { return []string{"none", "memory", "redis", "sql"} }
func ValidLogLevels() []string  { return []string{"debug", "info", "warn", "error"} }
func ValidLogFormats() []string { return []string{"text", "json"} }

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}
	oneOf := func(field, value string, valid []string) {
		if !slices.Contains(valid, strings.ToLower(value)) {
			add(field, value, "must be one of "+strings.Join(valid, ", "))
		}
	}

	if c.Harness.Workers <= 0 {
		add("harness.workers", c.Harness.Workers, "must be positive")
	}
	if c.Harness.Rounds <= 0 {
		add("harness.rounds", c.Harness.Rounds, "must be positive")
	}
	if c.Harness.Step < 0 {
		add("harness.step", c.Harness.Step, "must not be negative")
	}
	if c.Harness.HoldDelay < 0 {
		add("harness.hold_delay", c.Harness.HoldDelay, "must not be negative")
	}
	if c.Harness.CriticalDelay < 0 {
		add("harness.critical_delay", c.Harness.CriticalDelay, "must not be negative")
	}
	if c.Harness.Timeout < 0 {
		add("harness.timeout", c.Harness.Timeout, "must not be negative")
	}

	oneOf("lock.backend", c.Lock.Backend, ValidBackends())
	oneOf("lock.backoff", c.Lock.Backoff, ValidBackoffs())
	if c.Lock.MaxBackoff <= 0 {
		add("lock.max_backoff", c.Lock.MaxBackoff, "must be positive")
	}
	switch strings.ToLower(c.Lock.Backend) {
	case "memory", "redis":
		if c.Lock.Key == "" {
			add("lock.key", c.Lock.Key, "required for keyed backends")
		}
	}

	oneOf("bus.kind", c.Bus.Kind, ValidBuses())
	oneOf("report.store", c.Report.Store, ValidStores())
	oneOf("logging.level", c.Logging.Level, ValidLogLevels())
	oneOf("logging.format", c.Logging.Format, ValidLogFormats())

	usesRedis := strings.EqualFold(c.Lock.Backend, "redis") ||
		strings.EqualFold(c.Bus.Kind, "redis") ||
		strings.EqualFold(c.Report.Store, "redis")
	if usesRedis && c.Redis.Addr == "" {
		add("redis.addr", c.Redis.Addr, "required when a redis backend is selected")
	}
	if strings.EqualFold(c.Report.Store, "sql") && c.Report.DSN == "" {
		add("report.dsn", c.Report.DSN, "required for the sql report store")
	}
	if strings.EqualFold(c.Bus.Kind, "nats") && c.NATS.URL == "" {
		add("nats.url", c.NATS.URL, "required for the nats bus")
	}
	if strings.EqualFold(c.Bus.Kind, "kafka") && len(c.Kafka.Brokers) == 0 {
		add("kafka.brokers", c.Kafka.Brokers, "required for the kafka bus")
	}
	return errs
}
