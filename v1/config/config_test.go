package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaultsAreValid(t *testing.T) {
	if errs := Default().Validate(); len(errs) > 0 {
		t.Fatalf("default config invalid: %v", ValidationErrors(errs))
	}
	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Harness.Workers != 100 || !cfg.Harness.PreLock || cfg.Harness.HoldDelay != time.Second {
		t.Fatalf("unexpected harness defaults %+v", cfg.Harness)
	}
	if cfg.Lock.Backend != "spin" || cfg.Lock.MaxBackoff != 16 {
		t.Fatalf("unexpected lock defaults %+v", cfg.Lock)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spin.yaml")
	data := `harness:
  workers: 50
  rounds: 3
  hold_delay: 250ms
lock:
  backend: owned
  backoff: yield
kafka:
  brokers: ["a:9092", "b:9092"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Harness.Workers != 50 || cfg.Harness.Rounds != 3 || cfg.Harness.HoldDelay != 250*time.Millisecond {
		t.Fatalf("unexpected harness config %+v", cfg.Harness)
	}
	if cfg.Lock.Backend != "owned" || cfg.Lock.Backoff != "yield" {
		t.Fatalf("unexpected lock config %+v", cfg.Lock)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Harness.Step != 1 {
		t.Fatalf("expected default step to survive file load, got %d", cfg.Harness.Step)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SPIN_HARNESS_WORKERS", "7")
	t.Setenv("SPIN_LOCK_BACKEND", "memory")
	v := newViper()
	v.SetEnvPrefix("SPIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Harness.Workers != 7 || cfg.Lock.Backend != "memory" {
		t.Fatalf("env not applied: %+v %+v", cfg.Harness, cfg.Lock)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Harness.Workers = 0
	cfg.Lock.Backend = "futex"
	cfg.Bus.Kind = "kafka"
	cfg.Kafka.Brokers = nil
	cfg.Harness.Step = -2
	cfg.Logging.Format = "xml"
	errs := cfg.Validate()

	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{"harness.workers", "lock.backend", "kafka.brokers", "harness.step", "logging.format"} {
		if !fields[f] {
			t.Errorf("expected validation error for %s, got %v", f, ValidationErrors(errs))
		}
	}

	v := newViper()
	v.Set("harness.workers", -1)
	_, err := Load(v)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 {
		t.Fatalf("expected one validation error, got %v", err)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := one.Error(); got != "a: bad (got: 1)" {
		t.Fatalf("unexpected message %q", got)
	}
	two := append(one, ValidationError{Field: "b", Value: 2, Message: "worse"})
	if !strings.HasPrefix(two.Error(), "2 validation errors:") {
		t.Fatalf("unexpected message %q", two.Error())
	}
}
