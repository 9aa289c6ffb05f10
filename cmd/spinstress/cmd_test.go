package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirkobrombin/go-spin/v1/harness"
	"github.com/mirkobrombin/go-spin/v1/metrics"
	"github.com/mirkobrombin/go-spin/v1/spinlock"
	"github.com/mirkobrombin/go-spin/v1/watchbus"
)

// executeCommand runs a fresh root command with args and returns stdout and
// stderr separately.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	if root.Use != "spinstress" {
		t.Fatalf("root.Use = %q", root.Use)
	}
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "show"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}

func TestRunSpin(t *testing.T) {
	out, _, err := executeCommand(t, "run", "--workers", "20", "--rounds", "2", "--hold", "10ms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "counter=40 expected=40 ok=true" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunBackends(t *testing.T) {
	for _, backend := range []string{"owned", "memory"} {
		t.Run(backend, func(t *testing.T) {
			out, _, err := executeCommand(t, "run", "--backend", backend, "--workers", "10", "--hold", "5ms", "--bus", "memory", "--store", "memory")
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.Contains(out, "ok=true") {
				t.Fatalf("unexpected output %q", out)
			}
		})
	}
}

func TestRunEnvAndConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spin.yaml")
	data := "harness:\n  workers: 3\n  hold_delay: 1ms\n  step: 2\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPIN_HARNESS_ROUNDS", "2")

	out, _, err := executeCommand(t, "run", "--config", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "counter=12 expected=12 ok=true" {
		t.Fatalf("unexpected output %q", got)
	}

	// flags win over env and file
	out, _, err = executeCommand(t, "run", "--config", path, "--workers", "5", "--rounds", "1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "counter=10 expected=10 ok=true" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunMissingConfigFile(t *testing.T) {
	if _, _, err := executeCommand(t, "run", "--config", filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	tests := [][]string{
		{"run", "--workers", "0"},
		{"run", "--backend", "futex"},
		{"run", "--bus", "carrier-pigeon"},
	}
	for _, args := range tests {
		if _, _, err := executeCommand(t, args...); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestRunTrace(t *testing.T) {
	_, stderr, err := executeCommand(t, "run", "--workers", "5", "--hold", "1ms", "--trace")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stderr, "Harness.Run") || !strings.Contains(stderr, "Harness.Round") {
		t.Fatalf("expected spans on stderr, got %q", stderr)
	}
}

func TestRunRedisAndShow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	out, stderr, err := executeCommand(t, "run",
		"--backend", "redis", "--bus", "redis", "--store", "redis",
		"--redis-addr", mr.Addr(), "--workers", "10", "--hold", "5ms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "counter=10 expected=10 ok=true") {
		t.Fatalf("unexpected output %q", out)
	}
	m := regexp.MustCompile(`msg="report saved" id=(\S+)`).FindStringSubmatch(stderr)
	if m == nil {
		t.Fatalf("report id not logged: %q", stderr)
	}

	out, _, err = executeCommand(t, "show", "--redis-addr", mr.Addr(), m[1])
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var rep harness.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode shown report: %v", err)
	}
	if rep.ID != m[1] || rep.Counter != 10 || rep.Backend != "redis" {
		t.Fatalf("unexpected report %+v", rep)
	}

	if _, _, err := executeCommand(t, "show", "--redis-addr", mr.Addr(), "missing"); err == nil {
		t.Fatal("expected error for unknown report")
	}
}

func TestRunSQLAndShow(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "reports.db")
	_, stderr, err := executeCommand(t, "run", "--store", "sql", "--report-dsn", dsn, "--workers", "8", "--hold", "1ms")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := regexp.MustCompile(`msg="report saved" id=(\S+)`).FindStringSubmatch(stderr)
	if m == nil {
		t.Fatalf("report id not logged: %q", stderr)
	}
	out, _, err := executeCommand(t, "show", "--store", "sql", "--report-dsn", dsn, m[1])
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var rep harness.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode shown report: %v", err)
	}
	if rep.ID != m[1] || rep.Counter != 8 {
		t.Fatalf("unexpected report %+v", rep)
	}

	if _, _, err := executeCommand(t, "show", "--store", "memory", m[1]); err == nil {
		t.Fatal("expected error showing from the memory store")
	}
}

func TestMux(t *testing.T) {
	reg := metrics.NewRegistry()
	metrics.RegisterHarnessMetrics(reg)
	watch := watchbus.NewInMemory()
	srv := httptest.NewServer(newMux(reg, watch))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "spin_harness_runs_total") {
		t.Fatalf("metrics missing harness counters:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/progress")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected progress content type %q", ct)
	}
	// the watcher is registered before the headers are sent
	if _, err := harness.Run(context.Background(), harness.Spin(spinlock.New()),
		harness.Config{Workers: 2}, harness.WithWatch(watch)); err != nil {
		t.Fatalf("run: %v", err)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}
	if !strings.HasPrefix(line, "data: {") || !strings.Contains(line, `"round":1`) {
		t.Fatalf("unexpected progress line %q", line)
	}
}
