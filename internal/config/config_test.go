package config

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
runner:
  polling_period: "@every 30s"
  max_retries: 4
  base_retry_delay_ms: 1000
  backoff_strategy: exponential
  initial_delay_ms: 500
  task_timeout_ms: 2000
  log_tag: health
task:
  kind: http
  url: http://127.0.0.1:8080/healthz
  expect_status: [200, 204]
logging:
  level: debug
  console: true
shutdown_timeout: 45s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "pollrunner.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner.MaxRetries != 4 || cfg.Runner.LogTag != "health" {
		t.Fatalf("runner = %+v", cfg.Runner)
	}
	if got := cfg.Task.ExpectStatus; len(got) != 2 || got[1] != 204 {
		t.Fatalf("expect_status = %v", got)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit the parsed config")
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"runner":{"max_retries":1},"bogus":true}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{"runner":{}} {"runner":{}}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParsePollingPeriod(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		seconds float64
		want    time.Duration
		wantErr bool
	}{
		{name: "duration", raw: "10m", want: 10 * time.Minute},
		{name: "every", raw: "@every 45s", want: 45 * time.Second},
		{name: "seconds", seconds: 1.5, want: 1500 * time.Millisecond},
		{name: "cron calendar", raw: "@daily", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
		{name: "both", raw: "5s", seconds: 5, wantErr: true},
		{name: "neither", wantErr: true},
		{name: "zero", raw: "0s", wantErr: true},
		{name: "seconds overflow", seconds: 1e12, wantErr: true},
		{name: "seconds max float", seconds: math.MaxFloat64, wantErr: true},
		{name: "seconds NaN", seconds: math.NaN(), wantErr: true},
		{name: "seconds underflow", seconds: 1e-12, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePollingPeriod(tt.raw, tt.seconds)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePollingPeriod(%q, %v) = %v, want error", tt.raw, tt.seconds, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePollingPeriod(%q, %v) error: %v", tt.raw, tt.seconds, err)
			}
			if got != tt.want {
				t.Fatalf("ParsePollingPeriod(%q, %v) = %v, want %v", tt.raw, tt.seconds, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Runner: RunnerConfig{PollingPeriodSeconds: 10, MaxRetries: 1},
			Task:   TaskConfig{Kind: "exec", Command: "true"},
		}
	}
	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{name: "ok", mut: func(*Config) {}},
		{name: "retries", mut: func(c *Config) { c.Runner.MaxRetries = 0 }, want: "max_retries"},
		{name: "negative delay", mut: func(c *Config) { c.Runner.BaseRetryDelayMS = -5 }, want: "base_retry_delay_ms"},
		{name: "exec without command", mut: func(c *Config) { c.Task.Command = "" }, want: "task.command"},
		{name: "http without url", mut: func(c *Config) { c.Task = TaskConfig{Kind: "http"} }, want: "task.url"},
		{name: "unknown kind", mut: func(c *Config) { c.Task.Kind = "grpc" }, want: "task.kind"},
		{name: "shutdown timeout", mut: func(c *Config) { c.ShutdownTimeout = "soon" }, want: "shutdown_timeout"},
		{name: "delay overflow", mut: func(c *Config) { c.Runner.TaskTimeoutMS = math.MaxInt64 / 1000 }, want: "task_timeout_ms"},
		{name: "log level", mut: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "alert level", mut: func(c *Config) { c.Logging.Alert.MinLevel = "sev1" }, want: "logging.alert.min_level"},
		{name: "level case", mut: func(c *Config) { c.Logging.Level = "WARN" }},
	}
	for _, tt := range tests {
		c := base()
		tt.mut(c)
		err := c.Validate()
		if tt.want == "" {
			if err != nil {
				t.Fatalf("%s: Validate() = %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: Validate() = %v, want mention of %s", tt.name, err, tt.want)
		}
	}
}

func TestMillis(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ms      int64
		want    time.Duration
		wantErr bool
	}{
		{ms: 0, want: 0},
		{ms: 1500, want: 1500 * time.Millisecond},
		{ms: math.MaxInt64 / int64(time.Millisecond), want: time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond},
		{ms: math.MaxInt64/int64(time.Millisecond) + 1, wantErr: true},
		{ms: math.MaxInt64, wantErr: true},
		{ms: -1, wantErr: true},
	}
	for _, tt := range tests {
		got, err := Millis("x", tt.ms)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Millis(%d) = %v, want error", tt.ms, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("Millis(%d) = %v, %v; want %v", tt.ms, got, err, tt.want)
		}
		if got < 0 {
			t.Fatalf("Millis(%d) wrapped to %v", tt.ms, got)
		}
	}
}

func TestReloadPublishesValidatedChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "pollrunner.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file should not publish")
	}

	updated := strings.Replace(sampleYAML, "max_retries: 4", "max_retries: 6", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if m.reload(context.Background()) {
		t.Fatal("validator rejection should block publish")
	}

	m.SetValidator(nil)
	if !m.reload(context.Background()) {
		t.Fatal("expected publish after change")
	}
	select {
	case cfg := <-ch:
		if cfg.Runner.MaxRetries != 6 {
			t.Fatalf("published max_retries = %d, want 6", cfg.Runner.MaxRetries)
		}
	default:
		t.Fatal("subscriber did not receive the new config")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	path := writeFile(t, "pollrunner.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(sampleYAML, "log_tag: health", "log_tag: renamed", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Runner.LogTag != "renamed" {
			t.Fatalf("log_tag = %q, want renamed", cfg.Runner.LogTag)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not publish the edit")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Runner: RunnerConfig{MaxRetries: 1}, Task: TaskConfig{Kind: "exec", Args: []string{"a"}}}
	b := &Config{Runner: RunnerConfig{MaxRetries: 2}, Task: TaskConfig{Kind: "exec", Args: []string{"b"}}, Debug: &DebugConfig{Enabled: true, Token: "secret"}}

	changed, attrs := SummarizeChange(a, b)
	for _, want := range []string{"runner", "task", "debug"} {
		if !Has(changed, want) {
			t.Fatalf("changed = %v, missing %s", changed, want)
		}
	}
	if Has(changed, "logging") {
		t.Fatalf("logging reported as changed: %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if c, _ := SummarizeChange(a, a); len(c) != 0 {
		t.Fatalf("identical configs reported changes: %v", c)
	}
}
