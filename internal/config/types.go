package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are either Go duration strings ("500ms", "10s") or the
// millisecond/second integer fields named after the runner's surface.
type Config struct {
	Runner  RunnerConfig  `json:"runner"`
	Task    TaskConfig    `json:"task"`
	Logging LoggingConfig `json:"logging"`
	Debug   *DebugConfig  `json:"debug,omitempty"`

	// ShutdownTimeout bounds how long the process waits for the in-flight
	// cycle on exit. Default: 30s.
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// RunnerConfig mirrors periodic.Config.
//
// Exactly one of PollingPeriod and PollingPeriodSeconds is set. PollingPeriod
// accepts a Go duration ("30s") or a cron interval descriptor ("@every 30s").
type RunnerConfig struct {
	PollingPeriod        string  `json:"polling_period,omitempty"`
	PollingPeriodSeconds float64 `json:"polling_period_seconds,omitempty"`

	MaxRetries       int    `json:"max_retries"`
	BaseRetryDelayMS int64  `json:"base_retry_delay_ms"`
	BackoffStrategy  string `json:"backoff_strategy,omitempty"`
	InitialDelayMS   int64  `json:"initial_delay_ms,omitempty"`
	TaskTimeoutMS    int64  `json:"task_timeout_ms,omitempty"`
	LogTag           string `json:"log_tag,omitempty"`
}

// TaskConfig selects the built-in task the daemon runs.
//
// Kinds:
//   - "http": request URL and require a 2xx (or one of ExpectStatus)
//   - "exec": run Command with Args and require exit status 0
type TaskConfig struct {
	Kind string `json:"kind"`

	URL          string            `json:"url,omitempty"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	ExpectStatus []int             `json:"expect_status,omitempty"`

	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DebugConfig controls the optional debug HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
