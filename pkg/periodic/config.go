package periodic

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"pollrunner/internal/eventbus"
	logx "pollrunner/pkg/logx"
)

// Strategy maps a failed attempt number to the delay before the next attempt.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyConstant    Strategy = "constant"
)

// ParseStrategy accepts the config spelling of a strategy (case-insensitive).
// An empty string selects exponential.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return StrategyExponential, nil
	case StrategyExponential, StrategyLinear, StrategyConstant:
		return s, nil
	default:
		return "", &ConfigError{Field: "backoff_strategy", Reason: fmt.Sprintf("unknown strategy %q", raw)}
	}
}

// Delay returns the wait applied after the given 1-indexed attempt failed:
//
//	constant     base
//	linear       attempt * base
//	exponential  2^(attempt-1) * base
//
// Results saturate at the largest representable duration.
func (s Strategy) Delay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	switch s {
	case StrategyConstant:
		return base
	case StrategyLinear:
		if int64(base) > math.MaxInt64/int64(attempt) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(attempt) * base
	default:
		shift := attempt - 1
		if shift >= 63 || int64(base) > math.MaxInt64>>shift {
			return time.Duration(math.MaxInt64)
		}
		return base << shift
	}
}

// Task is the unit of work run on every firing. It receives the runner's
// configuration. The context is cancelled by Stop and carries the attempt
// deadline when TaskTimeout is set. An error returned after Stop aborts the
// cycle instead of failing it.
type Task func(ctx context.Context, cfg Config) error

// FailureContext describes a terminally failed run cycle to the error callback.
type FailureContext struct {
	Attempts      int
	MaxRetries    int
	LogTag        string
	OriginalError error
}

// ErrorHandler is invoked once per terminally failed cycle. Its error (or
// panic) is logged and otherwise ignored.
type ErrorHandler func(err *TerminalError, fc FailureContext) error

// Config is immutable once passed to New.
type Config struct {
	PollingPeriod time.Duration
	// MaxRetries is the attempt ceiling per cycle (>= 1).
	MaxRetries     int
	BaseRetryDelay time.Duration
	Backoff        Strategy
	// InitialDelay applies only before the first firing after Start.
	InitialDelay time.Duration
	// TaskTimeout bounds each attempt; 0 disables it.
	TaskTimeout time.Duration
	LogTag      string

	OnError ErrorHandler
	Logger  logx.Logger
	// Bus, when set, receives cycle lifecycle events.
	Bus eventbus.Bus
}

// Validate checks field ranges. It returns a *ConfigError.
func (c Config) Validate() error {
	if c.PollingPeriod <= 0 {
		return &ConfigError{Field: "polling_period", Reason: "must be > 0"}
	}
	if c.MaxRetries < 1 {
		return &ConfigError{Field: "max_retries", Reason: "must be >= 1"}
	}
	if c.BaseRetryDelay < 0 {
		return &ConfigError{Field: "base_retry_delay", Reason: "must be >= 0"}
	}
	if c.InitialDelay < 0 {
		return &ConfigError{Field: "initial_delay", Reason: "must be >= 0"}
	}
	if c.TaskTimeout < 0 {
		return &ConfigError{Field: "task_timeout", Reason: "must be >= 0"}
	}
	if _, err := ParseStrategy(string(c.Backoff)); err != nil {
		return err
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.Backoff, _ = ParseStrategy(string(c.Backoff))
	if c.Logger.IsZero() {
		c.Logger = logx.NewConsole("info")
	}
	return c
}
