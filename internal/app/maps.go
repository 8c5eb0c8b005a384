package app

import (
	"strings"
	"time"

	"pollrunner/internal/config"
	"pollrunner/internal/observability/debugserver"
	"pollrunner/pkg/logx"
	"pollrunner/pkg/periodic"
)

const defaultShutdownTimeout = 30 * time.Second

// mapRunnerConfig converts the on-disk runner section. Callbacks, logger and
// bus are wired by the caller.
func mapRunnerConfig(cfg *config.Config) (periodic.Config, error) {
	rc := cfg.Runner
	period, err := config.ParsePollingPeriod(rc.PollingPeriod, rc.PollingPeriodSeconds)
	if err != nil {
		return periodic.Config{}, err
	}
	base, err := config.Millis("runner.base_retry_delay_ms", rc.BaseRetryDelayMS)
	if err != nil {
		return periodic.Config{}, err
	}
	initial, err := config.Millis("runner.initial_delay_ms", rc.InitialDelayMS)
	if err != nil {
		return periodic.Config{}, err
	}
	timeout, err := config.Millis("runner.task_timeout_ms", rc.TaskTimeoutMS)
	if err != nil {
		return periodic.Config{}, err
	}
	strategy, err := periodic.ParseStrategy(rc.BackoffStrategy)
	if err != nil {
		return periodic.Config{}, err
	}
	tag := strings.TrimSpace(rc.LogTag)
	if tag == "" {
		tag = "pollrunner"
	}
	out := periodic.Config{
		PollingPeriod:  period,
		MaxRetries:     rc.MaxRetries,
		BaseRetryDelay: base,
		Backoff:        strategy,
		InitialDelay:   initial,
		TaskTimeout:    timeout,
		LogTag:         tag,
	}
	return out, out.Validate()
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapDebugConfig(cfg *config.Config) (debugserver.Config, error) {
	if cfg.Debug == nil {
		return debugserver.Config{}, nil
	}
	d := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	// pprof profile/trace stream for up to 30s by default.
	wt, err := config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 60*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	return debugserver.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

func mapShutdownTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("shutdown_timeout", cfg.ShutdownTimeout, defaultShutdownTimeout)
}
