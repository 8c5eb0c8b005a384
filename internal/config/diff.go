package config

import (
	"reflect"
	"strings"

	logx "pollrunner/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging (never includes secrets like tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.String("runner.polling_period", newCfg.Runner.PollingPeriod),
			logx.Int("runner.max_retries", newCfg.Runner.MaxRetries),
			logx.String("runner.backoff_strategy", newCfg.Runner.BackoffStrategy),
		)
	}

	if !reflect.DeepEqual(oldCfg.Task, newCfg.Task) {
		changed = append(changed, "task")
		attrs = append(attrs, logx.String("task.kind", newCfg.Task.Kind))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	od, nd := derefDebug(oldCfg.Debug), derefDebug(newCfg.Debug)
	if od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}

	if strings.TrimSpace(oldCfg.ShutdownTimeout) != strings.TrimSpace(newCfg.ShutdownTimeout) {
		changed = append(changed, "shutdown_timeout")
	}
	return changed, attrs
}

func derefDebug(d *DebugConfig) DebugConfig {
	if d == nil {
		return DebugConfig{}
	}
	return *d
}

// Has reports whether section is in changed.
func Has(changed []string, section string) bool {
	for _, c := range changed {
		if c == section {
			return true
		}
	}
	return false
}
