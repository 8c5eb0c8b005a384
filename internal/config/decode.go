package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"pollrunner/pkg/logx"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses JSON or YAML (chosen by file extension) into a Config.
//
// YAML is converted to JSON first so both formats share the strict decoder
// (unknown keys and trailing data are errors).
func Decode(path string, data []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("decode %s: trailing data", filepath.Base(path))
		}
		return nil, err
	}
	return &cfg, nil
}

func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// Validate performs structural checks that do not need the runner package.
// Field ranges are checked again by periodic.Config.Validate when the app
// maps the config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := ParsePollingPeriod(c.Runner.PollingPeriod, c.Runner.PollingPeriodSeconds); err != nil {
		return err
	}
	if c.Runner.MaxRetries < 1 {
		return fmt.Errorf("runner.max_retries: must be >= 1")
	}
	for path, ms := range map[string]int64{
		"runner.base_retry_delay_ms": c.Runner.BaseRetryDelayMS,
		"runner.initial_delay_ms":    c.Runner.InitialDelayMS,
		"runner.task_timeout_ms":     c.Runner.TaskTimeoutMS,
	} {
		if _, err := Millis(path, ms); err != nil {
			return err
		}
	}
	if _, err := ParseDurationField("shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}
	for path, lvl := range map[string]string{
		"logging.level":           c.Logging.Level,
		"logging.alert.min_level": c.Logging.Alert.MinLevel,
	} {
		if strings.TrimSpace(lvl) == "" {
			continue
		}
		if _, ok := logx.LookupLevel(lvl); !ok {
			return fmt.Errorf("%s: unknown level %q", path, lvl)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Task.Kind)) {
	case "http":
		if strings.TrimSpace(c.Task.URL) == "" {
			return fmt.Errorf("task.url: required for kind http")
		}
	case "exec":
		if strings.TrimSpace(c.Task.Command) == "" {
			return fmt.Errorf("task.command: required for kind exec")
		}
	default:
		return fmt.Errorf("task.kind: unknown kind %q (want http or exec)", c.Task.Kind)
	}
	return nil
}
