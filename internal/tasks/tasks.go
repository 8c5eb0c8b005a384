// Package tasks builds the periodic.Task the daemon runs from its config.
package tasks

import (
	"fmt"
	"strings"

	"pollrunner/internal/config"
	"pollrunner/pkg/periodic"
)

const (
	KindHTTP = "http"
	KindExec = "exec"
)

// Build returns the task described by cfg.
func Build(cfg config.TaskConfig) (periodic.Task, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindHTTP:
		p, err := NewHTTPProbe(cfg)
		if err != nil {
			return nil, err
		}
		return p.Run, nil
	case KindExec:
		c, err := NewCommand(cfg)
		if err != nil {
			return nil, err
		}
		return c.Run, nil
	default:
		return nil, fmt.Errorf("tasks: unknown kind %q", cfg.Kind)
	}
}
