package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"pollrunner/internal/config"
	"pollrunner/pkg/periodic"
)

// maxErrorOutput caps how much command output ends up in the error.
const maxErrorOutput = 1024

// Command runs an external program per attempt; exit status 0 is success.
type Command struct {
	path string
	args []string
	dir  string
	env  []string
}

func NewCommand(cfg config.TaskConfig) (*Command, error) {
	name := strings.TrimSpace(cfg.Command)
	if name == "" {
		return nil, errors.New("tasks: command is required")
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	return &Command{
		path: path,
		args: slices.Clone(cfg.Args),
		dir:  cfg.Dir,
		env:  slices.Clone(cfg.Env),
	}, nil
}

func (c *Command) Run(ctx context.Context, cfg periodic.Config) error {
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(), c.env...)
	if cfg.LogTag != "" {
		cmd.Env = append(cmd.Env, "POLLRUNNER_TAG="+cfg.LogTag)
	}
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(tail(out, maxErrorOutput)))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && msg != "" {
		return fmt.Errorf("%s: %w: %s", c.path, err, msg)
	}
	return fmt.Errorf("%s: %w", c.path, err)
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	b = b[len(b)-n:]
	if i := bytes.IndexByte(b, '\n'); i >= 0 && i < len(b)-1 {
		return b[i+1:]
	}
	return b
}
