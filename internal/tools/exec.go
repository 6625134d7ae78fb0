package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds an external process when no timeout is configured.
const DefaultTimeout = 2 * time.Minute

// Command describes one external process invocation.
type Command struct {
	Path    string
	Args    []string
	WorkDir string
	Env     []string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// CommandResult is the captured outcome of a finished process.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Combined joins stdout and stderr for payloads.
func (r *CommandResult) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// CommandRunner executes external processes. Tests substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*CommandResult, error)
}

// ExecRunner runs commands with os/exec. A non-zero exit is reported in the
// result, not as an error; errors mean the process could not be started.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner. A nil logger discards output.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*CommandResult, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- binaries come from validated tool configuration
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.WorkDir
	cmd.Env = append(os.Environ(), c.Env...)
	configureProcAttr(cmd)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("tools: executing command", "command", c.String(), "work_dir", c.WorkDir, "timeout", timeout)
	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("tools: command timeout", "command", c.Path, "timeout", timeout)
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("running %s: %w", c.Path, err)
	}

	r.logger.Debug("tools: command finished", "command", c.Path, "exit_code", result.ExitCode, "duration", result.Duration)
	return result, nil
}
