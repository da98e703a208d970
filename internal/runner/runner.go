// Package runner executes external version-control binaries and captures
// their output. All failures, including timeouts, surface as a non-zero
// status plus an error describing the command that failed.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Result represents the outcome of a single command execution.
type Result struct {
	// Status is the process exit status. Zero means success.
	Status int

	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string
}

// Runner executes a command in a working directory, bounded by a timeout.
// Implementations must treat a zero timeout as "no timeout".
type Runner interface {
	Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (*Result, error)
}

// ExecRunner is the process-backed Runner implementation.
// NewExecRunner should be used to create instances of ExecRunner.
type ExecRunner struct {
	logger hclog.Logger
}

// NewExecRunner creates a Runner that invokes commands via the OS.
func NewExecRunner(logger hclog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.Named("runner")}
}

// Run executes name with args in dir. The timeout bounds the work done by
// the child process; when it expires the process is killed and the result
// carries a non-zero status.
func (r *ExecRunner) Run(
	ctx context.Context,
	dir string,
	timeout time.Duration,
	name string,
	args ...string,
) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Running command", "cmd", name, "args", strings.Join(args, " "), "dir", dir)

	err := cmd.Run()

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.Status = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		// A killed process reports -1; normalize so callers can rely on
		// non-zero meaning failure.
		if res.Status == 0 {
			res.Status = -1
		}
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("command '%s %s' timed out after %s: %w",
				name, strings.Join(args, " "), timeout, ctxErr)
		}
		return res, fmt.Errorf("command '%s %s' failed (status %d): %s: %w",
			name, strings.Join(args, " "), res.Status, firstLine(res.Stderr), err)
	}

	return res, nil
}

// firstLine trims a captured stream down to its first non-empty line for
// inclusion in error messages.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
