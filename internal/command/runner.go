package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result captures one finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a shell command and captures stdout and the exit code.
// Injected everywhere external daemons are touched so tests can fake it.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (Result, error)
}

// ShellRunner runs commands through /bin/sh -c.
type ShellRunner struct{}

var _ Runner = ShellRunner{}

// Run executes the command. A non-zero exit is reported via Result.ExitCode,
// not as an error; errors mean the command could not run or timed out.
func (ShellRunner) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		// ctx expiry kills the process, which also surfaces as ExitError;
		// report the timeout, not the synthetic exit code.
		if ctx.Err() != nil {
			return res, fmt.Errorf("command timed out after %s: %w", timeout, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run command: %w", err)
	}

	return res, nil
}
