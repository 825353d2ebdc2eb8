package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Shell executes job scripts directly on the host via `sh -c`.
type Shell struct{}

// NewShell creates a host shell executor.
func NewShell() *Shell {
	return &Shell{}
}

// Run executes the spec's script and returns its exit code.
func (s *Shell) Run(ctx context.Context, spec Spec) (Result, error) {
	script := joinScript(spec.Script)
	if script == "" {
		return Result{}, fmt.Errorf("job %q has an empty script", spec.Name)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = spec.WorkingDir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = io.Discard
	}
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}

	err := cmd.Run()
	code := exitCode(err)
	if err != nil {
		return Result{ExitCode: code}, fmt.Errorf("job %q: %w", spec.Name, err)
	}
	return Result{ExitCode: 0}, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
