package executor

import (
	"context"
	"io"
	"strings"
)

// Spec describes one job execution: the script lines, the environment they
// run in, and where output goes.
type Spec struct {
	Name       string
	Script     []string
	Env        []string
	WorkingDir string
	Image      string
	Stdout     io.Writer
	Stderr     io.Writer
}

// Result reports how an execution finished.
type Result struct {
	ExitCode int
}

// Executor runs a job's script in some environment. Implementations must
// return the script's exit code in Result even when returning an error.
type Executor interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// joinScript folds script lines into a single shell command so the first
// failing line aborts the job with its exit code.
func joinScript(lines []string) string {
	trimmed := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		trimmed = append(trimmed, line)
	}
	return strings.Join(trimmed, " && ")
}
