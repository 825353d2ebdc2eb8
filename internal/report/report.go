package report

import "time"

// Status tracks the lifecycle of a job or stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// RunStatus is the terminal state of a whole pipeline run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// JobResult captures the outcome of a single job.
type JobResult struct {
	Pipeline       string        `json:"pipeline"`
	Stage          string        `json:"stage"`
	Job            string        `json:"job"`
	Status         Status        `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	Command        string        `json:"command,omitempty"`
	ExitCode       int           `json:"exit_code"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
	Stdout         string        `json:"stdout,omitempty"`
	Stderr         string        `json:"stderr,omitempty"`
	AllowedFailure bool          `json:"allowed_failure,omitempty"`
	DryRun         bool          `json:"dry_run,omitempty"`
}

// StageResult aggregates the jobs of one stage.
type StageResult struct {
	Name   string      `json:"name"`
	Status Status      `json:"status"`
	Jobs   []JobResult `json:"jobs"`
}

// Summary aggregates pipeline run results.
type Summary struct {
	Pipeline    string        `json:"pipeline"`
	RunID       string        `json:"run_id,omitempty"`
	TotalStages int           `json:"total_stages"`
	TotalJobs   int           `json:"total_jobs"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	ExitCode    int           `json:"exit_code"`
	Status      RunStatus     `json:"status"`
}
