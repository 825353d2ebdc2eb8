package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bgricker/stagehand/internal/cache"
	"github.com/bgricker/stagehand/internal/provider"
	"github.com/bgricker/stagehand/internal/report"
	"github.com/bgricker/stagehand/internal/runner/executor"
	"github.com/bgricker/stagehand/internal/trigger"
	"github.com/google/uuid"
)

// Options configure how the runner executes pipelines.
type Options struct {
	Root        string
	Stdout      io.Writer
	Stderr      io.Writer
	Verbose     bool
	DryRun      bool
	TailLines   int
	Env         []string
	Now         func() time.Time
	Concurrency int
	Shell       executor.Executor
	Docker      executor.Executor
	Cache       *cache.Store
	Event       trigger.Event
	RunID       string
	Logger      *slog.Logger
}

// Runner evaluates stages strictly in order, fanning each stage's jobs out
// concurrently. A failed stage halts the run before later stages begin;
// sibling jobs already running are not cancelled.
type Runner struct {
	opts Options
}

// New creates a runner with the supplied options.
func New(opts Options) *Runner {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 20
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Shell == nil {
		opts.Shell = executor.NewShell()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Event.Type == "" {
		opts.Event.Type = trigger.EventPush
	}
	return &Runner{opts: opts}
}

// Run executes the pipeline and returns per-stage results plus a summary.
func (r *Runner) Run(ctx context.Context, p provider.Pipeline) ([]report.StageResult, report.Summary, error) {
	summary := report.Summary{
		Pipeline: p.Path,
		RunID:    r.opts.RunID,
		Status:   report.RunSucceeded,
	}

	stages := make([]report.StageResult, 0, len(p.Stages))
	halted := false
	start := r.opts.Now()

	for _, stage := range p.Stages {
		jobs := p.JobsByStage(stage.Name)
		if len(jobs) == 0 {
			continue
		}
		// Stages without jobs emit no result and count nowhere.
		summary.TotalStages++
		summary.TotalJobs += len(jobs)

		var sr report.StageResult
		if halted {
			sr = r.skipStage(p, stage, jobs, "previous stage failed")
		} else {
			sr = r.runStage(ctx, p, stage, jobs)
		}
		stages = append(stages, sr)

		for _, jr := range sr.Jobs {
			switch jr.Status {
			case report.StatusSuccess:
				summary.Succeeded++
			case report.StatusFailed:
				summary.Failed++
			case report.StatusSkipped:
				summary.Skipped++
			}
		}

		if sr.Status == report.StatusFailed {
			halted = true
		}
	}

	summary.Duration = r.opts.Now().Sub(start)
	summary.DurationMS = summary.Duration.Milliseconds()
	if halted {
		summary.Status = report.RunFailed
		summary.ExitCode = 1
	}
	return stages, summary, nil
}

// runStage launches every member job, bounded by Concurrency, and waits for
// all of them. A job failure marks the stage failed without cancelling
// siblings.
func (r *Runner) runStage(ctx context.Context, p provider.Pipeline, stage provider.Stage, jobs []provider.Job) report.StageResult {
	results := make([]report.JobResult, len(jobs))

	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]

		if !trigger.Allows(job.Only, job.Except, r.opts.Event) {
			results[i] = report.JobResult{
				Pipeline: p.Path,
				Stage:    stage.Name,
				Job:      job.Name,
				Status:   report.StatusSkipped,
				Reason:   fmt.Sprintf("rules exclude %s events", r.opts.Event.Type),
			}
			continue
		}

		if r.opts.DryRun {
			results[i] = report.JobResult{
				Pipeline: p.Path,
				Stage:    stage.Name,
				Job:      job.Name,
				Status:   report.StatusSkipped,
				Command:  strings.Join(append(append([]string{}, job.BeforeScript...), job.Script...), " && "),
				DryRun:   true,
			}
			continue
		}

		wg.Add(1)
		go func(i int, job provider.Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runJob(ctx, p, stage, job)
		}(i, job)
	}
	wg.Wait()

	return report.StageResult{
		Name:   stage.Name,
		Status: stageStatus(results),
		Jobs:   results,
	}
}

func (r *Runner) skipStage(p provider.Pipeline, stage provider.Stage, jobs []provider.Job, reason string) report.StageResult {
	results := make([]report.JobResult, len(jobs))
	for i, job := range jobs {
		results[i] = report.JobResult{
			Pipeline: p.Path,
			Stage:    stage.Name,
			Job:      job.Name,
			Status:   report.StatusSkipped,
			Reason:   reason,
		}
	}
	return report.StageResult{Name: stage.Name, Status: report.StatusSkipped, Jobs: results}
}

func (r *Runner) runJob(ctx context.Context, p provider.Pipeline, stage provider.Stage, job provider.Job) report.JobResult {
	result := report.JobResult{
		Pipeline:       p.Path,
		Stage:          stage.Name,
		Job:            job.Name,
		Status:         report.StatusRunning,
		AllowedFailure: job.AllowFailure,
	}

	env := r.buildEnv(p, stage, job)

	var cacheKey string
	if job.Cache != nil && r.opts.Cache != nil {
		cacheKey = cache.ExpandKey(job.Cache.Key, env)
		if err := r.opts.Cache.Restore(cacheKey, job.Cache.Paths, r.opts.Root); err != nil {
			r.opts.Logger.Warn("cache restore", "job", job.Name, "key", cacheKey, "error", err)
		}
	}

	var stdoutBuf, stderrBuf strings.Builder
	var stdout, stderr io.Writer = &stdoutBuf, &stderrBuf
	if r.opts.Verbose {
		stdout = io.MultiWriter(r.opts.Stdout, &stdoutBuf)
		stderr = io.MultiWriter(r.opts.Stderr, &stderrBuf)
	}

	spec := executor.Spec{
		Name:       job.Name,
		Script:     append(append([]string{}, job.BeforeScript...), job.Script...),
		Env:        env,
		WorkingDir: r.opts.Root,
		Image:      job.Image,
		Stdout:     stdout,
		Stderr:     stderr,
	}

	exec := r.opts.Shell
	if job.Image != "" && r.opts.Docker != nil {
		exec = r.opts.Docker
	}

	r.opts.Logger.Info("job started", "stage", stage.Name, "job", job.Name)
	start := r.opts.Now()
	execResult, err := exec.Run(ctx, spec)
	result.Duration = r.opts.Now().Sub(start)
	result.DurationMS = result.Duration.Milliseconds()
	result.ExitCode = execResult.ExitCode
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if err != nil {
		result.Status = report.StatusFailed
		result.Stdout = tailLines(result.Stdout, r.opts.TailLines)
		result.Stderr = tailLines(result.Stderr, r.opts.TailLines)
		r.opts.Logger.Warn("job failed", "stage", stage.Name, "job", job.Name, "exit_code", result.ExitCode)
		return result
	}

	result.Status = report.StatusSuccess
	r.opts.Logger.Info("job succeeded", "stage", stage.Name, "job", job.Name, "duration", result.Duration)

	if job.Cache != nil && r.opts.Cache != nil {
		if err := r.opts.Cache.Save(cacheKey, job.Cache.Paths, r.opts.Root); err != nil {
			r.opts.Logger.Warn("cache save", "job", job.Name, "key", cacheKey, "error", err)
		}
	}
	return result
}

// stageStatus aggregates job results: any non-allowed failure fails the
// stage, a stage whose jobs were all skipped is itself skipped (and
// satisfied), anything else succeeds.
func stageStatus(results []report.JobResult) report.Status {
	allSkipped := true
	for _, jr := range results {
		if jr.Status == report.StatusFailed && !jr.AllowedFailure {
			return report.StatusFailed
		}
		if jr.Status != report.StatusSkipped {
			allSkipped = false
		}
	}
	if allSkipped {
		return report.StatusSkipped
	}
	return report.StatusSuccess
}

func (r *Runner) buildEnv(p provider.Pipeline, stage provider.Stage, job provider.Job) []string {
	ci := map[string]string{
		"CI_PROJECT_DIR":     r.opts.Root,
		"CI_PIPELINE_ID":     r.opts.RunID,
		"CI_JOB_NAME":        job.Name,
		"CI_JOB_STAGE":       stage.Name,
		"CI_COMMIT_REF_NAME": r.opts.Event.Ref,
	}
	if r.opts.Event.Type == trigger.EventTag {
		ci["CI_COMMIT_TAG"] = r.opts.Event.Ref
	}
	return mergeEnv(r.opts.Env, p.Variables, job.Variables, job.MatrixValues, ci)
}

func mergeEnv(base []string, overlays ...map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(overlays)*4)
	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx != -1 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			envMap[k] = v
		}
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, envMap[k]))
	}
	return out
}

func tailLines(input string, maxLines int) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}
