package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bgricker/stagehand/internal/cache"
	"github.com/bgricker/stagehand/internal/config"
	"github.com/bgricker/stagehand/internal/output"
	"github.com/bgricker/stagehand/internal/provider"
	"github.com/bgricker/stagehand/internal/report"
	"github.com/bgricker/stagehand/internal/runner"
	"github.com/bgricker/stagehand/internal/runner/executor"
	"github.com/bgricker/stagehand/internal/toolcheck"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute pipeline stages locally",
		RunE:  runExecute,
	}
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pipelines, err := loadPipelines(root, cfg)
	if err != nil {
		return err
	}

	filtered, err := applyFilters(pipelines, cfg)
	if err != nil {
		return err
	}
	if len(filtered) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching stages or jobs")
		return nil
	}

	event, err := buildEvent(cfg, root)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	}

	shell, docker, execWarnings, err := buildExecutors(cfg, filtered, logger)
	if err != nil {
		return err
	}
	var dockerExec executor.Executor
	if docker != nil {
		defer docker.Close()
		dockerExec = docker
	}

	runOpts := runner.Options{
		Root:        root,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
		Verbose:     cfg.Verbose,
		DryRun:      cfg.DryRun,
		TailLines:   20,
		Concurrency: cfg.Concurrency,
		Shell:       shell,
		Docker:      dockerExec,
		Cache:       cache.New(cacheDir(cfg, root)),
		Event:       event,
		Logger:      logger,
	}

	var stages []report.StageResult
	summary := report.Summary{Status: report.RunSucceeded}
	for _, p := range filtered {
		execRunner := runner.New(runOpts)
		plStages, plSummary, err := execRunner.Run(cmd.Context(), p)
		if err != nil {
			return err
		}
		stages = append(stages, plStages...)
		summary = mergeSummaries(summary, plSummary)
	}
	if len(filtered) == 1 {
		summary.Pipeline = filtered[0].Path
	}

	warnings := append(collapseWarnings(filtered), execWarnings...)

	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		renderer := output.NewPretty(cmd.OutOrStdout())
		if err := renderer.RenderResults(stages, summary); err != nil {
			return err
		}
		for _, msg := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
		}
	case config.FormatJSON:
		renderer := output.NewJSON(cmd.OutOrStdout())
		jsonReport := output.Report{
			Pipelines: filtered,
			Stages:    stages,
			Summary:   summary,
			Warnings:  warnings,
		}
		if err := renderer.Render(jsonReport); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}

	if summary.ExitCode != 0 {
		return fmt.Errorf("one or more jobs failed")
	}
	return nil
}

// minDockerVersion is the oldest docker client line whose exec API the
// container executor is known to work against.
const minDockerVersion = "20.10"

// buildExecutors resolves the executor configuration against what the
// pipelines need and what the host provides. The returned *executor.Docker
// is nil unless container execution is active; callers own closing it.
func buildExecutors(cfg config.Config, pipelines []provider.Pipeline, logger *slog.Logger) (executor.Executor, *executor.Docker, []string, error) {
	shell := executor.NewShell()

	needsImage := false
	for _, p := range pipelines {
		for _, j := range p.Jobs {
			if j.Image != "" {
				needsImage = true
				break
			}
		}
	}

	switch cfg.Executor {
	case config.ExecutorShell:
		var warnings []string
		if needsImage {
			warnings = append(warnings, "jobs declare images but the shell executor ignores them")
		}
		return shell, nil, warnings, nil
	case config.ExecutorDocker:
		var warnings []string
		if info, err := toolcheck.DetectDocker(); err == nil && !toolcheck.AtLeastMajorMinor(minDockerVersion, info.Version) {
			warnings = append(warnings, fmt.Sprintf("docker %s is older than %s; container execution may misbehave", info.Version, minDockerVersion))
		}
		docker, err := executor.NewDocker(logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return shell, docker, warnings, nil
	case config.ExecutorAuto, "":
		if !needsImage || cfg.DryRun {
			return shell, nil, nil, nil
		}
		info, err := toolcheck.DetectDocker()
		if err != nil {
			var warnings []string
			if toolcheck.Missing(err) {
				warnings = append(warnings, "docker executable not found; jobs with images run in the host shell")
			} else {
				warnings = append(warnings, fmt.Sprintf("unable to detect docker: %v; jobs with images run in the host shell", err))
			}
			return shell, nil, warnings, nil
		}
		var warnings []string
		if !toolcheck.AtLeastMajorMinor(minDockerVersion, info.Version) {
			warnings = append(warnings, fmt.Sprintf("docker %s is older than %s; container execution may misbehave", info.Version, minDockerVersion))
		}
		docker, err := executor.NewDocker(logger)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("docker unavailable: %v; jobs with images run in the host shell", err))
			return shell, nil, warnings, nil
		}
		return shell, docker, warnings, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported executor %q", cfg.Executor)
	}
}

func cacheDir(cfg config.Config, root string) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(root, ".stagehand-cache")
	}
	return filepath.Join(base, "stagehand")
}

func mergeSummaries(a, b report.Summary) report.Summary {
	out := a
	out.TotalStages += b.TotalStages
	out.TotalJobs += b.TotalJobs
	out.Succeeded += b.Succeeded
	out.Failed += b.Failed
	out.Skipped += b.Skipped
	out.Duration += b.Duration
	out.DurationMS = out.Duration.Milliseconds()
	if b.ExitCode != 0 {
		out.ExitCode = b.ExitCode
	}
	if b.Status == report.RunFailed {
		out.Status = report.RunFailed
	}
	return out
}
