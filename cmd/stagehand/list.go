package main

import (
	"fmt"
	"strings"

	"github.com/bgricker/stagehand/internal/config"
	"github.com/bgricker/stagehand/internal/output"
	"github.com/bgricker/stagehand/internal/provider"
	"github.com/bgricker/stagehand/internal/report"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipeline stages and jobs",
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
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

	return renderList(cmd, cfg, filtered)
}

func renderList(cmd *cobra.Command, cfg config.Config, pipelines []provider.Pipeline) error {
	if len(pipelines) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching stages or jobs")
		return nil
	}

	warnings := collapseWarnings(pipelines)

	switch strings.ToLower(cfg.Format) {
	case config.FormatPretty:
		renderer := output.NewPretty(cmd.OutOrStdout())
		if err := renderer.RenderList(pipelines); err != nil {
			return err
		}
		for _, msg := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", msg)
		}
	case config.FormatJSON:
		renderer := output.NewJSON(cmd.OutOrStdout())
		jsonReport := output.Report{
			Pipelines: pipelines,
			Summary:   computeListSummary(pipelines),
			Warnings:  warnings,
		}
		if err := renderer.Render(jsonReport); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format %q", cfg.Format)
	}

	return nil
}

func computeListSummary(pipelines []provider.Pipeline) report.Summary {
	var stages, jobs int
	for _, p := range pipelines {
		for _, stage := range p.Stages {
			if len(p.JobsByStage(stage.Name)) > 0 {
				stages++
			}
		}
		jobs += len(p.Jobs)
	}
	summary := report.Summary{
		TotalStages: stages,
		TotalJobs:   jobs,
		Status:      report.RunSucceeded,
	}
	if len(pipelines) == 1 {
		summary.Pipeline = pipelines[0].Path
	}
	return summary
}
