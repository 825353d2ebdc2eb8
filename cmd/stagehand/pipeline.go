package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bgricker/stagehand/internal/config"
	"github.com/bgricker/stagehand/internal/discovery"
	"github.com/bgricker/stagehand/internal/provider"
	"github.com/bgricker/stagehand/internal/provider/filter"
	gitlabprovider "github.com/bgricker/stagehand/internal/provider/gitlab"
	"github.com/bgricker/stagehand/internal/toolcheck"
	"github.com/bgricker/stagehand/internal/trigger"
	"github.com/spf13/cobra"
)

func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	root, err := os.Getwd()
	if err != nil {
		return config.Config{}, "", fmt.Errorf("determine working directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return config.Config{}, "", err
	}

	flags, err := gatherFlags(cmd)
	if err != nil {
		return config.Config{}, "", err
	}
	config.ApplyFlags(&cfg, flags)

	return cfg, root, nil
}

func loadPipelines(root string, cfg config.Config) ([]provider.Pipeline, error) {
	paths, err := discovery.Pipelines(root, cfg.Pipelines)
	if err != nil {
		if errors.Is(err, discovery.ErrNoPipelines) {
			return nil, fmt.Errorf("no pipeline files found; specify --pipeline to provide files")
		}
		return nil, err
	}

	parser := gitlabprovider.NewParser(root)
	return parser.Parse(paths)
}

func applyFilters(pipelines []provider.Pipeline, cfg config.Config) ([]provider.Pipeline, error) {
	stagePatterns, err := filter.Compile(cfg.Stages)
	if err != nil {
		return nil, err
	}
	jobPatterns, err := filter.Compile(cfg.Jobs)
	if err != nil {
		return nil, err
	}

	filtered := make([]provider.Pipeline, 0, len(pipelines))
	for _, p := range pipelines {
		fp := filter.FilterPipeline(p, stagePatterns, jobPatterns)
		if len(fp.Jobs) == 0 {
			continue
		}
		filtered = append(filtered, fp)
	}
	return filtered, nil
}

func buildEvent(cfg config.Config, root string) (trigger.Event, error) {
	evType, err := trigger.ParseEventType(cfg.Event)
	if err != nil {
		return trigger.Event{}, err
	}

	ref := cfg.Ref
	if ref == "" {
		if _, err := toolcheck.DetectGit(); err == nil {
			if head, err := toolcheck.GitRef(root); err == nil {
				ref = head
			}
		}
	}

	return trigger.Event{Type: evType, Ref: ref}, nil
}

func collapseWarnings(pipelines []provider.Pipeline) []string {
	var out []string
	for _, p := range pipelines {
		for _, w := range p.Warnings {
			if w.Job != "" {
				out = append(out, fmt.Sprintf("%s:%s: %s", w.Pipeline, w.Job, w.Message))
				continue
			}
			out = append(out, fmt.Sprintf("%s: %s", w.Pipeline, w.Message))
		}
	}
	return out
}
