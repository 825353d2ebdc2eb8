package main

import (
	"fmt"

	"github.com/bgricker/stagehand/internal/config"
	"github.com/spf13/cobra"
)

func gatherFlags(cmd *cobra.Command) (config.FlagValues, error) {
	flags := cmd.Flags()
	var values config.FlagValues

	if flags.Changed("pipeline") {
		v, err := flags.GetStringArray("pipeline")
		if err != nil {
			return values, fmt.Errorf("parse --pipeline: %w", err)
		}
		values.Pipelines = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("stage") {
		v, err := flags.GetStringArray("stage")
		if err != nil {
			return values, fmt.Errorf("parse --stage: %w", err)
		}
		values.Stages = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("job") {
		v, err := flags.GetStringArray("job")
		if err != nil {
			return values, fmt.Errorf("parse --job: %w", err)
		}
		values.Jobs = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("event") {
		v, err := flags.GetString("event")
		if err != nil {
			return values, fmt.Errorf("parse --event: %w", err)
		}
		values.Event = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("ref") {
		v, err := flags.GetString("ref")
		if err != nil {
			return values, fmt.Errorf("parse --ref: %w", err)
		}
		values.Ref = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("format") {
		v, err := flags.GetString("format")
		if err != nil {
			return values, fmt.Errorf("parse --format: %w", err)
		}
		values.Format = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("executor") {
		v, err := flags.GetString("executor")
		if err != nil {
			return values, fmt.Errorf("parse --executor: %w", err)
		}
		values.Executor = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("cache-dir") {
		v, err := flags.GetString("cache-dir")
		if err != nil {
			return values, fmt.Errorf("parse --cache-dir: %w", err)
		}
		values.CacheDir = config.StringFlag{Value: v, Set: true}
	}

	if flags.Changed("concurrency") {
		v, err := flags.GetInt("concurrency")
		if err != nil {
			return values, fmt.Errorf("parse --concurrency: %w", err)
		}
		values.Concurrency = config.IntFlag{Value: v, Set: true}
	}

	if flags.Changed("dry-run") {
		v, err := flags.GetBool("dry-run")
		if err != nil {
			return values, fmt.Errorf("parse --dry-run: %w", err)
		}
		values.DryRun = config.BoolFlag{Value: v, Set: true}
	}

	if flags.Changed("verbose") {
		v, err := flags.GetBool("verbose")
		if err != nil {
			return values, fmt.Errorf("parse --verbose: %w", err)
		}
		values.Verbose = config.BoolFlag{Value: v, Set: true}
	}

	return values, nil
}
