package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config captures CLI options sourced from config files or flags.
type Config struct {
	Pipelines []string `yaml:"pipelines"`
	Stages    []string `yaml:"stages"`
	Jobs      []string `yaml:"jobs"`

	Event string `yaml:"event"`
	Ref   string `yaml:"ref"`

	DryRun      bool   `yaml:"dry_run"`
	Verbose     bool   `yaml:"verbose"`
	Format      string `yaml:"format"`
	Concurrency int    `yaml:"concurrency"`
	Executor    string `yaml:"executor"`
	CacheDir    string `yaml:"cache_dir"`
}

const (
	// FormatPretty renders human readable output.
	FormatPretty = "pretty"
	// FormatJSON renders machine readable output.
	FormatJSON = "json"

	// ExecutorAuto picks docker for jobs declaring an image when the daemon
	// is reachable, falling back to the host shell.
	ExecutorAuto = "auto"
	// ExecutorShell forces host shell execution; images are ignored.
	ExecutorShell = "shell"
	// ExecutorDocker requires a reachable docker daemon.
	ExecutorDocker = "docker"
)

// Default returns the baseline configuration used when no flags or config
// file specify values.
func Default() Config {
	return Config{
		Event:       "push",
		Format:      FormatPretty,
		Concurrency: 4,
		Executor:    ExecutorAuto,
	}
}

// Load reads .stagehand.yml from the repository root when present. Missing
// files are ignored.
func Load(root string) (Config, error) {
	cfg := Default()
	path := filepath.Join(root, ".stagehand.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg = merge(cfg, fileCfg)
	return cfg, nil
}

func merge(base, override Config) Config {
	out := base

	if len(override.Pipelines) > 0 {
		out.Pipelines = append([]string{}, override.Pipelines...)
	}
	if len(override.Stages) > 0 {
		out.Stages = append([]string{}, override.Stages...)
	}
	if len(override.Jobs) > 0 {
		out.Jobs = append([]string{}, override.Jobs...)
	}
	if override.Event != "" {
		out.Event = override.Event
	}
	if override.Ref != "" {
		out.Ref = override.Ref
	}
	if override.Format != "" {
		out.Format = override.Format
	}
	if override.Executor != "" {
		out.Executor = override.Executor
	}
	if override.CacheDir != "" {
		out.CacheDir = override.CacheDir
	}
	if override.Concurrency > 0 {
		out.Concurrency = override.Concurrency
	}
	if override.DryRun {
		out.DryRun = true
	}
	if override.Verbose {
		out.Verbose = true
	}

	return out
}

// ApplyFlags mutates cfg by applying values from CLI flags when they are
// present.
func ApplyFlags(cfg *Config, flags FlagValues) {
	if len(flags.Pipelines.Values) > 0 {
		cfg.Pipelines = append([]string{}, flags.Pipelines.Values...)
	}
	if len(flags.Stages.Values) > 0 {
		cfg.Stages = append([]string{}, flags.Stages.Values...)
	}
	if len(flags.Jobs.Values) > 0 {
		cfg.Jobs = append([]string{}, flags.Jobs.Values...)
	}
	if flags.Event.Set {
		cfg.Event = flags.Event.Value
	}
	if flags.Ref.Set {
		cfg.Ref = flags.Ref.Value
	}
	if flags.Format.Set {
		cfg.Format = flags.Format.Value
	}
	if flags.Executor.Set {
		cfg.Executor = flags.Executor.Value
	}
	if flags.CacheDir.Set {
		cfg.CacheDir = flags.CacheDir.Value
	}
	if flags.Concurrency.Set {
		cfg.Concurrency = flags.Concurrency.Value
	}
	if flags.DryRun.Set {
		cfg.DryRun = flags.DryRun.Value
	}
	if flags.Verbose.Set {
		cfg.Verbose = flags.Verbose.Value
	}
}

// FlagValues captures CLI flag state with knowledge of whether each flag was
// set explicitly.
type FlagValues struct {
	Pipelines   SliceFlag
	Stages      SliceFlag
	Jobs        SliceFlag
	Event       StringFlag
	Ref         StringFlag
	Format      StringFlag
	Executor    StringFlag
	CacheDir    StringFlag
	Concurrency IntFlag
	DryRun      BoolFlag
	Verbose     BoolFlag
}

// StringFlag represents a string flag and whether it was set.
type StringFlag struct {
	Value string
	Set   bool
}

// SliceFlag represents a slice flag and whether it captured values via CLI.
type SliceFlag struct {
	Values []string
}

// BoolFlag represents a bool flag and whether it was set.
type BoolFlag struct {
	Value bool
	Set   bool
}

// IntFlag represents an int flag and whether it was set.
type IntFlag struct {
	Value int
	Set   bool
}
