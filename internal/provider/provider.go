package provider

import "fmt"

// Pipeline represents a parsed pipeline definition.
type Pipeline struct {
	Path      string            `json:"path"`
	Name      string            `json:"name"`
	Stages    []Stage           `json:"stages"`
	Variables map[string]string `json:"variables,omitempty"`
	Jobs      []Job             `json:"jobs"`
	Warnings  []Warning         `json:"warnings,omitempty"`
}

// Warning captures non-fatal issues encountered while parsing a pipeline.
type Warning struct {
	Pipeline string `json:"pipeline"`
	Job      string `json:"job,omitempty"`
	Message  string `json:"message"`
}

// Stage is a named phase of a pipeline. Stages execute in strictly increasing
// Position order; jobs in a later stage start only after every job in all
// earlier stages has finished successfully.
type Stage struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Job is a single unit of work: a sequence of shell commands run inside an
// environment, optionally generated from a matrix template. Jobs are
// immutable once parsed.
type Job struct {
	Name         string            `json:"name"`
	Stage        string            `json:"stage"`
	Image        string            `json:"image,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	BeforeScript []string          `json:"before_script,omitempty"`
	Script       []string          `json:"script"`
	Only         []string          `json:"only,omitempty"`
	Except       []string          `json:"except,omitempty"`
	AllowFailure bool              `json:"allow_failure,omitempty"`
	Cache        *Cache            `json:"cache,omitempty"`
	MatrixValues map[string]string `json:"matrix_values,omitempty"`
}

// Cache declares directories preserved across runs of a job. Restore is
// tolerant of missing or stale entries.
type Cache struct {
	Key   string   `json:"key"`
	Paths []string `json:"paths"`
}

// Axis is one dimension of a job matrix. The cross product of all axes in a
// template expands into concrete jobs.
type Axis struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// JobsByStage returns the jobs assigned to the named stage in declaration order.
func (p Pipeline) JobsByStage(stage string) []Job {
	var jobs []Job
	for _, j := range p.Jobs {
		if j.Stage == stage {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// StageNamed reports the stage with the given name.
func (p Pipeline) StageNamed(name string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// MatrixName builds the display name for a matrix-expanded job, e.g.
// "test [3.8, 3.1]".
func MatrixName(base string, values []string) string {
	if len(values) == 0 {
		return base
	}
	name := base + " ["
	for i, v := range values {
		if i > 0 {
			name += ", "
		}
		name += v
	}
	return name + "]"
}

// Validate checks cross-references the parser cannot express structurally.
func (p Pipeline) Validate() error {
	for _, j := range p.Jobs {
		if _, ok := p.StageNamed(j.Stage); !ok {
			return fmt.Errorf("job %q references undeclared stage %q", j.Name, j.Stage)
		}
		if len(j.Script) == 0 {
			return fmt.Errorf("job %q has no script", j.Name)
		}
	}
	return nil
}
