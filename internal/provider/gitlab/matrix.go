package gitlab

import (
	"fmt"
	"maps"

	"github.com/bgricker/stagehand/internal/provider"
	"gopkg.in/yaml.v3"
)

// parallelDocument captures `parallel: matrix:` with one axis set per list
// entry. Axis declaration order matters for generated job names, so entries
// decode from raw nodes rather than maps.
type parallelDocument struct {
	Matrix []axisSet `yaml:"matrix"`
}

type axisSet struct {
	axes []provider.Axis
}

func (p parallelDocument) entries() []axisSet {
	return p.Matrix
}

func (a *axisSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix entry must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var values stringList
		if err := val.Decode(&values); err != nil {
			return fmt.Errorf("matrix axis %q: %w", key.Value, err)
		}
		a.axes = append(a.axes, provider.Axis{Name: key.Value, Values: values})
	}
	return nil
}

// expandMatrix turns a template job into concrete jobs, one per combination
// in the cross product of each entry's axes. A job without a matrix expands
// to itself.
func expandMatrix(job provider.Job, entries []axisSet) []provider.Job {
	if len(entries) == 0 {
		return []provider.Job{job}
	}

	var jobs []provider.Job
	for _, entry := range entries {
		jobs = append(jobs, crossProduct(job, entry.axes)...)
	}
	return jobs
}

func crossProduct(template provider.Job, axes []provider.Axis) []provider.Job {
	if len(axes) == 0 {
		return []provider.Job{template}
	}

	var out []provider.Job
	var walk func(depth int, values []string, assigned map[string]string)
	walk = func(depth int, values []string, assigned map[string]string) {
		if depth == len(axes) {
			job := template
			job.Name = provider.MatrixName(template.Name, values)
			job.MatrixValues = maps.Clone(assigned)
			job.Variables = mergeVariables(template.Variables, assigned)
			out = append(out, job)
			return
		}
		axis := axes[depth]
		for _, v := range axis.Values {
			assigned[axis.Name] = v
			walk(depth+1, append(values, v), assigned)
		}
		delete(assigned, axis.Name)
	}
	walk(0, make([]string, 0, len(axes)), make(map[string]string, len(axes)))
	return out
}

func mergeVariables(vars ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, v := range vars {
		maps.Copy(out, v)
	}
	return out
}
