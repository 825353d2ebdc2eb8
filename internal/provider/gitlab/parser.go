package gitlab

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bgricker/stagehand/internal/provider"
	"gopkg.in/yaml.v3"
)

const ProviderName = "gitlab"

// DefaultStages is used when a pipeline omits the stages list.
var DefaultStages = []string{"build", "test", "deploy"}

// reservedKeys are top-level keys that do not declare jobs.
var reservedKeys = map[string]bool{
	"stages":        true,
	"variables":     true,
	"default":       true,
	"image":         true,
	"before_script": true,
	"workflow":      true,
	"include":       true,
}

// Parser loads GitLab-style pipeline files from disk.
type Parser struct {
	Root string
}

// NewParser constructs a Parser that resolves pipeline paths relative to root.
func NewParser(root string) *Parser {
	return &Parser{Root: root}
}

// Parse reads the supplied pipeline paths and produces one Pipeline per file.
func (p *Parser) Parse(paths []string) ([]provider.Pipeline, error) {
	pipelines := make([]provider.Pipeline, 0, len(paths))
	for _, relPath := range paths {
		full := relPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.Root, relPath)
		}
		pl, err := parsePipeline(full, relPath)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, pl)
	}
	return pipelines, nil
}

func parsePipeline(fullPath, displayPath string) (provider.Pipeline, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return provider.Pipeline{}, fmt.Errorf("open pipeline %q: %w", displayPath, err)
	}
	defer f.Close()
	return decodePipeline(f, displayPath)
}

func decodePipeline(r io.Reader, displayPath string) (provider.Pipeline, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: %w", displayPath, err)
	}

	doc := &root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: top level must be a mapping", displayPath)
	}

	pl := provider.Pipeline{
		Path: displayPath,
		Name: filepath.Base(displayPath),
	}

	var defaults defaultDocument
	stageNames := DefaultStages

	// First pass picks up reserved keys so defaults apply to jobs regardless
	// of declaration order.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		keyNode, valNode := doc.Content[i], doc.Content[i+1]
		switch keyNode.Value {
		case "stages":
			var stages []string
			if err := valNode.Decode(&stages); err != nil {
				return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: stages: %w", displayPath, err)
			}
			if len(stages) > 0 {
				stageNames = stages
			}
		case "variables":
			var vars variableMap
			if err := valNode.Decode(&vars); err != nil {
				return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: variables: %w", displayPath, err)
			}
			pl.Variables = vars
		case "default":
			if err := valNode.Decode(&defaults); err != nil {
				return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: default: %w", displayPath, err)
			}
		case "image":
			if err := valNode.Decode(&defaults.Image); err != nil {
				return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: image: %w", displayPath, err)
			}
		case "before_script":
			if err := valNode.Decode(&defaults.BeforeScript); err != nil {
				return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: before_script: %w", displayPath, err)
			}
		case "workflow", "include":
			pl.Warnings = append(pl.Warnings, provider.Warning{
				Pipeline: displayPath,
				Message:  fmt.Sprintf("%s is not supported", keyNode.Value),
			})
		}
	}

	for i, name := range stageNames {
		pl.Stages = append(pl.Stages, provider.Stage{Name: name, Position: i})
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		keyNode, valNode := doc.Content[i], doc.Content[i+1]
		name := keyNode.Value
		if reservedKeys[name] || strings.HasPrefix(name, ".") {
			continue
		}

		var jobDoc jobDocument
		if err := valNode.Decode(&jobDoc); err != nil {
			return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: job %q: %w", displayPath, name, err)
		}

		job, warnings := buildJob(displayPath, name, jobDoc, defaults)
		pl.Warnings = append(pl.Warnings, warnings...)
		pl.Jobs = append(pl.Jobs, expandMatrix(job, jobDoc.Parallel.entries())...)
	}

	if err := pl.Validate(); err != nil {
		return provider.Pipeline{}, fmt.Errorf("parse pipeline %q: %w", displayPath, err)
	}

	return pl, nil
}

func buildJob(displayPath, name string, doc jobDocument, defaults defaultDocument) (provider.Job, []provider.Warning) {
	job := provider.Job{
		Name:         name,
		Stage:        doc.Stage,
		Image:        doc.Image.Name,
		Variables:    doc.Variables,
		BeforeScript: doc.BeforeScript,
		Script:       doc.Script,
		Only:         doc.Only,
		Except:       doc.Except,
		AllowFailure: doc.AllowFailure,
	}

	if job.Stage == "" {
		job.Stage = "test"
	}
	if job.Image == "" {
		job.Image = defaults.Image.Name
	}
	if len(job.BeforeScript) == 0 {
		job.BeforeScript = defaults.BeforeScript
	}
	if doc.Cache != nil {
		job.Cache = &provider.Cache{Key: doc.Cache.Key, Paths: doc.Cache.Paths}
	}

	var warnings []provider.Warning
	warn := func(msg string) {
		warnings = append(warnings, provider.Warning{Pipeline: displayPath, Job: name, Message: msg})
	}
	if doc.Services != nil {
		warn("services are not supported")
	}
	if doc.Artifacts != nil {
		warn("artifacts are not collected")
	}
	if doc.Needs != nil {
		warn("needs is ignored; stage order applies")
	}

	return job, warnings
}

type defaultDocument struct {
	Image        imageDocument `yaml:"image"`
	BeforeScript stringList    `yaml:"before_script"`
}

type jobDocument struct {
	Stage        string           `yaml:"stage"`
	Image        imageDocument    `yaml:"image"`
	Variables    variableMap      `yaml:"variables"`
	BeforeScript stringList       `yaml:"before_script"`
	Script       stringList       `yaml:"script"`
	Only         []string         `yaml:"only"`
	Except       []string         `yaml:"except"`
	AllowFailure bool             `yaml:"allow_failure"`
	Cache        *cacheDocument   `yaml:"cache"`
	Parallel     parallelDocument `yaml:"parallel"`
	Services     any              `yaml:"services"`
	Artifacts    any              `yaml:"artifacts"`
	Needs        any              `yaml:"needs"`
}

type cacheDocument struct {
	Key   string     `yaml:"key"`
	Paths stringList `yaml:"paths"`
}

// stringList accepts either a scalar or a sequence of scalars.
type stringList []string

func (s *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = stringList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(stringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected scalar list item", item.Line)
			}
			out = append(out, item.Value)
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

// imageDocument accepts `image: name` or `image: {name: ...}`.
type imageDocument struct {
	Name string `yaml:"name"`
}

func (i *imageDocument) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		i.Name = node.Value
		return nil
	}
	type plain imageDocument
	return node.Decode((*plain)(i))
}

// variableMap stringifies scalar values so unquoted versions like `3.8`
// survive decoding.
type variableMap map[string]string

func (v *variableMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: variables must be a mapping", node.Line)
	}
	out := make(variableMap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: variable %q must be a scalar", val.Line, key.Value)
		}
		out[key.Value] = val.Value
	}
	*v = out
	return nil
}
