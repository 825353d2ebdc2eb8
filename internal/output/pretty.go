package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bgricker/stagehand/internal/provider"
	"github.com/bgricker/stagehand/internal/report"
)

// PrettyRenderer renders execution results in a human-friendly format.
type PrettyRenderer struct {
	out io.Writer
}

// NewPretty creates a PrettyRenderer writing to the provided writer.
func NewPretty(out io.Writer) *PrettyRenderer {
	return &PrettyRenderer{out: out}
}

// RenderList renders a pipeline's stages and jobs in list mode.
func (p *PrettyRenderer) RenderList(pipelines []provider.Pipeline) error {
	for _, pl := range pipelines {
		if _, err := fmt.Fprintf(p.out, "Pipeline %s\n", decorateName(pl.Name, pl.Path)); err != nil {
			return err
		}
		for _, stage := range pl.Stages {
			jobs := pl.JobsByStage(stage.Name)
			if len(jobs) == 0 {
				continue
			}
			if _, err := fmt.Fprintf(p.out, "  Stage %s\n", stage.Name); err != nil {
				return err
			}
			for _, job := range jobs {
				label := job.Name
				if job.Image != "" {
					label = fmt.Sprintf("%s [%s]", job.Name, job.Image)
				}
				if _, err := fmt.Fprintf(p.out, "    • %s\n", label); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RenderResults shows execution outcomes per stage with a summary.
func (p *PrettyRenderer) RenderResults(stages []report.StageResult, summary report.Summary) error {
	for _, stage := range stages {
		if _, err := fmt.Fprintf(p.out, "Stage %s [%s]\n", stage.Name, stage.Status); err != nil {
			return err
		}
		for _, jr := range stage.Jobs {
			glyph := statusGlyph(jr.Status)
			if _, err := fmt.Fprintf(p.out, "  %s %s (%s)\n", glyph, jr.Job, formatDuration(jr.Duration)); err != nil {
				return err
			}
			if jr.Status == report.StatusFailed && jr.AllowedFailure {
				fmt.Fprintf(p.out, "    note: failure allowed\n")
			}
			if jr.Status == report.StatusFailed && jr.Stderr != "" {
				fmt.Fprintf(p.out, "    stderr: %s\n", indent(jr.Stderr, "    "))
			}
			if jr.Status == report.StatusSkipped && jr.Reason != "" {
				fmt.Fprintf(p.out, "    note: %s\n", jr.Reason)
			}
			if jr.DryRun && jr.Command != "" {
				fmt.Fprintf(p.out, "    command: %s\n", jr.Command)
			}
		}
	}

	_, err := fmt.Fprintf(p.out, "SUMMARY: %d succeeded, %d failed, %d skipped (%s) [%s]\n",
		summary.Succeeded, summary.Failed, summary.Skipped, formatDuration(summary.Duration), summary.Status)
	return err
}

func decorateName(name, path string) string {
	if name == "" || name == path {
		return path
	}
	return fmt.Sprintf("%s (%s)", name, path)
}

func statusGlyph(status report.Status) string {
	switch status {
	case report.StatusSuccess:
		return "✓"
	case report.StatusFailed:
		return "✗"
	case report.StatusSkipped:
		return "-"
	default:
		return "?"
	}
}

func indent(s, pad string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		if i == 0 {
			continue
		}
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Truncate(time.Millisecond).String()
}
