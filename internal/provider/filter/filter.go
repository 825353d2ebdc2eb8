package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bgricker/stagehand/internal/provider"
)

// Pattern represents a compiled filter condition supporting substring and
// /regex/ matching.
type Pattern struct {
	raw   string
	regex *regexp.Regexp
	lower string
}

// Compile transforms raw pattern strings into Pattern values.
func Compile(patterns []string) ([]Pattern, error) {
	result := make([]Pattern, 0, len(patterns))
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") && len(raw) >= 2 {
			expr := raw[1 : len(raw)-1]
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("compile regexp %q: %w", raw, err)
			}
			result = append(result, Pattern{raw: raw, regex: re})
			continue
		}
		result = append(result, Pattern{raw: raw, lower: strings.ToLower(raw)})
	}
	return result, nil
}

// Match reports whether the pattern matches the supplied string.
func (p Pattern) Match(s string) bool {
	if s == "" {
		return false
	}
	if p.regex != nil {
		return p.regex.MatchString(s)
	}
	return strings.Contains(strings.ToLower(s), p.lower)
}

// FilterPipeline applies stage and job filters, returning a copy whose Jobs
// slice holds only matches. Stage declarations are preserved so ordering
// semantics are unchanged.
func FilterPipeline(p provider.Pipeline, stagePatterns, jobPatterns []Pattern) provider.Pipeline {
	if len(stagePatterns) == 0 && len(jobPatterns) == 0 {
		return p
	}

	filtered := p
	filtered.Jobs = make([]provider.Job, 0, len(p.Jobs))
	for _, job := range p.Jobs {
		if len(stagePatterns) > 0 && !matchesAny(stagePatterns, job.Stage) {
			continue
		}
		if len(jobPatterns) > 0 && !matchesAny(jobPatterns, job.Name) {
			continue
		}
		filtered.Jobs = append(filtered.Jobs, job)
	}
	return filtered
}

func matchesAny(patterns []Pattern, s string) bool {
	for _, pattern := range patterns {
		if pattern.Match(s) {
			return true
		}
	}
	return false
}
