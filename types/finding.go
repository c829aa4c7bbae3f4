// Package types defines core domain types shared by tollgate pipelines.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strings"
)

// Severity ranks a finding. Ordering follows the review report: critical first.
type Severity string

// Severity constants.
const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

// ParseSeverity normalizes a severity label produced by an analyzer.
// Unknown labels map to SeveritySuggestion so a chatty analyzer cannot
// fail a whole file on vocabulary alone.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker", "error":
		return SeverityCritical
	case "major", "high", "warning":
		return SeverityMajor
	case "minor", "low", "medium":
		return SeverityMinor
	default:
		return SeveritySuggestion
	}
}

// Rank returns a sort key; lower is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityMinor:
		return 2
	default:
		return 3
	}
}

// Finding is one issue reported by an analyzer against a work item.
type Finding struct {
	Severity    Severity `json:"severity" yaml:"severity"`
	Category    string   `json:"category" yaml:"category"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	FilePath    string   `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	Line        *int     `json:"line,omitempty" yaml:"line,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	// Source names the producer (e.g. "ollama", "exec:sqlcheck").
	Source string `json:"source" yaml:"source"`
}

// String renders a compact one-line form used in CLI summaries.
func (f Finding) String() string {
	loc := f.FilePath
	if f.Line != nil {
		loc = fmt.Sprintf("%s:%d", f.FilePath, *f.Line)
	}
	if loc == "" {
		return fmt.Sprintf("[%s] %s", f.Severity, f.Title)
	}
	return fmt.Sprintf("[%s] %s: %s", f.Severity, loc, f.Title)
}
