package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pithecene-io/tollgate/types"
)

// ErrNoFindingsJSON is returned when analyzer output holds no JSON array.
var ErrNoFindingsJSON = errors.New("no findings JSON in analyzer output")

// rawFinding is the wire shape analyzers emit. Severity is free text and
// line may be a number or absent.
type rawFinding struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	FilePath    string `json:"file_path"`
	Line        *int   `json:"line"`
	Suggestion  string `json:"suggestion"`
}

// ParseFindings decodes a JSON array of findings from analyzer output.
//
// Accepted shapes: a bare array, an object with a "findings" array, or
// either embedded in surrounding text (model output often is). Empty
// output means no findings. Severities are normalized, FilePath defaults
// to file and Source is set to source.
func ParseFindings(out []byte, file, source string) ([]types.Finding, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return []types.Finding{}, nil
	}

	raws, err := decodeRaw(out)
	if err != nil {
		return nil, err
	}

	findings := make([]types.Finding, 0, len(raws))
	for _, r := range raws {
		if r.Title == "" && r.Description == "" {
			continue
		}
		f := types.Finding{
			Severity:    types.ParseSeverity(r.Severity),
			Category:    r.Category,
			Title:       r.Title,
			Description: r.Description,
			FilePath:    r.FilePath,
			Line:        r.Line,
			Suggestion:  r.Suggestion,
			Source:      source,
		}
		if f.FilePath == "" {
			f.FilePath = file
		}
		if f.Title == "" {
			f.Title = f.Description
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func decodeRaw(out []byte) ([]rawFinding, error) {
	var raws []rawFinding
	if err := json.Unmarshal(out, &raws); err == nil {
		return raws, nil
	}

	var wrapped struct {
		Findings []rawFinding `json:"findings"`
	}
	if err := json.Unmarshal(out, &wrapped); err == nil && wrapped.Findings != nil {
		return wrapped.Findings, nil
	}

	start := bytes.IndexByte(out, '[')
	end := bytes.LastIndexByte(out, ']')
	if start < 0 || end <= start {
		return nil, ErrNoFindingsJSON
	}
	if err := json.Unmarshal(out[start:end+1], &raws); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFindingsJSON, err)
	}
	return raws, nil
}
