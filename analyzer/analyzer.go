// Package analyzer defines per-file analyzers that pipelines hand to the pool.
package analyzer

import (
	"context"

	"github.com/pithecene-io/tollgate/pool"
	"github.com/pithecene-io/tollgate/types"
)

// Analyzer inspects one changed file and returns its findings.
//
// Implementations must be safe for concurrent use: the pool calls Analyze
// from several goroutines at once.
type Analyzer interface {
	// Name identifies the analyzer in findings and metrics labels.
	Name() string
	// Analyze examines f. index is zero-based, total is the batch size.
	Analyze(ctx context.Context, f types.ChangedFile, index, total int) ([]types.Finding, error)
}

// Func adapts an Analyzer to the pool's analyze callback.
func Func(a Analyzer) pool.AnalyzeFunc[types.ChangedFile] {
	return a.Analyze
}

// Key is the pool key for changed files.
func Key(f types.ChangedFile) string { return f.Path() }

// Static returns the same findings for every file. With no findings it
// stands in for a real analyzer in dry runs.
type Static struct {
	Label    string
	Findings []types.Finding
}

// Name returns the label, or "static".
func (s Static) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

// Analyze returns a copy of Findings attributed to f.
func (s Static) Analyze(_ context.Context, f types.ChangedFile, _, _ int) ([]types.Finding, error) {
	out := make([]types.Finding, len(s.Findings))
	for i, fd := range s.Findings {
		fd.FilePath = f.Path()
		fd.Source = s.Name()
		out[i] = fd
	}
	return out, nil
}

var _ Analyzer = Static{}
