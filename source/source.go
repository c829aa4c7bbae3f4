// Package source enumerates the changed files a pipeline analyzes.
package source

import (
	"context"
	"path"

	"github.com/pithecene-io/tollgate/types"
)

// ChangeSource produces the batch of changed files for one invocation.
type ChangeSource interface {
	Changes(ctx context.Context) ([]types.ChangedFile, error)
}

// Func adapts a plain function to ChangeSource.
type Func func(ctx context.Context) ([]types.ChangedFile, error)

// Changes calls f.
func (f Func) Changes(ctx context.Context) ([]types.ChangedFile, error) { return f(ctx) }

// Static is a fixed batch, used by tests and dry runs.
type Static []types.ChangedFile

// Changes returns a copy of the batch.
func (s Static) Changes(context.Context) ([]types.ChangedFile, error) {
	out := make([]types.ChangedFile, len(s))
	copy(out, s)
	return out, nil
}

// Filter keeps files whose path or base name matches any pattern.
// An empty pattern list keeps everything.
func Filter(files []types.ChangedFile, patterns []string) []types.ChangedFile {
	if len(patterns) == 0 {
		return files
	}
	out := files[:0:0]
	for _, f := range files {
		if matchAny(f.Path(), patterns) {
			out = append(out, f)
		}
	}
	return out
}

func matchAny(p string, patterns []string) bool {
	base := path.Base(p)
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
	}
	return false
}

// Filtered wraps a source with Filter.
type Filtered struct {
	Source   ChangeSource
	Patterns []string
}

// Changes returns the wrapped source's files that match Patterns.
func (f Filtered) Changes(ctx context.Context) ([]types.ChangedFile, error) {
	files, err := f.Source.Changes(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(files, f.Patterns), nil
}

var (
	_ ChangeSource = Func(nil)
	_ ChangeSource = Static(nil)
	_ ChangeSource = Filtered{}
	_ ChangeSource = (*Git)(nil)
	_ ChangeSource = (*Manifest)(nil)
)
