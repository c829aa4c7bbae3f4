package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/tollgate/iox"
	"github.com/pithecene-io/tollgate/types"
)

// Stdin is the manifest path that reads from standard input.
const Stdin = "-"

// Manifest reads one path per line. Blank lines and lines starting with '#'
// are skipped; duplicates keep their first position.
//
// Each listed file's current content becomes the item's Diff. A listed path
// that no longer exists is reported as deleted with an empty Diff.
type Manifest struct {
	// Path is the manifest file, or "-" for Input.
	Path string
	// Root resolves relative entries. Empty means the current directory.
	Root string
	// Input is read when Path is "-" (default os.Stdin).
	Input io.Reader
	// MaxDiffBytes truncates each file's content when positive.
	MaxDiffBytes int
}

// Changes parses the manifest and loads each listed file.
func (m *Manifest) Changes(ctx context.Context) ([]types.ChangedFile, error) {
	paths, err := m.paths()
	if err != nil {
		return nil, err
	}

	files := make([]types.ChangedFile, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := m.load(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (m *Manifest) paths() ([]string, error) {
	var r io.Reader
	if m.Path == "" || m.Path == Stdin {
		r = m.Input
		if r == nil {
			r = os.Stdin
		}
	} else {
		f, err := os.Open(m.Path)
		if err != nil {
			return nil, fmt.Errorf("open manifest: %w", err)
		}
		defer iox.DiscardClose(f)
		r = f
	}
	return parseManifest(r)
}

func parseManifest(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = filepath.ToSlash(filepath.Clean(line))
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return out, nil
}

func (m *Manifest) load(p string) (types.ChangedFile, error) {
	full := filepath.FromSlash(p)
	if !filepath.IsAbs(full) && m.Root != "" {
		full = filepath.Join(m.Root, full)
	}

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return types.ChangedFile{OldPath: p, ChangeType: types.ChangeDeleted}, nil
	}
	if err != nil {
		return types.ChangedFile{}, fmt.Errorf("read %s: %w", p, err)
	}
	return types.ChangedFile{
		OldPath:    p,
		NewPath:    p,
		Diff:       iox.Truncate(string(data), m.MaxDiffBytes),
		ChangeType: types.ChangeModified,
	}, nil
}
