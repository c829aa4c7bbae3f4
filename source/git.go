package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/pithecene-io/tollgate/iox"
	"github.com/pithecene-io/tollgate/types"
)

// DefaultHead and DefaultBase are used when Git leaves the revisions empty.
const (
	DefaultHead = "HEAD"
	DefaultBase = "HEAD~1"
)

// Git diffs two revisions of a local repository.
type Git struct {
	// Repo is the repository path. Empty means the current directory.
	Repo string
	// Base is the older revision (default HEAD~1).
	Base string
	// Head is the newer revision (default HEAD).
	Head string
	// MaxDiffBytes truncates each file's diff when positive.
	MaxDiffBytes int
}

// Changes returns one ChangedFile per path that differs between Base and Head,
// in the order go-git reports them. Renames are detected.
func (g *Git) Changes(ctx context.Context) ([]types.ChangedFile, error) {
	repoPath := g.Repo
	if repoPath == "" {
		repoPath = "."
	}
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", repoPath, err)
	}

	baseTree, err := treeAt(repo, orDefault(g.Base, DefaultBase))
	if err != nil {
		return nil, err
	}
	headTree, err := treeAt(repo, orDefault(g.Head, DefaultHead))
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	files := make([]types.ChangedFile, 0, len(changes))
	for _, ch := range changes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := g.changedFile(ctx, ch)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (g *Git) changedFile(ctx context.Context, ch *object.Change) (types.ChangedFile, error) {
	action, err := ch.Action()
	if err != nil {
		return types.ChangedFile{}, fmt.Errorf("classify change: %w", err)
	}

	var oldPath, newPath string
	switch action {
	case merkletrie.Insert:
		newPath = ch.To.Name
	case merkletrie.Delete:
		oldPath = ch.From.Name
	default:
		oldPath, newPath = ch.From.Name, ch.To.Name
	}

	patch, err := ch.PatchContext(ctx)
	if err != nil {
		return types.ChangedFile{}, fmt.Errorf("patch %s: %w", orDefault(newPath, oldPath), err)
	}
	diff := iox.Truncate(patch.String(), g.MaxDiffBytes)

	return types.ChangedFile{
		OldPath:    oldPath,
		NewPath:    newPath,
		Diff:       diff,
		ChangeType: types.ClassifyChange(oldPath, newPath),
	}, nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("revision %q not found: %w", rev, err)
		}
		return nil, fmt.Errorf("resolve revision %q: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree for %s: %w", hash, err)
	}
	return tree, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
