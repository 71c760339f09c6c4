package gitstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/oar-cd/bubble/domain"
)

// ErrFileNotFound is returned by ReadFileAt when the file does not exist at the revision
var ErrFileNotFound = errors.New("file not found at revision")

// Revision returns the revision expression that names a target inside a mirror
func Revision(t domain.Target) string {
	switch t.Kind {
	case domain.TargetKindPullRequest:
		return "refs/pull/" + t.Ref + "/head"
	case domain.TargetKindBranch:
		return "refs/heads/" + t.Ref
	case domain.TargetKindCommit:
		return t.Ref
	default:
		if t.Ref != "" {
			return "refs/heads/" + t.Ref
		}
		return "HEAD"
	}
}

// ReadFileAt reads name from the tree of rev in the repository at repoPath.
// The repository may be bare or a working copy.
func ReadFileAt(repoPath, rev, name string) ([]byte, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", repoPath, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}

	file, err := commit.File(name)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", name, rev, err)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", name, rev, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
