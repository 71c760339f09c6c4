// Package testutil provides git repository fixtures for tests
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type RepoFile struct {
	Path    string
	Content string
}

var signature = object.Signature{
	Name:  "John Doe",
	Email: "john@doe.org",
}

// InitGitRepo creates a repository on branch main with one commit holding files
func InitGitRepo(path string, files []RepoFile) (*git.Repository, error) {
	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize git repository: %w", err)
	}

	if _, err := CommitFiles(repo, "Initial commit", files); err != nil {
		return nil, err
	}
	return repo, nil
}

// CommitFiles writes files into the worktree and commits them
func CommitFiles(repo *git.Repository, message string, files []RepoFile) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := AddRepoFiles(worktree, files); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to add files to git repository: %w", err)
	}

	sig := signature
	sig.When = time.Now()
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: &sig, AllowEmptyCommits: true})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to commit changes: %w", err)
	}
	return hash, nil
}

func AddRepoFiles(repoWorktree *git.Worktree, files []RepoFile) error {
	repoDir := repoWorktree.Filesystem.Root()

	for _, file := range files {
		filePath := filepath.Join(repoDir, file.Path)
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", file.Path, err)
		}
		if err := os.WriteFile(filePath, []byte(file.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write file %s: %w", file.Path, err)
		}
		if _, err := repoWorktree.Add(file.Path); err != nil {
			return fmt.Errorf("failed to add file %s to git: %w", file.Path, err)
		}
	}

	return nil
}

// CheckoutBranch creates (if needed) and switches to branch
func CheckoutBranch(repo *git.Repository, branch string, create bool) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	return worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	})
}

// SetRemote points the origin remote at url
func SetRemote(repo *git.Repository, url string) error {
	_ = repo.DeleteRemote("origin")
	_, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	return err
}

// SetRemoteRef records a remote-tracking ref as if it had been fetched
func SetRemoteRef(repo *git.Repository, branch string, hash plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("origin", branch), hash)
	return repo.Storer.SetReference(ref)
}

// RequireGit skips the test when the git binary is unavailable
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// Git runs the git binary in dir and returns its combined output
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=John Doe", "GIT_AUTHOR_EMAIL=john@doe.org",
		"GIT_COMMITTER_NAME=John Doe", "GIT_COMMITTER_EMAIL=john@doe.org",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v in %s failed: %v\n%s", args, dir, err, out)
	}
	return string(out)
}
