package mocks

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/gitstore"
)

// MockGitStore implements lifecycle.GitStore for testing.
// Unset functions succeed: mirrors live under RootDir and clones create Dest/.git.
type MockGitStore struct {
	RootDir                 string
	EnsureMirrorFunc        func(ctx context.Context, owner, repo string, opts gitstore.EnsureOptions) (*gitstore.Mirror, error)
	EnsureRevisionFunc      func(ctx context.Context, mirror *gitstore.Mirror, rev string) error
	FetchRefFunc            func(ctx context.Context, mirror *gitstore.Mirror, kind domain.TargetKind, ref string) error
	CloneFromMirrorFunc     func(ctx context.Context, mirror *gitstore.Mirror, req gitstore.CloneRequest) (*gitstore.CloneResult, error)
	PrepareDependenciesFunc func(ctx context.Context, m *gitstore.Manifest, destDir string) ([]*gitstore.CloneResult, error)

	Clones    []gitstore.CloneRequest
	FetchRefs []string
}

func (m *MockGitStore) Root() string {
	return m.RootDir
}

func (m *MockGitStore) EnsureMirror(ctx context.Context, owner, repo string, opts gitstore.EnsureOptions) (*gitstore.Mirror, error) {
	if m.EnsureMirrorFunc != nil {
		return m.EnsureMirrorFunc(ctx, owner, repo, opts)
	}
	return &gitstore.Mirror{
		Owner: owner,
		Repo:  repo,
		Path:  filepath.Join(m.RootDir, owner, repo+".git"),
	}, nil
}

func (m *MockGitStore) EnsureRevision(ctx context.Context, mirror *gitstore.Mirror, rev string) error {
	if m.EnsureRevisionFunc != nil {
		return m.EnsureRevisionFunc(ctx, mirror, rev)
	}
	return nil
}

func (m *MockGitStore) FetchRef(ctx context.Context, mirror *gitstore.Mirror, kind domain.TargetKind, ref string) error {
	if name, ok := gitstore.TargetRef(kind, ref); ok {
		m.FetchRefs = append(m.FetchRefs, name)
	}
	if m.FetchRefFunc != nil {
		return m.FetchRefFunc(ctx, mirror, kind, ref)
	}
	return nil
}

func (m *MockGitStore) CloneFromMirror(ctx context.Context, mirror *gitstore.Mirror, req gitstore.CloneRequest) (*gitstore.CloneResult, error) {
	m.Clones = append(m.Clones, req)
	if m.CloneFromMirrorFunc != nil {
		return m.CloneFromMirrorFunc(ctx, mirror, req)
	}
	if err := os.MkdirAll(filepath.Join(req.Dest, ".git"), 0o755); err != nil {
		return nil, err
	}
	return &gitstore.CloneResult{
		Path:   req.Dest,
		Commit: "0123456789abcdef0123456789abcdef01234567",
		Branch: "main",
	}, nil
}

func (m *MockGitStore) PrepareDependencies(ctx context.Context, manifest *gitstore.Manifest, destDir string) ([]*gitstore.CloneResult, error) {
	if m.PrepareDependenciesFunc != nil {
		return m.PrepareDependenciesFunc(ctx, manifest, destDir)
	}
	return nil, nil
}
