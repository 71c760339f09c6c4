package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"github.com/oar-cd/bubble/domain"
)

// CloneRequest describes a working copy to create from a mirror
type CloneRequest struct {
	Kind domain.TargetKind
	Ref  string
	// Dest is the final location of the working copy
	Dest string
	// LocalSource is a local checkout to fetch refs missing from the mirror
	LocalSource string
	// LocalReference forces Ref to be taken from LocalSource
	LocalReference bool
	// ExtraRefs are additional refs fetched from the mirror into the clone
	ExtraRefs []string
}

// CloneResult describes a working copy
type CloneResult struct {
	Path   string
	Commit string
	Branch string
}

// CloneFromMirror creates a working copy that borrows objects from the mirror,
// so only objects absent from the mirror come over the network. The copy is
// assembled in a temporary sibling of Dest and renamed into place. An existing
// Dest is reused, which makes retries after an interruption cheap.
func (s *Store) CloneFromMirror(ctx context.Context, mirror *Mirror, req CloneRequest) (*CloneResult, error) {
	if err := validateCloneRequest(req); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(req.Dest, ".git")); err == nil {
		slog.Debug("Reusing existing clone", "path", req.Dest)
		return s.describe(ctx, req.Dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to inspect %s: %w", req.Dest, err)
	}

	parent := filepath.Dir(req.Dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}
	tmp := filepath.Join(parent, fmt.Sprintf(".%s.tmp-%s", filepath.Base(req.Dest), uuid.NewString()))
	defer func() { _ = os.RemoveAll(tmp) }()

	url := s.RemoteURL(mirror.Owner, mirror.Repo)
	if _, err := s.run(ctx, "", "clone", "--quiet", "--reference", mirror.Path, "--", url, tmp); err != nil {
		slog.Error("Service operation failed",
			"layer", "gitstore",
			"operation", "clone_from_mirror",
			"repo", mirror.OrgRepo(),
			"dest", req.Dest,
			"error", err)
		return nil, fmt.Errorf("failed to clone %s: %w", mirror.OrgRepo(), err)
	}

	if err := s.checkout(ctx, mirror, tmp, req); err != nil {
		return nil, err
	}

	for _, ref := range req.ExtraRefs {
		if _, err := s.run(ctx, tmp, "fetch", "--quiet", mirror.Path, ref+":"+ref); err != nil {
			return nil, fmt.Errorf("failed to fetch %s from mirror: %w", ref, err)
		}
	}

	if err := os.Rename(tmp, req.Dest); err != nil {
		return nil, fmt.Errorf("failed to move clone into place: %w", err)
	}

	return s.describe(ctx, req.Dest)
}

func (s *Store) checkout(ctx context.Context, mirror *Mirror, dir string, req CloneRequest) error {
	switch {
	case req.LocalReference:
		return s.checkoutFrom(ctx, dir, req.LocalSource, "refs/heads/"+req.Ref, req.Ref)

	case req.Kind == domain.TargetKindPullRequest:
		return s.checkoutFrom(ctx, dir, mirror.Path, "refs/pull/"+req.Ref+"/head", "pr-"+req.Ref)

	case req.Kind == domain.TargetKindBranch:
		if HasRef(mirror.Path, plumbing.NewBranchReferenceName(req.Ref)) {
			_, err := s.run(ctx, dir, "checkout", "--quiet", "-B", req.Ref, "origin/"+req.Ref)
			if err != nil {
				return fmt.Errorf("failed to check out %s: %w", req.Ref, err)
			}
			return nil
		}
		if req.LocalSource == "" {
			return fmt.Errorf("branch %s not found in %s", req.Ref, mirror.OrgRepo())
		}
		// An unpushed branch only exists in the caller's checkout
		return s.checkoutFrom(ctx, dir, req.LocalSource, "refs/heads/"+req.Ref, req.Ref)

	case req.Kind == domain.TargetKindCommit:
		// The clone sees mirror objects through alternates, so ask git itself
		if _, err := s.run(ctx, dir, "cat-file", "-e", req.Ref+"^{commit}"); err != nil {
			if _, err := s.run(ctx, dir, "fetch", "--quiet", mirror.Path, req.Ref); err != nil {
				return fmt.Errorf("failed to fetch %s from mirror: %w", req.Ref, err)
			}
		}
		if _, err := s.run(ctx, dir, "checkout", "--quiet", "--detach", req.Ref); err != nil {
			return fmt.Errorf("failed to check out %s: %w", req.Ref, err)
		}
		return nil

	default:
		if req.Ref == "" {
			return nil
		}
		// Local default-branch targets name the branch explicitly
		_, err := s.run(ctx, dir, "checkout", "--quiet", req.Ref)
		if err != nil {
			return fmt.Errorf("failed to check out %s: %w", req.Ref, err)
		}
		return nil
	}
}

// checkoutFrom fetches ref from source and checks it out as branch
func (s *Store) checkoutFrom(ctx context.Context, dir, source, ref, branch string) error {
	if source == "" {
		return fmt.Errorf("no source to fetch %s from", ref)
	}
	if _, err := s.run(ctx, dir, "fetch", "--quiet", source, ref); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	if _, err := s.run(ctx, dir, "checkout", "--quiet", "-B", branch, "FETCH_HEAD"); err != nil {
		return fmt.Errorf("failed to check out %s: %w", branch, err)
	}
	return nil
}

func (s *Store) describe(ctx context.Context, dir string) (*CloneResult, error) {
	commit, err := s.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD of %s: %w", dir, err)
	}
	// Detached heads have no branch
	branch, _ := s.run(ctx, dir, "symbolic-ref", "--quiet", "--short", "HEAD")
	return &CloneResult{
		Path:   dir,
		Commit: strings.TrimSpace(commit),
		Branch: strings.TrimSpace(branch),
	}, nil
}

func validateCloneRequest(req CloneRequest) error {
	if req.Dest == "" {
		return fmt.Errorf("clone destination is required")
	}
	if req.LocalReference && req.LocalSource == "" {
		return fmt.Errorf("local reference clone requires a local source")
	}
	switch req.Kind {
	case domain.TargetKindPullRequest:
		if !ValidPullNumber(req.Ref) {
			return fmt.Errorf("invalid pull request number %q", req.Ref)
		}
	case domain.TargetKindCommit:
		if !ValidCommit(req.Ref) {
			return fmt.Errorf("invalid commit %q", req.Ref)
		}
	default:
		if req.Ref != "" && !ValidRefName(req.Ref) {
			return fmt.Errorf("invalid ref %q", req.Ref)
		}
	}
	for _, ref := range req.ExtraRefs {
		if !strings.HasPrefix(ref, "refs/") || !ValidRefName(ref) {
			return fmt.Errorf("invalid extra ref %q", ref)
		}
	}
	return nil
}
