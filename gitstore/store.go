// Package gitstore maintains one bare mirror per repository under a shared root
// and clones working copies that borrow objects from those mirrors.
//
// Mutating operations on a mirror (clone, fetch) run under a lock file next to
// the mirror. Readers never take the lock: git's object store is append-only and
// a mirror only appears at its final path once it is complete.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/filelock"
)

// stampFile lives inside each mirror and records the last successful refresh
const stampFile = "bubble-refreshed"

var mirrorRefspecs = []string{
	"+refs/heads/*:refs/heads/*",
	"+refs/tags/*:refs/tags/*",
	"+refs/pull/*/head:refs/pull/*/head",
}

// Mirror is a bare mirror of one repository
type Mirror struct {
	Owner         string
	Repo          string
	Path          string
	LastRefreshed time.Time
}

func (m *Mirror) OrgRepo() string {
	return m.Owner + "/" + m.Repo
}

// Options configures a Store
type Options struct {
	// Root is the directory holding <owner>/<repo>.git mirrors
	Root string
	// Host is the hosting service mirrors are cloned from
	Host string
	// Remote overrides how a repository URL is built; used for tests and local hosts
	Remote func(owner, repo string) string
	Runner Runner

	LockTimeout     time.Duration
	RefreshInterval time.Duration
	GitTimeout      time.Duration
}

// Store is the shared git object store
type Store struct {
	root            string
	host            string
	remote          func(owner, repo string) string
	runner          Runner
	locker          *filelock.Locker
	refreshInterval time.Duration
	gitTimeout      time.Duration
}

func NewStore(opts Options) *Store {
	runner := opts.Runner
	if runner == nil {
		runner = NewExecRunner()
	}
	host := strings.ToLower(opts.Host)
	if host == "" {
		host = "github.com"
	}
	remote := opts.Remote
	if remote == nil {
		remote = func(owner, repo string) string {
			return fmt.Sprintf("https://%s/%s/%s.git", host, owner, repo)
		}
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Minute
	}
	return &Store{
		root:            opts.Root,
		host:            host,
		remote:          remote,
		runner:          runner,
		locker:          filelock.NewLocker(lockTimeout),
		refreshInterval: opts.RefreshInterval,
		gitTimeout:      opts.GitTimeout,
	}
}

// Root returns the directory holding all mirrors
func (s *Store) Root() string {
	return s.root
}

// MirrorPath returns where the mirror for owner/repo lives
func (s *Store) MirrorPath(owner, repo string) string {
	return filepath.Join(s.root, owner, repo+".git")
}

// LockPath returns the lock file guarding the mirror for owner/repo
func (s *Store) LockPath(owner, repo string) string {
	return s.MirrorPath(owner, repo) + ".lock"
}

// RemoteURL returns the upstream URL for owner/repo
func (s *Store) RemoteURL(owner, repo string) string {
	return s.remote(owner, repo)
}

// HasMirror reports whether a complete mirror exists for owner/repo
func (s *Store) HasMirror(owner, repo string) bool {
	if validateOwnerRepo(owner, repo) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.MirrorPath(owner, repo), "HEAD"))
	return err == nil && !info.IsDir()
}

// EnsureOptions tunes EnsureMirror
type EnsureOptions struct {
	// NoClone refuses to create a missing mirror
	NoClone bool
	// ForceRefresh fetches even when the mirror is fresh
	ForceRefresh bool
}

// EnsureMirror returns a ready mirror for owner/repo, cloning it on first use and
// fetching when it is older than the refresh interval.
func (s *Store) EnsureMirror(ctx context.Context, owner, repo string, opts EnsureOptions) (*Mirror, error) {
	if err := validateOwnerRepo(owner, repo); err != nil {
		return nil, err
	}

	mirror := s.mirror(owner, repo)
	exists := s.HasMirror(owner, repo)
	if exists && !opts.ForceRefresh && s.fresh(mirror) {
		return mirror, nil
	}
	if !exists && opts.NoClone {
		return nil, fmt.Errorf("%s: %w", mirror.OrgRepo(), domain.ErrMirrorNotFound)
	}

	err := s.withLock(ctx, owner, repo, func() error {
		// Another process may have done the work while we waited
		mirror = s.mirror(owner, repo)
		if s.HasMirror(owner, repo) {
			if !opts.ForceRefresh && s.fresh(mirror) {
				return nil
			}
			return s.fetch(ctx, mirror)
		}
		return s.clone(ctx, mirror)
	})
	if err != nil {
		return nil, err
	}

	return s.mirror(owner, repo), nil
}

// EnsureRevision makes sure rev is present in the mirror, fetching under the lock if not
func (s *Store) EnsureRevision(ctx context.Context, mirror *Mirror, rev string) error {
	if !ValidCommit(rev) {
		return fmt.Errorf("invalid revision %q", rev)
	}
	if HasCommit(mirror.Path, rev) {
		return nil
	}

	return s.withLock(ctx, mirror.Owner, mirror.Repo, func() error {
		if HasCommit(mirror.Path, rev) {
			return nil
		}
		if err := s.fetch(ctx, mirror); err != nil {
			return err
		}
		if HasCommit(mirror.Path, rev) {
			return nil
		}
		// Unadvertised but reachable commits can still be fetched by hash
		if _, err := s.run(ctx, mirror.Path, "fetch", "--quiet", "origin", rev); err != nil {
			return fmt.Errorf("revision %s not found in %s: %w", rev, mirror.OrgRepo(), err)
		}
		if !HasCommit(mirror.Path, rev) {
			return fmt.Errorf("revision %s not found in %s", rev, mirror.OrgRepo())
		}
		return nil
	})
}

// TargetRef returns the mirror ref a pull request or branch target checks out.
// Other targets have none.
func TargetRef(kind domain.TargetKind, ref string) (string, bool) {
	switch kind {
	case domain.TargetKindPullRequest:
		return "refs/pull/" + ref + "/head", ValidPullNumber(ref)
	case domain.TargetKindBranch:
		return "refs/heads/" + ref, ref != "" && ValidRefName(ref)
	default:
		return "", false
	}
}

// FetchRef updates the pull request or branch ref of a target in the mirror,
// regardless of how fresh the mirror is. Heads move and new pull requests
// appear between refreshes. The ref is force-updated so a rewritten head wins.
func (s *Store) FetchRef(ctx context.Context, mirror *Mirror, kind domain.TargetKind, ref string) error {
	name, ok := TargetRef(kind, ref)
	if !ok {
		if kind == domain.TargetKindPullRequest || kind == domain.TargetKindBranch {
			return fmt.Errorf("invalid ref %q", ref)
		}
		return nil
	}

	return s.withLock(ctx, mirror.Owner, mirror.Repo, func() error {
		if _, err := s.run(ctx, mirror.Path, "fetch", "--quiet", "origin", "+"+name+":"+name); err != nil {
			slog.Error("Service operation failed",
				"layer", "gitstore",
				"operation", "fetch_ref",
				"repo", mirror.OrgRepo(),
				"ref", name,
				"error", err)
			return fmt.Errorf("failed to fetch %s for %s: %w", name, mirror.OrgRepo(), err)
		}
		return nil
	})
}

// List returns every complete mirror in the store, sorted by owner/repo
func (s *Store) List() ([]*Mirror, error) {
	owners, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror root: %w", err)
	}

	var mirrors []*Mirror
	for _, ownerEntry := range owners {
		if !ownerEntry.IsDir() || !ValidName(ownerEntry.Name()) {
			continue
		}
		repos, err := os.ReadDir(filepath.Join(s.root, ownerEntry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read mirrors of %s: %w", ownerEntry.Name(), err)
		}
		for _, repoEntry := range repos {
			name, ok := strings.CutSuffix(repoEntry.Name(), ".git")
			if !repoEntry.IsDir() || !ok || !s.HasMirror(ownerEntry.Name(), name) {
				continue
			}
			mirrors = append(mirrors, s.mirror(ownerEntry.Name(), name))
		}
	}

	sort.Slice(mirrors, func(i, j int) bool {
		return mirrors[i].OrgRepo() < mirrors[j].OrgRepo()
	})
	return mirrors, nil
}

// UpdateAll fetches every mirror. Failures are collected; one bad mirror does not stop the rest.
func (s *Store) UpdateAll(ctx context.Context) ([]*Mirror, error) {
	mirrors, err := s.List()
	if err != nil {
		return nil, err
	}

	var errs []error
	var updated []*Mirror
	for _, m := range mirrors {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.EnsureMirror(ctx, m.Owner, m.Repo, EnsureOptions{ForceRefresh: true}); err != nil {
			slog.Error("Service operation failed",
				"layer", "gitstore",
				"operation", "update_mirror",
				"repo", m.OrgRepo(),
				"error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.OrgRepo(), err))
			continue
		}
		updated = append(updated, s.mirror(m.Owner, m.Repo))
	}
	return updated, errors.Join(errs...)
}

func (s *Store) mirror(owner, repo string) *Mirror {
	m := &Mirror{Owner: owner, Repo: repo, Path: s.MirrorPath(owner, repo)}
	if info, err := os.Stat(filepath.Join(m.Path, stampFile)); err == nil {
		m.LastRefreshed = info.ModTime()
	}
	return m
}

func (s *Store) fresh(m *Mirror) bool {
	if m.LastRefreshed.IsZero() {
		return false
	}
	return time.Since(m.LastRefreshed) < s.refreshInterval
}

// withLock runs fn holding the mirror lock. The lock is released on every exit path.
func (s *Store) withLock(ctx context.Context, owner, repo string, fn func() error) error {
	if err := os.MkdirAll(filepath.Join(s.root, owner), 0o755); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	lockPath := s.LockPath(owner, repo)
	lock, err := s.locker.Acquire(ctx, lockPath)
	if err != nil {
		var timeout *filelock.TimeoutError
		if errors.As(err, &timeout) {
			return &domain.MirrorLockTimeoutError{
				Path:    lockPath,
				Holder:  timeout.Holder.String(),
				Timeout: timeout.Timeout,
			}
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Error("Failed to release mirror lock",
				"layer", "gitstore",
				"operation", "release_lock",
				"path", lockPath,
				"error", err)
		}
	}()

	return fn()
}

// clone creates the mirror in a temporary directory and renames it into place
func (s *Store) clone(ctx context.Context, m *Mirror) error {
	slog.Info("Creating mirror", "repo", m.OrgRepo(), "path", m.Path)

	tmp := filepath.Join(filepath.Dir(m.Path), fmt.Sprintf(".%s.tmp-%s", m.Repo, uuid.NewString()))
	defer func() { _ = os.RemoveAll(tmp) }()

	url := s.RemoteURL(m.Owner, m.Repo)
	if _, err := s.run(ctx, "", "clone", "--bare", "--quiet", "--", url, tmp); err != nil {
		slog.Error("Service operation failed",
			"layer", "gitstore",
			"operation", "clone_mirror",
			"repo", m.OrgRepo(),
			"error", err)
		return fmt.Errorf("failed to clone %s: %w", m.OrgRepo(), err)
	}

	for i, spec := range mirrorRefspecs {
		args := []string{"config", "--add", "remote.origin.fetch", spec}
		if i == 0 {
			args = []string{"config", "--replace-all", "remote.origin.fetch", spec}
		}
		if _, err := s.run(ctx, tmp, args...); err != nil {
			return fmt.Errorf("failed to configure mirror %s: %w", m.OrgRepo(), err)
		}
	}

	// Pull request heads are not part of a plain bare clone
	if _, err := s.run(ctx, tmp, "fetch", "--quiet", "--prune", "--tags", "origin"); err != nil {
		return fmt.Errorf("failed to fetch refs for %s: %w", m.OrgRepo(), err)
	}
	if err := touch(filepath.Join(tmp, stampFile)); err != nil {
		return err
	}

	if err := os.Rename(tmp, m.Path); err != nil {
		return fmt.Errorf("failed to move mirror into place: %w", err)
	}

	slog.Info("Mirror created", "repo", m.OrgRepo())
	return nil
}

func (s *Store) fetch(ctx context.Context, m *Mirror) error {
	slog.Debug("Refreshing mirror", "repo", m.OrgRepo())

	if _, err := s.run(ctx, m.Path, "fetch", "--quiet", "--prune", "--tags", "origin"); err != nil {
		slog.Error("Service operation failed",
			"layer", "gitstore",
			"operation", "fetch_mirror",
			"repo", m.OrgRepo(),
			"error", err)
		return fmt.Errorf("failed to fetch %s: %w", m.OrgRepo(), err)
	}
	return touch(filepath.Join(m.Path, stampFile))
}

func (s *Store) run(ctx context.Context, dir string, args ...string) (string, error) {
	if s.gitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gitTimeout)
		defer cancel()
	}
	return s.runner.Run(ctx, dir, args...)
}

func touch(path string) error {
	now := time.Now()
	if err := os.WriteFile(path, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Chtimes(path, now, now)
}

// HasCommit reports whether the repository at path contains commit rev
func HasCommit(path, rev string) bool {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return false
	}
	_, err = repo.CommitObject(*hash)
	return err == nil
}

// HasRef reports whether the repository at path has the named reference
func HasRef(path string, name plumbing.ReferenceName) bool {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false
	}
	_, err = repo.Reference(name, true)
	return err == nil
}
