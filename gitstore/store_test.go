package gitstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/filelock"
	"github.com/oar-cd/bubble/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner wraps a Runner and records every invocation
type recordingRunner struct {
	inner Runner

	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{dir}, args...))
	r.mu.Unlock()
	if r.inner == nil {
		return "", nil
	}
	return r.inner.Run(ctx, dir, args...)
}

func (r *recordingRunner) count(verb string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if len(c) > 1 && c[1] == verb {
			n++
		}
	}
	return n
}

type fixture struct {
	upstreams string
	store     *Store
	runner    *recordingRunner
}

// newFixture creates a store whose remotes are local repositories under upstreams/<owner>/<repo>
func newFixture(t *testing.T, refresh time.Duration) *fixture {
	t.Helper()
	testutil.RequireGit(t)

	base := t.TempDir()
	f := &fixture{
		upstreams: filepath.Join(base, "upstream"),
		runner:    &recordingRunner{inner: NewExecRunner()},
	}
	f.store = NewStore(Options{
		Root: filepath.Join(base, "git"),
		Remote: func(owner, repo string) string {
			return filepath.Join(f.upstreams, owner, repo)
		},
		Runner:          f.runner,
		LockTimeout:     10 * time.Second,
		RefreshInterval: refresh,
	})
	return f
}

func (f *fixture) upstream(t *testing.T, owner, repo string, files []testutil.RepoFile) string {
	t.Helper()
	path := filepath.Join(f.upstreams, owner, repo)
	_, err := testutil.InitGitRepo(path, files)
	require.NoError(t, err)
	return path
}

func TestEnsureMirror_CreatesBareMirror(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.upstream(t, "leanprover-community", "batteries", []testutil.RepoFile{{Path: "README.md", Content: "hi"}})

	mirror, err := f.store.EnsureMirror(context.Background(), "leanprover-community", "batteries", EnsureOptions{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.store.Root(), "leanprover-community", "batteries.git"), mirror.Path)
	assert.FileExists(t, filepath.Join(mirror.Path, "HEAD"))
	assert.False(t, mirror.LastRefreshed.IsZero())
	assert.True(t, f.store.HasMirror("leanprover-community", "batteries"))
	assert.NoFileExists(t, f.store.LockPath("leanprover-community", "batteries"))

	fetchConfig := testutil.Git(t, mirror.Path, "config", "--get-all", "remote.origin.fetch")
	assert.Contains(t, fetchConfig, "+refs/heads/*:refs/heads/*")
	assert.Contains(t, fetchConfig, "+refs/tags/*:refs/tags/*")
	assert.Contains(t, fetchConfig, "+refs/pull/*/head:refs/pull/*/head")

	// No temporary directories are left behind
	entries, err := os.ReadDir(filepath.Dir(mirror.Path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover %s", e.Name())
	}
}

func TestEnsureMirror_FreshMirrorSkipsGit(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.upstream(t, "o", "r", nil)

	_, err := f.store.EnsureMirror(context.Background(), "o", "r", EnsureOptions{})
	require.NoError(t, err)
	callsAfterClone := len(f.runner.calls)

	_, err = f.store.EnsureMirror(context.Background(), "o", "r", EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, callsAfterClone, len(f.runner.calls))
}

func TestEnsureMirror_StaleMirrorFetchesIncrementally(t *testing.T) {
	f := newFixture(t, 0)
	up := f.upstream(t, "o", "r", []testutil.RepoFile{{Path: "a", Content: "1"}})

	mirror, err := f.store.EnsureMirror(context.Background(), "o", "r", EnsureOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, f.runner.count("clone"))

	testutil.Git(t, up, "tag", "v1.0.0")

	_, err = f.store.EnsureMirror(context.Background(), "o", "r", EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.runner.count("clone"), "refresh must not re-clone")
	assert.Contains(t, testutil.Git(t, mirror.Path, "tag"), "v1.0.0", "tags are always fetched")
}

func TestEnsureMirror_NoCloneRefusesMissingMirror(t *testing.T) {
	f := newFixture(t, time.Hour)

	_, err := f.store.EnsureMirror(context.Background(), "o", "missing", EnsureOptions{NoClone: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMirrorNotFound)
	assert.Empty(t, f.runner.calls)
}

func TestEnsureMirror_RejectsUnsafeNames(t *testing.T) {
	runner := &recordingRunner{}
	store := NewStore(Options{Root: t.TempDir(), Runner: runner})

	for _, tc := range [][2]string{{"..", "repo"}, {"owner", "../evil"}, {"-o", "repo"}, {"owner", "re po"}} {
		_, err := store.EnsureMirror(context.Background(), tc[0], tc[1], EnsureOptions{})
		assert.Error(t, err, "%v", tc)
	}
	assert.Empty(t, runner.calls)
}

func TestEnsureMirror_ConcurrentCallersShareOneClone(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.upstream(t, "o", "r", []testutil.RepoFile{{Path: "a", Content: "1"}})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.EnsureMirror(context.Background(), "o", "r", EnsureOptions{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.runner.count("clone"))
	testutil.Git(t, f.store.MirrorPath("o", "r"), "fsck", "--no-progress")
}

func TestEnsureMirror_LockTimeout(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.store.locker.Timeout = 30 * time.Millisecond
	f.store.locker.PollInterval = 5 * time.Millisecond
	f.upstream(t, "o", "r", nil)

	require.NoError(t, os.MkdirAll(filepath.Join(f.store.Root(), "o"), 0o755))
	holder := filelock.NewLocker(time.Second)
	lock, err := holder.Acquire(context.Background(), f.store.LockPath("o", "r"))
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	_, err = f.store.EnsureMirror(context.Background(), "o", "r", EnsureOptions{})
	var timeoutErr *domain.MirrorLockTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 0, f.runner.count("clone"))
}

func TestEnsureMirror_ReleasesLockOnFailure(t *testing.T) {
	f := newFixture(t, time.Hour)

	// No upstream exists, so the clone fails
	_, err := f.store.EnsureMirror(context.Background(), "o", "nope", EnsureOptions{})
	require.Error(t, err)
	assert.NoFileExists(t, f.store.LockPath("o", "nope"))
	assert.False(t, f.store.HasMirror("o", "nope"))
}

func TestEnsureRevision(t *testing.T) {
	f := newFixture(t, time.Hour)
	up := f.upstream(t, "o", "r", []testutil.RepoFile{{Path: "a", Content: "1"}})

	mirror, err := f.store.EnsureMirror(context.Background(), "o", "r", EnsureOptions{})
	require.NoError(t, err)

	// A commit made after the mirror was created is fetched on demand
	testutil.Git(t, up, "commit", "--allow-empty", "-m", "second")
	rev := strings.TrimSpace(testutil.Git(t, up, "rev-parse", "HEAD"))
	require.False(t, HasCommit(mirror.Path, rev))

	require.NoError(t, f.store.EnsureRevision(context.Background(), mirror, rev))
	assert.True(t, HasCommit(mirror.Path, rev))

	assert.Error(t, f.store.EnsureRevision(context.Background(), mirror, "--upload-pack=evil"))
}

func TestListAndUpdateAll(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.upstream(t, "b", "two", nil)
	f.upstream(t, "a", "one", nil)

	for _, or := range [][2]string{{"b", "two"}, {"a", "one"}} {
		_, err := f.store.EnsureMirror(context.Background(), or[0], or[1], EnsureOptions{})
		require.NoError(t, err)
	}

	mirrors, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, mirrors, 2)
	assert.Equal(t, "a/one", mirrors[0].OrgRepo())
	assert.Equal(t, "b/two", mirrors[1].OrgRepo())

	fetchesBefore := f.runner.count("fetch")
	updated, err := f.store.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, updated, 2)
	assert.Equal(t, fetchesBefore+2, f.runner.count("fetch"))
}

func TestList_EmptyRoot(t *testing.T) {
	store := NewStore(Options{Root: filepath.Join(t.TempDir(), "absent")})
	mirrors, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, mirrors)
}
