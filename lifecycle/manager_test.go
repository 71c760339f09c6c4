package lifecycle

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
	"github.com/oar-cd/bubble/gitstore"
	"github.com/oar-cd/bubble/hooks"
	"github.com/oar-cd/bubble/registry"
	"github.com/oar-cd/bubble/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var prTarget = domain.Target{
	Owner: "leanprover-community",
	Repo:  "batteries",
	Kind:  domain.TargetKindPullRequest,
	Ref:   "42",
}

type testEnv struct {
	manager  *Manager
	runtime  *mocks.FakeRuntime
	git      *mocks.MockGitStore
	registry *registry.Registry
	dataDir  string
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	env := &testEnv{
		runtime:  mocks.NewFakeRuntime(),
		git:      &mocks.MockGitStore{RootDir: filepath.Join(dataDir, "git")},
		registry: registry.New(filepath.Join(dataDir, "registry.json"), "", 5*time.Second),
		dataDir:  dataDir,
	}
	o := Options{
		Registry:     env.registry,
		Git:          env.git,
		Runtime:      env.runtime,
		Hooks:        []hooks.Hook{},
		WorkspaceDir: filepath.Join(dataDir, "bubbles"),
		SharedDir:    filepath.Join(dataDir, "shared"),
		DefaultImage: "base",
	}
	for _, fn := range opts {
		fn(&o)
	}
	env.manager = NewManager(o)
	return env
}

func TestNext(t *testing.T) {
	tests := []struct {
		from   domain.BubbleState
		action Action
		want   domain.BubbleState
		ok     bool
	}{
		{domain.BubbleStateCreated, ActionStart, domain.BubbleStateRunning, true},
		{domain.BubbleStateRunning, ActionPause, domain.BubbleStatePaused, true},
		{domain.BubbleStatePaused, ActionResume, domain.BubbleStateRunning, true},
		{domain.BubbleStateRunning, ActionArchive, domain.BubbleStateArchived, true},
		{domain.BubbleStatePaused, ActionArchive, domain.BubbleStateArchived, true},
		{domain.BubbleStateArchived, ActionReconstitute, domain.BubbleStateRunning, true},
		{domain.BubbleStateCreated, ActionDestroy, domain.BubbleStateDestroyed, true},
		{domain.BubbleStateRunning, ActionDestroy, domain.BubbleStateDestroyed, true},
		{domain.BubbleStatePaused, ActionDestroy, domain.BubbleStateDestroyed, true},
		{domain.BubbleStateArchived, ActionDestroy, domain.BubbleStateDestroyed, true},

		{domain.BubbleStateRunning, ActionStart, domain.BubbleStateRunning, false},
		{domain.BubbleStatePaused, ActionPause, domain.BubbleStatePaused, false},
		{domain.BubbleStateRunning, ActionResume, domain.BubbleStateRunning, false},
		{domain.BubbleStateCreated, ActionArchive, domain.BubbleStateCreated, false},
		{domain.BubbleStateArchived, ActionArchive, domain.BubbleStateArchived, false},
		{domain.BubbleStateRunning, ActionReconstitute, domain.BubbleStateRunning, false},
		{domain.BubbleStateDestroyed, ActionDestroy, domain.BubbleStateDestroyed, false},
		{domain.BubbleStateDestroyed, ActionStart, domain.BubbleStateDestroyed, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.action), func(t *testing.T) {
			got, ok := Next(tt.from, tt.action)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestOpen_ProvisionsNewBubble(t *testing.T) {
	env := newTestEnv(t)

	b, err := env.manager.Open(context.Background(), prTarget, OpenOptions{})
	require.NoError(t, err)

	assert.Equal(t, "batteries-pr-42", b.Name)
	assert.Equal(t, domain.BubbleStateRunning, b.State)
	assert.Equal(t, "base", b.Image)
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", b.Commit)
	assert.Zero(t, b.ProvisionPID)
	assert.Empty(t, b.ProvisionHost)

	workspace := filepath.Join(env.dataDir, "bubbles", "batteries-pr-42")
	require.Len(t, env.git.Clones, 1)
	assert.Equal(t, gitstore.CloneRequest{
		Kind: domain.TargetKindPullRequest,
		Ref:  "42",
		Dest: filepath.Join(workspace, "batteries"),
	}, env.git.Clones[0])

	c, ok := env.runtime.Container("batteries-pr-42")
	require.True(t, ok)
	assert.Equal(t, domain.ContainerStatusRunning, c.Status)
	assert.Equal(t, "/home/user/batteries", c.Spec.WorkDir)
	assert.Equal(t, []domain.Mount{
		{Source: workspace, Target: domain.ProjectRoot},
		{Source: env.git.RootDir, Target: env.git.RootDir, ReadOnly: true},
	}, c.Spec.Mounts)
	assert.Equal(t, "batteries-pr-42", c.Spec.Labels[LabelName])
	assert.Equal(t, "leanprover-community/batteries/pull/42", c.Spec.Env["BUBBLE_TARGET"])

	stored, err := env.registry.Lookup("batteries-pr-42")
	require.NoError(t, err)
	assert.Equal(t, domain.BubbleStateRunning, stored.State)
}

func TestOpen_NoCloneIsPassedToMirror(t *testing.T) {
	env := newTestEnv(t)
	env.git.EnsureMirrorFunc = func(ctx context.Context, owner, repo string, opts gitstore.EnsureOptions) (*gitstore.Mirror, error) {
		assert.True(t, opts.NoClone)
		return nil, domain.ErrMirrorNotFound
	}

	_, err := env.manager.Open(context.Background(), prTarget, OpenOptions{NoClone: true})
	assert.ErrorIs(t, err, domain.ErrMirrorNotFound)
	assert.Zero(t, env.runtime.Creates)
}

func TestOpen_CommitTargetEnsuresRevision(t *testing.T) {
	env := newTestEnv(t)
	var revs []string
	env.git.EnsureRevisionFunc = func(ctx context.Context, mirror *gitstore.Mirror, rev string) error {
		revs = append(revs, rev)
		return nil
	}

	target := domain.Target{Owner: "leanprover", Repo: "lean4", Kind: domain.TargetKindCommit, Ref: "abcdef012345"}
	b, err := env.manager.Open(context.Background(), target, OpenOptions{})
	require.NoError(t, err)
	assert.Equal(t, "lean4-commit-abcdef012345", b.Name)
	assert.Equal(t, []string{"abcdef012345"}, revs)
}

func TestOpen_FetchesTargetRefBeforeHooks(t *testing.T) {
	tests := []struct {
		name      string
		target    domain.Target
		fetchErr  error
		wantRefs  []string
		wantError bool
	}{
		{name: "pull request", target: prTarget, wantRefs: []string{"refs/pull/42/head"}},
		{
			name:     "branch",
			target:   domain.Target{Owner: "leanprover", Repo: "lean4", Kind: domain.TargetKindBranch, Ref: "topic"},
			wantRefs: []string{"refs/heads/topic"},
		},
		{
			name:      "missing pull request",
			target:    prTarget,
			fetchErr:  errors.New("couldn't find remote ref"),
			wantRefs:  []string{"refs/pull/42/head"},
			wantError: true,
		},
		{
			name:     "unpushed local branch",
			target:   domain.Target{Owner: "leanprover", Repo: "lean4", Kind: domain.TargetKindBranch, Ref: "wip", LocalPath: "/src/lean4"},
			fetchErr: errors.New("couldn't find remote ref"),
			wantRefs: []string{"refs/heads/wip"},
		},
		{
			name:   "local reference skips the mirror",
			target: domain.Target{Owner: "leanprover", Repo: "lean4", Kind: domain.TargetKindBranch, Ref: "wip", LocalPath: "/src/lean4", LocalReference: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.git.FetchRefFunc = func(ctx context.Context, mirror *gitstore.Mirror, kind domain.TargetKind, ref string) error {
				assert.Empty(t, env.git.Clones, "ref is fetched before cloning")
				return tt.fetchErr
			}

			_, err := env.manager.Open(context.Background(), tt.target, OpenOptions{})
			if tt.wantError {
				require.Error(t, err)
				assert.Empty(t, env.git.Clones)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantRefs, env.git.FetchRefs)
		})
	}
}

func TestOpen_ReusesExistingBubble(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first, err := env.manager.Open(ctx, prTarget, OpenOptions{})
	require.NoError(t, err)

	t.Run("running is attached", func(t *testing.T) {
		again, err := env.manager.Open(ctx, prTarget, OpenOptions{})
		require.NoError(t, err)
		assert.Equal(t, first.Name, again.Name)
		assert.Equal(t, 1, env.runtime.Creates)
	})

	t.Run("paused is resumed", func(t *testing.T) {
		_, err := env.manager.Pause(ctx, first.Name)
		require.NoError(t, err)

		again, err := env.manager.Open(ctx, prTarget, OpenOptions{})
		require.NoError(t, err)
		assert.Equal(t, domain.BubbleStateRunning, again.State)
		c, _ := env.runtime.Container(first.Name)
		assert.Equal(t, domain.ContainerStatusRunning, c.Status)
		assert.Equal(t, 1, env.runtime.Creates)
	})

	t.Run("archived is reconstituted", func(t *testing.T) {
		_, err := env.manager.Archive(ctx, first.Name, true)
		require.NoError(t, err)

		again, err := env.manager.Open(ctx, prTarget, OpenOptions{})
		require.NoError(t, err)
		assert.Equal(t, first.Name, again.Name)
		assert.Equal(t, domain.BubbleStateRunning, again.State)
		assert.Nil(t, again.Archive)
		assert.Equal(t, 2, env.runtime.Creates)
	})
}

func TestReserve_ConcurrentOpensAgreeOnOneBubble(t *testing.T) {
	env := newTestEnv(t)

	const workers = 6
	results := make([]*Reservation, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.manager.Reserve(context.Background(), prTarget)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	provisioners := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, "batteries-pr-42", res.Bubble.Name)
		if res.Step == StepProvision {
			provisioners++
		} else {
			assert.Equal(t, StepWait, res.Step)
		}
	}
	assert.Equal(t, 1, provisioners)

	bubbles, err := env.registry.List(true)
	require.NoError(t, err)
	assert.Len(t, bubbles, 1)
}

func TestReserve_CreatedClaims(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		host     func(m *Manager) string
		alive    bool
		wantStep Step
	}{
		{name: "live provisioner on this host", host: func(m *Manager) string { return m.hostname }, alive: true, wantStep: StepWait},
		{name: "dead provisioner is taken over", host: func(m *Manager) string { return m.hostname }, alive: false, wantStep: StepProvision},
		{name: "provisioner on another host", host: func(*Manager) string { return "elsewhere" }, alive: false, wantStep: StepWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.manager.alive = func(int) bool { return tt.alive }
			require.NoError(t, env.registry.Persist(ctx, &domain.Bubble{
				Name:          "batteries-pr-42",
				Target:        prTarget,
				State:         domain.BubbleStateCreated,
				ProvisionPID:  424242,
				ProvisionHost: tt.host(env.manager),
			}))

			res, err := env.manager.Reserve(ctx, prTarget)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStep, res.Step)
			if tt.wantStep == StepProvision {
				assert.Equal(t, os.Getpid(), res.Bubble.ProvisionPID)
			} else {
				assert.Equal(t, 424242, res.Bubble.ProvisionPID)
			}
		})
	}
}

func TestProvision_RetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.runtime.CreateErr = errors.New("daemon unavailable")

	_, err := env.manager.Open(ctx, prTarget, OpenOptions{})
	require.Error(t, err)

	b, err := env.registry.Lookup("batteries-pr-42")
	require.NoError(t, err)
	assert.Equal(t, domain.BubbleStateCreated, b.State)
	assert.Zero(t, b.ProvisionPID, "claim is released")

	env.runtime.CreateErr = nil
	b, err = env.manager.Open(ctx, prTarget, OpenOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.BubbleStateRunning, b.State)
	assert.Equal(t, 1, env.runtime.Creates)
}

func TestProvision_InvalidManifestStopsBeforeContainer(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Hooks = []hooks.Hook{fakeHook{plan: &hooks.Plan{
			Hook:          "fake",
			DependencyDir: ".lake/packages",
			Manifest: &gitstore.Manifest{Dependencies: []gitstore.Dependency{
				{Name: "../evil", Owner: "o", Repo: "r", Rev: strings.Repeat("a", 40)},
			}},
		}}}
	})
	env.git.PrepareDependenciesFunc = func(ctx context.Context, m *gitstore.Manifest, destDir string) ([]*gitstore.CloneResult, error) {
		return nil, m.Validate()
	}

	_, err := env.manager.Open(context.Background(), prTarget, OpenOptions{})
	var invalid *domain.InvalidManifestEntryError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "name", invalid.Field)
	assert.Zero(t, env.runtime.Creates)
}

type fakeHook struct {
	plan *hooks.Plan
}

func (h fakeHook) Name() string { return "fake" }

func (h fakeHook) Detect(src hooks.Source) (*hooks.Plan, bool, error) {
	return h.plan, h.plan != nil, nil
}

func TestProvision_AppliesHookPlan(t *testing.T) {
	plan := &hooks.Plan{
		Hook:           "fake",
		Image:          "lean-v4.16.0",
		Toolchain:      "leanprover/lean4:v4.16.0",
		NetworkDomains: []string{"releases.lean-lang.org", "reservoir.lean-lang.org"},
		SharedMounts: []hooks.SharedMount{
			{HostDir: "mathlib-cache", ContainerPath: "/shared/mathlib-cache", EnvVar: "MATHLIB_CACHE_DIR"},
		},
		Manifest: &gitstore.Manifest{Dependencies: []gitstore.Dependency{
			{Name: "mathlib", Owner: "leanprover-community", Repo: "mathlib4", Rev: strings.Repeat("b", 40)},
		}},
		DependencyDir: ".lake/packages",
		PostClone:     [][]string{{"su", "-", "user", "-c", "lake build"}},
	}
	env := newTestEnv(t, func(o *Options) { o.Hooks = []hooks.Hook{fakeHook{plan: plan}} })

	var depDir string
	env.git.PrepareDependenciesFunc = func(ctx context.Context, m *gitstore.Manifest, destDir string) ([]*gitstore.CloneResult, error) {
		depDir = destDir
		return nil, nil
	}

	b, err := env.manager.Open(context.Background(), prTarget, OpenOptions{})
	require.NoError(t, err)

	assert.Equal(t, "lean-v4.16.0", b.Image)
	assert.Equal(t, "fake", b.Hook)
	assert.Equal(t, "leanprover/lean4:v4.16.0", b.Toolchain)
	assert.Equal(t, plan.NetworkDomains, b.NetworkDomains)
	assert.Equal(t, filepath.Join(env.dataDir, "bubbles", b.Name, "batteries", ".lake", "packages"), depDir)

	c, ok := env.runtime.Container(b.Name)
	require.True(t, ok)
	sharedHost := filepath.Join(env.dataDir, "shared", "mathlib-cache")
	assert.Contains(t, c.Spec.Mounts, domain.Mount{Source: sharedHost, Target: "/shared/mathlib-cache"})
	assert.DirExists(t, sharedHost)
	assert.Equal(t, "/shared/mathlib-cache", c.Spec.Env["MATHLIB_CACHE_DIR"])
	assert.Equal(t, "releases.lean-lang.org,reservoir.lean-lang.org", c.Spec.Labels[LabelNetworkDomains])

	assert.Contains(t, env.runtime.ExecsFor(b.Name), []string{"su", "-", "user", "-c", "lake build"})
}

func TestProvision_IssuesRelayToken(t *testing.T) {
	tokens := &mocks.MockTokenIssuer{}
	tokens.On("Issue", mock.Anything, "batteries-pr-42").Return("sealed'; rm -rf /", nil)
	tokens.On("Revoke", mock.Anything, "batteries-pr-42").Return(nil)

	socketDir := t.TempDir()
	socket := filepath.Join(socketDir, "relay.sock")
	require.NoError(t, os.WriteFile(socket, nil, 0o600))

	env := newTestEnv(t, func(o *Options) {
		o.Tokens = tokens
		o.RelaySocketPath = socket
	})

	b, err := env.manager.Open(context.Background(), prTarget, OpenOptions{})
	require.NoError(t, err)

	execs := env.runtime.ExecsFor(b.Name)
	require.NotEmpty(t, execs)
	assert.Equal(t, []string{"sh", "-c", writeTokenScript, "sh", "sealed'; rm -rf /"}, execs[0])
	assert.NotContains(t, writeTokenScript, "sealed")

	c, _ := env.runtime.Container(b.Name)
	assert.Contains(t, c.Spec.Mounts, domain.Mount{Source: socket, Target: domain.RelaySocketMount})

	require.NoError(t, env.manager.Destroy(context.Background(), b.Name))
	tokens.AssertExpectations(t)
}

func TestProvision_RelaySocketMissingIsNotMounted(t *testing.T) {
	tokens := &mocks.MockTokenIssuer{}
	tokens.On("Issue", mock.Anything, mock.Anything).Return("tok", nil)
	env := newTestEnv(t, func(o *Options) {
		o.Tokens = tokens
		o.RelaySocketPath = filepath.Join(t.TempDir(), "missing.sock")
	})

	b, err := env.manager.Open(context.Background(), prTarget, OpenOptions{})
	require.NoError(t, err)

	c, _ := env.runtime.Container(b.Name)
	for _, mnt := range c.Spec.Mounts {
		assert.NotEqual(t, domain.RelaySocketMount, mnt.Target)
	}
}
