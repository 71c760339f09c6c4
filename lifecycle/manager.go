// Package lifecycle drives bubbles through their states: it reserves names,
// provisions containers from mirrored sources and tears them down again.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/filelock"
	"github.com/oar-cd/bubble/gitstore"
	"github.com/oar-cd/bubble/hooks"
	"github.com/oar-cd/bubble/registry"
)

// ErrFreezeUnsupported is returned by Pause and Resume on runtimes without a Freezer
var ErrFreezeUnsupported = errors.New("container runtime does not support pausing")

// Options configures a Manager
type Options struct {
	Registry *registry.Registry
	Git      GitStore
	Runtime  Runtime
	Hooks    []hooks.Hook
	// Tokens is nil when the relay is disabled
	Tokens TokenIssuer

	// WorkspaceDir holds one host directory per bubble, mounted as the container home
	WorkspaceDir string
	// SharedDir holds host directories shared by all bubbles, such as build caches
	SharedDir       string
	RelaySocketPath string
	DefaultImage    string
}

// Manager applies lifecycle operations to bubbles
type Manager struct {
	registry *registry.Registry
	git      GitStore
	runtime  Runtime
	hooks    []hooks.Hook
	tokens   TokenIssuer

	workspaceDir string
	sharedDir    string
	relaySocket  string
	defaultImage string

	pid      int
	hostname string
	alive    func(pid int) bool
	now      func() time.Time
}

func NewManager(opts Options) *Manager {
	hostname, _ := os.Hostname()
	hookList := opts.Hooks
	if hookList == nil {
		hookList = hooks.Default()
	}
	return &Manager{
		registry:     opts.Registry,
		git:          opts.Git,
		runtime:      opts.Runtime,
		hooks:        hookList,
		tokens:       opts.Tokens,
		workspaceDir: opts.WorkspaceDir,
		sharedDir:    opts.SharedDir,
		relaySocket:  opts.RelaySocketPath,
		defaultImage: opts.DefaultImage,
		pid:          os.Getpid(),
		hostname:     hostname,
		alive:        filelock.ProcessAlive,
		now:          time.Now,
	}
}

// OpenOptions tunes Open and Provision
type OpenOptions struct {
	// NoClone refuses to mirror repositories that are not in the store yet
	NoClone bool
}

// Step is what a reservation leaves for the caller to do
type Step int

const (
	// StepProvision means a created entry is ours to provision
	StepProvision Step = iota
	// StepAttach means the bubble is already running
	StepAttach
	StepResume
	StepReconstitute
	// StepWait means another live process is provisioning the bubble
	StepWait
)

func (s Step) String() string {
	switch s {
	case StepProvision:
		return "provision"
	case StepAttach:
		return "attach"
	case StepResume:
		return "resume"
	case StepReconstitute:
		return "reconstitute"
	case StepWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Reservation is the outcome of Reserve
type Reservation struct {
	Bubble *domain.Bubble
	Step   Step
}

// Reserve finds the bubble already tracking t, or allocates a name and records
// a created entry owned by this process. It runs under the registry lock, so
// concurrent opens of one target agree on a single bubble.
func (m *Manager) Reserve(ctx context.Context, t domain.Target) (*Reservation, error) {
	var res *Reservation
	err := m.registry.WithLock(ctx, func(tx *registry.Tx) error {
		if existing := tx.FindExisting(t); existing != nil {
			switch existing.State {
			case domain.BubbleStateRunning:
				res = &Reservation{Bubble: existing, Step: StepAttach}
			case domain.BubbleStatePaused:
				res = &Reservation{Bubble: existing, Step: StepResume}
			case domain.BubbleStateArchived:
				res = &Reservation{Bubble: existing, Step: StepReconstitute}
			case domain.BubbleStateCreated:
				if m.provisioning(existing) {
					res = &Reservation{Bubble: existing, Step: StepWait}
					return nil
				}
				// The process that reserved it is gone; take over
				b, err := tx.Update(existing.Name, m.claim)
				if err != nil {
					return err
				}
				res = &Reservation{Bubble: b, Step: StepProvision}
			default:
				return fmt.Errorf("bubble %q is in unexpected state %s", existing.Name, existing.State)
			}
			return nil
		}

		name, err := tx.AllocateName(t)
		if err != nil {
			return err
		}
		b := &domain.Bubble{Name: name, Target: t, State: domain.BubbleStateCreated}
		if err := m.claim(b); err != nil {
			return err
		}
		if err := tx.Persist(b); err != nil {
			return err
		}
		res = &Reservation{Bubble: b, Step: StepProvision}
		return nil
	})
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "lifecycle",
			"operation", "reserve",
			"target", t.String(),
			"error", err)
		return nil, err
	}

	slog.Debug("Bubble reserved", "bubble", res.Bubble.Name, "step", res.Step.String())
	return res, nil
}

// Open reserves a bubble for t and carries out whatever the reservation calls for
func (m *Manager) Open(ctx context.Context, t domain.Target, opts OpenOptions) (*domain.Bubble, error) {
	res, err := m.Reserve(ctx, t)
	if err != nil {
		return nil, err
	}
	return m.Complete(ctx, res, opts)
}

// Complete carries out the step a reservation calls for
func (m *Manager) Complete(ctx context.Context, res *Reservation, opts OpenOptions) (*domain.Bubble, error) {
	switch res.Step {
	case StepProvision:
		return m.Provision(ctx, res.Bubble.Name, opts)
	case StepResume:
		return m.Resume(ctx, res.Bubble.Name)
	case StepReconstitute:
		return m.Reconstitute(ctx, res.Bubble.Name, opts)
	default:
		return res.Bubble, nil
	}
}

// Provision builds the container of a created bubble and starts it
func (m *Manager) Provision(ctx context.Context, name string, opts OpenOptions) (*domain.Bubble, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := checkTransition(b, ActionStart); err != nil {
		return nil, err
	}

	started, err := m.provision(ctx, b, opts, ActionStart)
	if err != nil {
		// Release the claim so the next open can retry right away
		if _, releaseErr := m.registry.Update(ctx, name, func(b *domain.Bubble) error {
			b.ProvisionPID = 0
			b.ProvisionHost = ""
			return nil
		}); releaseErr != nil {
			slog.Warn("Failed to release provisioning claim", "bubble", name, "error", releaseErr)
		}
		return nil, err
	}
	return started, nil
}

// Reconstitute recreates the container of an archived bubble and replays its saved session
func (m *Manager) Reconstitute(ctx context.Context, name string, opts OpenOptions) (*domain.Bubble, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := checkTransition(b, ActionReconstitute); err != nil {
		return nil, err
	}
	return m.provision(ctx, b, opts, ActionReconstitute)
}

// provision runs the shared provisioning path and applies action on success.
// Every step tolerates work left behind by an interrupted earlier attempt.
func (m *Manager) provision(ctx context.Context, b *domain.Bubble, opts OpenOptions, action Action) (*domain.Bubble, error) {
	t := b.Target
	fail := func(step string, err error) (*domain.Bubble, error) {
		slog.Error("Service operation failed",
			"layer", "lifecycle",
			"operation", "provision",
			"step", step,
			"bubble", b.Name,
			"error", err)
		return nil, err
	}

	mirror, err := m.git.EnsureMirror(ctx, t.Owner, t.Repo, gitstore.EnsureOptions{NoClone: opts.NoClone})
	if err != nil {
		return fail("mirror", err)
	}
	if t.Kind == domain.TargetKindCommit && !t.LocalReference {
		if err := m.git.EnsureRevision(ctx, mirror, t.Ref); err != nil {
			return fail("revision", err)
		}
	}
	if (t.Kind == domain.TargetKindPullRequest || t.Kind == domain.TargetKindBranch) && !t.LocalReference {
		// Hooks read the ref below, so it must be current before they run
		if err := m.git.FetchRef(ctx, mirror, t.Kind, t.Ref); err != nil {
			if t.Kind != domain.TargetKindBranch || t.LocalPath == "" {
				return fail("ref", err)
			}
			// An unpushed branch is taken from the local checkout
			slog.Debug("Branch not found upstream", "bubble", b.Name, "branch", t.Ref, "error", err)
		}
	}

	plan, err := m.selectPlan(t, mirror)
	if err != nil {
		return fail("hooks", err)
	}

	workspace := m.workspacePath(b.Name)
	projectDir := filepath.Join(workspace, t.Repo)
	clone, err := m.git.CloneFromMirror(ctx, mirror, gitstore.CloneRequest{
		Kind:           t.Kind,
		Ref:            t.Ref,
		Dest:           projectDir,
		LocalSource:    t.LocalPath,
		LocalReference: t.LocalReference,
	})
	if err != nil {
		return fail("clone", err)
	}

	if plan != nil && plan.Manifest != nil {
		depDir := filepath.Join(projectDir, filepath.FromSlash(plan.DependencyDir))
		if _, err := m.git.PrepareDependencies(ctx, plan.Manifest, depDir); err != nil {
			return fail("dependencies", err)
		}
	}

	spec, err := m.containerSpec(b, workspace, plan)
	if err != nil {
		return fail("spec", err)
	}
	if err := m.ensureContainer(ctx, spec); err != nil {
		return fail("container", err)
	}

	if m.tokens != nil {
		if err := m.issueToken(ctx, b.Name); err != nil {
			return fail("relay_token", err)
		}
	}

	if plan != nil {
		m.runPostClone(ctx, b.Name, plan.PostClone)
	}
	if action == ActionReconstitute && b.Archive != nil && b.Archive.SessionState != "" {
		if err := m.restoreSession(ctx, b.Name, b.Archive.SessionState); err != nil {
			slog.Warn("Failed to restore session state", "bubble", b.Name, "error", err)
		}
	}

	updated, err := m.transition(ctx, b.Name, action, func(b *domain.Bubble) {
		b.Image = spec.Image
		b.Commit = clone.Commit
		b.Branch = clone.Branch
		b.ProvisionPID = 0
		b.ProvisionHost = ""
		b.Archive = nil
		if plan != nil {
			b.Hook = plan.Hook
			b.Toolchain = plan.Toolchain
			b.NetworkDomains = plan.NetworkDomains
		}
	})
	if err != nil {
		return fail("transition", err)
	}

	slog.Info("Bubble ready", "bubble", updated.Name, "image", updated.Image, "commit", updated.Commit)
	return updated, nil
}

// selectPlan runs the hooks against the mirror, or against the local checkout
// for refs the mirror has not seen
func (m *Manager) selectPlan(t domain.Target, mirror *gitstore.Mirror) (*hooks.Plan, error) {
	src := hooks.Source{
		Owner:      t.Owner,
		Repo:       t.Repo,
		MirrorPath: mirror.Path,
		Rev:        gitstore.Revision(t),
	}
	if t.LocalReference {
		src.MirrorPath = t.LocalPath
	}
	return hooks.Select(m.hooks, src)
}

func (m *Manager) ensureContainer(ctx context.Context, spec domain.ContainerSpec) error {
	status, err := m.runtime.Status(ctx, spec.Name)
	if err != nil {
		return err
	}

	switch status {
	case domain.ContainerStatusRunning:
		return nil
	case domain.ContainerStatusPaused:
		freezer, ok := m.runtime.(Freezer)
		if !ok {
			return ErrFreezeUnsupported
		}
		return freezer.Unpause(ctx, spec.Name)
	case domain.ContainerStatusMissing:
	default:
		// A stopped or unknown leftover from an interrupted attempt
		if err := m.runtime.Destroy(ctx, spec.Name); err != nil {
			return err
		}
	}
	return m.runtime.Create(ctx, spec)
}

func (m *Manager) runPostClone(ctx context.Context, name string, commands [][]string) {
	for _, cmd := range commands {
		res, err := m.runtime.Exec(ctx, name, cmd)
		if err != nil {
			slog.Warn("Post-clone command failed", "bubble", name, "error", err)
			continue
		}
		if !res.Success() {
			slog.Warn("Post-clone command failed",
				"bubble", name,
				"exit_code", res.ExitCode,
				"stderr", res.Stderr)
		}
	}
}

// transition applies action under the registry lock, with mutate run on the stored copy
func (m *Manager) transition(ctx context.Context, name string, action Action, mutate func(b *domain.Bubble)) (*domain.Bubble, error) {
	return m.registry.Update(ctx, name, func(b *domain.Bubble) error {
		to, err := checkTransition(b, action)
		if err != nil {
			return err
		}
		if mutate != nil {
			mutate(b)
		}
		b.State = to
		return nil
	})
}

// claim marks b as being provisioned by this process
func (m *Manager) claim(b *domain.Bubble) error {
	b.ProvisionPID = m.pid
	b.ProvisionHost = m.hostname
	return nil
}

// provisioning reports whether the process that claimed b may still be working on it.
// Claims from other hosts cannot be checked and are assumed live.
func (m *Manager) provisioning(b *domain.Bubble) bool {
	if b.ProvisionPID == 0 {
		return false
	}
	if b.ProvisionHost != m.hostname {
		return true
	}
	return m.alive(b.ProvisionPID)
}

func (m *Manager) workspacePath(name string) string {
	return filepath.Join(m.workspaceDir, name)
}
