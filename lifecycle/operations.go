package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/registry"
)

// Start marks a created bubble whose container is up as running
func (m *Manager) Start(ctx context.Context, name string) (*domain.Bubble, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := checkTransition(b, ActionStart); err != nil {
		return nil, err
	}
	status, err := m.runtime.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	if status != domain.ContainerStatusRunning {
		return nil, fmt.Errorf("container %s is %s, provision it first", name, status)
	}
	return m.transition(ctx, name, ActionStart, func(b *domain.Bubble) {
		b.ProvisionPID = 0
		b.ProvisionHost = ""
	})
}

func (m *Manager) Pause(ctx context.Context, name string) (*domain.Bubble, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := checkTransition(b, ActionPause); err != nil {
		return nil, err
	}
	freezer, ok := m.runtime.(Freezer)
	if !ok {
		return nil, ErrFreezeUnsupported
	}

	status, err := m.runtime.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	switch status {
	case domain.ContainerStatusPaused:
		// Paused by an earlier attempt that did not get to record it
	case domain.ContainerStatusRunning:
		if err := freezer.Pause(ctx, name); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("container %s is %s", name, status)
	}

	return m.transition(ctx, name, ActionPause, nil)
}

func (m *Manager) Resume(ctx context.Context, name string) (*domain.Bubble, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := checkTransition(b, ActionResume); err != nil {
		return nil, err
	}
	freezer, ok := m.runtime.(Freezer)
	if !ok {
		return nil, ErrFreezeUnsupported
	}

	status, err := m.runtime.Status(ctx, name)
	if err != nil {
		return nil, err
	}
	switch status {
	case domain.ContainerStatusRunning:
	case domain.ContainerStatusPaused:
		if err := freezer.Unpause(ctx, name); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("container %s is %s; archive or destroy the bubble", name, status)
	}

	return m.transition(ctx, name, ActionResume, nil)
}

// Archive discards the container of a running or paused bubble and keeps what is
// needed to bring it back. Unless force is set, a bubble holding unsaved work, or
// one whose work cannot be checked, is refused with a NotCleanError. Running
// Archive again after an interruption finishes the job.
func (m *Manager) Archive(ctx context.Context, name string, force bool) (*domain.Bubble, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if _, err := checkTransition(b, ActionArchive); err != nil {
		return nil, err
	}

	// The payload is recorded right before teardown, so a bubble that already
	// has one was interrupted after its check passed
	if b.Archive == nil {
		status, err := m.runtime.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		if b, err = m.recordArchive(ctx, b, status, force); err != nil {
			return nil, err
		}
	}

	if err := m.teardown(ctx, b); err != nil {
		return nil, err
	}

	archived, err := m.transition(ctx, name, ActionArchive, nil)
	if err != nil {
		return nil, err
	}
	slog.Info("Bubble archived", "bubble", name, "commit", archived.Archive.Commit)
	return archived, nil
}

// recordArchive checks the bubble for unsaved work and stores its archive
// payload. A container woken for the check is put back the way it was when
// recording fails.
func (m *Manager) recordArchive(ctx context.Context, b *domain.Bubble, status domain.ContainerStatus, force bool) (_ *domain.Bubble, err error) {
	name := b.Name
	canExec := true

	switch status {
	case domain.ContainerStatusRunning:
	case domain.ContainerStatusMissing:
		canExec = false
		if !force && dirExists(m.workspacePath(name)) {
			return nil, &domain.NotCleanError{Name: name, Status: domain.CleanStatus{Error: "container is missing, unsaved work cannot be checked"}}
		}
	case domain.ContainerStatusPaused:
		// Commands cannot run in a frozen container
		freezer, ok := m.runtime.(Freezer)
		if !ok {
			if !force {
				return nil, ErrFreezeUnsupported
			}
			canExec = false
			break
		}
		if err := freezer.Unpause(ctx, name); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				m.restoreContainer(ctx, name, "pause", freezer.Pause)
			}
		}()
	default:
		starter, ok := m.runtime.(Starter)
		if !ok {
			canExec = false
			if !force {
				return nil, &domain.NotCleanError{Name: name, Status: domain.CleanStatus{Error: "container is " + status.String() + ", unsaved work cannot be checked"}}
			}
			break
		}
		if err := starter.Start(ctx, name); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				m.restoreContainer(ctx, name, "stop", starter.Stop)
			}
		}()
	}

	if canExec && !force {
		if clean := m.checkClean(ctx, b); !clean.Clean {
			return nil, &domain.NotCleanError{Name: name, Status: clean}
		}
	}

	payload := m.archivePayload(b)
	if canExec {
		payload.SessionState = m.readSession(ctx, name)
	}

	// Record the hints before anything is torn down
	return m.registry.Update(ctx, name, func(b *domain.Bubble) error {
		b.Archive = payload
		return nil
	})
}

// restoreContainer undoes a wake-up done for the archive check. It runs even when ctx is cancelled.
func (m *Manager) restoreContainer(ctx context.Context, name, operation string, fn func(context.Context, string) error) {
	if err := fn(context.WithoutCancel(ctx), name); err != nil {
		slog.Error("Service operation failed",
			"layer", "lifecycle",
			"operation", operation+"_after_archive_check",
			"bubble", name,
			"error", err)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (m *Manager) archivePayload(b *domain.Bubble) *domain.ArchivePayload {
	payload := &domain.ArchivePayload{
		ArchivedAt: m.now().UTC(),
		Commit:     b.Commit,
		Branch:     b.Branch,
		Image:      b.Image,
		Toolchain:  b.Toolchain,
	}
	if commit, branch, ok := workspaceHead(filepath.Join(m.workspacePath(b.Name), b.Target.Repo)); ok {
		payload.Commit = commit
		payload.Branch = branch
	}
	return payload
}

// Destroy removes the container, the workspace, the relay credential and the registry entry
func (m *Manager) Destroy(ctx context.Context, name string) error {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return err
	}
	if _, err := checkTransition(b, ActionDestroy); err != nil {
		return err
	}

	if err := m.teardown(ctx, b); err != nil {
		return err
	}

	err = m.registry.WithLock(ctx, func(tx *registry.Tx) error {
		tx.Remove(name)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("Bubble destroyed", "bubble", name)
	return nil
}

// teardown removes everything a bubble holds outside the registry. Each step is a no-op when already done.
func (m *Manager) teardown(ctx context.Context, b *domain.Bubble) error {
	if err := m.runtime.Destroy(ctx, b.Name); err != nil {
		slog.Error("Service operation failed",
			"layer", "lifecycle",
			"operation", "destroy_container",
			"bubble", b.Name,
			"error", err)
		return err
	}
	if m.tokens != nil {
		if err := m.tokens.Revoke(ctx, b.Name); err != nil {
			return fmt.Errorf("failed to revoke relay token: %w", err)
		}
	}
	if err := os.RemoveAll(m.workspacePath(b.Name)); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

// Inspect returns the recorded bubble alongside what the runtime reports
func (m *Manager) Inspect(ctx context.Context, name string) (*domain.Bubble, domain.ContainerStatus, error) {
	b, err := m.registry.Lookup(name)
	if err != nil {
		return nil, domain.ContainerStatusUnknown, err
	}
	if !b.Live() {
		return b, domain.ContainerStatusMissing, nil
	}
	status, err := m.runtime.Status(ctx, name)
	if err != nil {
		return b, domain.ContainerStatusUnknown, err
	}
	return b, status, nil
}

// List returns the tracked bubbles
func (m *Manager) List(includeArchived bool) ([]*domain.Bubble, error) {
	return m.registry.List(includeArchived)
}
