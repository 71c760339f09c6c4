package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/hooks"
)

const (
	LabelName           = "dev.bubble.name"
	LabelTarget         = "dev.bubble.target"
	LabelNetworkDomains = "dev.bubble.network-domains"
)

// The token is passed as a positional parameter and never spliced into the script
var writeTokenScript = "umask 077 && mkdir -p " + domain.MetaDir +
	` && printf '%s\n' "$1" > ` + domain.RelayTokenPath +
	" && chown user:user " + domain.RelayTokenPath +
	" && chmod 600 " + domain.RelayTokenPath

var writeSessionScript = "mkdir -p " + domain.MetaDir +
	` && printf '%s' "$1" > ` + domain.SessionStatePath

func (m *Manager) containerSpec(b *domain.Bubble, workspace string, plan *hooks.Plan) (domain.ContainerSpec, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return domain.ContainerSpec{}, fmt.Errorf("failed to create workspace: %w", err)
	}

	spec := domain.ContainerSpec{
		Name:    b.Name,
		Image:   m.imageFor(b, plan),
		WorkDir: b.ProjectDir(),
		Env: map[string]string{
			"BUBBLE_NAME":   b.Name,
			"BUBBLE_TARGET": b.Target.String(),
		},
		Labels: map[string]string{
			LabelName:   b.Name,
			LabelTarget: b.Target.String(),
		},
		Mounts: []domain.Mount{
			{Source: workspace, Target: domain.ProjectRoot},
			// Clones borrow objects from mirrors by absolute path
			{Source: m.git.Root(), Target: m.git.Root(), ReadOnly: true},
		},
	}

	if m.tokens != nil && m.relaySocket != "" {
		// Mounting a missing socket path would make the runtime create a directory there
		if _, err := os.Stat(m.relaySocket); err == nil {
			spec.Mounts = append(spec.Mounts, domain.Mount{Source: m.relaySocket, Target: domain.RelaySocketMount})
			spec.Env["BUBBLE_RELAY_SOCKET"] = domain.RelaySocketMount
		} else {
			slog.Warn("Relay socket not found, bubble will not reach the relay", "socket", m.relaySocket)
		}
	}

	if plan != nil {
		for _, shared := range plan.SharedMounts {
			hostDir := filepath.Join(m.sharedDir, shared.HostDir)
			if err := os.MkdirAll(hostDir, 0o755); err != nil {
				return domain.ContainerSpec{}, fmt.Errorf("failed to create shared directory: %w", err)
			}
			spec.Mounts = append(spec.Mounts, domain.Mount{Source: hostDir, Target: shared.ContainerPath})
			if shared.EnvVar != "" {
				spec.Env[shared.EnvVar] = shared.ContainerPath
			}
		}
		if len(plan.NetworkDomains) > 0 {
			spec.Labels[LabelNetworkDomains] = strings.Join(plan.NetworkDomains, ",")
		}
	}
	return spec, nil
}

// imageFor prefers the hook's choice, then what the bubble ran before
func (m *Manager) imageFor(b *domain.Bubble, plan *hooks.Plan) string {
	switch {
	case plan != nil && plan.Image != "":
		return plan.Image
	case b.Archive != nil && b.Archive.Image != "":
		return b.Archive.Image
	case b.Image != "":
		return b.Image
	default:
		return m.defaultImage
	}
}

// issueToken replaces the container's relay credential and writes it inside the container
func (m *Manager) issueToken(ctx context.Context, name string) error {
	token, err := m.tokens.Issue(ctx, name)
	if err != nil {
		return err
	}
	res, err := m.runtime.Exec(ctx, name, []string{"sh", "-c", writeTokenScript, "sh", token})
	if err != nil {
		return fmt.Errorf("failed to write relay token: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("failed to write relay token: exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// readSession returns the container's saved session state, empty when there is none
func (m *Manager) readSession(ctx context.Context, name string) string {
	res, err := m.runtime.Exec(ctx, name, []string{"cat", domain.SessionStatePath})
	if err != nil || !res.Success() {
		return ""
	}
	return res.Stdout
}

func (m *Manager) restoreSession(ctx context.Context, name, state string) error {
	res, err := m.runtime.Exec(ctx, name, []string{"sh", "-c", writeSessionScript, "sh", state})
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// workspaceHead reads the project checkout's HEAD from the host side of the workspace.
// ok is false when there is no checkout.
func workspaceHead(projectDir string) (commit, branch string, ok bool) {
	repo, err := git.PlainOpen(projectDir)
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) && !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Failed to open workspace checkout", "path", projectDir, "error", err)
		}
		return "", "", false
	}
	head, err := repo.Head()
	if err != nil {
		return "", "", false
	}
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return head.Hash().String(), branch, true
}
