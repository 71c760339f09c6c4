// Package docker runs bubble containers on a Docker daemon.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/oar-cd/bubble/domain"
)

// LabelManaged marks containers created by bubble
const LabelManaged = "dev.bubble.managed"

// keepAlive holds a container open between exec sessions
var keepAlive = []string{"sleep", "infinity"}

// Runtime creates and drives bubble containers through the Docker API
type Runtime struct {
	cli *client.Client
}

// New connects to the daemon at host, or the environment's default when host is empty
func New(host string) (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// Ping validates connectivity to the Docker daemon
func (r *Runtime) Ping(ctx context.Context) error {
	ping, err := r.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close closes the Docker client
func (r *Runtime) Close() error {
	if r.cli != nil {
		return r.cli.Close()
	}
	return nil
}

// Create pulls the image when it is not present, then creates and starts the container
func (r *Runtime) Create(ctx context.Context, spec domain.ContainerSpec) error {
	if err := r.ensureImage(ctx, spec.Image); err != nil {
		return err
	}

	labels := map[string]string{LabelManaged: "true"}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      spec.Image,
		Cmd:        keepAlive,
		Env:        envList(spec.Env),
		WorkingDir: spec.WorkDir,
		Labels:     labels,
		Hostname:   spec.Name,
	}, &container.HostConfig{
		Mounts: bindMounts(spec.Mounts),
		Init:   boolPtr(true),
	}, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		slog.Warn("Docker warning", "container", spec.Name, "warning", w)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}
	slog.Debug("Container started", "container", spec.Name, "id", resp.ID, "image", spec.Image)
	return nil
}

// Destroy force-removes the container. A missing container is not an error.
func (r *Runtime) Destroy(ctx context.Context, name string) error {
	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Exec runs cmd in the container and collects its output
func (r *Runtime) Exec(ctx context.Context, name string, cmd []string) (*domain.ExecResult, error) {
	if len(cmd) == 0 {
		return nil, errors.New("empty command")
	}

	created, err := r.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec in %s: %w", name, err)
	}

	attached, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec in %s: %w", name, err)
	}
	defer attached.Close()

	// Demultiplex Docker output to remove headers
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read exec output in %s: %w", name, err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec in %s: %w", name, err)
	}

	return &domain.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Status inspects the container
func (r *Runtime) Status(ctx context.Context, name string) (domain.ContainerStatus, error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return domain.ContainerStatusMissing, nil
		}
		return domain.ContainerStatusUnknown, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return domain.ContainerStatusUnknown, nil
	}
	switch {
	case info.State.Paused:
		return domain.ContainerStatusPaused, nil
	case info.State.Running:
		return domain.ContainerStatusRunning, nil
	default:
		return domain.ContainerStatusStopped, nil
	}
}

func (r *Runtime) Pause(ctx context.Context, name string) error {
	if err := r.cli.ContainerPause(ctx, name); err != nil {
		return fmt.Errorf("failed to pause container %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) Unpause(ctx context.Context, name string) error {
	if err := r.cli.ContainerUnpause(ctx, name); err != nil {
		return fmt.Errorf("failed to unpause container %s: %w", name, err)
	}
	return nil
}

// Start starts a stopped container
func (r *Runtime) Start(ctx context.Context, name string) error {
	if err := r.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// Stop stops a running container
func (r *Runtime) Stop(ctx context.Context, name string) error {
	if err := r.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) ensureImage(ctx context.Context, ref string) error {
	if _, err := r.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			slog.Debug("Failed to close image pull reader", "error", closeErr)
		}
	}()

	// Must consume the reader completely for the pull operation to finish
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete image pull for %s: %w", ref, err)
	}
	return nil
}

func bindMounts(mounts []domain.Mount) []mount.Mount {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return out
}

// envList renders env sorted by key so container configs are reproducible
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func boolPtr(b bool) *bool {
	return &b
}
