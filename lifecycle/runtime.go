package lifecycle

import (
	"context"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/gitstore"
)

// Runtime is the container runtime bubbles run on
type Runtime interface {
	Create(ctx context.Context, spec domain.ContainerSpec) error
	// Destroy removes the container; a missing container is not an error
	Destroy(ctx context.Context, name string) error
	Exec(ctx context.Context, name string, cmd []string) (*domain.ExecResult, error)
	Status(ctx context.Context, name string) (domain.ContainerStatus, error)
}

// Freezer is implemented by runtimes that can suspend a container in place
type Freezer interface {
	Pause(ctx context.Context, name string) error
	Unpause(ctx context.Context, name string) error
}

// Starter is implemented by runtimes that can start a stopped container and stop it again
type Starter interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// GitStore is the part of the git object store provisioning needs
type GitStore interface {
	Root() string
	EnsureMirror(ctx context.Context, owner, repo string, opts gitstore.EnsureOptions) (*gitstore.Mirror, error)
	EnsureRevision(ctx context.Context, mirror *gitstore.Mirror, rev string) error
	FetchRef(ctx context.Context, mirror *gitstore.Mirror, kind domain.TargetKind, ref string) error
	CloneFromMirror(ctx context.Context, mirror *gitstore.Mirror, req gitstore.CloneRequest) (*gitstore.CloneResult, error)
	PrepareDependencies(ctx context.Context, m *gitstore.Manifest, destDir string) ([]*gitstore.CloneResult, error)
}

// TokenIssuer hands out relay credentials to containers
type TokenIssuer interface {
	// Issue returns a fresh credential for container, invalidating any earlier one
	Issue(ctx context.Context, container string) (string, error)
	Revoke(ctx context.Context, container string) error
}
