// Package hooks detects the language of a target and describes how its
// bubble should be provisioned.
package hooks

import (
	"log/slog"

	"github.com/oar-cd/bubble/gitstore"
)

// Source is the repository state a hook inspects, read from the mirror
type Source struct {
	Owner string
	Repo  string
	// MirrorPath is the bare mirror holding Rev
	MirrorPath string
	Rev        string
}

// SharedMount is a host directory shared writable across bubbles
type SharedMount struct {
	// HostDir is created under the data directory
	HostDir       string
	ContainerPath string
	// EnvVar is set to ContainerPath in the container
	EnvVar string
}

// Plan is what a hook decided for one target
type Plan struct {
	Hook           string
	Image          string
	Toolchain      string
	NetworkDomains []string
	SharedMounts   []SharedMount
	// Manifest lists pinned git dependencies to pre-populate, nil when none
	Manifest *gitstore.Manifest
	// DependencyDir is where dependencies go, relative to the project directory
	DependencyDir string
	// PostClone commands run inside the container after the project is in place
	PostClone [][]string
}

// Hook is a language capability. Detect reports ok=false when the hook does not apply.
type Hook interface {
	Name() string
	Detect(src Source) (plan *Plan, ok bool, err error)
}

// Default returns the built-in hooks in priority order
func Default() []Hook {
	return []Hook{NewLeanHook()}
}

// Select returns the plan of the first hook that applies, or nil
func Select(hooks []Hook, src Source) (*Plan, error) {
	for _, h := range hooks {
		plan, ok, err := h.Detect(src)
		if err != nil {
			slog.Error("Service operation failed",
				"layer", "hooks",
				"operation", "detect",
				"hook", h.Name(),
				"repo", src.Owner+"/"+src.Repo,
				"error", err)
			return nil, err
		}
		if ok {
			slog.Debug("Hook selected", "hook", h.Name(), "image", plan.Image)
			return plan, nil
		}
	}
	return nil, nil
}
