// Package domain provides core domain types and entities for bubble.
package domain

import (
	"fmt"
	"strings"
)

// Target is a resolved source-control target. It is immutable once resolved.
type Target struct {
	Owner string     `json:"owner"`
	Repo  string     `json:"repo"`
	Kind  TargetKind `json:"kind"`
	Ref   string     `json:"ref,omitempty"`

	// LocalPath is set only for targets resolved from a local checkout
	LocalPath string `json:"local_path,omitempty"`
	// LocalReference marks a checkout holding commits absent upstream;
	// clones must fetch them from LocalPath.
	LocalReference bool `json:"local_reference,omitempty"`
}

// OrgRepo returns "owner/repo"
func (t Target) OrgRepo() string {
	return t.Owner + "/" + t.Repo
}

// IsLocal reports whether the target came from a local checkout
func (t Target) IsLocal() bool {
	return t.LocalPath != ""
}

// Key identifies the target in the registry's secondary index.
// Owner and repo are compared case-insensitively, like the hosting service does.
func (t Target) Key() string {
	parts := []string{
		strings.ToLower(t.Owner),
		strings.ToLower(t.Repo),
		t.Kind.String(),
		t.Ref,
	}
	if t.LocalPath != "" {
		parts = append(parts, "local:"+t.LocalPath)
	}
	return strings.Join(parts, "|")
}

func (t Target) String() string {
	if t.LocalPath != "" {
		return t.LocalPath
	}
	switch t.Kind {
	case TargetKindPullRequest:
		return fmt.Sprintf("%s/pull/%s", t.OrgRepo(), t.Ref)
	case TargetKindBranch:
		return fmt.Sprintf("%s/tree/%s", t.OrgRepo(), t.Ref)
	case TargetKindCommit:
		return fmt.Sprintf("%s/commit/%s", t.OrgRepo(), t.Ref)
	default:
		return t.OrgRepo()
	}
}

// ResolveContext carries the caller's environment into target resolution
type ResolveContext struct {
	// WorkDir is the directory bare PR numbers are resolved against
	WorkDir string
	// ForcePath treats the identifier as a filesystem path
	ForcePath bool
}
