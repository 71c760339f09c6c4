package gitstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/oar-cd/bubble/domain"
)

// Dependency is one pinned repository from a package manifest
type Dependency struct {
	Name   string
	URL    string
	Host   string
	Rev    string
	SubDir string
	Owner  string
	Repo   string
}

// Manifest lists the repositories a project depends on
type Manifest struct {
	Dependencies []Dependency
}

type lakeManifest struct {
	Packages []struct {
		Type   string `json:"type"`
		Name   string `json:"name"`
		URL    string `json:"url"`
		Rev    string `json:"rev"`
		SubDir string `json:"subDir"`
	} `json:"packages"`
}

// ParseLakeManifest reads git packages out of a lake-manifest.json document.
// Entries are not validated here; see Manifest.Validate.
func ParseLakeManifest(data []byte) (*Manifest, error) {
	var lm lakeManifest
	if err := json.Unmarshal(data, &lm); err != nil {
		return nil, fmt.Errorf("failed to parse lake manifest: %w", err)
	}

	m := &Manifest{}
	for _, pkg := range lm.Packages {
		if pkg.Type != "git" {
			continue
		}
		dep := Dependency{
			Name:   pkg.Name,
			URL:    pkg.URL,
			Rev:    pkg.Rev,
			SubDir: pkg.SubDir,
		}
		if host, owner, repo, ok := ParseRemoteURL(pkg.URL); ok {
			dep.Host = host
			dep.Owner = owner
			dep.Repo = repo
		}
		m.Dependencies = append(m.Dependencies, dep)
	}
	return m, nil
}

// Validate checks every entry and returns the first failure as an
// InvalidManifestEntryError. Nothing is skipped.
func (m *Manifest) Validate() error {
	for i, dep := range m.Dependencies {
		switch {
		case !ValidName(dep.Name):
			return &domain.InvalidManifestEntryError{Index: i, Field: "name", Value: dep.Name}
		case !ValidName(dep.Owner):
			return &domain.InvalidManifestEntryError{Index: i, Field: "url", Value: dep.URL}
		case !ValidName(dep.Repo):
			return &domain.InvalidManifestEntryError{Index: i, Field: "url", Value: dep.URL}
		case !ValidFullSHA(dep.Rev):
			return &domain.InvalidManifestEntryError{Index: i, Field: "rev", Value: dep.Rev}
		}
	}
	return nil
}

// PrepareDependencies mirrors every dependency and clones it at its pinned
// revision into destDir/<name>. The whole manifest is validated before any git
// process is started. Mirrors only come from the store's host, so a dependency
// hosted elsewhere rejects the manifest.
func (s *Store) PrepareDependencies(ctx context.Context, m *Manifest, destDir string) ([]*CloneResult, error) {
	if m == nil || len(m.Dependencies) == 0 {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	for i, dep := range m.Dependencies {
		if dep.Host != s.host {
			return nil, &domain.InvalidManifestEntryError{Index: i, Field: "url", Value: dep.URL}
		}
	}

	results := make([]*CloneResult, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		mirror, err := s.EnsureMirror(ctx, dep.Owner, dep.Repo, EnsureOptions{})
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", dep.Name, err)
		}
		if err := s.EnsureRevision(ctx, mirror, dep.Rev); err != nil {
			return nil, fmt.Errorf("dependency %s: %w", dep.Name, err)
		}

		result, err := s.CloneFromMirror(ctx, mirror, CloneRequest{
			Kind: domain.TargetKindCommit,
			Ref:  dep.Rev,
			Dest: filepath.Join(destDir, dep.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", dep.Name, err)
		}
		// Lake compares origin with the manifest url and re-clones on mismatch
		if dep.URL != "" {
			if _, err := s.run(ctx, result.Path, "remote", "set-url", "origin", dep.URL); err != nil {
				return nil, fmt.Errorf("dependency %s: failed to set origin: %w", dep.Name, err)
			}
		}
		slog.Debug("Dependency prepared", "name", dep.Name, "repo", mirror.OrgRepo(), "rev", dep.Rev)
		results = append(results, result)
	}
	return results, nil
}
