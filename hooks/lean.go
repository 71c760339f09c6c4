package hooks

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/oar-cd/bubble/gitstore"
)

const (
	leanToolchainFile = "lean-toolchain"
	lakeManifestFile  = "lake-manifest.json"
	// fetchCacheFile is picked up by the editor extension to start the first build
	fetchCacheFile = "~/.bubble-fetch-cache"
)

// Stable releases (v4.16.0) and release candidates (v4.16.0-rc2)
var leanReleaseRe = regexp.MustCompile(`^v\d+\.\d+\.\d+(-rc\d+)?$`)

var leanNetworkDomains = []string{
	"releases.lean-lang.org",
	"reservoir.lean-lang.org",
	"reservoir.lean-cache.cloud",
	"mathlib4.lean-cache.cloud",
	"lakecache.blob.core.windows.net",
}

// LeanHook applies to repositories with a lean-toolchain file
type LeanHook struct {
	read func(repoPath, rev, name string) ([]byte, error)
}

func NewLeanHook() *LeanHook {
	return &LeanHook{read: gitstore.ReadFileAt}
}

func (h *LeanHook) Name() string {
	return "lean"
}

func (h *LeanHook) Detect(src Source) (*Plan, bool, error) {
	raw, err := h.read(src.MirrorPath, src.Rev, leanToolchainFile)
	if errors.Is(err, gitstore.ErrFileNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	toolchain := strings.TrimSpace(string(raw))

	plan := &Plan{
		Hook:           h.Name(),
		Image:          LeanImage(toolchain),
		Toolchain:      toolchain,
		NetworkDomains: append([]string(nil), leanNetworkDomains...),
	}

	// The compiler itself builds with cmake and has no lake dependencies
	if strings.EqualFold(src.Repo, "lean4") {
		plan.PostClone = [][]string{writeBuildCommand("cmake --preset release && make -C build/release -j$(nproc)")}
		return plan, true, nil
	}

	manifest, err := h.readManifest(src)
	if err != nil {
		return nil, false, err
	}

	needsCache := strings.EqualFold(src.Repo, "mathlib4")
	if manifest != nil && len(manifest.Dependencies) > 0 {
		plan.Manifest = manifest
		plan.DependencyDir = ".lake/packages"
		for _, dep := range manifest.Dependencies {
			if dep.Name == "mathlib" {
				needsCache = true
			}
		}
	}

	build := "lake build"
	if needsCache {
		build = "lake exe cache get && lake build"
		plan.SharedMounts = []SharedMount{{
			HostDir:       "mathlib-cache",
			ContainerPath: "/shared/mathlib-cache",
			EnvVar:        "MATHLIB_CACHE_DIR",
		}}
	}
	plan.PostClone = [][]string{writeBuildCommand(build)}
	return plan, true, nil
}

func (h *LeanHook) readManifest(src Source) (*gitstore.Manifest, error) {
	raw, err := h.read(src.MirrorPath, src.Rev, lakeManifestFile)
	if errors.Is(err, gitstore.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	manifest, err := gitstore.ParseLakeManifest(raw)
	if err != nil {
		// Lake regenerates a broken manifest, so provisioning continues without pre-population
		slog.Warn("Ignoring unreadable lake manifest", "repo", src.Owner+"/"+src.Repo, "error", err)
		return nil, nil
	}
	return manifest, nil
}

// LeanImage maps a lean-toolchain value to an image name. Only releases and
// release candidates have dedicated images; nightlies use the base Lean image.
func LeanImage(toolchain string) string {
	version := toolchain
	if _, after, ok := strings.Cut(toolchain, ":"); ok {
		version = after
	}
	if leanReleaseRe.MatchString(version) {
		return "lean-" + version
	}
	return "lean"
}

// writeBuildCommand stores cmd for the editor extension. Only the -c script is
// handed to su, since forwarding extra arguments to the shell is not portable
// across su implementations.
func writeBuildCommand(cmd string) []string {
	return []string{"su", "-", "user", "-c", buildCommandScript(cmd, fetchCacheFile)}
}

// buildCommandScript writes cmd verbatim to path. cmd is single-quoted so the
// writing shell never expands it.
func buildCommandScript(cmd, path string) string {
	return "printf '%s' " + shellQuote(cmd) + " > " + path
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
