package gitstore

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	safeNameRe  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	fullSHARe   = regexp.MustCompile(`^[0-9a-f]{40}$`)
	commitRe    = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
	prNumberRe  = regexp.MustCompile(`^[0-9]+$`)
	badRefChars = "~^:?*[\\ \t\n"
)

// ValidName reports whether s is safe as an owner, repository or package name.
// It must not look like an option or a path component that walks upward.
func ValidName(s string) bool {
	if s == "" || s == "." || s == ".." || strings.HasPrefix(s, "-") {
		return false
	}
	return safeNameRe.MatchString(s)
}

// ValidFullSHA reports whether s is a full lowercase commit hash
func ValidFullSHA(s string) bool {
	return fullSHARe.MatchString(s)
}

// ValidCommit reports whether s is an abbreviated or full commit hash
func ValidCommit(s string) bool {
	return commitRe.MatchString(s)
}

// ValidPullNumber reports whether s is a pull request number
func ValidPullNumber(s string) bool {
	return prNumberRe.MatchString(s) && strings.TrimLeft(s, "0") != ""
}

// ValidRefName applies the subset of git's ref naming rules needed to pass a ref
// name to git as a positional argument safely.
func ValidRefName(s string) bool {
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return false
	}
	if strings.Contains(s, "..") || strings.Contains(s, "@{") || strings.Contains(s, "//") {
		return false
	}
	if strings.HasSuffix(s, ".lock") || strings.HasSuffix(s, ".") {
		return false
	}
	if strings.ContainsAny(s, badRefChars) {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	for _, part := range strings.Split(s, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	return true
}

func validateOwnerRepo(owner, repo string) error {
	if !ValidName(owner) {
		return fmt.Errorf("invalid repository owner %q", owner)
	}
	if !ValidName(repo) {
		return fmt.Errorf("invalid repository name %q", repo)
	}
	return nil
}
