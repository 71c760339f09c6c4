package relay

import (
	"fmt"
	"strings"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/gitstore"
)

const dangerousChars = ";|&$`\\(){}[]!#<>*?'\""

// TargetParser resolves remote identifiers without touching local state
type TargetParser interface {
	Parse(identifier string) (domain.Target, error)
}

// MirrorIndex tells which repositories are already in the git store
type MirrorIndex interface {
	HasMirror(owner, repo string) bool
}

// Validator decides which relayed targets may be opened
type Validator struct {
	parser  TargetParser
	mirrors MirrorIndex
}

func NewValidator(parser TargetParser, mirrors MirrorIndex) *Validator {
	return &Validator{parser: parser, mirrors: mirrors}
}

// Validate returns the target raw names, or an InvalidRelayTargetError.
// Only repositories already mirrored may be opened; the error then wraps
// domain.ErrMirrorNotFound.
func (v *Validator) Validate(raw string) (domain.Target, error) {
	reject := func(reason string) (domain.Target, error) {
		return domain.Target{}, &domain.InvalidRelayTargetError{Target: raw, Reason: reason}
	}

	switch {
	case raw == "":
		return reject("empty target")
	case len(raw) > MaxTargetLength:
		return reject("target too long")
	case strings.HasPrefix(raw, ".") || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "~"):
		return reject("local paths are not allowed via relay")
	case strings.HasPrefix(raw, "-"):
		return reject("invalid target")
	case strings.Contains(raw, "--path"):
		return reject("the --path flag is not allowed via relay")
	case strings.ContainsAny(raw, dangerousChars) || hasControl(raw):
		return reject("invalid characters in target")
	case strings.Contains(raw, ".."):
		return reject("path traversal is not allowed")
	}

	t, err := v.parser.Parse(raw)
	if err != nil {
		return domain.Target{}, &domain.InvalidRelayTargetError{Target: raw, Reason: err.Error(), Err: err}
	}
	if t.IsLocal() {
		return reject("local paths are not allowed via relay")
	}
	if !gitstore.ValidName(t.Owner) {
		return reject(fmt.Sprintf("invalid owner name %q", t.Owner))
	}
	if !gitstore.ValidName(t.Repo) {
		return reject(fmt.Sprintf("invalid repo name %q", t.Repo))
	}
	if !v.mirrors.HasMirror(t.Owner, t.Repo) {
		return domain.Target{}, &domain.InvalidRelayTargetError{
			Target: raw,
			Reason: fmt.Sprintf("repo %s is not available, open it outside of a bubble first", t.OrgRepo()),
			Err:    domain.ErrMirrorNotFound,
		}
	}
	return t, nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// sanitizeForLog cuts s to max bytes and escapes line breaks and tabs
func sanitizeForLog(s string, max int) string {
	if len(s) > max {
		s = s[:max]
	}
	return strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(s)
}
