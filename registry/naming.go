package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/oar-cd/bubble/domain"
)

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)
	repeatedHyphens  = regexp.MustCompile(`-{2,}`)
)

const maxSuffix = 999

// GenerateName returns the base name for a target, before collision handling.
// Local checkouts get a counter from AllocateName instead.
func GenerateName(t domain.Target, now time.Time) string {
	repo := strings.ToLower(t.Repo)
	switch t.Kind {
	case domain.TargetKindPullRequest:
		return sanitize(repo, "pr", t.Ref)
	case domain.TargetKindBranch:
		return sanitize(repo, "branch", slug.Make(t.Ref))
	case domain.TargetKindCommit:
		ref := t.Ref
		if len(ref) > 12 {
			ref = ref[:12]
		}
		return sanitize(repo, "commit", ref)
	default:
		return sanitize(repo, "main", now.Format("20060102"))
	}
}

// sanitize joins parts into a container-safe name: lowercase [a-z0-9-],
// single hyphens, starting with a letter.
func sanitize(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	name := strings.ToLower(strings.Join(kept, "-"))
	name = invalidNameChars.ReplaceAllString(name, "-")
	name = repeatedHyphens.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		name = "b-" + name
	}
	return strings.TrimSuffix(name, "-")
}

func localName(repo string, n int) string {
	return sanitize(strings.ToLower(repo), "local", fmt.Sprint(n))
}

// deduplicate appends -2, -3, ... to base until taken reports false
func deduplicate(base string, taken func(string) bool) (string, error) {
	if !taken(base) {
		return base, nil
	}
	for i := 2; i <= maxSuffix; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not find a free name for %q", base)
}
