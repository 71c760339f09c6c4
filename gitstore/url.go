package gitstore

import (
	"net/url"
	"strings"
)

// ParseRemoteURL extracts host, owner and repository from a remote URL.
// It understands https, ssh and scp-like ("git@host:owner/repo.git") forms.
func ParseRemoteURL(raw string) (host, owner, repo string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "-") {
		return "", "", "", false
	}

	var path string
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return "", "", "", false
		}
		host = u.Hostname()
		path = u.Path
	} else if at := strings.Index(raw, "@"); at >= 0 && strings.Contains(raw[at:], ":") {
		rest := raw[at+1:]
		colon := strings.Index(rest, ":")
		host = rest[:colon]
		path = rest[colon+1:]
	} else {
		return "", "", "", false
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || !ValidName(parts[0]) || !ValidName(parts[1]) {
		return "", "", "", false
	}
	return strings.ToLower(host), parts[0], parts[1], true
}
