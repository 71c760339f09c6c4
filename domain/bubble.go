package domain

import (
	"strings"
	"time"
)

const (
	// ProjectRoot is the directory inside a container that holds the cloned project
	ProjectRoot = "/home/user"
	// MetaDir is the directory inside a container reserved for bubble metadata
	MetaDir = "/bubble"
	// RelaySocketMount is where the relay socket is bind-mounted inside a container
	RelaySocketMount = MetaDir + "/relay.sock"
	// RelayTokenPath is the container-side identity file read by relay clients
	RelayTokenPath = MetaDir + "/relay-token"
	// SessionStatePath holds auxiliary session state saved across archive/reconstitute
	SessionStatePath = MetaDir + "/session.json"
)

// Bubble is the unit of lifecycle tracking
type Bubble struct {
	Name      string      `json:"name"`
	Target    Target      `json:"target"`
	State     BubbleState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	Image          string   `json:"image,omitempty"`
	Hook           string   `json:"hook,omitempty"`
	Toolchain      string   `json:"toolchain,omitempty"`
	Commit         string   `json:"commit,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	NetworkDomains []string `json:"network_domains,omitempty"`

	// ProvisionPID is the process provisioning a created bubble
	ProvisionPID int `json:"provision_pid,omitempty"`
	// ProvisionHost is the host ProvisionPID lives on
	ProvisionHost string `json:"provision_host,omitempty"`

	Archive *ArchivePayload `json:"archive,omitempty"`
}

// ArchivePayload is what is kept of a bubble after its container is gone
type ArchivePayload struct {
	ArchivedAt   time.Time `json:"archived_at"`
	Commit       string    `json:"commit,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	Image        string    `json:"image,omitempty"`
	Toolchain    string    `json:"toolchain,omitempty"`
	SessionState string    `json:"session_state,omitempty"`
}

// ProjectDir returns the project checkout path inside the container
func (b *Bubble) ProjectDir() string {
	return ProjectRoot + "/" + b.Target.Repo
}

// Live reports whether the bubble still owns a container
func (b *Bubble) Live() bool {
	switch b.State {
	case BubbleStateCreated, BubbleStateRunning, BubbleStatePaused:
		return true
	default:
		return false
	}
}

// CleanStatus is the result of a cleanness check inside a container
type CleanStatus struct {
	Clean   bool
	Reasons []string
	Error   string
}

// Summary returns a one-line human-readable description
func (c CleanStatus) Summary() string {
	if c.Error != "" {
		return c.Error
	}
	if c.Clean {
		return "clean"
	}
	return strings.Join(FormatCleanReasons(c.Reasons), ", ")
}

// FormatCleanReasons translates machine-readable reasons into human-readable strings
func FormatCleanReasons(reasons []string) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if branch, ok := strings.CutPrefix(r, "unpushed:"); ok {
			out = append(out, "unpushed commits on "+branch)
			continue
		}
		if branch, ok := strings.CutPrefix(r, "untracked_branch:"); ok {
			out = append(out, "untracked branch "+branch)
			continue
		}
		switch r {
		case "extra_files":
			out = append(out, "extra files in home")
		case "dirty_worktree":
			out = append(out, "uncommitted changes")
		case "stashes":
			out = append(out, "git stashes")
		case "no_git":
			out = append(out, "no git repository")
		default:
			out = append(out, r)
		}
	}
	return out
}
