package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/gitstore"
	"github.com/oar-cd/bubble/target"
)

func testBubble() *domain.Bubble {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Bubble{
		Name: "mathlib4-pr-35219",
		Target: domain.Target{
			Owner: "leanprover-community",
			Repo:  "mathlib4",
			Kind:  domain.TargetKindPullRequest,
			Ref:   "35219",
		},
		State:     domain.BubbleStateRunning,
		Image:     "lean:v4.19.0",
		Hook:      "lean",
		Commit:    "0123456789abcdef0123456789abcdef01234567",
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestPrintMessage_NoColor(t *testing.T) {
	InitColors(true)
	assert.Equal(t, "done: 3\n", PrintMessage(Success, "done: %d", 3))
	assert.Equal(t, "plain\n", PrintMessage(Plain, "plain"))
}

func TestFprint_Streams(t *testing.T) {
	InitColors(true)
	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	require.NoError(t, FprintPlain(cmd, "a"))
	require.NoError(t, FprintSuccess(cmd, "b"))
	require.NoError(t, FprintWarning(cmd, "c"))
	require.NoError(t, FprintError(cmd, "d"))

	assert.Equal(t, "a\nb\n", stdout.String())
	assert.Equal(t, "c\nd\n", stderr.String())
}

func TestPrintBubbleDetails(t *testing.T) {
	out, err := PrintBubbleDetails(testBubble(), domain.ContainerStatusRunning)
	require.NoError(t, err)

	for _, want := range []string{
		"mathlib4-pr-35219",
		"leanprover-community/mathlib4/pull/35219",
		"lean:v4.19.0",
		"0123456789ab",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "0123456789abcdef0123")
	assert.NotContains(t, out, "Archived At")
}

func TestPrintBubbleDetails_Archived(t *testing.T) {
	b := testBubble()
	b.State = domain.BubbleStateArchived
	b.Archive = &domain.ArchivePayload{ArchivedAt: b.UpdatedAt, SessionState: `{"x":1}`}

	out, err := PrintBubbleDetails(b, domain.ContainerStatusMissing)
	require.NoError(t, err)
	assert.Contains(t, out, "Archived At")
	assert.Contains(t, out, "saved")
}

func TestPrintBubbleList(t *testing.T) {
	InitColors(true)

	out, err := PrintBubbleList(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "No bubbles found.\n", out)

	other := testBubble()
	other.Name = "batteries-main"
	other.Target = domain.Target{Owner: "leanprover-community", Repo: "batteries"}

	out, err = PrintBubbleList([]*domain.Bubble{testBubble(), other}, nil)
	require.NoError(t, err)
	assert.NotContains(t, strings.ToUpper(out), "CLEAN")
	assert.Contains(t, out, "batteries-main")

	out, err = PrintBubbleList([]*domain.Bubble{testBubble(), other}, map[string]domain.CleanStatus{
		"mathlib4-pr-35219": {Clean: false, Reasons: []string{"dirty_worktree"}},
	})
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(out), "CLEAN")
	assert.Contains(t, out, "uncommitted changes")
}

func TestPrintRelayRequests(t *testing.T) {
	InitColors(true)

	out, err := PrintRelayRequests(nil)
	require.NoError(t, err)
	assert.Equal(t, "No relay requests recorded.\n", out)

	out, err = PrintRelayRequests([]*domain.RelayRequest{
		{ContainerName: "a", Target: "batteries", Outcome: domain.RelayOutcomeAccepted, BubbleName: "batteries-main"},
		{ContainerName: "a", Target: "/etc", Outcome: domain.RelayOutcomeRejected, Reason: "local paths are not allowed via relay"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "batteries-main")
	assert.Contains(t, out, "local paths are not allowed")
}

func TestPrintMirrorList(t *testing.T) {
	InitColors(true)

	out, err := PrintMirrorList(nil)
	require.NoError(t, err)
	assert.Equal(t, "No mirrors found.\n", out)

	out, err = PrintMirrorList([]*gitstore.Mirror{
		{Owner: "leanprover", Repo: "lean4", Path: "/data/git/leanprover/lean4.git"},
		{
			Owner:         "leanprover-community",
			Repo:          "mathlib4",
			Path:          "/data/git/leanprover-community/mathlib4.git",
			LastRefreshed: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "leanprover/lean4")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "leanprover-community/mathlib4")
}

func TestPrintAliasList(t *testing.T) {
	InitColors(true)

	out, err := PrintAliasList([]target.AliasEntry{
		{Name: "mathlib4", Target: "leanprover-community/mathlib4", Builtin: true},
		{Name: "tools", Ambiguous: []string{"acme/tools", "other/tools"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "built-in")
	assert.Contains(t, out, "ambiguous: acme/tools, other/tools")
}

func TestNoColorFlag(t *testing.T) {
	flag := &noColorFlag{}
	assert.False(t, flag.IsSet())
	assert.Equal(t, "false", flag.String())
	assert.Equal(t, "bool", flag.Type())
	assert.True(t, flag.IsBoolFlag())

	require.NoError(t, flag.Set("anything"))
	assert.True(t, flag.IsSet())
	assert.Equal(t, "true", flag.String())
}
