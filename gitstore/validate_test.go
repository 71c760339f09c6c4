package gitstore

import (
	"path/filepath"
	"testing"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	for _, s := range []string{"mathlib4", "leanprover-community", "Qq", "a.b_c-d"} {
		assert.True(t, ValidName(s), s)
	}
	for _, s := range []string{"", ".", "..", "-x", "a/b", "a b", "a;b", "$(x)", "a`b`"} {
		assert.False(t, ValidName(s), s)
	}
}

func TestValidRefName(t *testing.T) {
	for _, s := range []string{"main", "feature/x", "fix-grind", "release/v4.16.0", "refs/tags/v1"} {
		assert.True(t, ValidRefName(s), s)
	}
	for _, s := range []string{"", "-x", "a..b", "a b", "a~1", "a^", "x:y", "a.lock", "/a", "a/", "a//b", "a/.b", "a@{1}", "a\x01"} {
		assert.False(t, ValidRefName(s), s)
	}
}

func TestValidPullNumber(t *testing.T) {
	assert.True(t, ValidPullNumber("35219"))
	assert.False(t, ValidPullNumber("0"))
	assert.False(t, ValidPullNumber("-1"))
	assert.False(t, ValidPullNumber("12a"))
}

func TestParseRemoteURL(t *testing.T) {
	tests := []struct {
		url              string
		host, owner, rep string
		ok               bool
	}{
		{"https://github.com/leanprover-community/mathlib4", "github.com", "leanprover-community", "mathlib4", true},
		{"https://github.com/leanprover-community/mathlib4.git", "github.com", "leanprover-community", "mathlib4", true},
		{"git@github.com:leanprover/lean4.git", "github.com", "leanprover", "lean4", true},
		{"ssh://git@GitHub.com/o/r.git", "github.com", "o", "r", true},
		{"https://github.com/o", "", "", "", false},
		{"/local/path", "", "", "", false},
		{"https://github.com/o/r/extra", "", "", "", false},
		{"--upload-pack=x@github.com:o/r", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			host, owner, repo, ok := ParseRemoteURL(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.rep, repo)
		})
	}
}

func TestRevision(t *testing.T) {
	assert.Equal(t, "refs/pull/7/head", Revision(domain.Target{Kind: domain.TargetKindPullRequest, Ref: "7"}))
	assert.Equal(t, "refs/heads/a/b", Revision(domain.Target{Kind: domain.TargetKindBranch, Ref: "a/b"}))
	assert.Equal(t, "abc1234", Revision(domain.Target{Kind: domain.TargetKindCommit, Ref: "abc1234"}))
	assert.Equal(t, "HEAD", Revision(domain.Target{}))
}

func TestReadFileAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repo")
	_, err := testutil.InitGitRepo(path, []testutil.RepoFile{{Path: "lean-toolchain", Content: "leanprover/lean4:v4.16.0\n"}})
	require.NoError(t, err)

	data, err := ReadFileAt(path, "HEAD", "lean-toolchain")
	require.NoError(t, err)
	assert.Equal(t, "leanprover/lean4:v4.16.0\n", string(data))

	_, err = ReadFileAt(path, "HEAD", "missing")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = ReadFileAt(path, "refs/heads/nope", "lean-toolchain")
	assert.Error(t, err)
}
