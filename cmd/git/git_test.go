package git

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/config"
)

type testEnv struct{ home string }

func (e testEnv) Getenv(string) string          { return "" }
func (e testEnv) UserHomeDir() (string, error) { return e.home, nil }

func setupApp(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.NewConfigForCLIWithEnv(testEnv{home: t.TempDir()}, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, app.InitializeWithConfig(cfg))
	t.Cleanup(app.Close)
	return cfg
}

func TestNewCmdGitList(t *testing.T) {
	cfg := setupApp(t)

	cmd := NewCmdGit()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "No mirrors found.")

	// Half-written mirrors without a HEAD are not listed
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.GitDir, "leanprover", "lean4.git"), 0o755))
	stdout.Reset()
	cmd = NewCmdGit()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "No mirrors found.")
}

func TestNewCmdGitUpdate_RejectsLocalReference(t *testing.T) {
	setupApp(t)

	cmd := NewCmdGit()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"update", "./checkout"})
	assert.Error(t, cmd.Execute())
}
