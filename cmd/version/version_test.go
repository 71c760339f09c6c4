package version

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oar-cd/bubble/app"
)

func TestNewCmdVersion(t *testing.T) {
	cmd := NewCmdVersion()

	assert.Equal(t, "version", cmd.Use)
	assert.Equal(t, "Show version information", cmd.Short)
	assert.Contains(t, cmd.Long, "Display version information for bubble")
	assert.Empty(t, cmd.Flags().FlagUsages())
	assert.Empty(t, cmd.Commands())
	assert.True(t, cmd.Runnable())
}

func TestVersionOutput(t *testing.T) {
	original := app.Version
	t.Cleanup(func() { app.Version = original })
	app.Version = "1.2.3"

	cmd := NewCmdVersion()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "1.2.3\n", stdout.String())
}

func TestVersionVariable(t *testing.T) {
	assert.Equal(t, "dev", app.Version)
}
