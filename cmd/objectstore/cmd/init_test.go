package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCmd_CreatesProfile(t *testing.T) {
	root := t.TempDir()

	out, err := execRoot(t, root, "init")

	require.NoError(t, err)
	assert.Contains(t, out, "Profile ready")
	assert.Contains(t, out, root)
}

func TestInitCmd_WritesConfigOnce(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	out1, err := execRoot(t, root, "init")
	require.NoError(t, err)
	assert.Contains(t, out1, "Wrote config")

	out2, err := execRoot(t, root, "init")
	require.NoError(t, err)
	assert.Contains(t, out2, "already exists")
}

func TestInitCmd_Force(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := execRoot(t, root, "init")
	require.NoError(t, err)

	out, err := execRoot(t, root, "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote config")
}

func TestInitCmd_Idempotent(t *testing.T) {
	root := t.TempDir()

	_, err := execRoot(t, root, "init")
	require.NoError(t, err)

	out, err := execRoot(t, root, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile ready")
}
