package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildCmd_EmptyProfile(t *testing.T) {
	root := t.TempDir()

	_, err := execRoot(t, root, "init")
	require.NoError(t, err)

	out, err := execRoot(t, root, "rebuild", "--no-tui")

	require.NoError(t, err)
	assert.Contains(t, out, "Complete: 0 entries")
}

func TestRebuildCmd_WithEntries(t *testing.T) {
	root := t.TempDir()

	_, err := execRoot(t, root, "put", "--prop", "title=a")
	require.NoError(t, err)
	_, err = execRoot(t, root, "put", "--prop", "title=b")
	require.NoError(t, err)

	out, err := execRoot(t, root, "rebuild", "--no-tui", "--no-color")

	require.NoError(t, err)
	assert.Contains(t, out, "[REINDEX]")
	assert.Contains(t, out, "Complete: 2 entries")
}
