package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctorCmd_EmptyProfile(t *testing.T) {
	root := t.TempDir()

	out, err := execRoot(t, root, "doctor")

	require.NoError(t, err)
	assert.Contains(t, out, "Datastore Doctor")
	assert.Contains(t, out, "layout_state")
}

func TestDoctorCmd_JSONOutput(t *testing.T) {
	root := t.TempDir()

	out, err := execRoot(t, root, "doctor", "--json")

	require.NoError(t, err)

	var parsed doctorJSONOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.NotEmpty(t, parsed.Status)
	assert.NotEmpty(t, parsed.Checks)
}

func TestDoctorCmd_AfterInit(t *testing.T) {
	root := t.TempDir()

	_, err := execRoot(t, root, "init")
	require.NoError(t, err)

	out, err := execRoot(t, root, "doctor", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "disk_space")
}
