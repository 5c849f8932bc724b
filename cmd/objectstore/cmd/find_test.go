package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindCmd_ByPredicate(t *testing.T) {
	root := t.TempDir()

	_, err := execRoot(t, root, "put", "--prop", "title=a", "--prop", "activity=org.example.A")
	require.NoError(t, err)
	_, err = execRoot(t, root, "put", "--prop", "title=b", "--prop", "activity=org.example.B")
	require.NoError(t, err)

	out, err := execRoot(t, root, "find", "--predicate", "activity=org.example.A")

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, out, "# 1 of 1")
	assert.Len(t, lines, 2)
}

func TestFindCmd_InvalidPredicate(t *testing.T) {
	root := t.TempDir()

	_, err := execRoot(t, root, "find", "--predicate", "no-equals-sign")

	assert.Error(t, err)
}

func TestFindCmd_WithPropReturnsPropertyBags(t *testing.T) {
	root := t.TempDir()

	_, err := execRoot(t, root, "put", "--prop", "title=a", "--prop", "activity=org.example.A")
	require.NoError(t, err)

	out, err := execRoot(t, root, "find", "--predicate", "activity=org.example.A", "--prop", "title")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var bag map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &bag))
	assert.Equal(t, "a", bag["title"])
	_, hasActivity := bag["activity"]
	assert.False(t, hasActivity)

	assert.Contains(t, out, "# 1 of 1")
}
