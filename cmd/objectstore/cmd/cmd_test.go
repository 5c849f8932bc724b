package cmd

import (
	"bytes"
	"os"
	"testing"
)

// execRoot runs the root command with the given args against profileRoot,
// returning combined stdout. Callers that care about config-file state
// should set XDG_CONFIG_HOME themselves before calling; execRoot isolates
// it to a fresh directory only when the caller hasn't.
func execRoot(t *testing.T, profileRoot string, args ...string) (string, error) {
	t.Helper()
	if _, set := os.LookupEnv("XDG_CONFIG_HOME"); !set {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	}

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--profile-root", profileRoot}, args...))

	err := root.Execute()
	return out.String(), err
}
