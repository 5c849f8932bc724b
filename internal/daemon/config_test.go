package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_RejectsMissingSocketPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SocketPath = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsNonPositiveTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_EnsureDir_CreatesSocketAndPIDDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SocketPath = dir + "/nested/daemon.sock"
	cfg.PIDPath = dir + "/nested/daemon.pid"

	assert.NoError(t, cfg.EnsureDir())
}

func TestDefaultConfig_TimeoutIsPositive(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.Timeout, time.Duration(0))
}
