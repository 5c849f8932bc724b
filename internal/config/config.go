// Package config loads the object store's configuration from defaults, a
// user YAML file, and DATASTORE_* environment overrides, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete object store configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Flush     FlushConfig     `yaml:"flush" json:"flush"`
	Optimizer OptimizerConfig `yaml:"optimizer" json:"optimizer"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// PathsConfig locates the profile root and its computed subpaths.
type PathsConfig struct {
	// ProfileRoot is the directory layout.New roots itself under.
	// Default: ~/.sugar/default (the Sugar activity profile convention).
	ProfileRoot string `yaml:"profile_root" json:"profile_root"`
}

// IndexConfig describes the rebuild/promotion policy (§4.6). These values
// are loaded, validated and written to YAML, but internal/store does not
// read them: it applies its own compiled-in constants of the same defaults.
type IndexConfig struct {
	// MinFreeBytesForRebuild forces a startup rebuild when free space on
	// the profile's filesystem drops below this value.
	MinFreeBytesForRebuild uint64 `yaml:"min_free_bytes_for_rebuild" json:"min_free_bytes_for_rebuild"`
	// RebuildSizeMultiplier and RebuildSizeHeadroomBytes gate whether a
	// completed scratch rebuild is promoted back onto the primary disk:
	// promotion requires free >= size*Multiplier + Headroom.
	RebuildSizeMultiplier    float64 `yaml:"rebuild_size_multiplier" json:"rebuild_size_multiplier"`
	RebuildSizeHeadroomBytes uint64  `yaml:"rebuild_size_headroom_bytes" json:"rebuild_size_headroom_bytes"`
}

// FlushConfig describes the index's batched-write policy. internal/index
// does not read it: it applies its own compiled-in threshold and timeout.
type FlushConfig struct {
	// Threshold is the pending-write count beyond which a flush happens
	// immediately, bypassing the timer.
	Threshold int `yaml:"threshold" json:"threshold"`
	// Timeout is how long an index with pending writes waits before
	// flushing anyway.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// OptimizerConfig tunes content-hash dedup (component O).
type OptimizerConfig struct {
	// Enabled is reported by the `stats` command. internal/store does not
	// read it: create/update/delete call the optimizer whatever its value.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ServerConfig configures the JSON-RPC daemon.
type ServerConfig struct {
	SocketPath string        `yaml:"socket_path" json:"socket_path"`
	PIDPath    string        `yaml:"pid_path" json:"pid_path"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	AutoStart  bool          `yaml:"auto_start" json:"auto_start"`
}

// TelemetryConfig locates the per-operation metrics database that `stats`
// reads when Enabled is true. No command attaches a telemetry collector to
// the store (Store.SetMetrics), so the commands do not write to it.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	DBPath  string `yaml:"db_path" json:"db_path"`
}

// NewConfig returns a Config with sensible defaults.
func NewConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}

	return &Config{
		Paths: PathsConfig{
			ProfileRoot: filepath.Join(home, ".sugar", "default"),
		},
		Index: IndexConfig{
			MinFreeBytesForRebuild:   5 * 1024 * 1024,
			RebuildSizeMultiplier:    1.2,
			RebuildSizeHeadroomBytes: 5 * 1024 * 1024,
		},
		Flush: FlushConfig{
			Threshold: 20,
			Timeout:   5 * time.Second,
		},
		Optimizer: OptimizerConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			SocketPath: filepath.Join(home, ".sugar-datastore", "daemon.sock"),
			PIDPath:    filepath.Join(home, ".sugar-datastore", "daemon.pid"),
			Timeout:    30 * time.Second,
			AutoStart:  false,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			DBPath:  filepath.Join(home, ".sugar-datastore", "telemetry.db"),
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file,
// honoring XDG_CONFIG_HOME when set.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sugar-datastore", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "sugar-datastore", "config.yaml")
	}
	return filepath.Join(home, ".config", "sugar-datastore", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds a Config from defaults, the user config file (if present),
// and DATASTORE_* environment overrides, in that order.
func Load() (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		parsed, err := loadYAML(GetUserConfigPath())
		if err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
		cfg.mergeWith(parsed)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &parsed, nil
}

// mergeWith overlays other's non-zero fields onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Paths.ProfileRoot != "" {
		c.Paths.ProfileRoot = other.Paths.ProfileRoot
	}

	if other.Index.MinFreeBytesForRebuild != 0 {
		c.Index.MinFreeBytesForRebuild = other.Index.MinFreeBytesForRebuild
	}
	if other.Index.RebuildSizeMultiplier != 0 {
		c.Index.RebuildSizeMultiplier = other.Index.RebuildSizeMultiplier
	}
	if other.Index.RebuildSizeHeadroomBytes != 0 {
		c.Index.RebuildSizeHeadroomBytes = other.Index.RebuildSizeHeadroomBytes
	}

	if other.Flush.Threshold != 0 {
		c.Flush.Threshold = other.Flush.Threshold
	}
	if other.Flush.Timeout != 0 {
		c.Flush.Timeout = other.Flush.Timeout
	}

	// Can't distinguish "absent from file" from "set to false" on a bare
	// bool; a config file always wins for this field.
	c.Optimizer.Enabled = other.Optimizer.Enabled

	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.PIDPath != "" {
		c.Server.PIDPath = other.Server.PIDPath
	}
	if other.Server.Timeout != 0 {
		c.Server.Timeout = other.Server.Timeout
	}
	if other.Server.AutoStart {
		c.Server.AutoStart = other.Server.AutoStart
	}

	if other.Telemetry.DBPath != "" {
		c.Telemetry.DBPath = other.Telemetry.DBPath
	}
}

// applyEnvOverrides applies DATASTORE_* environment variable overrides,
// the highest-precedence tier.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATASTORE_PROFILE_ROOT"); v != "" {
		c.Paths.ProfileRoot = v
	}
	if v := os.Getenv("DATASTORE_FLUSH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Flush.Threshold = n
		}
	}
	if v := os.Getenv("DATASTORE_FLUSH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Flush.Timeout = d
		}
	}
	if v := os.Getenv("DATASTORE_OPTIMIZER_ENABLED"); v != "" {
		c.Optimizer.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("DATASTORE_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("DATASTORE_SERVER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Server.Timeout = d
		}
	}
	if v := os.Getenv("DATASTORE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("DATASTORE_TELEMETRY_DB_PATH"); v != "" {
		c.Telemetry.DBPath = v
	}
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Paths.ProfileRoot == "" {
		return fmt.Errorf("paths.profile_root must not be empty")
	}
	if c.Index.RebuildSizeMultiplier <= 0 {
		return fmt.Errorf("index.rebuild_size_multiplier must be positive, got %f", c.Index.RebuildSizeMultiplier)
	}
	if c.Flush.Threshold <= 0 {
		return fmt.Errorf("flush.threshold must be positive, got %d", c.Flush.Threshold)
	}
	if c.Flush.Timeout <= 0 {
		return fmt.Errorf("flush.timeout must be positive, got %s", c.Flush.Timeout)
	}
	if c.Server.SocketPath == "" {
		return fmt.Errorf("server.socket_path must not be empty")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Telemetry.Enabled && c.Telemetry.DBPath == "" {
		return fmt.Errorf("telemetry.db_path must not be empty when telemetry.enabled is true")
	}
	return nil
}

// WriteYAML writes the configuration to path as YAML.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
