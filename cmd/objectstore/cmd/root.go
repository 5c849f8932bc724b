// Package cmd provides the CLI commands for the object store.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sugarlabs/sugar-datastore/internal/config"
	"github.com/sugarlabs/sugar-datastore/internal/logging"
	"github.com/sugarlabs/sugar-datastore/pkg/version"
)

var (
	profileRoot   string
	debugMode     bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the objectstore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "objectstore",
		Short:   "Per-profile object store: properties, payloads, and a rebuildable index",
		Long: `objectstore manages one profile's worth of objects: a property bag
plus an optional payload per entry, backed by a crash-recoverable inverted
index.

Run 'objectstore init' once per profile, then 'put'/'get'/'find'/'rm' to
manage entries, 'doctor'/'stats' to inspect health, and 'rebuild' to force
a full index rebuild.`,
		Version:       version.Version,
		SilenceUsage:  true,
	}

	cmd.SetVersionTemplate("objectstore version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&profileRoot, "profile-root", "", "Profile root directory (default: config paths.profile_root)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newFindCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables debug logging to ~/.sugar-datastore/logs/ when
// --debug is set.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// resolveProfileRoot returns the --profile-root flag value if set,
// otherwise the configured default.
func resolveProfileRoot() string {
	if profileRoot != "" {
		return profileRoot
	}
	cfg, err := config.Load()
	if err != nil {
		return config.NewConfig().Paths.ProfileRoot
	}
	return cfg.Paths.ProfileRoot
}
