package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sugarlabs/sugar-datastore/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a profile and write the default configuration",
		Long: `Initialize a profile root.

This command:
1. Writes ~/.config/sugar-datastore/config.yaml if it doesn't already exist
2. Opens the profile root, running the startup recovery path (layout
   version check, rebuild-if-needed) so the profile is ready to use`,
		Example: `  # Initialize the default profile
  objectstore init

  # Overwrite an existing config file
  objectstore init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	w := cmd.OutOrStdout()

	if force || !config.UserConfigExists() {
		cfg := config.NewConfig()
		if err := cfg.WriteYAML(config.GetUserConfigPath()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(w, "Wrote config to %s\n", config.GetUserConfigPath())
	} else {
		fmt.Fprintf(w, "Config already exists at %s (use --force to overwrite)\n", config.GetUserConfigPath())
	}

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	fmt.Fprintf(w, "Profile ready at %s\n", s.Root())
	return nil
}
