package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(cmd, args[0])
		},
	}
	return cmd
}

func runRm(cmd *cobra.Command, id string) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	if err := s.Delete(id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
	return nil
}
