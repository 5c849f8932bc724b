package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	var file bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read an entry's properties or payload path",
		Args:  cobra.ExactArgs(1),
		Long: `Print an entry's property bag, one "key=value" per line, sorted by key.

With --file, produce a caller-accessible hard link to the payload (a
symlink across devices, using a MIME-derived extension) and print its
path instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args[0], file)
		},
	}

	cmd.Flags().BoolVar(&file, "file", false, "Print the payload's file path instead of properties")

	return cmd
}

func runGet(cmd *cobra.Command, id string, file bool) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	if file {
		path, err := s.GetFilename(id)
		if err != nil {
			return fmt.Errorf("get filename: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	}

	bag, err := s.GetProperties(id)
	if err != nil {
		return fmt.Errorf("get properties: %w", err)
	}

	keys := make([]string, 0, len(bag))
	for k := range bag {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := cmd.OutOrStdout()
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, bag[k])
	}
	return nil
}
