package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPutCmd() *cobra.Command {
	var (
		props  []string
		source string
		move   bool
	)

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create a new entry",
		Long: `Create a new entry with the given properties and an optional payload.

Every --prop is a key=value pair. timestamp, creation_time, and filesize
are computed automatically if omitted.`,
		Example: `  # Create an entry with a title and a payload
  objectstore put --prop title="hello world" --source ./notes.txt

  # Move the source file into the store instead of copying it
  objectstore put --prop title=foo --source ./big.bin --move`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPut(cmd, props, source, move)
		},
	}

	cmd.Flags().StringArrayVar(&props, "prop", nil, "Property key=value (repeatable)")
	cmd.Flags().StringVar(&source, "source", "", "Path to a file to use as the payload")
	cmd.Flags().BoolVar(&move, "move", false, "Move (rather than copy) the source file into the store")

	return cmd
}

func runPut(cmd *cobra.Command, props []string, source string, move bool) error {
	bag := make(map[string][]byte, len(props))
	for _, p := range props {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("invalid --prop %q, expected key=value", p)
		}
		bag[k] = []byte(v)
	}

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	id, err := s.Create(bag, source, move)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
