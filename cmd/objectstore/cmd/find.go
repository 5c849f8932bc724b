package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sugarlabs/sugar-datastore/internal/index"
)

func newFindCmd() *cobra.Command {
	var (
		query          string
		predicates     []string
		orderBy        string
		offset         int
		limit          int
		requestedProps []string
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Query entries",
		Long: `Query entries by free text and/or structured predicates.

Each --predicate is field=value; repeat for multiple fields (AND'd
together). --order-by takes a field name prefixed with + (ascending,
default) or - (descending).

Without --prop, find behaves as find_ids and prints one id per line.
With one or more --prop, it loads and prints each hit's property bag
(as JSON) trimmed to the requested names.`,
		Example: `  objectstore find --query "hello"
  objectstore find --predicate activity=org.example.A --order-by=-timestamp
  objectstore find --limit 10 --offset 20
  objectstore find --query "hello" --prop title --prop mime_type`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFind(cmd, query, predicates, orderBy, offset, limit, requestedProps)
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "Free-text query")
	cmd.Flags().StringArrayVar(&predicates, "predicate", nil, "Structured predicate field=value (repeatable)")
	cmd.Flags().StringVar(&orderBy, "order-by", "", "Sort field, prefixed with + or -")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	cmd.Flags().IntVar(&limit, "limit", 0, "Result limit (0 = default)")
	cmd.Flags().StringArrayVar(&requestedProps, "prop", nil, "Return property bags trimmed to this name (repeatable); switches find to bag mode")

	return cmd
}

func runFind(cmd *cobra.Command, query string, predicates []string, orderBy string, offset, limit int, requestedProps []string) error {
	preds := make(map[string]interface{}, len(predicates))
	for _, p := range predicates {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("invalid --predicate %q, expected field=value", p)
		}
		preds[k] = v
	}

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	q := index.Query{
		Text:       query,
		Offset:     offset,
		Limit:      limit,
		OrderBy:    orderBy,
		Predicates: preds,
	}

	w := cmd.OutOrStdout()

	if len(requestedProps) > 0 {
		bags, total, err := s.Find(q, requestedProps)
		if err != nil {
			return fmt.Errorf("find: %w", err)
		}
		enc := json.NewEncoder(w)
		for _, bag := range bags {
			out := make(map[string]string, len(bag))
			for k, v := range bag {
				out[k] = string(v)
			}
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
		}
		fmt.Fprintf(w, "# %d of %d\n", len(bags), total)
		return nil
	}

	ids, total, err := s.FindIDs(q)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}

	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	fmt.Fprintf(w, "# %d of %d\n", len(ids), total)
	return nil
}
