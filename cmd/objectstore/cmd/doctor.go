package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sugarlabs/sugar-datastore/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the profile's on-disk state",
		Long: `Run read-only diagnostics against the profile root without opening it.

Checks:
  - layout_state: which of the four startup outcomes (empty / version
    mismatch / stale markers / clean) a real open would take
  - write_permissions: the profile root is writable
  - disk_space: free space against the rebuild-trigger threshold

Use --verbose for detail lines. Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, asJSON)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, asJSON bool) error {
	root := resolveProfileRoot()

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(root)

	if asJSON {
		return outputDoctorJSON(cmd, checker, results)
	}

	checker.PrintResults(results)

	if checker.HasCriticalFailures(results) {
		return &doctorError{message: "system check failed"}
	}
	return nil
}

type doctorError struct{ message string }

func (e *doctorError) Error() string { return e.message }

type doctorJSONOutput struct {
	Status string                   `json:"status"`
	Checks []preflight.CheckResult  `json:"checks"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	out := doctorJSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: results,
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
