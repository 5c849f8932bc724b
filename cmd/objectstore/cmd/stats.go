package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sugarlabs/sugar-datastore/internal/config"
	"github.com/sugarlabs/sugar-datastore/internal/telemetry"
	"github.com/sugarlabs/sugar-datastore/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var (
		asJSON     bool
		noColor    bool
		noMetrics  bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show profile health and storage statistics",
		Long: `Open the profile and report entry counts, clean/index state, disk
usage broken down by metadata/index/payload, and (when telemetry is
enabled) a snapshot of recent operation counts and failures.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, asJSON, noColor, noMetrics)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "Omit the operation telemetry snapshot")

	return cmd
}

func runStats(cmd *cobra.Command, asJSON, noColor, noMetrics bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	storeStats, err := s.Stats()
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	free, err := diskFreeBytes(storeStats.ProfileRoot)
	if err != nil {
		free = 0
	}

	info := ui.StatusInfo{
		ProfileRoot:      storeStats.ProfileRoot,
		EntryCount:       storeStats.EntryCount,
		Clean:            storeStats.Clean,
		IndexValid:       storeStats.IndexValid,
		FreeBytes:        int64(free),
		MetadataSize:     storeStats.MetadataSize,
		IndexSize:        storeStats.IndexSize,
		PayloadSize:      storeStats.PayloadSize,
		TotalSize:        storeStats.TotalSize,
		OptimizerEnabled: cfg.Optimizer.Enabled,
		TelemetryEnabled: cfg.Telemetry.Enabled,
	}

	if cfg.Telemetry.Enabled && !noMetrics {
		if snap, err := loadTelemetrySnapshot(cfg.Telemetry.DBPath); err == nil {
			info.Metrics = snap
		}
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)
	if asJSON {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// loadTelemetrySnapshot reads recent operation counts and failures directly
// from the telemetry database, independent of any running daemon's
// in-memory OperationMetrics.
func loadTelemetrySnapshot(dbPath string) (*telemetry.OperationMetricsSnapshot, error) {
	db, err := telemetry.OpenSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	failures, err := db.GetRecentFailures(20)
	if err != nil {
		return nil, err
	}

	counts, err := db.GetOperationCounts("0000-01-01", "9999-12-31")
	if err != nil {
		return nil, err
	}

	snap := &telemetry.OperationMetricsSnapshot{
		Counts:         counts,
		RecentFailures: failures,
	}
	for _, byOutcome := range counts {
		for outcome, n := range byOutcome {
			snap.TotalOperations += n
			if outcome == telemetry.OutcomeFailure {
				snap.FailureCount += n
			}
		}
	}
	return snap, nil
}
