package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sugarlabs/sugar-datastore/internal/store"
	"github.com/sugarlabs/sugar-datastore/internal/ui"
)

func newRebuildCmd() *cobra.Command {
	var (
		noTUI   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Force a full index rebuild",
		Long: `Force the four-stage rebuild (scan, reindex, flush, promote) that
startup otherwise only runs when the layout version is old, its markers
are stale, or disk space is low. Payloads are not rewritten; missing
uid/filesize/timestamp/creation_time properties are filled in, and
entries whose metadata cannot be read are removed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd, noTUI, noColor)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Force plain text progress output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runRebuild(cmd *cobra.Command, noTUI, noColor bool) error {
	s, err := openStore()
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer func() { _ = s.Stop() }()

	cfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI),
		ui.WithNoColor(noColor),
		ui.WithProjectDir(s.Root()),
	)
	renderer := ui.NewRenderer(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("start progress renderer: %w", err)
	}

	start := time.Now()
	entries, dropped := 0, 0
	errCount, warnCount := 0, 0

	rebuildErr := s.Rebuild(func(p store.RebuildProgress) {
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:     rebuildStageToUIStage(p.Stage),
			Current:   p.Current,
			Total:     p.Total,
			CurrentID: p.ID,
		})

		if p.Stage != store.RebuildStageReindexing {
			return
		}
		entries++
		if p.Err != nil {
			dropped++
			warnCount++
			renderer.AddError(ui.ErrorEvent{ID: p.ID, Err: p.Err, IsWarn: true})
		}
	})

	if rebuildErr != nil {
		errCount++
		renderer.AddError(ui.ErrorEvent{Err: rebuildErr})
	}

	renderer.Complete(ui.CompletionStats{
		Entries:  entries,
		Dropped:  dropped,
		Duration: time.Since(start),
		Errors:   errCount,
		Warnings: warnCount,
	})

	if err := renderer.Stop(); err != nil {
		return fmt.Errorf("stop progress renderer: %w", err)
	}

	return rebuildErr
}

func rebuildStageToUIStage(s store.RebuildStage) ui.Stage {
	switch s {
	case store.RebuildStageScanning:
		return ui.StageScanning
	case store.RebuildStageReindexing:
		return ui.StageReindexing
	case store.RebuildStageFlushing:
		return ui.StageFlushing
	case store.RebuildStagePromoting:
		return ui.StagePromoting
	default:
		return ui.StageScanning
	}
}
