package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	stage   Stage
	errors  []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	// Format: [STAGE] current/total - message or entry id
	var msg string
	if event.Message != "" {
		msg = event.Message
	} else if event.CurrentID != "" {
		msg = event.CurrentID
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.ID != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.ID, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d entries reindexed in %s",
		stats.Entries, stats.Duration.Round(100*millisecond))

	if stats.Dropped > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d dropped)", stats.Dropped)
	}
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}

	_, _ = fmt.Fprintln(r.out)

	// Show detailed stage breakdown if available
	if stats.Stages.Scan > 0 || stats.Stages.Reindex > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Scan:      %s (entries enumerated)\n", stats.Stages.Scan.Round(100*millisecond))
		if stats.Stages.Reindex > 0 && stats.Entries > 0 {
			perSec := float64(stats.Entries) / stats.Stages.Reindex.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Reindex:   %s (%d entries @ %.1f/sec)\n",
				stats.Stages.Reindex.Round(100*millisecond), stats.Entries, perSec)
		}
		_, _ = fmt.Fprintf(r.out, "  Flush:     %s\n", stats.Stages.Flush.Round(100*millisecond))
		_, _ = fmt.Fprintf(r.out, "  Promotion: %s\n", stats.Stages.Promotion.Round(100*millisecond))
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

const millisecond = 1000000 // nanoseconds
