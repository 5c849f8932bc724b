package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sugarlabs/sugar-datastore/internal/telemetry"
)

// StatusInfo contains profile health information for the stats command.
type StatusInfo struct {
	// Profile identity
	ProfileRoot string    `json:"profile_root"`
	EntryCount  int       `json:"entry_count"`
	LastRebuilt time.Time `json:"last_rebuilt"`

	// Health
	Clean      bool  `json:"clean"`       // the ds_clean flag is present (no mutation left unfinished)
	IndexValid bool  `json:"index_valid"` // the index_updated marker is present
	FreeBytes  int64 `json:"free_bytes"`

	// Storage sizes (in bytes)
	MetadataSize int64 `json:"metadata_size"`
	IndexSize    int64 `json:"index_size"`
	PayloadSize  int64 `json:"payload_size"`
	TotalSize    int64 `json:"total_size"`

	// Feature flags
	OptimizerEnabled bool `json:"optimizer_enabled"`
	TelemetryEnabled bool `json:"telemetry_enabled"`

	// Metrics is the operation telemetry snapshot, present only when
	// telemetry is enabled and the stats command requested it.
	Metrics *telemetry.OperationMetricsSnapshot `json:"metrics,omitempty"`
}

// StatusRenderer displays profile status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Profile Status: "+info.ProfileRoot))

	// Entry stats
	_, _ = fmt.Fprintf(r.out, "  Entries:      %d\n", info.EntryCount)
	if !info.LastRebuilt.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last rebuilt: %s\n", formatTime(info.LastRebuilt))
	}
	_, _ = fmt.Fprintln(r.out)

	// Health
	_, _ = fmt.Fprintln(r.out, "  Health:")
	_, _ = fmt.Fprintf(r.out, "    State: %s\n", r.renderStatus(healthLabel(info.Clean)))
	_, _ = fmt.Fprintf(r.out, "    Index: %s\n", r.renderStatus(validLabel(info.IndexValid)))
	_, _ = fmt.Fprintf(r.out, "    Free:  %s\n", FormatBytes(info.FreeBytes))
	_, _ = fmt.Fprintln(r.out)

	// Storage sizes
	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata: %s\n", FormatBytes(info.MetadataSize))
	_, _ = fmt.Fprintf(r.out, "    Index:    %s\n", FormatBytes(info.IndexSize))
	_, _ = fmt.Fprintf(r.out, "    Payloads: %s\n", FormatBytes(info.PayloadSize))
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	// Feature flags
	_, _ = fmt.Fprintln(r.out, "  Features:")
	_, _ = fmt.Fprintf(r.out, "    Optimizer: %s\n", r.renderStatus(enabledLabel(info.OptimizerEnabled)))
	_, _ = fmt.Fprintf(r.out, "    Telemetry: %s\n", r.renderStatus(enabledLabel(info.TelemetryEnabled)))

	if info.Metrics != nil {
		_, _ = fmt.Fprintln(r.out)
		r.renderMetrics(info.Metrics)
	}

	return nil
}

func (r *StatusRenderer) renderMetrics(snap *telemetry.OperationMetricsSnapshot) {
	_, _ = fmt.Fprintln(r.out, "  Operations:")
	_, _ = fmt.Fprintf(r.out, "    Total:        %d\n", snap.TotalOperations)
	_, _ = fmt.Fprintf(r.out, "    Failures:     %d (%.1f%%)\n", snap.FailureCount, snap.FailureRate()*100)
	_, _ = fmt.Fprintf(r.out, "    Since:        %s\n", formatTime(snap.Since))

	ops := make([]telemetry.Operation, 0, len(snap.Counts))
	for op := range snap.Counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	for _, op := range ops {
		byOutcome := snap.Counts[op]
		_, _ = fmt.Fprintf(r.out, "      %-16s success=%-6d failure=%d\n",
			string(op), byOutcome[telemetry.OutcomeSuccess], byOutcome[telemetry.OutcomeFailure])
	}

	if len(snap.RecentFailures) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "    Recent failures (%d):\n", len(snap.RecentFailures))
		limit := len(snap.RecentFailures)
		if limit > 5 {
			limit = 5
		}
		for _, f := range snap.RecentFailures[:limit] {
			_, _ = fmt.Fprintf(r.out, "      %s  %-14s %s\n", f.Timestamp.Format("15:04:05"), string(f.Operation), f.ID)
		}
	}
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "clean", "valid", "enabled":
		return r.styles.Success.Render(status)
	case "dirty", "disabled":
		return r.styles.Warning.Render(status)
	case "invalid":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

func healthLabel(clean bool) string {
	if clean {
		return "clean"
	}
	return "dirty"
}

func validLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
