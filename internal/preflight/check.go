// Package preflight runs diagnostics against a profile root without
// opening the store (the only writes are creating the profile root if
// absent and a temporary probe file for the permission check), mirroring the four disjoint startup outcomes
// of the orchestrator (internal/store) so `doctor` can report what a real
// Open would do without doing it.
package preflight

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sugarlabs/sugar-datastore/internal/layout"
)

// CheckStatus is the result of a single preflight check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// MinFreeBytes mirrors the orchestrator's rebuild-on-low-space threshold
// (internal/store.minFreeBytesForRebuild).
const MinFreeBytes = 5 * 1024 * 1024

// CurrentLayoutVersion mirrors internal/store.currentLayoutVersion.
const CurrentLayoutVersion = 1

// Checker runs preflight diagnostics against a profile root.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// New creates a Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against profileRoot and returns the results in a
// fixed order: layout state, write permissions, disk space.
func (c *Checker) RunAll(profileRoot string) []CheckResult {
	return []CheckResult{
		c.CheckLayoutState(profileRoot),
		c.CheckWritePermissions(profileRoot),
		c.CheckDiskSpace(profileRoot),
	}
}

// CheckLayoutState reports which of the four disjoint startup outcomes
// (see internal/store.startup) a real Open would take.
func (c *Checker) CheckLayoutState(profileRoot string) CheckResult {
	result := CheckResult{Name: "layout_state", Required: true}

	l := layout.New(profileRoot)
	empty, err := l.IsEmpty()
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot probe layout: %v", err)
		return result
	}

	switch {
	case empty:
		result.Status = StatusPass
		result.Message = "empty profile, will initialize on first open"
	case l.GetVersion() < CurrentLayoutVersion:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("layout version %d < %d, will migrate and rebuild", l.GetVersion(), CurrentLayoutVersion)
	case !l.HasIndexMarker() || !l.IsClean():
		result.Status = StatusWarn
		result.Message = "stale markers, will rebuild index on next open"
		result.Details = fmt.Sprintf("index marker present=%v clean=%v", l.HasIndexMarker(), l.IsClean())
	default:
		result.Status = StatusPass
		result.Message = "clean, index markers present"
	}
	return result
}

// CheckWritePermissions verifies the profile root is writable.
func (c *Checker) CheckWritePermissions(profileRoot string) CheckResult {
	result := CheckResult{Name: "write_permissions", Required: true}

	if err := os.MkdirAll(profileRoot, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create profile root: %v", err)
		return result
	}

	testFile := filepath.Join(profileRoot, ".preflight-write-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckDiskSpace reports whether free space is above the rebuild threshold.
func (c *Checker) CheckDiskSpace(profileRoot string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: false}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(profileRoot, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	msg := fmt.Sprintf("%s free (minimum: %s)", formatBytes(free), formatBytes(MinFreeBytes))
	if free < MinFreeBytes {
		result.Status = StatusWarn
		result.Message = msg
		result.Details = "below this threshold the orchestrator forces a rebuild into scratch space"
		return result
	}
	result.Status = StatusPass
	result.Message = msg
	return result
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus summarizes the overall outcome of a set of results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false
	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}
	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a human-readable report to the Checker's output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "Datastore Doctor")
	_, _ = fmt.Fprintln(c.output, "================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	status := c.SummaryStatus(results)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(status))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status == StatusWarn {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/gb)
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/mb)
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/kb)
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
