package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTUIRenderer_ReturnsNilForNonTTY(t *testing.T) {
	// Given: a non-TTY buffer
	buf := &bytes.Buffer{}
	cfg := NewConfig(buf)

	// When: creating TUI renderer
	r, err := NewTUIRenderer(cfg)

	// Then: returns error (can't create TUI for non-TTY)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestRebuildModel_InitialView(t *testing.T) {
	// Given: a new rebuild model with properly initialized tracker
	tracker := NewProgressTracker()
	model := newRebuildModel(tracker, "")

	// When: getting initial view
	view := model.View()

	// Then: view contains stage indicators
	assert.Contains(t, view, "Scan")
}

func TestRebuildModel_StageIndicators(t *testing.T) {
	// Given: a model at different stages
	tracker := NewProgressTracker()
	model := newRebuildModel(tracker, "")

	// When: rendering at scanning stage
	tracker.SetStage(StageScanning, 100)
	view := model.View()

	// Then: all stage indicators are shown (short names)
	assert.Contains(t, view, "Scan")
	assert.Contains(t, view, "Reindex")
	assert.Contains(t, view, "Flush")
	assert.Contains(t, view, "Promote")
}

func TestRebuildModel_ProgressDisplay(t *testing.T) {
	// Given: a model with progress
	tracker := NewProgressTracker()
	tracker.SetStage(StageScanning, 100)
	tracker.Update(50, "obj-123")

	model := newRebuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: progress is shown
	assert.Contains(t, view, "50")
	assert.Contains(t, view, "100")
}

func TestRebuildModel_EntryDisplay(t *testing.T) {
	// Given: a model with a current entry id
	tracker := NewProgressTracker()
	tracker.SetStage(StageScanning, 100)
	tracker.Update(1, "object-id-button-abcdef")

	model := newRebuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: entry id is shown (possibly truncated)
	assert.Contains(t, view, "abcdef")
}

func TestRebuildModel_ErrorDisplay(t *testing.T) {
	// Given: a model with errors
	tracker := NewProgressTracker()
	tracker.AddError(ErrorEvent{
		ID:     "obj-broken",
		Err:    assert.AnError,
		IsWarn: false,
	})
	tracker.AddError(ErrorEvent{
		ID:     "obj-large",
		Err:    assert.AnError,
		IsWarn: true,
	})

	model := newRebuildModel(tracker, "")

	// When: rendering view
	view := model.View()

	// Then: error count is shown
	assert.Contains(t, view, "1")
}

func TestRebuildModel_CompletionState(t *testing.T) {
	// Given: a completed model
	tracker := NewProgressTracker()
	tracker.SetStage(StageComplete, 0)

	model := newRebuildModel(tracker, "")
	model.complete = true
	model.stats = CompletionStats{
		Entries: 100,
		Dropped: 5,
	}

	// When: rendering view
	view := model.View()

	// Then: shows completion
	assert.Contains(t, view, "Complete")
}

func TestTruncateID_Short(t *testing.T) {
	// Given: a short id
	id := "obj-123"

	// When: truncating
	result := truncateID(id, 50)

	// Then: unchanged
	assert.Equal(t, id, result)
}

func TestTruncateID_Long(t *testing.T) {
	// Given: a long id
	id := "deadbeef-deadbeef-deadbeef-deadbeef-deadbeef"

	// When: truncating to 30 chars
	result := truncateID(id, 30)

	// Then: truncated with ellipsis, keeping the trailing characters
	assert.LessOrEqual(t, len(result), 30)
	assert.Contains(t, result, "...")
}

func TestTruncateID_Empty(t *testing.T) {
	// Given: empty id
	id := ""

	// When: truncating
	result := truncateID(id, 50)

	// Then: returns empty
	assert.Equal(t, "", result)
}

func TestTUIRenderer_InterfaceCompliance(t *testing.T) {
	// Ensure TUIRenderer implements Renderer
	var _ Renderer = (*TUIRenderer)(nil)
}
