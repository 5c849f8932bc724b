package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEntryPath_UsesTwoCharShard(t *testing.T) {
	m := New(t.TempDir())
	id := "01234567-89ab-cdef-0123-456789abcdef"

	got := m.GetEntryPath(id)

	want := filepath.Join(m.Root(), "01", id)
	assert.Equal(t, want, got)
}

func TestGetDataPath_GetMetadataPath(t *testing.T) {
	m := New(t.TempDir())
	id := uuid.NewString()

	assert.Equal(t, filepath.Join(m.GetEntryPath(id), "data"), m.GetDataPath(id))
	assert.Equal(t, filepath.Join(m.GetEntryPath(id), "metadata"), m.GetMetadataPath(id))
}

func TestGetIndexPath_GetChecksumsDir_GetQueuePath(t *testing.T) {
	m := New(t.TempDir())

	assert.Equal(t, filepath.Join(m.Root(), "index"), m.GetIndexPath())
	assert.Equal(t, filepath.Join(m.Root(), "checksums"), m.GetChecksumsDir())
	assert.Equal(t, filepath.Join(m.Root(), "checksums", "queue"), m.GetQueuePath())
}

func TestGetVersion_DefaultsToZeroWhenMissing(t *testing.T) {
	m := New(t.TempDir())

	assert.Equal(t, 0, m.GetVersion())
}

func TestGetVersion_DefaultsToZeroWhenMalformed(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, os.MkdirAll(m.Root(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root(), "version"), []byte("not-a-number"), 0o644))

	assert.Equal(t, 0, m.GetVersion())
}

func TestSetVersion_GetVersion_RoundTrips(t *testing.T) {
	m := New(t.TempDir())

	require.NoError(t, m.SetVersion(1))

	assert.Equal(t, 1, m.GetVersion())
}

func TestMarkDirty_MarkClean(t *testing.T) {
	m := New(t.TempDir())

	require.NoError(t, m.MarkClean())
	assert.True(t, m.IsClean())

	require.NoError(t, m.MarkDirty())
	assert.False(t, m.IsClean())

	require.NoError(t, m.MarkDirty()) // idempotent when already absent
	assert.False(t, m.IsClean())
}

func TestHasIndexMarker(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, os.MkdirAll(m.Root(), 0o755))

	assert.False(t, m.HasIndexMarker())

	f, err := os.Create(m.GetIndexMarkerPath())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, m.HasIndexMarker())
}

func TestFindAll_EnumeratesShardedIds(t *testing.T) {
	m := New(t.TempDir())
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

	for _, id := range ids {
		require.NoError(t, m.EnsureEntryDirs(id))
	}

	got, err := m.FindAll()
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)
}

func TestFindAll_EmptyRootReturnsNoIds(t *testing.T) {
	m := New(t.TempDir())

	got, err := m.FindAll()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIsEmpty(t *testing.T) {
	m := New(t.TempDir())

	empty, err := m.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, m.EnsureEntryDirs(uuid.NewString()))

	empty, err = m.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestIsEmpty_LegacyMarkerDirectoryCountsAsNonEmpty(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Join(m.Root(), "store"), 0o755))

	empty, err := m.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestEnsureEntryDirs_CreatesMetadataDirectory(t *testing.T) {
	m := New(t.TempDir())
	id := uuid.NewString()

	require.NoError(t, m.EnsureEntryDirs(id))

	info, err := os.Stat(m.GetMetadataPath(id))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRemoveEntry_RemovesEntryAndEmptyShard(t *testing.T) {
	m := New(t.TempDir())
	id := uuid.NewString()
	require.NoError(t, m.EnsureEntryDirs(id))

	require.NoError(t, m.RemoveEntry(id))

	assert.False(t, m.EntryExists(id))
	_, err := os.Stat(filepath.Join(m.Root(), id[:2]))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveEntry_LeavesShardWhenSiblingRemains(t *testing.T) {
	m := New(t.TempDir())
	id := "aa000000-0000-0000-0000-000000000001"
	sibling := "aa000000-0000-0000-0000-000000000002"
	require.NoError(t, m.EnsureEntryDirs(id))
	require.NoError(t, m.EnsureEntryDirs(sibling))

	require.NoError(t, m.RemoveEntry(id))

	_, err := os.Stat(filepath.Join(m.Root(), "aa"))
	assert.NoError(t, err)
	assert.True(t, m.EntryExists(sibling))
}

func TestEntryExists(t *testing.T) {
	m := New(t.TempDir())
	id := uuid.NewString()

	assert.False(t, m.EntryExists(id))

	require.NoError(t, m.EnsureEntryDirs(id))
	assert.True(t, m.EntryExists(id))
}

func TestLock_Unlock_RoundTrip(t *testing.T) {
	m := New(t.TempDir())

	require.NoError(t, m.Lock())
	require.NoError(t, m.Unlock())
}
