package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarlabs/sugar-datastore/internal/index"
)

func ample(string) (uint64, error) { return 10 * 1024 * 1024 * 1024, nil }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), ample, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestOpen_EmptyRootWritesVersionAndMarksClean(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, ample, 0)
	require.NoError(t, err)
	defer s.Stop()

	assert.True(t, s.layout.IsClean())
	assert.Equal(t, currentLayoutVersion, s.layout.GetVersion())
}

func TestCreate_WritesPropertiesIndexAndPayload(t *testing.T) {
	s := newTestStore(t)

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "payload.bin")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	id, err := s.Create(map[string][]byte{"title": []byte("hello world")}, src, false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	bag, err := s.GetProperties(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), bag["title"])
	assert.Equal(t, []byte(id), bag["uid"])

	assert.True(t, s.layout.IsClean())
}

func TestCreate_MetadataOnlyObjectHasNoPayload(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Create(map[string][]byte{"title": []byte("note")}, "", false)
	require.NoError(t, err)

	assert.Equal(t, int64(0), s.payload.Filesize(id))
}

func TestCreate_WritesUIDToMetadataFileOnDisk(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(map[string][]byte{"title": []byte("on disk")}, "", false)
	require.NoError(t, err)

	onDisk, err := s.metadata.Retrieve(id, []string{"uid"})
	require.NoError(t, err)
	assert.Equal(t, []byte(id), onDisk["uid"])
}

func TestUpdate_ReassertsUIDOnEveryWrite(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(map[string][]byte{"title": []byte("v1")}, "", false)
	require.NoError(t, err)

	require.NoError(t, s.Update(id, map[string][]byte{"title": []byte("v2")}, "", false))

	onDisk, err := s.metadata.Retrieve(id, []string{"uid"})
	require.NoError(t, err)
	assert.Equal(t, []byte(id), onDisk["uid"])
}

func TestFind_ReturnsPropertyBagsTrimmedToRequestedProps(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(map[string][]byte{
		"title":    []byte("findable"),
		"activity": []byte("org.example.A"),
	}, "", false)
	require.NoError(t, err)

	results, total, err := s.Find(index.Query{Text: "findable"}, []string{"title"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)
	require.Len(t, results, 1)
	assert.Equal(t, []byte("findable"), results[0]["title"])
	_, hasActivity := results[0]["activity"]
	assert.False(t, hasActivity)
	_, hasUID := results[0]["uid"]
	assert.False(t, hasUID)

	all, _, err := s.Find(index.Query{Text: "findable"}, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []byte(id), all[0]["uid"])
}

func TestFind_ReturnsCreatedEntry(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(map[string][]byte{"title": []byte("findable")}, "", false)
	require.NoError(t, err)

	ids, _, err := s.FindIDs(index.Query{Text: "findable"})
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

func TestUpdate_ReplacesPropertiesAndReindexes(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(map[string][]byte{"title": []byte("original")}, "", false)
	require.NoError(t, err)

	require.NoError(t, s.Update(id, map[string][]byte{"title": []byte("revised")}, "", false))

	bag, err := s.GetProperties(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("revised"), bag["title"])

	ids, _, err := s.FindIDs(index.Query{Text: "revised"})
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

func TestUpdate_UnknownIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.Update("does-not-exist", map[string][]byte{}, "", false)
	assert.Error(t, err)
}

func TestDelete_RemovesEntryEntirely(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(map[string][]byte{"title": []byte("gone soon")}, "", false)
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))

	_, err = s.GetProperties(id)
	assert.Error(t, err)
	assert.False(t, s.layout.EntryExists(id))
}

func TestUniqueValues_ReflectsStoredActivities(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(map[string][]byte{"activity": []byte("org.sugarlabs.Write")}, "", false)
	require.NoError(t, err)

	values, err := s.UniqueValues("activity")
	require.NoError(t, err)
	assert.Contains(t, values, "org.sugarlabs.Write")
}

func TestSignals_EmitsCreatedAndDeleted(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create(map[string][]byte{"title": []byte("signal me")}, "", false)
	require.NoError(t, err)
	require.NoError(t, s.Delete(id))

	kinds := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case sig := <-s.Signals():
			kinds[sig.Kind] = true
		default:
		}
	}
	assert.True(t, kinds[SignalCreated])
	assert.True(t, kinds[SignalDeleted])
}

func TestReopen_AfterCleanShutdownSkipsRebuild(t *testing.T) {
	root := t.TempDir()
	s1, err := Open(root, ample, 0)
	require.NoError(t, err)
	_, err = s1.Create(map[string][]byte{"title": []byte("persisted")}, "", false)
	require.NoError(t, err)
	require.NoError(t, s1.Stop())

	s2, err := Open(root, ample, 0)
	require.NoError(t, err)
	defer s2.Stop()

	ids, _, err := s2.FindIDs(index.Query{Text: "persisted"})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestReopen_MissingCleanFlagTriggersRebuild(t *testing.T) {
	root := t.TempDir()
	s1, err := Open(root, ample, 0)
	require.NoError(t, err)
	id, err := s1.Create(map[string][]byte{"title": []byte("survives rebuild")}, "", false)
	require.NoError(t, err)
	require.NoError(t, s1.Stop())

	require.NoError(t, os.Remove(s1.layout.GetCleanFlagPath()))

	s2, err := Open(root, ample, 0)
	require.NoError(t, err)
	defer s2.Stop()

	bag, err := s2.GetProperties(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives rebuild"), bag["title"])
}
