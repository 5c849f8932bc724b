package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarlabs/sugar-datastore/internal/layout"
)

func newStore(t *testing.T) (*Store, *layout.Manager) {
	t.Helper()
	l := layout.New(t.TempDir())
	return New(l), l
}

func TestStore_WritesEachPropertyAsAFile(t *testing.T) {
	s, l := newStore(t)
	id := uuid.NewString()

	require.NoError(t, s.Store(id, map[string][]byte{
		"title": []byte("hello world"),
		"uid":   []byte(id),
	}))

	data, err := os.ReadFile(filepath.Join(l.GetMetadataPath(id), "title"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestStore_RemovesPropertiesNotInNewBag(t *testing.T) {
	s, _ := newStore(t)
	id := uuid.NewString()

	require.NoError(t, s.Store(id, map[string][]byte{"title": []byte("a"), "mime_type": []byte("text/plain")}))
	require.NoError(t, s.Store(id, map[string][]byte{"title": []byte("a")}))

	bag, err := s.Retrieve(id, nil)
	require.NoError(t, err)
	_, ok := bag["mime_type"]
	assert.False(t, ok)
}

func TestStore_PreservesReservedInternalChecksum(t *testing.T) {
	s, _ := newStore(t)
	id := uuid.NewString()

	require.NoError(t, s.SetProperty(id, "checksum", []byte("deadbeef")))
	require.NoError(t, s.Store(id, map[string][]byte{"title": []byte("a")}))

	val, ok := s.GetProperty(id, "checksum")
	require.True(t, ok)
	assert.Equal(t, "deadbeef", string(val))
}

func TestStore_KeySanitation_TruncatesAtFirstColon(t *testing.T) {
	s, l := newStore(t)
	id := uuid.NewString()

	require.NoError(t, s.Store(id, map[string][]byte{"title:text": []byte("hi")}))

	_, err := os.Stat(filepath.Join(l.GetMetadataPath(id), "title"))
	assert.NoError(t, err)
}

func TestRetrieve_EmptyNamesReadsEveryProperty(t *testing.T) {
	s, _ := newStore(t)
	id := uuid.NewString()
	require.NoError(t, s.Store(id, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	bag, err := s.Retrieve(id, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, bag)
}

func TestRetrieve_SpecificNamesOnly(t *testing.T) {
	s, _ := newStore(t)
	id := uuid.NewString()
	require.NoError(t, s.Store(id, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	bag, err := s.Retrieve(id, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1")}, bag)
}

func TestRetrieve_MissingFileYieldsNoEntry(t *testing.T) {
	s, _ := newStore(t)
	id := uuid.NewString()
	require.NoError(t, s.Store(id, map[string][]byte{"a": []byte("1")}))

	bag, err := s.Retrieve(id, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Len(t, bag, 1)
}

func TestRetrieve_MissingEntryReturnsNotFound(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Retrieve(uuid.NewString(), nil)
	require.Error(t, err)
}

func TestGetProperty_SetProperty(t *testing.T) {
	s, _ := newStore(t)
	id := uuid.NewString()

	_, ok := s.GetProperty(id, "missing")
	assert.False(t, ok)

	require.NoError(t, s.SetProperty(id, "title", []byte("hi")))
	val, ok := s.GetProperty(id, "title")
	require.True(t, ok)
	assert.Equal(t, "hi", string(val))
}

func TestDelete_RemovesMetadataDirectory(t *testing.T) {
	s, l := newStore(t)
	id := uuid.NewString()
	require.NoError(t, s.Store(id, map[string][]byte{"a": []byte("1")}))

	require.NoError(t, s.Delete(id))

	_, err := os.Stat(l.GetMetadataPath(id))
	assert.True(t, os.IsNotExist(err))
}
