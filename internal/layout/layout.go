// Package layout resolves every on-disk path the object store touches and
// owns the root directory, the version marker, the clean flag, and the
// checksum directory tree. Beyond path arithmetic and enumeration it only
// reads and writes those markers, creates and removes entry directories,
// and holds the cross-process lock: no component above it should construct
// a path by hand.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/sugarlabs/sugar-datastore/internal/errs"
)

const (
	shardLen = 2
	idLen    = 36

	versionFile = "version"
	cleanFlag   = "ds_clean"
	indexMarker = "index_updated"
	indexDir    = "index"
	checksumDir = "checksums"
	queueDir    = "checksums/queue"
	entryData   = "data"
	entryMeta   = "metadata"
)

// Manager resolves all on-disk paths for a single datastore root. Created
// once per profile and shared by reference; it holds no per-operation state
// beyond the cross-process lock.
type Manager struct {
	root string
	lock *flock.Flock
}

// New creates a Manager rooted at <profileRoot>/datastore. It does not
// touch the filesystem; directories are created lazily on first use.
func New(profileRoot string) *Manager {
	root := filepath.Join(profileRoot, "datastore")
	return &Manager{
		root: root,
		lock: flock.New(filepath.Join(root, ".layout.lock")),
	}
}

// Root returns the datastore root directory.
func (m *Manager) Root() string {
	return m.root
}

// Lock acquires the cross-process exclusive lock backing the clean/dirty
// protocol, creating the root directory first if necessary.
func (m *Manager) Lock() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("create datastore root: %w", err))
	}
	if err := m.lock.Lock(); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("acquire layout lock: %w", err))
	}
	return nil
}

// Unlock releases the cross-process lock. Safe to call on an unlocked Manager.
func (m *Manager) Unlock() error {
	return m.lock.Unlock()
}

// GetEntryPath returns root/<id[0:2]>/<id>.
func (m *Manager) GetEntryPath(id string) string {
	return filepath.Join(m.root, shard(id), id)
}

// GetDataPath returns the path of the opaque payload file for id.
func (m *Manager) GetDataPath(id string) string {
	return filepath.Join(m.GetEntryPath(id), entryData)
}

// GetMetadataPath returns the path of the metadata directory for id.
func (m *Manager) GetMetadataPath(id string) string {
	return filepath.Join(m.GetEntryPath(id), entryMeta)
}

// GetIndexPath returns the inverted index's private database directory.
func (m *Manager) GetIndexPath() string {
	return filepath.Join(m.root, indexDir)
}

// GetChecksumsDir returns the dedup directory root.
func (m *Manager) GetChecksumsDir() string {
	return filepath.Join(m.root, checksumDir)
}

// GetQueuePath returns the optimizer's pending-work directory.
func (m *Manager) GetQueuePath() string {
	return filepath.Join(m.root, queueDir)
}

// GetCleanFlagPath returns the `ds_clean` marker path.
func (m *Manager) GetCleanFlagPath() string {
	return filepath.Join(m.root, cleanFlag)
}

// GetIndexMarkerPath returns the `index_updated` marker path.
func (m *Manager) GetIndexMarkerPath() string {
	return filepath.Join(m.root, indexMarker)
}

// GetVersion reads root/version as an ASCII integer. A missing or malformed
// file is treated as version 0.
func (m *Manager) GetVersion() int {
	data, err := os.ReadFile(filepath.Join(m.root, versionFile))
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return v
}

// SetVersion writes root/version as an ASCII integer.
func (m *Manager) SetVersion(v int) error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	path := filepath.Join(m.root, versionFile)
	if err := os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("write version: %w", err))
	}
	return nil
}

// IsClean reports whether the `ds_clean` marker is present.
func (m *Manager) IsClean() bool {
	_, err := os.Stat(m.GetCleanFlagPath())
	return err == nil
}

// MarkDirty removes the clean flag. Called at the start of every mutating
// public operation so a crash mid-operation always forces a rebuild.
func (m *Manager) MarkDirty() error {
	err := os.Remove(m.GetCleanFlagPath())
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("remove clean flag: %w", err))
	}
	return nil
}

// MarkClean recreates the clean flag as an empty, fsync'd file.
func (m *Manager) MarkClean() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	f, err := os.Create(m.GetCleanFlagPath())
	if err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("create clean flag: %w", err))
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("fsync clean flag: %w", err))
	}
	return nil
}

// HasIndexMarker reports whether the `index_updated` marker is present.
func (m *Manager) HasIndexMarker() bool {
	_, err := os.Stat(m.GetIndexMarkerPath())
	return err == nil
}

// FindAll enumerates every two-char shard directory under root and returns
// every 36-char id found inside them.
func (m *Manager) FindAll() ([]string, error) {
	shards, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("read root: %w", err))
	}

	var ids []string
	for _, sh := range shards {
		if !sh.IsDir() || len(sh.Name()) != shardLen {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(m.root, sh.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && len(e.Name()) == idLen {
				ids = append(ids, e.Name())
			}
		}
	}
	return ids, nil
}

// IsEmpty returns true when FindAll finds no ids and no legacy marker
// directory ("store") exists at the root.
func (m *Manager) IsEmpty() (bool, error) {
	ids, err := m.FindAll()
	if err != nil {
		return false, err
	}
	if len(ids) > 0 {
		return false, nil
	}
	if _, err := os.Stat(filepath.Join(m.root, "store")); err == nil {
		return false, nil
	}
	return true, nil
}

// EnsureEntryDirs creates the entry and metadata directories for id.
func (m *Manager) EnsureEntryDirs(id string) error {
	if err := os.MkdirAll(m.GetMetadataPath(id), 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("create entry dirs: %w", err))
	}
	return nil
}

// RemoveEntry deletes the entry directory for id and, if it is now empty,
// its two-char shard directory.
func (m *Manager) RemoveEntry(id string) error {
	if err := os.RemoveAll(m.GetEntryPath(id)); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("remove entry: %w", err))
	}
	shardPath := filepath.Join(m.root, shard(id))
	entries, err := os.ReadDir(shardPath)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(shardPath)
	}
	return nil
}

// EntryExists reports whether id's entry directory is present on disk.
func (m *Manager) EntryExists(id string) bool {
	info, err := os.Stat(m.GetEntryPath(id))
	return err == nil && info.IsDir()
}

func shard(id string) string {
	if len(id) < shardLen {
		return id
	}
	return id[:shardLen]
}
