// Package optimizer is the queue-driven background deduper: it hashes
// payload content and hard-links entries that share a hash, reclaiming
// disk space without blocking the public create/update/delete operations.
package optimizer

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sugarlabs/sugar-datastore/internal/errs"
	"github.com/sugarlabs/sugar-datastore/internal/layout"
	"github.com/sugarlabs/sugar-datastore/internal/metadata"
)

// PayloadLinker is the subset of the payload store the optimizer needs.
type PayloadLinker interface {
	HardLinkEntry(newID, existingID string) error
	DataPath(id string) string
}

// Optimizer hashes stored payloads and hard-links identical content
// together. Concurrent Optimize calls for different ids run in parallel;
// the in-process singleflight collapses concurrent requests for the same
// id into one run, and no other locking is applied.
type Optimizer struct {
	layout   *layout.Manager
	metadata *metadata.Store
	payload  PayloadLinker

	group singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
}

// New builds an Optimizer over the given layout/metadata/payload
// collaborators.
func New(l *layout.Manager, m *metadata.Store, p PayloadLinker) *Optimizer {
	return &Optimizer{
		layout:   l,
		metadata: m,
		payload:  p,
		pending:  make(map[string]struct{}),
	}
}

func (o *Optimizer) queuePath(id string) string {
	return filepath.Join(o.layout.GetQueuePath(), id)
}

// Optimize touches the queue marker for id and runs the dedup task for
// it, collapsing concurrent requests for the same id into one run.
func (o *Optimizer) Optimize(id string) error {
	if err := o.touchQueueMarker(id); err != nil {
		return err
	}

	_, err, _ := o.group.Do(id, func() (interface{}, error) {
		defer o.clearQueueMarker(id)
		return nil, o.process(id)
	})
	return err
}

func (o *Optimizer) touchQueueMarker(id string) error {
	dir := o.layout.GetQueuePath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	f, err := os.Create(o.queuePath(id))
	if err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	return f.Close()
}

func (o *Optimizer) clearQueueMarker(id string) {
	_ = os.Remove(o.queuePath(id))
}

// process computes id's content hash, records it under checksums/, and
// hard-links it to an existing entry sharing that hash if one exists.
func (o *Optimizer) process(id string) error {
	hash, err := o.hashPayload(id)
	if err != nil {
		return err
	}

	if err := o.metadata.SetProperty(id, "checksum", []byte(hash)); err != nil {
		return err
	}

	hashDir := filepath.Join(o.layout.GetChecksumsDir(), hash)
	if err := os.MkdirAll(hashDir, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}

	marker := filepath.Join(hashDir, id)
	if _, err := os.Stat(marker); err == nil {
		return nil // already registered under this hash
	}

	existing, err := pickOtherMember(hashDir, id)
	if err != nil {
		return err
	}
	if existing == "" {
		return touchMarker(marker)
	}

	if err := o.payload.HardLinkEntry(id, existing); err != nil {
		return err
	}
	return touchMarker(marker)
}

// Remove undoes id's dedup registration: it reads the checksum property,
// removes id's marker under checksums/<hash>/, and removes the hash
// directory if it is now empty.
func (o *Optimizer) Remove(id string) error {
	hashBytes, ok := o.metadata.GetProperty(id, "checksum")
	if !ok {
		return nil
	}
	hash := string(hashBytes)
	hashDir := filepath.Join(o.layout.GetChecksumsDir(), hash)

	if err := os.Remove(filepath.Join(hashDir, id)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}

	if err := os.Remove(hashDir); err != nil && !os.IsNotExist(err) {
		// non-empty directory: other entries still share this hash.
		return nil
	}
	return nil
}

func (o *Optimizer) hashPayload(id string) (string, error) {
	path := o.payload.DataPath(id)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NotFound(id)
		}
		return "", errs.Wrap(errs.ErrCodeInternal, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.Wrap(errs.ErrCodeInternal, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// pickOtherMember returns an arbitrary existing id already registered
// under hashDir, excluding id itself, or "" if none exists.
func pickOtherMember(hashDir, id string) (string, error) {
	entries, err := os.ReadDir(hashDir)
	if err != nil {
		return "", errs.Wrap(errs.ErrCodeInternal, err)
	}
	for _, e := range entries {
		if e.Name() != id {
			return e.Name(), nil
		}
	}
	return "", nil
}

func touchMarker(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	return f.Close()
}

// HasQueuedWork reports whether id still has a pending queue marker,
// i.e. a process crashed between touching the marker and completing the
// dedup task.
func (o *Optimizer) HasQueuedWork(id string) bool {
	_, err := os.Stat(o.queuePath(id))
	return err == nil
}

// QueuedIDs enumerates every id with a residual queue marker, for replay
// at startup.
func (o *Optimizer) QueuedIDs() ([]string, error) {
	entries, err := os.ReadDir(o.layout.GetQueuePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInternal, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Name())
	}
	return ids, nil
}
