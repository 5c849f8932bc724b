// Package metadata persists one scalar property per file inside an object's
// metadata directory, with atomic per-property replacement.
package metadata

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sugarlabs/sugar-datastore/internal/errs"
	"github.com/sugarlabs/sugar-datastore/internal/layout"
)

// reservedInternal lists property names that store(id, bag) never deletes
// even when absent from the new bag, because they are written by a
// different component (the optimizer writes `checksum` out-of-band).
var reservedInternal = map[string]struct{}{
	"checksum": {},
}

// Store persists property bags as one file per property.
type Store struct {
	layout *layout.Manager
}

// New creates a Store backed by the given layout manager.
func New(l *layout.Manager) *Store {
	return &Store{layout: l}
}

// sanitizeKey truncates a property name at its first colon, per the
// `name:type` suffix convention.
func sanitizeKey(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

// Store ensures the metadata directory exists, deletes any on-disk property
// not present in bag (unless reserved-internal), and writes every property
// in bag atomically via a temp file + rename. A property whose current
// bytes already equal the new value is left untouched.
func (s *Store) Store(id string, bag map[string][]byte) error {
	dir := s.layout.GetMetadataPath(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("create metadata dir: %w", err))
	}

	wanted := make(map[string]struct{}, len(bag))
	for name := range bag {
		wanted[sanitizeKey(name)] = struct{}{}
	}

	existing, err := os.ReadDir(dir)
	if err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("read metadata dir: %w", err))
	}
	for _, e := range existing {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue // transient temp file from an interrupted write
		}
		if _, ok := wanted[name]; ok {
			continue
		}
		if _, ok := reservedInternal[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("remove stale property %q: %w", name, err))
		}
	}

	for name, value := range bag {
		if err := s.writeProperty(dir, sanitizeKey(name), value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeProperty(dir, name string, value []byte) error {
	path := filepath.Join(dir, name)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, value) {
		return nil
	}

	tmp := filepath.Join(dir, "."+name)
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("write temp property %q: %w", name, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("rename property %q: %w", name, err))
	}
	return nil
}

// Retrieve reads the given property names, or every file in the metadata
// directory if names is empty. A missing file yields no entry.
func (s *Store) Retrieve(id string, names []string) (map[string][]byte, error) {
	dir := s.layout.GetMetadataPath(id)

	if len(names) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errs.NotFound(id)
			}
			return nil, errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("read metadata dir: %w", err))
		}
		bag := make(map[string][]byte, len(entries))
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			bag[e.Name()] = data
		}
		return bag, nil
	}

	bag := make(map[string][]byte, len(names))
	for _, raw := range names {
		name := sanitizeKey(raw)
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		bag[name] = data
	}
	return bag, nil
}

// GetProperty reads a single property. Returns (nil, false) if absent.
func (s *Store) GetProperty(id, name string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(s.layout.GetMetadataPath(id), sanitizeKey(name)))
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetProperty writes a single property atomically.
func (s *Store) SetProperty(id, name string, value []byte) error {
	dir := s.layout.GetMetadataPath(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("create metadata dir: %w", err))
	}
	return s.writeProperty(dir, sanitizeKey(name), value)
}

// Delete removes every file in the metadata directory, then the directory
// itself.
func (s *Store) Delete(id string) error {
	dir := s.layout.GetMetadataPath(id)
	if err := os.RemoveAll(dir); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("remove metadata dir: %w", err))
	}
	return nil
}
