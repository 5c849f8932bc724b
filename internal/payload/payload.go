// Package payload stores one opaque byte payload per object, with
// cross-device async copy, ownership transfer, and hard-linking for dedup.
package payload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/sugarlabs/sugar-datastore/internal/errs"
	"github.com/sugarlabs/sugar-datastore/internal/layout"
)

const chunkSize = 64 * 1024

// Completion is invoked exactly once when Store finishes, on the same
// goroutine that called Store (synchronously) or from the background copy
// goroutine (asynchronously) — callers must not assume synchronous
// completion.
type Completion func(err error)

// Store places payloads on disk.
type Store struct {
	layout *layout.Manager

	// isolationMarker, when present on disk, switches Retrieve to
	// per-caller-uid isolation directories instead of the shared data dir.
	isolationMarkerPath string
	isolationDir        string
	sharedDataDir       string
	processUID          int
}

// New creates a payload Store. isolationMarkerPath and isolationDir may be
// empty to disable the per-uid isolation path entirely.
func New(l *layout.Manager, sharedDataDir, isolationMarkerPath, isolationDir string) *Store {
	return &Store{
		layout:              l,
		sharedDataDir:       sharedDataDir,
		isolationMarkerPath: isolationMarkerPath,
		isolationDir:        isolationDir,
		processUID:          os.Getuid(),
	}
}

// Store places source at id's payload path.
//
//   - source == "": completion fires synchronously with nil error
//     (metadata-only object).
//   - source is a symlink: followed to its real target, and
//     transferOwnership is forced false (never consume a link target).
//   - transferOwnership: attempt a same-filesystem rename; on cross-device
//     error, fall back to an async chunked copy that unlinks source on
//     completion. Otherwise an async chunked copy without unlinking.
func (s *Store) Store(id, source string, transferOwnership bool, completion Completion) {
	if source == "" {
		completion(nil)
		return
	}

	resolved := source
	if target, err := filepath.EvalSymlinks(source); err == nil && target != source {
		resolved = target
		transferOwnership = false
	}

	dest := s.layout.GetDataPath(id)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		completion(errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("create entry dir: %w", err)))
		return
	}

	if transferOwnership {
		if err := os.Rename(resolved, dest); err == nil {
			completion(nil)
			return
		} else if !isCrossDevice(err) {
			completion(errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("rename payload: %w", err)))
			return
		}
		// cross-device: fall through to async copy, unlinking source after.
		go s.asyncCopy(resolved, dest, true, completion)
		return
	}

	go s.asyncCopy(resolved, dest, false, completion)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

// asyncCopy performs a cooperative chunked copy, yielding to the scheduler
// between chunks. On short-write or any I/O error, the destination is
// truncated and abandoned, never left half-written.
func (s *Store) asyncCopy(source, dest string, unlinkSource bool, completion Completion) {
	err := s.copyChunked(source, dest)
	if err == nil && unlinkSource {
		_ = os.Remove(source)
	}
	completion(err)
}

func (s *Store) copyChunked(source, dest string) (err error) {
	in, err := os.Open(source)
	if err != nil {
		return errs.Wrap(errs.ErrCodePartialWrite, fmt.Errorf("open source: %w", err))
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.ErrCodePartialWrite, fmt.Errorf("open dest: %w", err))
	}
	defer func() {
		out.Close()
		if err != nil {
			// never leave a partial destination behind on error
			_ = os.Remove(dest)
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			written, writeErr := out.Write(buf[:n])
			if writeErr != nil {
				return errs.Wrap(errs.ErrCodePartialWrite, fmt.Errorf("write chunk: %w", writeErr))
			}
			if written != n {
				return errs.New(errs.ErrCodePartialWrite, "short write copying payload", nil)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errs.Wrap(errs.ErrCodePartialWrite, fmt.Errorf("read chunk: %w", readErr))
		}
		runtime.Gosched()
	}
	return nil
}

// Retrieve reserves a unique filename the caller may read and must unlink,
// hard-linking to the stored payload (or symlinking on cross-device).
func (s *Store) Retrieve(id string, callerUID int, ext string) (string, error) {
	dir := s.destinationDir(callerUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("create retrieve dir: %w", err))
	}

	src := s.layout.GetDataPath(id)
	if _, err := os.Stat(src); err != nil {
		return "", errs.NotFound(id)
	}

	dest, cleanup, err := reserveUniqueName(dir, id, ext)
	if err != nil {
		return "", errs.Wrap(errs.ErrCodeInternal, err)
	}
	cleanup() // release the placeholder; Link/Symlink below claims the name

	if err := os.Link(src, dest); err != nil {
		if isCrossDevice(err) {
			if symErr := os.Symlink(src, dest); symErr != nil {
				return "", errs.Wrap(errs.ErrCodeCrossDevice, fmt.Errorf("symlink fallback: %w", symErr))
			}
			return dest, nil
		}
		return "", errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("hard link payload: %w", err))
	}
	return dest, nil
}

func (s *Store) destinationDir(callerUID int) string {
	if s.isolationMarkerPath != "" {
		if _, err := os.Stat(s.isolationMarkerPath); err == nil && callerUID != s.processUID {
			return filepath.Join(s.isolationDir, fmt.Sprintf("%d", callerUID))
		}
	}
	return s.sharedDataDir
}

func reserveUniqueName(dir, id, ext string) (string, func(), error) {
	f, err := os.CreateTemp(dir, id+"_*"+normalizeExt(ext))
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return name, func() {}, nil
}

func normalizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	if ext[0] != '.' {
		return "." + ext
	}
	return ext
}

// Delete removes the payload file, if present.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.layout.GetDataPath(id))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("delete payload: %w", err))
	}
	return nil
}

// HardLinkEntry unlinks newID's payload (if any) then hard-links
// existingID's payload to newID's payload path, used by the optimizer to
// collapse duplicate payloads.
func (s *Store) HardLinkEntry(newID, existingID string) error {
	newPath := s.layout.GetDataPath(newID)
	if err := os.Remove(newPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("unlink target before hardlink: %w", err))
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	existingPath := s.layout.GetDataPath(existingID)
	if err := os.Link(existingPath, newPath); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("hard link entry: %w", err))
	}
	return nil
}

// DataPath returns id's on-disk payload path, for collaborators (the
// optimizer) that need to read the payload directly rather than through
// Retrieve's caller-facing hard-link contract.
func (s *Store) DataPath(id string) string {
	return s.layout.GetDataPath(id)
}

// Filesize returns the payload's current byte length, or 0 if absent.
func (s *Store) Filesize(id string) int64 {
	info, err := os.Stat(s.layout.GetDataPath(id))
	if err != nil {
		return 0
	}
	return info.Size()
}
