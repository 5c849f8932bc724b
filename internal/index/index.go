// Package index is the inverted index over property values and extracted
// full text: structured fields, range values, free-text, with a batched
// flush policy, an index-valid marker, and recover-by-rebuild semantics.
package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/sugarlabs/sugar-datastore/internal/errs"
)

const (
	flushThreshold = 20
	flushTimeout   = 5 * time.Second
)

// MarkerManager is the subset of layout.Manager the index needs for the
// index-valid marker protocol, kept narrow so the index package does not
// import layout for its own sake.
type MarkerManager interface {
	GetIndexMarkerPath() string
}

// Index wraps a bleve index with the store's flush/marker/rebuild contract.
type Index struct {
	mu     sync.Mutex
	bl     bleve.Index
	path   string
	marker MarkerManager
	scratch bool // true when path lives on a temporary filesystem

	pending int
	timer   *time.Timer
	closed  bool
}

// Open opens or creates the index at path. If path is empty, an in-memory
// index is created (used by tests; rebuild scratch indexes live on disk in
// a temporary directory).
func Open(path string, marker MarkerManager, scratch bool) (*Index, error) {
	im, err := buildIndexMapping()
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInternal, err)
	}

	var bl bleve.Index
	if path == "" {
		bl, err = bleve.NewMemOnly(im)
	} else {
		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("index_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, errs.Wrap(errs.ErrCodeIndexCorrupt, fmt.Errorf("corrupted index, cannot remove: %w", rmErr))
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errs.Wrap(errs.ErrCodeInternal, err)
		}
		bl, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			bl, err = bleve.New(path, im)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, errs.Wrap(errs.ErrCodeIndexCorrupt, fmt.Errorf("corrupted index, cannot clear: %w", rmErr))
			}
			bl, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeIndexCorrupt, fmt.Errorf("open index: %w", err))
	}

	return &Index{bl: bl, path: path, marker: marker, scratch: scratch}, nil
}

func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// docKey is the per-object document id, named after the original's
// "F+Q+id" delete key (full-value, uid-prefixed).
func docKey(id string) string { return "FQ" + id }

// Store builds a document from bag and replaces any existing document with
// the same key. Structured properties get a full-value term plus tokenized
// free-text; everything else is tokenized under the generic field.
// fulltext, if non-empty, is the extracted plain-text content of the
// payload (supplied by the out-of-scope binary-to-text collaborator).
func (ix *Index) Store(id string, bag map[string]string, fulltext string) error {
	doc := map[string]interface{}{
		"uid": id,
	}

	for name, value := range bag {
		switch name {
		case "timestamp", "filesize", "creation_time":
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				doc[name] = n
			}
			continue
		case fieldTitle:
			doc["title_sort"] = value
			doc["title_text"] = value
			continue
		}
		if _, skip := dontIndex[name]; skip {
			continue
		}

		if _, structured := structuredFields[name]; structured {
			doc[fullField(name)] = value
			doc[textField(name)] = value
			continue
		}

		doc[fieldFulltext] = appendText(doc[fieldFulltext], value)
	}

	if fulltext != "" {
		doc[fieldFulltext] = appendText(doc[fieldFulltext], fulltext)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return errs.New(errs.ErrCodeInternal, "index closed", nil)
	}

	if err := ix.removeMarkerLocked(); err != nil {
		return err
	}
	if err := ix.bl.Index(docKey(id), doc); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("index document: %w", err))
	}
	ix.recordWriteLocked()
	return nil
}

func appendText(existing interface{}, value string) string {
	if existing == nil {
		return value
	}
	return existing.(string) + " " + value
}

// Delete removes the document keyed by F+Q+id.
func (ix *Index) Delete(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return errs.New(errs.ErrCodeInternal, "index closed", nil)
	}
	if err := ix.removeMarkerLocked(); err != nil {
		return err
	}
	if err := ix.bl.Delete(docKey(id)); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("delete document: %w", err))
	}
	ix.recordWriteLocked()
	return nil
}

// recordWriteLocked implements the flush policy: increment the pending
// counter, flush immediately past threshold, otherwise (re)arm the timer.
func (ix *Index) recordWriteLocked() {
	ix.pending++
	if ix.pending > flushThreshold {
		abortOnFatalFlush(ix.flushLocked())
		return
	}
	if ix.timer != nil {
		ix.timer.Stop()
	}
	ix.timer = time.AfterFunc(flushTimeout, func() {
		ix.mu.Lock()
		defer ix.mu.Unlock()
		if !ix.closed {
			abortOnFatalFlush(ix.flushLocked())
		}
	})
}

// abortOnFatalFlush handles a flush error raised off the synchronous
// write path (the threshold-triggered flush and the idle-timer flush),
// where there is no caller left to propagate it to. A fatal flush error
// means the index-valid marker could not be recreated, so the on-disk
// index can no longer be trusted; per the flush policy this is
// unrecoverable in-process and the orchestrator's next startup must
// rebuild, so the process is terminated rather than left running
// against a silently stale index.
func abortOnFatalFlush(err error) {
	if err == nil {
		return
	}
	if errs.IsFatal(err) {
		slog.Error("fatal_flush_failure", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Error("background_flush_failed", slog.String("error", err.Error()))
}

// Flush forces a flush regardless of the pending counter.
func (ix *Index) Flush() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.flushLocked()
}

func (ix *Index) flushLocked() error {
	if ix.timer != nil {
		ix.timer.Stop()
	}
	ix.pending = 0
	// bleve persists on every Index()/Delete() call; "flush" here is the
	// durability boundary at which we are allowed to recreate the marker.
	if ix.scratch {
		// index lives on a temporary filesystem during rebuild; leave the
		// on-disk marker stale, per the rebuild contract.
		return nil
	}
	return ix.recreateMarkerLocked()
}

func (ix *Index) removeMarkerLocked() error {
	if ix.marker == nil {
		return nil
	}
	err := os.Remove(ix.marker.GetIndexMarkerPath())
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrCodeFlushFailed, fmt.Errorf("remove index marker: %w", err))
	}
	return nil
}

func (ix *Index) recreateMarkerLocked() error {
	if ix.marker == nil {
		return nil
	}
	f, err := os.Create(ix.marker.GetIndexMarkerPath())
	if err != nil {
		// a flush failure that prevents recreating the marker is fatal per
		// §4.4: the caller should abort so the next startup rebuilds.
		return errs.New(errs.ErrCodeFlushFailed, fmt.Sprintf("recreate index marker: %v", err), err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return errs.New(errs.ErrCodeFlushFailed, fmt.Sprintf("fsync index marker: %v", err), err)
	}
	return nil
}

// DocCount returns the number of documents currently indexed.
func (ix *Index) DocCount() (uint64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n, err := ix.bl.DocCount()
	if err != nil {
		return 0, errs.Wrap(errs.ErrCodeIndexCorrupt, err)
	}
	return n, nil
}

// Close flushes and closes the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.flushLocked()
	ix.closed = true
	return ix.bl.Close()
}

// Path returns the on-disk location of this index ("" for in-memory).
func (ix *Index) Path() string {
	return ix.path
}
