// Package store is the orchestrator: the public API that composes the
// layout, metadata, payload, index, and optimizer collaborators behind the
// clean/dirty crash-recovery protocol and the startup rebuild decision.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sugarlabs/sugar-datastore/internal/cache"
	"github.com/sugarlabs/sugar-datastore/internal/errs"
	"github.com/sugarlabs/sugar-datastore/internal/index"
	"github.com/sugarlabs/sugar-datastore/internal/layout"
	"github.com/sugarlabs/sugar-datastore/internal/metadata"
	"github.com/sugarlabs/sugar-datastore/internal/optimizer"
	"github.com/sugarlabs/sugar-datastore/internal/payload"
	"github.com/sugarlabs/sugar-datastore/internal/telemetry"
)

// propertyCacheSize bounds the number of property bags held in memory at
// once, independent of how many entries the profile actually has on disk.
const propertyCacheSize = 512

// rebuildScanConcurrency bounds how many entry directories the rebuild
// scan stage reads from disk at once.
const rebuildScanConcurrency = 8

const currentLayoutVersion = 1

// minFreeBytesForRebuild is the headroom below which startup forces a
// rebuild regardless of marker state.
const minFreeBytesForRebuild = 5 * 1024 * 1024

// rebuildSizeMultiplier and rebuildSizeHeadroom gate whether a completed
// scratch rebuild is promoted back onto the primary disk.
const (
	rebuildSizeMultiplier = 1.2
	rebuildSizeHeadroom   = 5 * 1024 * 1024
)

// FreeBytes reports the free space available at path, injected so tests can
// simulate low-disk conditions without touching a real filesystem.
type FreeBytes func(path string) (uint64, error)

// Signal is one lifecycle event: Created, Updated, Deleted, or Stopped.
type Signal struct {
	Kind string
	ID   string
}

const (
	SignalCreated = "created"
	SignalUpdated = "updated"
	SignalDeleted = "deleted"
	SignalStopped = "stopped"
)

// Store is the orchestrator. All public methods are safe for concurrent
// use; mutating operations serialize on mu so the clean/dirty protocol
// never observes an interleaved crash window.
type Store struct {
	layout    *layout.Manager
	metadata  *metadata.Store
	payload   *payload.Store
	optimizer *optimizer.Optimizer
	props     *cache.PropertyCache
	freeBytes FreeBytes
	metrics   atomic.Pointer[telemetry.OperationMetrics]

	mu          sync.Mutex
	idx         *index.Index
	rebuilding  bool
	signals     chan Signal
}

// SetMetrics attaches a telemetry collector. Every public operation
// records an event against it once attached; nil (the default) means no
// telemetry is recorded.
func (s *Store) SetMetrics(m *telemetry.OperationMetrics) {
	s.metrics.Store(m)
}

func (s *Store) record(op telemetry.Operation, id string, start time.Time, err error) {
	m := s.metrics.Load()
	if m == nil {
		return
	}
	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = telemetry.OutcomeFailure
	}
	m.Record(telemetry.OperationEvent{
		Operation: op,
		Outcome:   outcome,
		ID:        id,
		Latency:   time.Since(start),
		Timestamp: start,
	})
}

// Open probes the layout root, runs startup recovery if needed, and
// returns a ready Store. signalBuffer sizes the Signals() channel; 0 uses
// a reasonable default.
func Open(profileRoot string, freeBytes FreeBytes, signalBuffer int) (*Store, error) {
	l := layout.New(profileRoot)
	if err := l.Lock(); err != nil {
		return nil, err
	}

	m := metadata.New(l)
	p := payload.New(l, l.Root(), "", "")
	o := optimizer.New(l, m, p)
	props, err := cache.New(propertyCacheSize)
	if err != nil {
		_ = l.Unlock()
		return nil, errs.Wrap(errs.ErrCodeInternal, err)
	}

	if signalBuffer <= 0 {
		signalBuffer = 16
	}

	s := &Store{
		layout:    l,
		metadata:  m,
		payload:   p,
		optimizer: o,
		props:     props,
		freeBytes: freeBytes,
		signals:   make(chan Signal, signalBuffer),
	}

	if err := s.startup(); err != nil {
		_ = l.Unlock()
		return nil, err
	}
	return s, nil
}

// Signals returns the channel of lifecycle events. Callers that never
// drain it simply miss events once the buffer fills; Open's callback
// contract does not block on delivery.
func (s *Store) Signals() <-chan Signal {
	return s.signals
}

func (s *Store) emit(kind, id string) {
	select {
	case s.signals <- Signal{Kind: kind, ID: id}:
	default:
		slog.Warn("signal_dropped", slog.String("kind", kind), slog.String("id", id))
	}
}

// startup implements the four disjoint startup outcomes from §4.6.
func (s *Store) startup() error {
	empty, err := s.layout.IsEmpty()
	if err != nil {
		return err
	}

	switch {
	case empty:
		if err := s.layout.SetVersion(currentLayoutVersion); err != nil {
			return err
		}
		return s.openFreshIndex()

	case s.layout.GetVersion() < currentLayoutVersion:
		if err := s.migrate(s.layout.GetVersion()); err != nil {
			return err
		}
		if err := s.layout.SetVersion(currentLayoutVersion); err != nil {
			return err
		}
		return s.rebuild(nil)

	case s.needsRebuild():
		return s.rebuild(nil)

	default:
		idx, err := index.Open(s.layout.GetIndexPath(), s.layout, false)
		if err != nil {
			return s.rebuild(nil)
		}
		s.idx = idx
		return s.layout.MarkClean()
	}
}

func (s *Store) needsRebuild() bool {
	if !s.layout.HasIndexMarker() || !s.layout.IsClean() {
		return true
	}
	if s.freeBytes != nil {
		free, err := s.freeBytes(s.layout.Root())
		if err == nil && free < minFreeBytesForRebuild {
			return true
		}
	}
	return false
}

// migrate runs the known upgrade path from an older layout version. The
// only version this store has ever shipped before the current one is 0
// (no version file at all), which needs no data transformation, only a
// rebuild to repopulate the index under the new mapping.
func (s *Store) migrate(from int) error {
	if from != 0 {
		return errs.New(errs.ErrCodeInternal, fmt.Sprintf("no migration path from layout version %d", from), nil)
	}
	return nil
}

func (s *Store) openFreshIndex() error {
	idx, err := index.Open(s.layout.GetIndexPath(), s.layout, false)
	if err != nil {
		return err
	}
	s.idx = idx
	return s.layout.MarkClean()
}

// RebuildStage names the four phases a rebuild reports progress through:
// enumerating ids, reindexing each one, flushing the scratch index, and
// deciding whether to promote it back onto the primary disk.
type RebuildStage string

const (
	RebuildStageScanning   RebuildStage = "scanning"
	RebuildStageReindexing RebuildStage = "reindexing"
	RebuildStageFlushing   RebuildStage = "flushing"
	RebuildStagePromoting  RebuildStage = "promoting"
)

// RebuildProgress reports one increment of an in-progress rebuild.
type RebuildProgress struct {
	Stage   RebuildStage
	Current int
	Total   int
	ID      string
	Err     error
}

// Rebuild forces the §4.6 rebuild path outside of Open (e.g. the
// standalone `rebuild` CLI command), reporting incremental progress
// through onProgress if non-nil.
func (s *Store) Rebuild(onProgress func(RebuildProgress)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuild(onProgress)
}

// rebuild closes and replaces the on-disk index: scratch-first on a
// temporary filesystem, enumerate every entry via layout, recompute
// defaulted properties, drop catastrophically unreadable entries, and
// decide at the end whether the scratch index fits back on the primary
// disk.
// rebuild assumes the caller already holds mu (or, during startup, that no
// other goroutine can observe the Store yet).
func (s *Store) rebuild(onProgress func(RebuildProgress)) error {
	report := func(p RebuildProgress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	s.rebuilding = true
	defer func() { s.rebuilding = false }()

	if s.idx != nil {
		_ = s.idx.Close()
	}
	_ = os.RemoveAll(s.layout.GetIndexPath())

	scratchPath, err := os.MkdirTemp("", "sugar-datastore-rebuild-*")
	if err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	scratch, err := index.Open(scratchPath, s.layout, true)
	if err != nil {
		return err
	}

	report(RebuildProgress{Stage: RebuildStageScanning})
	ids, err := s.layout.FindAll()
	if err != nil {
		return err
	}

	now := strconv.FormatInt(time.Now().Unix(), 10)
	total := len(ids)

	bags := make([]map[string][]byte, total)
	loadErrs := make([]error, total)

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(rebuildScanConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			bag, err := s.metadata.Retrieve(id, nil)
			if err != nil {
				loadErrs[i] = err
				return nil
			}
			bags[i] = bag
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if loadErrs[i] != nil {
			slog.Warn("rebuild_dropped_entry", slog.String("id", id), slog.String("error", loadErrs[i].Error()))
			_ = s.layout.RemoveEntry(id)
			report(RebuildProgress{Stage: RebuildStageReindexing, Current: i + 1, Total: total, ID: id, Err: loadErrs[i]})
			continue
		}
		if err := s.reindexEntry(scratch, id, now, bags[i]); err != nil {
			slog.Warn("rebuild_dropped_entry", slog.String("id", id), slog.String("error", err.Error()))
			_ = s.layout.RemoveEntry(id)
			report(RebuildProgress{Stage: RebuildStageReindexing, Current: i + 1, Total: total, ID: id, Err: err})
			continue
		}
		report(RebuildProgress{Stage: RebuildStageReindexing, Current: i + 1, Total: total, ID: id})
	}

	report(RebuildProgress{Stage: RebuildStageFlushing, Total: total})
	if err := scratch.Flush(); err != nil {
		return err
	}

	report(RebuildProgress{Stage: RebuildStagePromoting, Total: total})
	return s.promoteScratch(scratch, scratchPath)
}

// promoteScratch decides whether the rebuilt scratch index fits back on
// the primary disk (>= 1.2x its size in free bytes, and >= 5 MiB
// headroom). If so it is copied into place and the scratch copy is
// removed; otherwise the scratch copy stays in use and the index-valid
// marker is left stale, matching the rebuild contract.
func (s *Store) promoteScratch(scratch *index.Index, scratchPath string) error {
	size := dirSize(scratchPath)

	fits := false
	if s.freeBytes != nil {
		if free, err := s.freeBytes(s.layout.Root()); err == nil {
			need := uint64(float64(size)*rebuildSizeMultiplier) + rebuildSizeHeadroom
			fits = free >= need
		}
	}

	if !fits {
		s.idx = scratch
		slog.Warn("rebuild_kept_on_scratch", slog.String("path", scratchPath))
		return s.layout.MarkClean()
	}

	if err := scratch.Close(); err != nil {
		return err
	}
	primary := s.layout.GetIndexPath()
	if err := os.MkdirAll(filepath.Dir(primary), 0o755); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, err)
	}
	if err := os.Rename(scratchPath, primary); err != nil {
		return errs.Wrap(errs.ErrCodeInternal, fmt.Errorf("promote rebuilt index: %w", err))
	}

	idx, err := index.Open(primary, s.layout, false)
	if err != nil {
		return err
	}
	s.idx = idx
	return s.layout.MarkClean()
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// reindexEntry normalizes a property bag already loaded by the rebuild
// scan stage and writes it into the scratch index. Defaulting and the
// index write happen sequentially, in scan order, so progress reporting
// and dropped-entry bookkeeping stay deterministic even though the bag
// loads themselves ran concurrently.
func (s *Store) reindexEntry(idx *index.Index, id, now string, bag map[string][]byte) error {
	changed := false
	if existing, ok := bag["uid"]; !ok || string(existing) != id {
		bag["uid"] = []byte(id)
		changed = true
	}
	if _, ok := bag["filesize"]; !ok {
		bag["filesize"] = []byte(strconv.FormatInt(s.payload.Filesize(id), 10))
		changed = true
	}
	if _, ok := bag["timestamp"]; !ok {
		bag["timestamp"] = []byte(now)
		changed = true
	}
	if _, ok := bag["creation_time"]; !ok {
		bag["creation_time"] = bag["timestamp"]
		changed = true
	}
	if changed {
		if err := s.metadata.Store(id, bag); err != nil {
			return err
		}
	}

	return idx.Store(id, stringBag(bag), "")
}

func stringBag(bag map[string][]byte) map[string]string {
	out := make(map[string]string, len(bag))
	for k, v := range bag {
		out[k] = string(v)
	}
	return out
}

// Create generates a new id, normalizes timestamp/creation_time/filesize,
// and stores properties, index terms, and payload.
func (s *Store) Create(properties map[string][]byte, sourcePath string, transferOwnership bool) (id string, err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpCreate, id, start, err) }()

	id = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.layout.MarkDirty(); err != nil {
		return "", err
	}
	if err = s.layout.EnsureEntryDirs(id); err != nil {
		return "", err
	}

	if _, ok := properties["filesize"]; !ok {
		var size int64
		if sourcePath != "" {
			if info, statErr := os.Stat(sourcePath); statErr == nil {
				size = info.Size()
			}
		}
		properties["filesize"] = []byte(strconv.FormatInt(size, 10))
	}
	normalizeProperties(id, properties)

	if err = s.metadata.Store(id, properties); err != nil {
		return "", err
	}
	if err = s.idx.Store(id, stringBag(properties), ""); err != nil {
		return "", err
	}

	done := make(chan error, 1)
	s.payload.Store(id, sourcePath, transferOwnership, func(e error) { done <- e })
	if err = <-done; err != nil {
		return "", err
	}

	s.emit(SignalCreated, id)
	s.dispatchOptimize(id)
	if err = s.layout.MarkClean(); err != nil {
		return "", err
	}
	return id, nil
}

// Update replaces properties and, optionally, the payload for an
// existing id.
func (s *Store) Update(id string, properties map[string][]byte, sourcePath string, transferOwnership bool) (err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpUpdate, id, start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.layout.EntryExists(id) {
		err = errs.NotFound(id)
		return err
	}
	if err = s.layout.MarkDirty(); err != nil {
		return err
	}

	normalizeProperties(id, properties)
	if err = s.metadata.Store(id, properties); err != nil {
		return err
	}
	s.props.Invalidate(id)
	if err = s.idx.Store(id, stringBag(properties), ""); err != nil {
		return err
	}

	hadPayload := s.payload.Filesize(id) > 0
	if hadPayload && (sourcePath == "" || fileExists(sourcePath)) {
		_ = s.optimizer.Remove(id)
	}

	done := make(chan error, 1)
	s.payload.Store(id, sourcePath, transferOwnership, func(e error) { done <- e })
	if err = <-done; err != nil {
		return err
	}

	s.emit(SignalUpdated, id)
	s.dispatchOptimize(id)
	err = s.layout.MarkClean()
	return err
}

// dispatchOptimize runs the dedup pass for id on a background goroutine
// so create/update never block on hashing the payload, matching the
// optimizer's low-priority-idle-task design.
func (s *Store) dispatchOptimize(id string) {
	go func() {
		if err := s.optimizer.Optimize(id); err != nil {
			slog.Warn("optimize_failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}()
}

// normalizeProperties re-asserts uid and defaults timestamp/creation_time,
// mutating bag in place. Called before every metadata/index write so the
// on-disk uid property can never drift from the entry's directory name.
func normalizeProperties(id string, bag map[string][]byte) {
	bag["uid"] = []byte(id)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if _, ok := bag["timestamp"]; !ok {
		bag["timestamp"] = []byte(now)
	}
	if _, ok := bag["creation_time"]; !ok {
		bag["creation_time"] = bag["timestamp"]
	}
}

// FindIDs runs query against the index and returns matching ids plus an
// estimated total, falling back to a plain id-order enumeration while a
// rebuild is in progress or if the index raises an exception it cannot
// recover from.
func (s *Store) FindIDs(q index.Query) (ids []string, total uint64, err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpFindIDs, "", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rebuilding {
		ids, total, err = s.findFallback(q)
		return ids, total, err
	}

	ids, total, err = s.idx.Find(q)
	if err != nil {
		if rebuildErr := s.rebuild(nil); rebuildErr != nil {
			err = rebuildErr
			return nil, 0, err
		}
		ids, total, err = s.findFallback(q)
		return ids, total, err
	}

	for _, id := range ids {
		if !s.layout.EntryExists(id) {
			if rebuildErr := s.rebuild(nil); rebuildErr != nil {
				err = rebuildErr
				return nil, 0, err
			}
			ids, total, err = s.findFallback(q)
			return ids, total, err
		}
	}
	return ids, total, nil
}

// Find runs query against the index and fills in the property bag for
// each hit, trimmed to requestedProps (all properties when empty),
// mirroring find_ids's recovery behavior.
func (s *Store) Find(q index.Query, requestedProps []string) (results []map[string][]byte, total uint64, err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpFind, "", start, err) }()

	ids, total, err := s.FindIDs(q)
	if err != nil {
		return nil, 0, err
	}

	results = make([]map[string][]byte, 0, len(ids))
	for _, id := range ids {
		bag, propErr := s.GetProperties(id)
		if propErr != nil {
			continue
		}
		results = append(results, filterProperties(bag, requestedProps))
	}
	return results, total, nil
}

// filterProperties returns a copy of bag restricted to names, or bag
// itself (uncopied) when names is empty.
func filterProperties(bag map[string][]byte, names []string) map[string][]byte {
	if len(names) == 0 {
		return bag
	}
	filtered := make(map[string][]byte, len(names))
	for _, name := range names {
		if v, ok := bag[name]; ok {
			filtered[name] = v
		}
	}
	return filtered
}

func (s *Store) findFallback(q index.Query) ([]string, uint64, error) {
	all, err := s.layout.FindAll()
	if err != nil {
		return nil, 0, err
	}
	total := uint64(len(all))

	offset := q.Offset
	limit := q.Limit
	if limit <= 0 {
		limit = len(all)
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// GetProperties returns id's full property bag, with computed properties
// (uid, decimal filesize) filled in. Consults the property cache first and
// populates it on a miss.
func (s *Store) GetProperties(id string) (bag map[string][]byte, err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpGetProperties, id, start, err) }()

	if cached, ok := s.props.Get(id); ok {
		return cached, nil
	}

	bag, err = s.metadata.Retrieve(id, nil)
	if err != nil {
		return nil, err
	}
	bag["uid"] = []byte(id)
	if _, ok := bag["filesize"]; !ok {
		bag["filesize"] = []byte(strconv.FormatInt(s.payload.Filesize(id), 10))
	}
	s.props.Set(id, bag)
	return bag, nil
}

// GetFilename produces a caller-accessible hard link to id's payload (a
// symlink when the link would cross devices), using a MIME-derived
// extension when available.
func (s *Store) GetFilename(id string) (path string, err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpGetFilename, id, start, err) }()

	ext := ""
	if mime, ok := s.metadata.GetProperty(id, "mime_type"); ok {
		ext = extensionForMimeType(string(mime))
	}
	path, err = s.payload.Retrieve(id, currentUID(), ext)
	return path, err
}

// Delete removes an entry's payload, index terms, metadata, dedup
// registration, and directory.
func (s *Store) Delete(id string) (err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpDelete, id, start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.layout.MarkDirty(); err != nil {
		return err
	}
	_ = s.optimizer.Remove(id)
	if err = s.idx.Delete(id); err != nil {
		return err
	}
	if err = s.payload.Delete(id); err != nil {
		return err
	}
	if err = s.metadata.Delete(id); err != nil {
		return err
	}
	s.props.Invalidate(id)
	if err = s.layout.RemoveEntry(id); err != nil {
		return err
	}
	s.emit(SignalDeleted, id)
	err = s.layout.MarkClean()
	return err
}

// UniqueValues generalizes get_activities() to any structured field.
func (s *Store) UniqueValues(field string) (values []string, err error) {
	start := time.Now()
	defer func() { s.record(telemetry.OpUniqueValues, field, start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	values, err = s.idx.UniqueValues(field)
	return values, err
}

// StoreStats summarizes the on-disk state of a profile root, backing the
// `doctor`/`stats` CLI commands.
type StoreStats struct {
	ProfileRoot  string
	EntryCount   int
	Clean        bool
	IndexValid   bool
	MetadataSize int64
	IndexSize    int64
	PayloadSize  int64
	TotalSize    int64
}

// Stats reports the current on-disk state without mutating anything.
func (s *Store) Stats() (StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.layout.FindAll()
	if err != nil {
		return StoreStats{}, err
	}

	var payloadSize int64
	for _, id := range ids {
		payloadSize += s.payload.Filesize(id)
	}

	indexSize := dirSize(s.layout.GetIndexPath())
	totalSize := dirSize(s.layout.Root())
	metadataSize := totalSize - indexSize - payloadSize
	if metadataSize < 0 {
		metadataSize = 0
	}

	return StoreStats{
		ProfileRoot:  s.layout.Root(),
		EntryCount:   len(ids),
		Clean:        s.layout.IsClean(),
		IndexValid:   s.layout.HasIndexMarker(),
		MetadataSize: metadataSize,
		IndexSize:    indexSize,
		PayloadSize:  payloadSize,
		TotalSize:    totalSize,
	}, nil
}

// Root returns the profile's datastore root directory.
func (s *Store) Root() string {
	return s.layout.Root()
}

// Stop flushes the index and releases the layout lock. Safe to call once.
func (s *Store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idxErr error
	if s.idx != nil {
		idxErr = s.idx.Close()
	}
	unlockErr := s.layout.Unlock()
	s.emit(SignalStopped, "")
	close(s.signals)

	if idxErr != nil {
		return idxErr
	}
	return unlockErr
}
