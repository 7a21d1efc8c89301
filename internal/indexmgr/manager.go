// Package indexmgr implements the index manager: the single owner of the
// WAL, the manifest, and every segment file on disk. It runs the ingest
// pipeline (bounded queue -> worker pool -> MemSegment), the commit
// protocol (WAL append -> flush -> atomic manifest publish -> checkpoint),
// crash recovery (manifest load + idempotent WAL replay), and tiered merge.
package indexmgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsearch/fsearch/internal/docstore"
	"github.com/fsearch/fsearch/internal/levelmgr"
	"github.com/fsearch/fsearch/internal/manifest"
	"github.com/fsearch/fsearch/internal/memindex"
	"github.com/fsearch/fsearch/internal/segment"
	"github.com/fsearch/fsearch/internal/wal"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
	"github.com/fsearch/fsearch/pkg/metrics"
)

// Manager coordinates the full lifecycle of one index: ingest, commit,
// recovery, and merge. Queries read through GetActiveSegments, which
// returns an immutable snapshot that concurrent merges cannot invalidate.
type Manager struct {
	cfg      Config
	docstore *docstore.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger

	wal      *wal.WAL
	manifest *manifest.Store
	levels   *levelmgr.LevelIndex
	writer   *segment.Writer

	mem *memindex.MemSegment

	readersMu sync.RWMutex
	readers   map[string]*segment.Reader // segmentID -> reader

	locationMu sync.Mutex
	location   map[uint32]string // docId -> segmentID (no entry while the doc is only in MemSegment)

	tombstonesMu sync.Mutex
	tombstones   map[string]map[uint32]struct{} // segmentID -> tombstoned docIds, pending next merge

	closeOnce sync.Once
	stopFlush chan struct{}
	flushWG   sync.WaitGroup
}

// Open creates the index directory layout if needed, loads the manifest
// and opens every listed segment (verifying CRCs), then replays the WAL to
// recover from any crash between commit-protocol steps.
func Open(cfg Config, ds *docstore.Store, m *metrics.Metrics) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "creating index data directory: %v", err)
	}

	manifestStore, err := manifest.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	walDir := filepath.Join(cfg.DataDir, "wal")
	w, err := wal.Open(walDir)
	if err != nil {
		return nil, err
	}
	if m != nil {
		w.OnAppend = func() { m.WALAppendsTotal.Inc() }
		w.OnRotate = func() { m.WALRotationsTotal.Inc() }
	}

	mgr := &Manager{
		cfg:       cfg,
		docstore:  ds,
		metrics:   m,
		logger:    slog.Default().With("component", "indexmgr"),
		wal:       w,
		manifest:  manifestStore,
		levels:    levelmgr.NewWithFanIn(cfg.MergeFanIn),
		writer:    segment.NewWriter(cfg.DataDir),
		mem:       memindex.New(),
		readers:    make(map[string]*segment.Reader),
		location:   make(map[uint32]string),
		tombstones: make(map[string]map[uint32]struct{}),
		stopFlush:  make(chan struct{}),
	}

	if err := mgr.loadManifestSegments(); err != nil {
		return nil, fmt.Errorf("loading segments from manifest: %w", err)
	}

	if err := mgr.Recover(); err != nil {
		return nil, fmt.Errorf("replaying wal: %w", err)
	}

	return mgr, nil
}

func (mgr *Manager) loadManifestSegments() error {
	current := mgr.manifest.Current()
	for _, ref := range current.Segments {
		dir := filepath.Join(mgr.cfg.DataDir, "seg-"+ref.SegmentID)
		r, err := segment.Open(dir)
		if err != nil {
			mgr.logger.Error("failed to open segment listed in manifest, skipping", "segment", ref.SegmentID, "error", err)
			continue
		}
		mgr.readers[ref.SegmentID] = r
		mgr.levels.Add(ref.SegmentID, ref.Level)

		tombs, err := segment.LoadTombstones(dir)
		if err != nil {
			mgr.logger.Error("failed to load segment tombstones", "segment", ref.SegmentID, "error", err)
			tombs = map[uint32]struct{}{}
		}
		mgr.tombstonesMu.Lock()
		mgr.tombstones[ref.SegmentID] = tombs
		mgr.tombstonesMu.Unlock()

		ids, err := r.LiveDocIDs()
		if err != nil {
			mgr.logger.Error("failed to enumerate live doc ids", "segment", ref.SegmentID, "error", err)
			continue
		}
		mgr.locationMu.Lock()
		for id := range ids {
			if _, deleted := tombs[id]; deleted {
				continue
			}
			mgr.location[id] = ref.SegmentID
		}
		mgr.locationMu.Unlock()
		mgr.logger.Info("loaded segment from manifest", "segment", ref.SegmentID, "level", ref.Level, "terms", r.Terms(), "docs", r.DocCount())
	}
	return nil
}

// Snapshot is the handle GetActiveSegments returns: a pinned manifest
// paired with the open Reader of each referenced segment. The caller must
// call Release when done.
type Snapshot struct {
	manifestSnap *manifest.Snapshot
	Readers      []*segment.Reader
	Tombstones   map[string]map[uint32]struct{} // segmentID -> tombstoned docIds at snapshot time
}

// Release drops the underlying manifest snapshot, allowing merged-away
// segments it referenced to become eligible for deletion.
func (s *Snapshot) Release() { s.manifestSnap.Release() }

// IsLive reports whether docID is live in the given segment as of this
// snapshot, used by the query evaluator to drop tombstoned docs.
func (s *Snapshot) IsLive(segmentID string, docID uint32) bool {
	return segment.IsLive(s.Tombstones[segmentID], docID)
}

// GetActiveSegments returns an immutable handle over the currently active
// segment set, safe to hold across a query's lifetime even if a concurrent
// merge publishes a new manifest.
func (mgr *Manager) GetActiveSegments() *Snapshot {
	manifestSnap := mgr.manifest.Acquire()

	mgr.readersMu.RLock()
	readers := make([]*segment.Reader, 0, len(manifestSnap.Segments))
	for _, ref := range manifestSnap.Segments {
		if r, ok := mgr.readers[ref.SegmentID]; ok {
			readers = append(readers, r)
		}
	}
	mgr.readersMu.RUnlock()

	mgr.tombstonesMu.Lock()
	tombstones := make(map[string]map[uint32]struct{}, len(readers))
	for _, r := range readers {
		id := r.Meta().SegmentID
		snap := make(map[uint32]struct{}, len(mgr.tombstones[id]))
		for docID := range mgr.tombstones[id] {
			snap[docID] = struct{}{}
		}
		tombstones[id] = snap
	}
	mgr.tombstonesMu.Unlock()

	return &Snapshot{manifestSnap: manifestSnap, Readers: readers, Tombstones: tombstones}
}

// MemSegment exposes the live in-memory segment. It is not part of the
// manifest and the query evaluator does not read it: documents become
// searchable only after the flush that writes them to a segment.
func (mgr *Manager) MemSegment() *memindex.MemSegment { return mgr.mem }

// Status summarizes the manager's current state, backing the CLI/daemon
// `status` surface.
type Status struct {
	DocCount       uint32
	ActiveSegments int
	ManifestGen    uint64
}

func (mgr *Manager) Status() Status {
	current := mgr.manifest.Current()
	mgr.readersMu.RLock()
	defer mgr.readersMu.RUnlock()
	return Status{
		ActiveSegments: len(mgr.readers),
		ManifestGen:    current.Generation,
	}
}

// newSegmentID generates a collision-resistant segment directory suffix:
// a base-36 nanosecond timestamp plus a random tiebreaker, matching the
// monotone-ish IDs the teacher derives from wall-clock sequencing.
func newSegmentID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.Itoa(rand.Intn(1<<20))
}

// StartFlushLoop runs a ticker-driven background flush and a separate
// ticker-driven merge check, mirroring the teacher's periodic-flush idiom:
// an idle index still commits accumulated documents within FlushInterval
// instead of waiting indefinitely for the doc-count/byte threshold to
// trip, and still drains eligible tiered merges within MergeInterval
// instead of waiting for the next ingest batch to trigger one.
func (mgr *Manager) StartFlushLoop() {
	if mgr.cfg.FlushInterval <= 0 {
		return
	}
	mgr.flushWG.Add(1)
	go func() {
		defer mgr.flushWG.Done()
		flushTicker := time.NewTicker(mgr.cfg.FlushInterval)
		defer flushTicker.Stop()

		mergeInterval := mgr.cfg.MergeInterval
		if mergeInterval <= 0 {
			mergeInterval = mgr.cfg.FlushInterval
		}
		mergeTicker := time.NewTicker(mergeInterval)
		defer mergeTicker.Stop()

		for {
			select {
			case <-mgr.stopFlush:
				return
			case <-flushTicker.C:
				if mgr.mem.DocCount() == 0 {
					continue
				}
				if err := mgr.Flush(); err != nil {
					mgr.logger.Error("periodic flush failed", "error", err)
				}
			case <-mergeTicker.C:
				ctx := context.Background()
				for {
					merged, err := mgr.MaybeMerge(ctx)
					if err != nil {
						mgr.logger.Error("periodic merge failed", "error", err)
						break
					}
					if !merged {
						break
					}
				}
			}
		}
	}()
}

// Close performs a final flush, stops the background flush loop, and
// closes the WAL.
func (mgr *Manager) Close() error {
	var closeErr error
	mgr.closeOnce.Do(func() {
		close(mgr.stopFlush)
		mgr.flushWG.Wait()
		if err := mgr.Flush(); err != nil {
			mgr.logger.Error("final flush on close failed", "error", err)
			closeErr = err
		}
		if err := mgr.wal.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}
