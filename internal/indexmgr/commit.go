package indexmgr

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsearch/fsearch/internal/levelmgr"
	"github.com/fsearch/fsearch/internal/manifest"
	"github.com/fsearch/fsearch/internal/segment"
)

// Flush runs the commit protocol: flush the live MemSegment to a new
// on-disk segment, register it in the level index, publish an updated
// manifest, then checkpoint the WAL. A flush of an empty MemSegment is a
// no-op.
func (mgr *Manager) Flush() error {
	segmentID := newSegmentID()
	desc, err := mgr.mem.Flush(mgr.writer, segmentID, 0)
	if err != nil {
		if mgr.metrics != nil {
			mgr.metrics.IndexFlushesTotal.WithLabelValues("error").Inc()
		}
		return err
	}
	if desc == nil {
		return nil // nothing accumulated since the last flush
	}

	dir := segmentDir(mgr.cfg.DataDir, segmentID)
	reader, err := segment.Open(dir)
	if err != nil {
		if mgr.metrics != nil {
			mgr.metrics.IndexFlushesTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	mgr.readersMu.Lock()
	mgr.readers[segmentID] = reader
	mgr.readersMu.Unlock()
	mgr.levels.Add(segmentID, desc.Level)

	ids, err := reader.LiveDocIDs()
	if err == nil {
		mgr.locationMu.Lock()
		for id := range ids {
			mgr.location[id] = segmentID
		}
		mgr.locationMu.Unlock()
	}

	if err := mgr.publishManifest(); err != nil {
		if mgr.metrics != nil {
			mgr.metrics.IndexFlushesTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	if err := mgr.wal.Checkpoint(); err != nil {
		return err
	}

	if mgr.metrics != nil {
		mgr.metrics.IndexFlushesTotal.WithLabelValues("success").Inc()
		mgr.readersMu.RLock()
		mgr.metrics.ActiveSegments.Set(float64(len(mgr.readers)))
		mgr.readersMu.RUnlock()
	}
	mgr.logger.Info("flushed mem segment", "segment", segmentID, "docs", desc.DocCount, "terms", desc.TermCount)
	return nil
}

// publishManifest republishes the manifest from the current level index's
// contents. Callers must have already registered any new segment with
// mgr.levels before calling this.
func (mgr *Manager) publishManifest() error {
	var refs []manifest.SegmentRef
	mgr.readersMu.RLock()
	for id := range mgr.readers {
		refs = append(refs, manifest.SegmentRef{SegmentID: id, Level: mgr.levelOf(id)})
	}
	mgr.readersMu.RUnlock()
	_, err := mgr.manifest.Publish(refs)
	return err
}

// levelOf reports the tier level currently tracked for segmentID, scanning
// every level (bounded by the small number of active tiers).
func (mgr *Manager) levelOf(segmentID string) int {
	for level := 0; level < 32; level++ {
		for _, id := range mgr.levels.SegmentsAtLevel(level) {
			if id == segmentID {
				return level
			}
		}
	}
	return 0
}

func segmentDir(root, segmentID string) string {
	return filepath.Join(root, "seg-"+segmentID)
}

// maybeFlushAndMerge flushes any pending in-memory documents, then performs
// as many tiered merges as are currently eligible. It is called after an
// ingest pipeline run completes.
func (mgr *Manager) maybeFlushAndMerge(ctx context.Context) error {
	if mgr.mem.DocCount() > 0 {
		if err := mgr.Flush(); err != nil {
			return err
		}
	}
	for {
		merged, err := mgr.MaybeMerge(ctx)
		if err != nil {
			return err
		}
		if !merged {
			return nil
		}
	}
}

// MaybeMerge performs a single tiered merge if any level has reached the
// level index's configured fan-in, publishing the updated manifest and then
// removing the input segments that are already deletable (see
// cleanupMergedSegments). It reports whether a merge occurred.
func (mgr *Manager) MaybeMerge(ctx context.Context) (bool, error) {
	level, segmentIDs, ok := mgr.levels.MergeCandidate()
	if !ok {
		return false, nil
	}

	mgr.readersMu.RLock()
	inputs := make([]levelmgr.Input, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		r, exists := mgr.readers[id]
		if !exists {
			continue
		}
		mgr.tombstonesMu.Lock()
		tombs := mgr.tombstones[id]
		mgr.tombstonesMu.Unlock()
		inputs = append(inputs, levelmgr.Input{Reader: r, Tombstones: tombs})
	}
	mgr.readersMu.RUnlock()

	newSegmentID := newSegmentID()
	desc, err := levelmgr.Merge(mgr.writer, newSegmentID, level+1, inputs)
	if err != nil {
		return false, err
	}

	mgr.readersMu.Lock()
	for _, id := range segmentIDs {
		delete(mgr.readers, id)
		mgr.levels.Remove(id)
	}
	if desc != nil {
		dir := segmentDir(mgr.cfg.DataDir, newSegmentID)
		reader, err := segment.Open(dir)
		if err != nil {
			mgr.readersMu.Unlock()
			return false, err
		}
		mgr.readers[newSegmentID] = reader
		mgr.levels.Add(newSegmentID, desc.Level)
	}
	mgr.readersMu.Unlock()

	mgr.relocateTombstonedDocs(segmentIDs, newSegmentID, desc)

	if err := mgr.publishManifest(); err != nil {
		return false, err
	}

	mgr.cleanupMergedSegments(segmentIDs)

	if mgr.metrics != nil {
		mgr.metrics.SegmentMergesTotal.WithLabelValues(strconv.Itoa(level + 1)).Inc()
		mgr.readersMu.RLock()
		mgr.metrics.ActiveSegments.Set(float64(len(mgr.readers)))
		mgr.readersMu.RUnlock()
	}

	mgr.logger.Info("merged segments", "level", level, "inputs", len(segmentIDs), "output", newSegmentID)
	return true, nil
}

// relocateTombstonedDocs updates the docId -> segment location map after a
// merge: surviving documents now live in the merged output segment, and
// their source segments' tombstone sets are no longer needed.
func (mgr *Manager) relocateTombstonedDocs(oldIDs []string, newID string, desc *segment.Descriptor) {
	oldSet := make(map[string]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = struct{}{}
	}
	mgr.locationMu.Lock()
	for docID, segID := range mgr.location {
		if _, wasMerged := oldSet[segID]; wasMerged {
			if desc != nil {
				mgr.location[docID] = newID
			} else {
				delete(mgr.location, docID)
			}
		}
	}
	mgr.locationMu.Unlock()

	mgr.tombstonesMu.Lock()
	for _, id := range oldIDs {
		delete(mgr.tombstones, id)
	}
	mgr.tombstonesMu.Unlock()
}

// cleanupMergedSegments removes each merged-away segment's files if the
// manifest no longer references it and no live query snapshot holds it.
// It runs once per merge; a segment still held by a snapshot at that
// moment is skipped and its directory is not revisited later.
func (mgr *Manager) cleanupMergedSegments(segmentIDs []string) {
	for _, id := range segmentIDs {
		if !mgr.manifest.Deletable(id) {
			continue
		}
		dir := segmentDir(mgr.cfg.DataDir, id)
		if err := os.RemoveAll(dir); err != nil {
			mgr.logger.Error("failed to remove merged segment directory", "segment", id, "error", err)
			continue
		}
	}
}
