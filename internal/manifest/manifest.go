// Package manifest implements the segment set: the single source of truth
// for which on-disk segments currently participate in queries. It is a
// single-writer, multi-reader structure published by temp-file + atomic
// rename, with reference-counted snapshots so an in-flight query never has
// a segment file deleted out from under it by a concurrent merge.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

const (
	fileName    = "manifest"
	tmpFileName = "manifest.tmp"
)

// SegmentRef identifies one active segment and its tier level.
type SegmentRef struct {
	SegmentID string `json:"segmentId"`
	Level     int    `json:"level"`
}

// Manifest is the published segment set at a point in time.
type Manifest struct {
	Generation uint64       `json:"generation"`
	Segments   []SegmentRef `json:"segments"`
}

// Store owns the on-disk manifest file and tracks, in memory, how many
// live query snapshots reference each segment ID. A segment's files may
// only be removed once it is absent from the current manifest AND its
// reference count has dropped to zero.
type Store struct {
	dir string

	mu      sync.RWMutex
	current Manifest
	refs    map[string]int
}

// Open loads the manifest file from dir, or starts from an empty manifest
// if none exists yet (a brand new index).
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, refs: make(map[string]int)}
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fserrors.Newf(fserrors.ErrIO, "reading manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fserrors.Newf(fserrors.ErrFormat, "parsing manifest: %v", err)
	}
	s.current = m
	return s, nil
}

// Current returns a copy of the currently published manifest.
func (s *Store) Current() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	segs := make([]SegmentRef, len(s.current.Segments))
	copy(segs, s.current.Segments)
	return Manifest{Generation: s.current.Generation, Segments: segs}
}

// Publish writes a new manifest to a temp file, fsyncs it, and atomically
// renames it into place, incrementing the generation counter. The caller
// is responsible for having already fsynced the segment files and
// tombstones the new manifest references.
func (s *Store) Publish(segments []SegmentRef) (Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Manifest{Generation: s.current.Generation + 1, Segments: segments}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return Manifest{}, fserrors.Newf(fserrors.ErrIO, "marshaling manifest: %v", err)
	}

	tmpPath := filepath.Join(s.dir, tmpFileName)
	f, err := os.Create(tmpPath)
	if err != nil {
		return Manifest{}, fserrors.Newf(fserrors.ErrIO, "creating manifest temp file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return Manifest{}, fserrors.Newf(fserrors.ErrIO, "writing manifest temp file: %v", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return Manifest{}, fserrors.Newf(fserrors.ErrIO, "fsyncing manifest temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		return Manifest{}, fserrors.Newf(fserrors.ErrIO, "closing manifest temp file: %v", err)
	}

	finalPath := filepath.Join(s.dir, fileName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Manifest{}, fserrors.Newf(fserrors.ErrIO, "renaming manifest into place: %v", err)
	}

	s.current = next
	return next, nil
}

// Snapshot is an immutable, reference-counted handle on the segment set as
// of the moment it was acquired. Concurrent merges may publish a new
// manifest while a snapshot is alive; the segments it references are not
// eligible for deletion until Release is called.
type Snapshot struct {
	store    *Store
	Segments []SegmentRef
	released bool
	mu       sync.Mutex
}

// Acquire pins the current manifest's segment set, incrementing each
// referenced segment's refcount.
func (s *Store) Acquire() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := make([]SegmentRef, len(s.current.Segments))
	copy(segs, s.current.Segments)
	for _, ref := range segs {
		s.refs[ref.SegmentID]++
	}
	return &Snapshot{store: s, Segments: segs}
}

// Release drops this snapshot's references. It is safe to call more than
// once; only the first call has effect.
func (snap *Snapshot) Release() {
	snap.mu.Lock()
	defer snap.mu.Unlock()
	if snap.released {
		return
	}
	snap.released = true

	snap.store.mu.Lock()
	defer snap.store.mu.Unlock()
	for _, ref := range snap.Segments {
		snap.store.refs[ref.SegmentID]--
		if snap.store.refs[ref.SegmentID] <= 0 {
			delete(snap.store.refs, ref.SegmentID)
		}
	}
}

// Deletable reports whether segmentID is safe to remove from disk: it must
// be absent from the current manifest and have no live snapshot holding a
// reference to it.
func (s *Store) Deletable(segmentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ref := range s.current.Segments {
		if ref.SegmentID == segmentID {
			return false
		}
	}
	return s.refs[segmentID] == 0
}
