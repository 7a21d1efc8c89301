// Package wal implements the index manager's append-only write-ahead log:
// an ordered record of intended mutations (ADD/DELETE/UPDATE) that is
// fsynced ahead of any change to the in-memory or on-disk index state, and
// replayed idempotently on startup to recover from a crash between steps
// of the commit protocol.
package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	fserrors "github.com/fsearch/fsearch/pkg/errors"
	"github.com/fsearch/fsearch/pkg/resilience"
)

// fsyncRetryConfig governs retries for fsync and segment rename, the two
// filesystem operations the commit protocol cannot proceed without. A
// transient EINTR or NFS hiccup should not abort a commit outright.
var fsyncRetryConfig = resilience.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 5 * time.Millisecond,
	MaxDelay:     50 * time.Millisecond,
	Multiplier:   2,
}

const (
	currentFileName = "current.wal"
	rotatedPrefix   = "rotated-"
	rotatedSuffix   = ".wal"

	// DefaultMaxSegmentSize rotates the active WAL segment once it exceeds
	// 16 MiB, per the commit protocol's rotation threshold.
	DefaultMaxSegmentSize = 16 << 20
)

// WAL is a single-writer, append-only log. Appends are serialized under a
// mutex; readers only exist during recovery, before any writer is opened.
type WAL struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	offset  int64
	maxSize int64
	nextSeq int

	// OnAppend and OnRotate, if set, are called after a successful append
	// and segment rotation respectively, driving the wal_appends_total and
	// wal_rotations_total counters without the wal package importing
	// pkg/metrics directly.
	OnAppend func()
	OnRotate func()
}

// Open creates dir if needed, scans it for existing rotated segments to
// determine the next rotation sequence number, and opens (or creates)
// current.wal for append.
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "creating wal directory: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "listing wal directory: %v", err)
	}
	nextSeq := 0
	for _, e := range entries {
		if seq, ok := parseRotatedSeq(e.Name()); ok && seq >= nextSeq {
			nextSeq = seq + 1
		}
	}

	f, err := os.OpenFile(filepath.Join(dir, currentFileName), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "opening wal current segment: %v", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fserrors.Newf(fserrors.ErrIO, "stat wal current segment: %v", err)
	}

	return &WAL{
		dir:     dir,
		file:    f,
		offset:  stat.Size(),
		maxSize: DefaultMaxSegmentSize,
		nextSeq: nextSeq,
	}, nil
}

// Append encodes and fsyncs rec, rotating the active segment first if it
// would exceed the rotation threshold.
func (w *WAL) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := encode(rec)
	if w.offset+int64(len(data)) > w.maxSize && w.offset > 0 {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(data)
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "appending wal record: %v", err)
	}
	if err := resilience.Retry(context.Background(), "wal-fsync", fsyncRetryConfig, w.file.Sync); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "fsyncing wal: %v", err)
	}
	w.offset += int64(n)
	if w.OnAppend != nil {
		w.OnAppend()
	}
	return nil
}

func (w *WAL) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "closing wal segment before rotation: %v", err)
	}
	rotatedPath := filepath.Join(w.dir, fmt.Sprintf("%s%d%s", rotatedPrefix, w.nextSeq, rotatedSuffix))
	renameFn := func() error { return os.Rename(filepath.Join(w.dir, currentFileName), rotatedPath) }
	if err := resilience.Retry(context.Background(), "wal-rotate", fsyncRetryConfig, renameFn); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "rotating wal segment: %v", err)
	}
	w.nextSeq++

	f, err := os.OpenFile(filepath.Join(w.dir, currentFileName), os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "opening new wal segment: %v", err)
	}
	w.file = f
	w.offset = 0
	if w.OnRotate != nil {
		w.OnRotate()
	}
	return nil
}

// Checkpoint truncates the WAL: it deletes all rotated segments and
// truncates the current segment to empty. Called after a manifest publish
// has made every WAL entry's effect durable on disk.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "listing wal directory for checkpoint: %v", err)
	}
	for _, e := range entries {
		if _, ok := parseRotatedSeq(e.Name()); ok {
			if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil {
				return fserrors.Newf(fserrors.ErrIO, "removing rotated wal segment %s: %v", e.Name(), err)
			}
		}
	}
	if err := w.file.Truncate(0); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "truncating current wal segment: %v", err)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "seeking current wal segment after truncate: %v", err)
	}
	if err := resilience.Retry(context.Background(), "wal-checkpoint-fsync", fsyncRetryConfig, w.file.Sync); err != nil {
		return fserrors.Newf(fserrors.ErrIO, "fsyncing wal after checkpoint: %v", err)
	}
	w.offset = 0
	return nil
}

// Close closes the active segment file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Dir returns the directory the WAL's segments live in.
func (w *WAL) Dir() string { return w.dir }

// Size returns the current active segment's byte offset.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// MaxSize returns the rotation threshold in bytes.
func (w *WAL) MaxSize() int64 { return w.maxSize }

// Replay reads every rotated segment (oldest first) then the current
// segment, decoding records in append order. A truncated trailing frame
// (a crash mid-append) ends replay at that point without error, since the
// corresponding mutation never completed.
func Replay(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fserrors.Newf(fserrors.ErrIO, "listing wal directory: %v", err)
	}

	type rotatedFile struct {
		seq  int
		name string
	}
	var rotated []rotatedFile
	for _, e := range entries {
		if seq, ok := parseRotatedSeq(e.Name()); ok {
			rotated = append(rotated, rotatedFile{seq: seq, name: e.Name()})
		}
	}
	sort.Slice(rotated, func(i, j int) bool { return rotated[i].seq < rotated[j].seq })

	var records []Record
	for _, rf := range rotated {
		recs, err := replayFile(filepath.Join(dir, rf.name))
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	currentPath := filepath.Join(dir, currentFileName)
	if _, err := os.Stat(currentPath); err == nil {
		recs, err := replayFile(currentPath)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	return records, nil
}

func replayFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "reading wal segment %s: %v", path, err)
	}
	var records []Record
	off := 0
	for off < len(data) {
		rec, n, err := decodeOne(data[off:])
		if err != nil {
			if err == errShortFrame {
				break
			}
			return nil, fmt.Errorf("wal segment %s at offset %d: %w", path, off, err)
		}
		records = append(records, rec)
		off += n
	}
	return records, nil
}

func parseRotatedSeq(name string) (int, bool) {
	if !strings.HasPrefix(name, rotatedPrefix) || !strings.HasSuffix(name, rotatedSuffix) {
		return 0, false
	}
	numPart := strings.TrimSuffix(strings.TrimPrefix(name, rotatedPrefix), rotatedSuffix)
	seq, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, false
	}
	return seq, true
}
