package indexmgr

import (
	"context"
	"io"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fsearch/fsearch/internal/discovery"
	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/segment"
	"github.com/fsearch/fsearch/internal/tokenizer"
	"github.com/fsearch/fsearch/internal/wal"
)

// maxReadBytes bounds how much of a file IngestPath reads into memory,
// matching the discovery walker's own admission cap so a file that slips
// past Admit (e.g. grown after being queued) cannot blow up a worker.
const maxReadBytes = discovery.DefaultMaxFileSize

// RunIngestPipeline walks every configured source root, feeding discovered
// files through a bounded queue into a pool of ingest workers, then
// reconciles paths DocStore still has but the scan no longer saw as
// deletes. It blocks until the walk and all workers complete.
func (mgr *Manager) RunIngestPipeline(ctx context.Context) error {
	numWorkers := mgr.cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueCap := mgr.cfg.QueueCapacity
	if queueCap <= 0 {
		queueCap = 1000
	}

	queue := make(chan discovery.FileInfo, queueCap)
	seen := make(map[string]struct{})

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(queue)
		walker := discovery.NewWalker(mgr.cfg.SourceRoots)
		return walker.Walk(gctx, queue)
	})

	seenCh := make(chan string, queueCap)
	for i := 0; i < numWorkers; i++ {
		group.Go(func() error {
			for fi := range queue {
				if err := mgr.IngestPath(gctx, fi); err != nil {
					mgr.logger.Error("ingest failed", "path", fi.Path, "error", err)
					continue
				}
				select {
				case seenCh <- fi.Path:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		for p := range seenCh {
			seen[p] = struct{}{}
		}
		close(done)
	}()

	err := group.Wait()
	close(seenCh)
	<-done
	if err != nil {
		return err
	}

	if err := mgr.reconcileDeletes(ctx, seen); err != nil {
		return err
	}
	return mgr.maybeFlushAndMerge(ctx)
}

// reconcileDeletes removes any document DocStore still has but which was
// not observed in this scan's seen set.
func (mgr *Manager) reconcileDeletes(ctx context.Context, seen map[string]struct{}) error {
	docs, err := mgr.docstore.AllDocuments(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if _, ok := seen[d.Path]; ok {
			continue
		}
		if err := mgr.deletePath(ctx, d.Path); err != nil {
			mgr.logger.Error("reconcile delete failed", "path", d.Path, "error", err)
		}
	}
	return nil
}

// IngestPath indexes or re-indexes a single discovered file: it decides
// ADD vs UPDATE vs no-op against DocStore's current record, appends a WAL
// record before mutating any in-memory state, then tokenizes and applies
// the change to the live MemSegment.
func (mgr *Manager) IngestPath(ctx context.Context, fi discovery.FileInfo) error {
	existing, found, err := mgr.docstore.FindByPath(ctx, fi.Path)
	if err != nil {
		return err
	}
	if found && existing.Mtime.Equal(fi.Mtime) && existing.SizeBytes == uint64(fi.Size) {
		return nil // unchanged since last ingest
	}

	op := wal.OpAdd
	if found {
		op = wal.OpUpdate
	}
	if err := mgr.wal.Append(wal.Record{
		Op:        op,
		Timestamp: time.Now().UTC(),
		Path:      fi.Path,
		Mtime:     fi.Mtime,
		Size:      fi.Size,
	}); err != nil {
		return err
	}

	tokens, err := mgr.tokenizeFile(fi.Path)
	if err != nil {
		return err
	}

	var docID uint32
	ext := extensionOf(fi.Path)
	docType := docmodel.ClassifyExtension(ext)
	if found {
		// Tombstone the stale version (unflushed or on disk) and re-add the
		// file under a fresh docId, so the tombstone never covers the new
		// postings.
		mgr.mem.Delete(existing.DocID)
		mgr.markDeletedInSegment(existing.DocID)
		if _, _, err := mgr.docstore.DeleteByPath(ctx, fi.Path); err != nil {
			return err
		}
	}
	docID, err = mgr.docstore.NextDocID(ctx)
	if err != nil {
		return err
	}
	doc := docmodel.Document{
		DocID:      docID,
		Path:       fi.Path,
		Extension:  ext,
		SizeBytes:  uint64(fi.Size),
		Mtime:      fi.Mtime,
		DocType:    docType,
		TokenCount: uint32(len(tokens)),
	}
	if err := mgr.docstore.Insert(ctx, doc); err != nil {
		return err
	}

	mgr.mem.AddDocument(docID, tokens)
	if mgr.metrics != nil {
		mgr.metrics.DocsIndexedTotal.Inc()
	}

	if mgr.mem.ShouldFlush(mgr.cfg.Thresholds) {
		if err := mgr.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// deletePath applies a DELETE: WAL record, tombstone in whichever segment
// (memory or disk) currently holds the document, then remove its DocStore
// row.
func (mgr *Manager) deletePath(ctx context.Context, path string) error {
	existing, found, err := mgr.docstore.FindByPath(ctx, path)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := mgr.wal.Append(wal.Record{
		Op:        wal.OpDelete,
		Timestamp: time.Now().UTC(),
		Path:      path,
		Mtime:     existing.Mtime,
		Size:      int64(existing.SizeBytes),
	}); err != nil {
		return err
	}
	mgr.mem.Delete(existing.DocID)
	mgr.markDeletedInSegment(existing.DocID)
	_, _, err = mgr.docstore.DeleteByPath(ctx, path)
	return err
}

// markDeletedInSegment records a tombstone against whichever on-disk
// segment the location map says currently holds docID, if any.
func (mgr *Manager) markDeletedInSegment(docID uint32) {
	mgr.locationMu.Lock()
	segID, ok := mgr.location[docID]
	delete(mgr.location, docID)
	mgr.locationMu.Unlock()
	if !ok {
		return
	}
	mgr.readersMu.RLock()
	reader, exists := mgr.readers[segID]
	mgr.readersMu.RUnlock()
	if !exists {
		return
	}

	mgr.tombstonesMu.Lock()
	if mgr.tombstones[segID] == nil {
		mgr.tombstones[segID] = make(map[uint32]struct{})
	}
	mgr.tombstones[segID][docID] = struct{}{}
	snapshot := make(map[uint32]struct{}, len(mgr.tombstones[segID]))
	for id := range mgr.tombstones[segID] {
		snapshot[id] = struct{}{}
	}
	mgr.tombstonesMu.Unlock()

	if err := segment.SaveTombstones(reader.Dir(), snapshot); err != nil {
		mgr.logger.Error("failed to persist tombstone", "segment", segID, "doc", docID, "error", err)
	}
}

func (mgr *Manager) tokenizeFile(path string) ([]docmodel.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes))
	if err != nil {
		return nil, err
	}
	return tokenizer.Tokenize(string(data), mgr.cfg.TokenizerOpts), nil
}

func extensionOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '.' && path[i] != '/' {
		i--
	}
	if i < 0 || path[i] != '.' {
		return ""
	}
	ext := path[i+1:]
	for j := 0; j < len(ext); j++ {
		if ext[j] >= 'A' && ext[j] <= 'Z' {
			ext = toLowerASCII(ext)
			break
		}
	}
	return ext
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
