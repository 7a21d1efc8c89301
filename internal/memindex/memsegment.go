// Package memindex implements the in-memory segment: the mutable
// accumulator that ingest workers append to and the index manager
// periodically flushes into an immutable on-disk segment.
package memindex

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/segment"
)

// Thresholds controls when a MemSegment should be flushed.
type Thresholds struct {
	MaxDocCount  int
	MaxSizeBytes int64
}

// DefaultThresholds matches the index manager's flush policy: 10,000
// documents or 64 MiB of estimated postings, whichever comes first.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxDocCount: 10_000, MaxSizeBytes: 64 << 20}
}

type termEntry struct {
	mu       sync.Mutex
	postings []docmodel.Posting
}

// MemSegment accumulates postings and positions under concurrent append. A
// single read/write lock separates many concurrent appenders (RLock) from
// one exclusive flush (Lock); within that, per-term mutexes (the Go analog
// of a ConcurrentHashMap bucket lock) let unrelated terms be appended to
// without contending on each other.
type MemSegment struct {
	mu     sync.RWMutex
	terms  sync.Map // string -> *termEntry
	docs   int64     // atomic: number of AddDocument calls since last reset
	size   int64     // atomic: estimated byte footprint
	tombMu sync.Mutex
	tombs  map[uint32]struct{}
}

// New creates an empty MemSegment.
func New() *MemSegment {
	return &MemSegment{tombs: make(map[uint32]struct{})}
}

// AddDocument appends one document's tokens under the segment's read lock,
// so many workers may append concurrently; only Flush excludes them.
func (m *MemSegment) AddDocument(docID uint32, tokens []docmodel.Token) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := make(map[string]*docmodel.Posting)
	for _, tok := range tokens {
		p, ok := agg[tok.Term]
		if !ok {
			p = &docmodel.Posting{DocID: docID}
			agg[tok.Term] = p
		}
		p.TermFreq++
		p.Positions = append(p.Positions, tok.Position)
	}

	var bytesAdded int64
	for term, posting := range agg {
		v, _ := m.terms.LoadOrStore(term, &termEntry{})
		te := v.(*termEntry)
		te.mu.Lock()
		te.postings = append(te.postings, *posting)
		te.mu.Unlock()
		bytesAdded += int64(len(term)) + int64(len(posting.Positions))*4 + 16
	}
	atomic.AddInt64(&m.docs, 1)
	atomic.AddInt64(&m.size, bytesAdded)
}

// Delete marks docID as tombstoned within this still-unflushed segment, for
// the case where a document is removed before it was ever persisted.
func (m *MemSegment) Delete(docID uint32) {
	m.tombMu.Lock()
	defer m.tombMu.Unlock()
	m.tombs[docID] = struct{}{}
}

// DocCount returns the number of AddDocument calls since the last flush.
func (m *MemSegment) DocCount() int { return int(atomic.LoadInt64(&m.docs)) }

// SizeEstimate returns the estimated byte footprint of the accumulated
// postings since the last flush.
func (m *MemSegment) SizeEstimate() int64 { return atomic.LoadInt64(&m.size) }

// ShouldFlush reports whether the segment has crossed either flush
// threshold.
func (m *MemSegment) ShouldFlush(t Thresholds) bool {
	return m.DocCount() >= t.MaxDocCount || m.SizeEstimate() >= t.MaxSizeBytes
}

// Flush runs under the segment's write lock, so no concurrent append
// observes a partial snapshot. It sorts terms lexically ascending and, for
// each term, sorts postings by docId ascending before streaming them to a
// new on-disk segment via writer.
func (m *MemSegment) Flush(writer *segment.Writer, segmentID string, level int) (*segment.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tombMu.Lock()
	tombs := m.tombs
	m.tombMu.Unlock()

	var entries []segment.TermEntry
	m.terms.Range(func(key, value any) bool {
		term := key.(string)
		te := value.(*termEntry)
		te.mu.Lock()
		postings := make([]docmodel.Posting, 0, len(te.postings))
		for _, p := range te.postings {
			if _, deleted := tombs[p.DocID]; deleted {
				continue
			}
			sort.Slice(p.Positions, func(i, j int) bool { return p.Positions[i] < p.Positions[j] })
			postings = append(postings, p)
		}
		te.mu.Unlock()
		if len(postings) == 0 {
			return true
		}
		sort.Slice(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })
		entries = append(entries, segment.TermEntry{Term: term, Postings: postings})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })

	if len(entries) == 0 {
		m.resetLocked()
		return nil, nil
	}

	desc, err := writer.Write(segmentID, entries, level)
	if err != nil {
		return nil, err
	}
	m.resetLocked()
	return desc, nil
}

func (m *MemSegment) resetLocked() {
	m.terms = sync.Map{}
	atomic.StoreInt64(&m.docs, 0)
	atomic.StoreInt64(&m.size, 0)
	m.tombMu.Lock()
	m.tombs = make(map[uint32]struct{})
	m.tombMu.Unlock()
}
