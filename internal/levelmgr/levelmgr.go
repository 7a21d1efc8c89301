// Package levelmgr tracks which segment belongs to which tier level and
// performs the tiered merge: once a level accumulates enough segments they
// are k-way merged by dictionary term into one segment at the next level.
package levelmgr

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/segment"
)

// MergeThreshold is the number of same-level segments that triggers a
// merge into the next level up.
const MergeThreshold = 10

// LevelIndex tracks, for each tier level, the ordered set of segment IDs
// currently residing there. It holds no file handles; it is pure
// bookkeeping consulted by the index manager to decide when to merge.
type LevelIndex struct {
	mu        sync.RWMutex
	levels    map[int][]string
	threshold int
	logger    *slog.Logger
}

// New creates an empty LevelIndex using the default MergeThreshold fan-in.
func New() *LevelIndex {
	return NewWithFanIn(MergeThreshold)
}

// NewWithFanIn creates an empty LevelIndex that merges a level once it
// accumulates fanIn segments. A non-positive fanIn falls back to
// MergeThreshold.
func NewWithFanIn(fanIn int) *LevelIndex {
	if fanIn <= 0 {
		fanIn = MergeThreshold
	}
	return &LevelIndex{
		levels:    make(map[int][]string),
		threshold: fanIn,
		logger:    slog.Default().With("component", "levelmgr"),
	}
}

// Add records segmentID as newly residing at level.
func (l *LevelIndex) Add(segmentID string, level int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[level] = append(l.levels[level], segmentID)
}

// Remove deletes segmentID from whichever level it is tracked at, used
// once an input segment has been merged away (before its files are
// removed).
func (l *LevelIndex) Remove(segmentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for level, ids := range l.levels {
		for i, id := range ids {
			if id == segmentID {
				l.levels[level] = append(ids[:i], ids[i+1:]...)
				return
			}
		}
	}
}

// SegmentsAtLevel returns a snapshot of the segment IDs at level.
func (l *LevelIndex) SegmentsAtLevel(level int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.levels[level]))
	copy(out, l.levels[level])
	return out
}

// MergeCandidate scans levels from lowest to highest and returns the first
// one that has reached this index's fan-in threshold, along with those
// segment IDs. ok is false if no level currently qualifies.
func (l *LevelIndex) MergeCandidate() (level int, segmentIDs []string, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sortedLevels []int
	for lv := range l.levels {
		sortedLevels = append(sortedLevels, lv)
	}
	sort.Ints(sortedLevels)
	for _, lv := range sortedLevels {
		if len(l.levels[lv]) >= l.threshold {
			ids := make([]string, len(l.levels[lv]))
			copy(ids, l.levels[lv])
			return lv, ids, true
		}
	}
	return 0, nil, false
}

// Input bundles one contributing segment for a merge: its reader and the
// tombstone set recording which of its docIds must be dropped.
type Input struct {
	Reader     *segment.Reader
	Tombstones map[uint32]struct{}
}

// Merge performs a k-way ordered merge of the dictionaries of inputs,
// producing one TermEntry per term present in at least one input. For each
// term, contributing postings are pooled across inputs (skipping
// tombstoned docIds), sorted by docId, and written as a single new segment
// at newLevel via writer.
func Merge(writer *segment.Writer, newSegmentID string, newLevel int, inputs []Input) (*segment.Descriptor, error) {
	termSet := make(map[string]struct{})
	for _, in := range inputs {
		for _, de := range in.Reader.AllTerms() {
			termSet[de.Term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(termSet))
	for t := range termSet {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	entries := make([]segment.TermEntry, 0, len(terms))
	for _, term := range terms {
		var postings []docmodel.Posting
		for _, in := range inputs {
			de, ok := in.Reader.Find(term)
			if !ok {
				continue
			}
			ps, err := in.Reader.Postings(de)
			if err != nil {
				return nil, err
			}
			positions, err := in.Reader.PositionsBulk(de)
			if err != nil {
				return nil, err
			}
			for _, p := range ps {
				if _, deleted := in.Tombstones[p.DocID]; deleted {
					continue
				}
				p.Positions = positions[p.DocID]
				postings = append(postings, p)
			}
		}
		if len(postings) == 0 {
			continue
		}
		sort.Slice(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })
		entries = append(entries, segment.TermEntry{Term: term, Postings: postings})
	}

	if len(entries) == 0 {
		return nil, nil
	}
	return writer.Write(newSegmentID, entries, newLevel)
}
