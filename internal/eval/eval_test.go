package eval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/indexmgr"
	"github.com/fsearch/fsearch/internal/query"
	"github.com/fsearch/fsearch/internal/segment"
)

// fakeDocStore is an in-memory stand-in for docstore.Store, letting the
// evaluator be exercised without a database.
type fakeDocStore struct {
	docs map[uint32]docmodel.Document
}

func newFakeDocStore(docs ...docmodel.Document) *fakeDocStore {
	m := make(map[uint32]docmodel.Document, len(docs))
	for _, d := range docs {
		m[d.DocID] = d
	}
	return &fakeDocStore{docs: m}
}

func (f *fakeDocStore) TotalDocCount(ctx context.Context) (uint32, error) {
	return uint32(len(f.docs)), nil
}

func (f *fakeDocStore) AverageDocLength(ctx context.Context) (float64, error) {
	if len(f.docs) == 0 {
		return 0, nil
	}
	var total uint64
	for _, d := range f.docs {
		total += uint64(d.TokenCount)
	}
	return float64(total) / float64(len(f.docs)), nil
}

func (f *fakeDocStore) FindByID(ctx context.Context, docID uint32) (docmodel.Document, bool, error) {
	d, ok := f.docs[docID]
	return d, ok, nil
}

func (f *fakeDocStore) FindDocIDsByExtension(ctx context.Context, extension string) ([]uint32, error) {
	var out []uint32
	for _, d := range f.docs {
		if d.Extension == extension {
			out = append(out, d.DocID)
		}
	}
	return out, nil
}

func (f *fakeDocStore) FindDocIDsByType(ctx context.Context, docType docmodel.DocType) ([]uint32, error) {
	var out []uint32
	for _, d := range f.docs {
		if d.DocType == docType {
			out = append(out, d.DocID)
		}
	}
	return out, nil
}

func (f *fakeDocStore) FindDocIDsByMtimeRange(ctx context.Context, from, to time.Time) ([]uint32, error) {
	var out []uint32
	for _, d := range f.docs {
		if !d.Mtime.Before(from) && !d.Mtime.After(to) {
			out = append(out, d.DocID)
		}
	}
	return out, nil
}

func (f *fakeDocStore) FindDocIDsBySizeRange(ctx context.Context, min, max uint64) ([]uint32, error) {
	var out []uint32
	for _, d := range f.docs {
		if d.SizeBytes >= min && d.SizeBytes <= max {
			out = append(out, d.DocID)
		}
	}
	return out, nil
}

func (f *fakeDocStore) FindDocIDsByPathPrefix(ctx context.Context, prefix string) ([]uint32, error) {
	var out []uint32
	for _, d := range f.docs {
		if len(d.Path) >= len(prefix) && d.Path[:len(prefix)] == prefix {
			out = append(out, d.DocID)
		}
	}
	return out, nil
}

func (f *fakeDocStore) FindDocIDsByFileName(ctx context.Context, name string) ([]uint32, error) {
	var out []uint32
	for _, d := range f.docs {
		if filepath.Base(d.Path) == name {
			out = append(out, d.DocID)
		}
	}
	return out, nil
}

// buildSegment writes one on-disk segment from term -> postings under dir
// and opens a Reader over it.
func buildSegment(t *testing.T, dir, segmentID string, entries []segment.TermEntry) *segment.Reader {
	t.Helper()
	w := segment.NewWriter(dir)
	if _, err := w.Write(segmentID, entries, 0); err != nil {
		t.Fatalf("writing segment %s: %v", segmentID, err)
	}
	r, err := segment.Open(filepath.Join(dir, "seg-"+segmentID))
	if err != nil {
		t.Fatalf("opening segment %s: %v", segmentID, err)
	}
	return r
}

func newDoc(id uint32, path string, ext string, size uint64, mtime time.Time, tokenCount uint32) docmodel.Document {
	return docmodel.Document{
		DocID:      id,
		Path:       path,
		Extension:  ext,
		SizeBytes:  size,
		Mtime:      mtime,
		DocType:    docmodel.ClassifyExtension(ext),
		TokenCount: tokenCount,
	}
}

func TestEvaluateSingleTermMatchesExpectedDocs(t *testing.T) {
	dir := t.TempDir()
	// d1 = "java programming", d2 = "java tutorial", d3 = "python programming"
	r := buildSegment(t, dir, "1", []segment.TermEntry{
		{Term: "java", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{0}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
		{Term: "programming", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{1}},
			{DocID: 3, TermFreq: 1, Positions: []uint32{1}},
		}},
		{Term: "tutorial", Postings: []docmodel.Posting{
			{DocID: 2, TermFreq: 1, Positions: []uint32{1}},
		}},
		{Term: "python", Postings: []docmodel.Posting{
			{DocID: 3, TermFreq: 1, Positions: []uint32{0}},
		}},
	})

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := newFakeDocStore(
		newDoc(1, "/a/java-prog.txt", "txt", 10, now, 2),
		newDoc(2, "/a/java-tut.txt", "txt", 10, now, 2),
		newDoc(3, "/a/py-prog.txt", "txt", 10, now, 2),
	)

	snapshot := &indexmgr.Snapshot{Readers: []*segment.Reader{r}, Tombstones: map[string]map[uint32]struct{}{"1": {}}}

	parsed, err := query.Parse("java AND programming")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ev := New(docs)
	result, err := ev.Evaluate(context.Background(), parsed, snapshot, "java AND programming", 10)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].DocID != 1 {
		t.Fatalf("expected exactly doc 1, got %+v", result.Hits)
	}
	if result.TotalHits != 1 {
		t.Fatalf("expected total hits 1, got %d", result.TotalHits)
	}
}

func TestEvaluatePhraseRequiresAdjacency(t *testing.T) {
	dir := t.TempDir()
	// d1 = "the quick brown fox" (quick@1, brown@2)
	// d2 = "quick fox brown" (quick@0, brown@2, not adjacent)
	r := buildSegment(t, dir, "1", []segment.TermEntry{
		{Term: "quick", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{1}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
		{Term: "brown", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{2}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{2}},
		}},
	})

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := newFakeDocStore(
		newDoc(1, "/a/d1.txt", "txt", 10, now, 4),
		newDoc(2, "/a/d2.txt", "txt", 10, now, 3),
	)

	snapshot := &indexmgr.Snapshot{Readers: []*segment.Reader{r}, Tombstones: map[string]map[uint32]struct{}{"1": {}}}

	parsed, err := query.Parse(`"quick brown"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ev := New(docs)
	result, err := ev.Evaluate(context.Background(), parsed, snapshot, `"quick brown"`, 10)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].DocID != 1 {
		t.Fatalf("expected exactly doc 1 for adjacent phrase, got %+v", result.Hits)
	}
}

func TestEvaluateNotExcludesChild(t *testing.T) {
	dir := t.TempDir()
	r := buildSegment(t, dir, "1", []segment.TermEntry{
		{Term: "draft", Postings: []docmodel.Posting{
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
		{Term: "report", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{0}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{1}},
		}},
	})

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := newFakeDocStore(
		newDoc(1, "/a/d1.txt", "txt", 10, now, 1),
		newDoc(2, "/a/d2.txt", "txt", 10, now, 2),
	)

	snapshot := &indexmgr.Snapshot{Readers: []*segment.Reader{r}, Tombstones: map[string]map[uint32]struct{}{"1": {}}}

	parsed, err := query.Parse("report -draft")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ev := New(docs)
	result, err := ev.Evaluate(context.Background(), parsed, snapshot, "report -draft", 10)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].DocID != 1 {
		t.Fatalf("expected only doc 1 once draft-tagged doc 2 is excluded, got %+v", result.Hits)
	}
}

func TestEvaluateFieldQueryScoresOne(t *testing.T) {
	dir := t.TempDir()
	r := buildSegment(t, dir, "1", []segment.TermEntry{
		{Term: "placeholder", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{0}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
	})

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := newFakeDocStore(
		newDoc(1, "/a/readme.md", "md", 6, now, 1),
		newDoc(2, "/a/notes.txt", "txt", 18, now, 1),
	)

	snapshot := &indexmgr.Snapshot{Readers: []*segment.Reader{r}, Tombstones: map[string]map[uint32]struct{}{"1": {}}}

	parsed, err := query.Parse("ext:md")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ev := New(docs)
	result, err := ev.Evaluate(context.Background(), parsed, snapshot, "ext:md", 10)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].DocID != 1 || result.Hits[0].Score != 1 {
		t.Fatalf("expected doc 1 with score 1, got %+v", result.Hits)
	}
}

func TestEvaluateRangeQueryOverSize(t *testing.T) {
	dir := t.TempDir()
	r := buildSegment(t, dir, "1", []segment.TermEntry{
		{Term: "placeholder", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{0}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
	})

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := newFakeDocStore(
		newDoc(1, "/a/a.md", "md", 6, now, 1),
		newDoc(2, "/a/b.md", "md", 18, now, 1),
	)

	snapshot := &indexmgr.Snapshot{Readers: []*segment.Reader{r}, Tombstones: map[string]map[uint32]struct{}{"1": {}}}

	parsed, err := query.Parse("size:1..20")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ev := New(docs)
	result, err := ev.Evaluate(context.Background(), parsed, snapshot, "size:1..20", 10)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Hits) != 2 {
		t.Fatalf("expected both files within range, got %+v", result.Hits)
	}
}

func TestEvaluateSortDirectiveOrdersByMtimeDescending(t *testing.T) {
	dir := t.TempDir()
	r := buildSegment(t, dir, "1", []segment.TermEntry{
		{Term: "report", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{0}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
	})

	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := newFakeDocStore(
		newDoc(1, "/a/old.txt", "txt", 10, older, 1),
		newDoc(2, "/a/new.txt", "txt", 10, newer, 1),
	)

	snapshot := &indexmgr.Snapshot{Readers: []*segment.Reader{r}, Tombstones: map[string]map[uint32]struct{}{"1": {}}}

	parsed, err := query.Parse("report sort:mtime")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ev := New(docs)
	result, err := ev.Evaluate(context.Background(), parsed, snapshot, "report sort:mtime", 10)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Hits) != 2 || result.Hits[0].DocID != 2 || result.Hits[1].DocID != 1 {
		t.Fatalf("expected newest doc first, got %+v", result.Hits)
	}
}

func TestEvaluateZeroLimitReturnsNoHitsButCountsTotal(t *testing.T) {
	dir := t.TempDir()
	r := buildSegment(t, dir, "1", []segment.TermEntry{
		{Term: "report", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{0}},
		}},
	})
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := newFakeDocStore(newDoc(1, "/a/d1.txt", "txt", 10, now, 1))
	snapshot := &indexmgr.Snapshot{Readers: []*segment.Reader{r}, Tombstones: map[string]map[uint32]struct{}{"1": {}}}

	parsed, err := query.Parse("report")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ev := New(docs)
	result, err := ev.Evaluate(context.Background(), parsed, snapshot, "report", 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Hits) != 0 {
		t.Fatalf("expected zero hits for limit=0, got %+v", result.Hits)
	}
	if result.TotalHits != 1 {
		t.Fatalf("expected total hits to still count the candidate, got %d", result.TotalHits)
	}
}
