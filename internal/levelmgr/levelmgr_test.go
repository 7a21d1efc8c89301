package levelmgr

import (
	"testing"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/segment"
)

func TestMergeCandidateRequiresThreshold(t *testing.T) {
	l := New()
	for i := 0; i < MergeThreshold-1; i++ {
		l.Add("seg", 0)
	}
	if _, _, ok := l.MergeCandidate(); ok {
		t.Fatal("expected no merge candidate below threshold")
	}
	l.Add("seg-last", 0)
	level, ids, ok := l.MergeCandidate()
	if !ok {
		t.Fatal("expected a merge candidate once threshold reached")
	}
	if level != 0 || len(ids) != MergeThreshold {
		t.Fatalf("expected level 0 with %d segments, got level %d with %d", MergeThreshold, level, len(ids))
	}
}

func TestMergeCandidatePrefersLowestLevel(t *testing.T) {
	l := New()
	for i := 0; i < MergeThreshold; i++ {
		l.Add("l1-seg", 1)
	}
	for i := 0; i < MergeThreshold; i++ {
		l.Add("l0-seg", 0)
	}
	level, _, ok := l.MergeCandidate()
	if !ok || level != 0 {
		t.Fatalf("expected level 0 to be preferred, got level %d ok=%v", level, ok)
	}
}

func TestRemoveDropsFromLevel(t *testing.T) {
	l := New()
	l.Add("a", 0)
	l.Add("b", 0)
	l.Remove("a")
	segs := l.SegmentsAtLevel(0)
	if len(segs) != 1 || segs[0] != "b" {
		t.Fatalf("expected only 'b' left at level 0, got %+v", segs)
	}
}

func writeTestSegment(t *testing.T, dir, id string, entries []segment.TermEntry) *segment.Reader {
	t.Helper()
	w := segment.NewWriter(dir)
	if _, err := w.Write(id, entries, 0); err != nil {
		t.Fatalf("writing segment %s: %v", id, err)
	}
	r, err := segment.Open(dir + "/seg-" + id)
	if err != nil {
		t.Fatalf("opening segment %s: %v", id, err)
	}
	return r
}

func TestMergeUnionsPostingsAcrossInputsSortedByDocID(t *testing.T) {
	dir := t.TempDir()
	r1 := writeTestSegment(t, dir, "1", []segment.TermEntry{
		{Term: "alpha", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 2, Positions: []uint32{0, 5}},
			{DocID: 3, TermFreq: 1, Positions: []uint32{1}},
		}},
	})
	r2 := writeTestSegment(t, dir, "2", []segment.TermEntry{
		{Term: "alpha", Postings: []docmodel.Posting{
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
		{Term: "beta", Postings: []docmodel.Posting{
			{DocID: 4, TermFreq: 1, Positions: []uint32{2}},
		}},
	})

	inputs := []Input{
		{Reader: r1, Tombstones: map[uint32]struct{}{}},
		{Reader: r2, Tombstones: map[uint32]struct{}{}},
	}
	w := segment.NewWriter(dir)
	desc, err := Merge(w, "merged", 1, inputs)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if desc.Level != 1 {
		t.Fatalf("expected merged segment at level 1, got %d", desc.Level)
	}

	merged, err := segment.Open(dir + "/seg-merged")
	if err != nil {
		t.Fatalf("opening merged segment: %v", err)
	}

	alphaEntry, ok := merged.Find("alpha")
	if !ok {
		t.Fatal("expected term 'alpha' in merged segment")
	}
	alphaPostings, err := merged.Postings(alphaEntry)
	if err != nil {
		t.Fatalf("alpha postings: %v", err)
	}
	if len(alphaPostings) != 3 {
		t.Fatalf("expected 3 alpha postings, got %d", len(alphaPostings))
	}
	for i, want := range []uint32{1, 2, 3} {
		if alphaPostings[i].DocID != want {
			t.Fatalf("alpha posting %d: want docId %d got %d", i, want, alphaPostings[i].DocID)
		}
	}

	if _, ok := merged.Find("beta"); !ok {
		t.Fatal("expected term 'beta' in merged segment")
	}
}

func TestMergeSkipsTombstonedDocs(t *testing.T) {
	dir := t.TempDir()
	r1 := writeTestSegment(t, dir, "1", []segment.TermEntry{
		{Term: "alpha", Postings: []docmodel.Posting{
			{DocID: 1, TermFreq: 1, Positions: []uint32{0}},
			{DocID: 2, TermFreq: 1, Positions: []uint32{0}},
		}},
	})
	inputs := []Input{
		{Reader: r1, Tombstones: map[uint32]struct{}{1: {}}},
	}
	w := segment.NewWriter(dir)
	if _, err := Merge(w, "merged", 1, inputs); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	merged, err := segment.Open(dir + "/seg-merged")
	if err != nil {
		t.Fatalf("opening merged segment: %v", err)
	}
	entry, _ := merged.Find("alpha")
	postings, err := merged.Postings(entry)
	if err != nil {
		t.Fatalf("postings: %v", err)
	}
	if len(postings) != 1 || postings[0].DocID != 2 {
		t.Fatalf("expected only doc 2 to survive tombstoning of doc 1, got %+v", postings)
	}
}

func TestMergeAllTombstonedReturnsNilDescriptor(t *testing.T) {
	dir := t.TempDir()
	r1 := writeTestSegment(t, dir, "1", []segment.TermEntry{
		{Term: "alpha", Postings: []docmodel.Posting{{DocID: 1, TermFreq: 1, Positions: []uint32{0}}}},
	})
	inputs := []Input{{Reader: r1, Tombstones: map[uint32]struct{}{1: {}}}}
	w := segment.NewWriter(dir)
	desc, err := Merge(w, "merged", 1, inputs)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if desc != nil {
		t.Fatalf("expected nil descriptor when every doc is tombstoned, got %+v", desc)
	}
}
