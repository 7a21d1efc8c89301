package memindex

import (
	"sync"
	"testing"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/segment"
)

func tokensFor(terms ...string) []docmodel.Token {
	toks := make([]docmodel.Token, len(terms))
	for i, term := range terms {
		toks[i] = docmodel.Token{Term: term, Position: uint32(i)}
	}
	return toks
}

func TestAddDocumentConcurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := uint32(1); i <= 200; i++ {
		wg.Add(1)
		go func(docID uint32) {
			defer wg.Done()
			m.AddDocument(docID, tokensFor("alpha", "beta", "alpha"))
		}(i)
	}
	wg.Wait()

	if m.DocCount() != 200 {
		t.Fatalf("expected docCount 200, got %d", m.DocCount())
	}
	v, ok := m.terms.Load("alpha")
	if !ok {
		t.Fatal("expected term 'alpha' to be present")
	}
	te := v.(*termEntry)
	if len(te.postings) != 200 {
		t.Fatalf("expected 200 postings for 'alpha', got %d", len(te.postings))
	}
}

func TestFlushSortsTermsAndPostings(t *testing.T) {
	dir := t.TempDir()
	m := New()
	m.AddDocument(3, tokensFor("dog"))
	m.AddDocument(1, tokensFor("cat", "dog"))
	m.AddDocument(2, tokensFor("cat"))

	w := segment.NewWriter(dir)
	desc, err := m.Flush(w, "1", 0)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if desc.DocCount != 3 {
		t.Fatalf("expected docCount 3, got %d", desc.DocCount)
	}

	r, err := segment.Open(dir + "/seg-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	terms := r.AllTerms()
	if len(terms) != 2 || terms[0].Term != "cat" || terms[1].Term != "dog" {
		t.Fatalf("expected sorted terms [cat dog], got %+v", terms)
	}

	catEntry, _ := r.Find("cat")
	catPostings, err := r.Postings(catEntry)
	if err != nil {
		t.Fatalf("postings: %v", err)
	}
	if len(catPostings) != 2 || catPostings[0].DocID != 1 || catPostings[1].DocID != 2 {
		t.Fatalf("expected cat postings sorted by docId [1 2], got %+v", catPostings)
	}

	dogEntry, _ := r.Find("dog")
	dogPostings, err := r.Postings(dogEntry)
	if err != nil {
		t.Fatalf("postings: %v", err)
	}
	if len(dogPostings) != 2 || dogPostings[0].DocID != 1 || dogPostings[1].DocID != 3 {
		t.Fatalf("expected dog postings sorted by docId [1 3], got %+v", dogPostings)
	}
}

func TestFlushResetsState(t *testing.T) {
	dir := t.TempDir()
	m := New()
	m.AddDocument(1, tokensFor("alpha"))

	w := segment.NewWriter(dir)
	if _, err := m.Flush(w, "1", 0); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if m.DocCount() != 0 {
		t.Fatalf("expected docCount reset to 0, got %d", m.DocCount())
	}
	if m.SizeEstimate() != 0 {
		t.Fatalf("expected size reset to 0, got %d", m.SizeEstimate())
	}
	if _, ok := m.terms.Load("alpha"); ok {
		t.Fatal("expected term map cleared after flush")
	}
}

func TestFlushExcludesTombstonedDocs(t *testing.T) {
	dir := t.TempDir()
	m := New()
	m.AddDocument(1, tokensFor("alpha"))
	m.AddDocument(2, tokensFor("alpha"))
	m.Delete(1)

	w := segment.NewWriter(dir)
	desc, err := m.Flush(w, "1", 0)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if desc.DocCount != 1 {
		t.Fatalf("expected docCount 1 after tombstoning doc 1, got %d", desc.DocCount)
	}
	r, err := segment.Open(dir + "/seg-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entry, _ := r.Find("alpha")
	postings, err := r.Postings(entry)
	if err != nil {
		t.Fatalf("postings: %v", err)
	}
	if len(postings) != 1 || postings[0].DocID != 2 {
		t.Fatalf("expected only doc 2 to remain, got %+v", postings)
	}
}

func TestShouldFlushThresholds(t *testing.T) {
	m := New()
	thresholds := Thresholds{MaxDocCount: 2, MaxSizeBytes: 1 << 30}
	if m.ShouldFlush(thresholds) {
		t.Fatal("empty segment should not need flushing")
	}
	m.AddDocument(1, tokensFor("alpha"))
	if m.ShouldFlush(thresholds) {
		t.Fatal("segment below doc threshold should not need flushing")
	}
	m.AddDocument(2, tokensFor("alpha"))
	if !m.ShouldFlush(thresholds) {
		t.Fatal("segment at doc threshold should need flushing")
	}
}

func TestFlushEmptySegmentReturnsNil(t *testing.T) {
	dir := t.TempDir()
	m := New()
	w := segment.NewWriter(dir)
	desc, err := m.Flush(w, "1", 0)
	if err != nil {
		t.Fatalf("flush of empty segment should not error: %v", err)
	}
	if desc != nil {
		t.Fatalf("expected nil descriptor for empty segment, got %+v", desc)
	}
}
