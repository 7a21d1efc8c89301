package rank

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestIDFDecreasesAsDocFreqIncreases(t *testing.T) {
	rare := IDF(1000, 1)
	common := IDF(1000, 500)
	if !(rare > common) {
		t.Fatalf("expected rare term idf %v > common term idf %v", rare, common)
	}
}

func TestIDFClampsDocFreqToTotalDocs(t *testing.T) {
	clamped := IDF(10, 50)
	exact := IDF(10, 10)
	if !almostEqual(clamped, exact) {
		t.Fatalf("expected docFreq > totalDocs to clamp to totalDocs: got %v want %v", clamped, exact)
	}
}

func TestIDFTreatsNonPositiveTotalDocsAsOne(t *testing.T) {
	got := IDF(0, 0)
	want := IDF(1, 0)
	if !almostEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("expected a finite idf for an empty corpus, got %v", got)
	}
}

func TestTFNormTreatsNonPositiveAvgDocLengthAsOne(t *testing.T) {
	got := TFNorm(3, 10, 0)
	want := TFNorm(3, 10, 1)
	if !almostEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("expected a finite tf-norm for a zero avg doc length, got %v", got)
	}
}

func TestTFNormIncreasesWithTermFrequencyButSaturates(t *testing.T) {
	low := TFNorm(1, 100, 100)
	high := TFNorm(100, 100, 100)
	if !(high > low) {
		t.Fatalf("expected higher term frequency to score higher: %v vs %v", low, high)
	}
	if high > k1+1 {
		t.Fatalf("tf-norm should saturate below k1+1=%.2f, got %v", k1+1, high)
	}
}

func TestTFNormPenalizesLongerDocuments(t *testing.T) {
	short := TFNorm(5, 50, 100)
	long := TFNorm(5, 500, 100)
	if !(short > long) {
		t.Fatalf("expected a shorter document to score higher for equal term frequency: %v vs %v", short, long)
	}
}

func TestScoreDocumentSumsAcrossTerms(t *testing.T) {
	params := Params{TotalDocs: 100, AvgDocLength: 50}
	single := ScoreDocument([]TermStats{{DocFreq: 10, TermFreq: 2}}, 50, params)
	double := ScoreDocument([]TermStats{{DocFreq: 10, TermFreq: 2}, {DocFreq: 10, TermFreq: 2}}, 50, params)
	if !almostEqual(double, single*2) {
		t.Fatalf("expected matching two identical terms to double the score: %v vs %v", double, single)
	}
}

func TestRankOrdersDescendingByScoreThenAscendingByDocID(t *testing.T) {
	scores := map[uint32]float64{
		5:  1.0,
		2:  2.0,
		9:  2.0,
		20: 0.5,
	}
	got := Rank(scores, 0)
	want := []uint32{2, 9, 5, 20}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, docID := range want {
		if got[i].DocID != docID {
			t.Fatalf("position %d: got docId %d, want %d (full: %v)", i, got[i].DocID, docID, got)
		}
	}
}

func TestRankTruncatesToLimit(t *testing.T) {
	scores := map[uint32]float64{1: 3, 2: 2, 3: 1}
	got := Rank(scores, 2)
	if len(got) != 2 {
		t.Fatalf("expected limit to truncate to 2 results, got %d", len(got))
	}
	if got[0].DocID != 1 || got[1].DocID != 2 {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestRankZeroLimitReturnsAll(t *testing.T) {
	scores := map[uint32]float64{1: 3, 2: 2, 3: 1}
	got := Rank(scores, 0)
	if len(got) != 3 {
		t.Fatalf("expected limit=0 to mean unbounded, got %d results", len(got))
	}
}
