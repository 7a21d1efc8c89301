package snippet

import "testing"

func TestGenerateFindsCaseInsensitiveHighlight(t *testing.T) {
	content := "The Quick brown fox jumps over the lazy dog."
	snippets := Generate(content, []string{"quick"})
	if len(snippets) != 1 {
		t.Fatalf("expected exactly one snippet, got %d", len(snippets))
	}
	s := snippets[0]
	if len(s.Highlights) != 1 {
		t.Fatalf("expected exactly one highlight span, got %v", s.Highlights)
	}
	got := s.Text[s.Highlights[0].Start:s.Highlights[0].End]
	if got != "Quick" {
		t.Fatalf("expected highlight to cover %q, got %q", "Quick", got)
	}
}

func TestGenerateAlignsWindowToWordBoundaries(t *testing.T) {
	content := "prefixmatchsuffix"
	snippets := Generate(content, []string{"match"})
	if len(snippets) != 1 {
		t.Fatalf("expected one snippet, got %d", len(snippets))
	}
	if snippets[0].Text != content {
		t.Fatalf("expected the whole contiguous word to be included, got %q", snippets[0].Text)
	}
}

func TestGenerateMergesOverlappingWindows(t *testing.T) {
	content := "alpha beta gamma delta epsilon"
	snippets := Generate(content, []string{"beta", "gamma"})
	if len(snippets) != 1 {
		t.Fatalf("expected overlapping windows to merge into one snippet, got %d: %+v", len(snippets), snippets)
	}
	if len(snippets[0].Highlights) != 2 {
		t.Fatalf("expected both hits preserved in the merged window, got %v", snippets[0].Highlights)
	}
}

func TestGenerateRanksByHitDensityThenStartOffset(t *testing.T) {
	content := "report report " + padding(300) + " report"
	snippets := Generate(content, []string{"report"})
	if len(snippets) == 0 {
		t.Fatalf("expected at least one snippet")
	}
	if len(snippets[0].Highlights) < 2 {
		t.Fatalf("expected the densest window ranked first, got %+v", snippets[0])
	}
}

func TestGenerateComputesOneBasedLineNumber(t *testing.T) {
	// The hit sits more than contextChars into the second line, so its
	// window starts after the first newline.
	content := "first line\nsecond line " + padding(70) + " has report\nthird line"
	snippets := Generate(content, []string{"report"})
	if len(snippets) != 1 {
		t.Fatalf("expected one snippet, got %d", len(snippets))
	}
	if snippets[0].Line != 2 {
		t.Fatalf("expected line 2, got %d", snippets[0].Line)
	}
}

func TestGenerateCapsAtMaxSnippets(t *testing.T) {
	var content string
	for i := 0; i < 10; i++ {
		content += "report " + padding(200) + " "
	}
	snippets := Generate(content, []string{"report"})
	if len(snippets) > maxSnippets {
		t.Fatalf("expected at most %d snippets, got %d", maxSnippets, len(snippets))
	}
}

func TestGenerateReturnsNilForNoMatches(t *testing.T) {
	if got := Generate("nothing relevant here", []string{"absent"}); got != nil {
		t.Fatalf("expected nil for no matches, got %v", got)
	}
}

func TestGenerateReturnsNilForEmptyInputs(t *testing.T) {
	if got := Generate("", []string{"term"}); got != nil {
		t.Fatalf("expected nil for empty content, got %v", got)
	}
	if got := Generate("some content", nil); got != nil {
		t.Fatalf("expected nil for no terms, got %v", got)
	}
}

func padding(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
