package query

import (
	"reflect"
	"testing"
)

func mustParse(t *testing.T, q string) Parsed {
	t.Helper()
	p, err := Parse(q)
	if err != nil {
		t.Fatalf("Parse(%q): %v", q, err)
	}
	return p
}

func TestParseSingleTerm(t *testing.T) {
	p := mustParse(t, "hello")
	want := TermQuery{Term: "hello"}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
	if p.Sort != SortScore {
		t.Fatalf("expected default sort to be score, got %q", p.Sort)
	}
}

func TestParseAdjacentTermsFormImplicitAnd(t *testing.T) {
	p := mustParse(t, "java programming")
	want := BoolQuery{Op: OpAnd, Left: TermQuery{Term: "java"}, Right: TermQuery{Term: "programming"}}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestParseOrHasLowerPrecedenceThanAnd(t *testing.T) {
	p := mustParse(t, "a AND b OR c")
	want := BoolQuery{
		Op:   OpOr,
		Left: BoolQuery{Op: OpAnd, Left: TermQuery{Term: "a"}, Right: TermQuery{Term: "b"}},
		Right: TermQuery{Term: "c"},
	}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestParseNotAndMinusAreEquivalent(t *testing.T) {
	p1 := mustParse(t, "NOT draft")
	p2 := mustParse(t, "-draft")
	want := NotQuery{Child: TermQuery{Term: "draft"}}
	if !reflect.DeepEqual(p1.AST, want) || !reflect.DeepEqual(p2.AST, want) {
		t.Fatalf("NOT and - should parse identically: %#v vs %#v", p1.AST, p2.AST)
	}
}

func TestParseHyphenatedWordIsNotMisreadAsNot(t *testing.T) {
	p := mustParse(t, "mtime:\"2025-01-01T00:00:00Z\"")
	want := FieldQuery{Field: "mtime", Value: "2025-01-01T00:00:00Z"}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestParseParenthesizedGrouping(t *testing.T) {
	p := mustParse(t, "(a OR b) AND c")
	want := BoolQuery{
		Op:    OpAnd,
		Left:  BoolQuery{Op: OpOr, Left: TermQuery{Term: "a"}, Right: TermQuery{Term: "b"}},
		Right: TermQuery{Term: "c"},
	}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestParsePrefixQuery(t *testing.T) {
	p := mustParse(t, "read*")
	want := PrefixQuery{Prefix: "read"}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestParsePhraseQuery(t *testing.T) {
	p := mustParse(t, `"quick brown fox"`)
	pq, ok := p.AST.(PhraseQuery)
	if !ok {
		t.Fatalf("expected PhraseQuery, got %#v", p.AST)
	}
	want := []string{"quick", "brown", "fox"}
	if !reflect.DeepEqual(pq.Terms, want) {
		t.Fatalf("got terms %v, want %v", pq.Terms, want)
	}
}

func TestParseFieldQuery(t *testing.T) {
	p := mustParse(t, "ext:md")
	want := FieldQuery{Field: "ext", Value: "md"}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestParseRangeQuery(t *testing.T) {
	p := mustParse(t, "size:1..20")
	want := RangeQuery{Field: "size", Low: "1", High: "20"}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestParseUnrecognizedFieldIsParseError(t *testing.T) {
	if _, err := Parse("bogus:value"); err == nil {
		t.Fatal("expected a parse error for an unrecognized field")
	}
}

func TestParseNonRangeFieldRejectsRangeSyntax(t *testing.T) {
	if _, err := Parse("ext:md..txt"); err == nil {
		t.Fatal("expected a parse error: ext does not accept a range")
	}
}

func TestParseUnterminatedQuoteIsParseError(t *testing.T) {
	if _, err := Parse(`"unterminated`); err == nil {
		t.Fatal("expected a parse error for an unterminated quote")
	}
}

func TestParseSortDirective(t *testing.T) {
	p := mustParse(t, "report sort:mtime")
	if p.Sort != SortMtime {
		t.Fatalf("expected sort=mtime, got %q", p.Sort)
	}
	if !reflect.DeepEqual(p.AST, TermQuery{Term: "report"}) {
		t.Fatalf("sort directive should not affect the AST, got %#v", p.AST)
	}
}

func TestParseUnknownSortFieldFallsBackToScore(t *testing.T) {
	p := mustParse(t, "report sort:bogus")
	if p.Sort != SortScore {
		t.Fatalf("expected unknown sort field to fall back to score, got %q", p.Sort)
	}
}

func TestParseSortOnlyAllowedAtTail(t *testing.T) {
	if _, err := Parse("sort:mtime report"); err == nil {
		t.Fatal("expected a parse error: sort: must appear only at the tail")
	}
}

func TestNormalizeRewritesBareDottedToken(t *testing.T) {
	p := mustParse(t, "readme.md")
	want := FieldQuery{Field: "filename", Value: "readme.md"}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}

func TestNormalizeDoesNotTouchQuotedContent(t *testing.T) {
	p := mustParse(t, `"readme.md"`)
	pq, ok := p.AST.(PhraseQuery)
	if !ok {
		t.Fatalf("expected PhraseQuery for quoted content, got %#v", p.AST)
	}
	if len(pq.Terms) != 2 || pq.Terms[0] != "readme" || pq.Terms[1] != "md" {
		t.Fatalf("unexpected phrase terms: %v", pq.Terms)
	}
}

func TestNormalizePreservesWrappingParens(t *testing.T) {
	p := mustParse(t, "(readme.md)")
	want := FieldQuery{Field: "filename", Value: "readme.md"}
	if !reflect.DeepEqual(p.AST, want) {
		t.Fatalf("got %#v, want %#v", p.AST, want)
	}
}
