package querycache

import "testing"

func TestNormalizeQueryIsOrderInsensitiveForTerms(t *testing.T) {
	a := normalizeQuery("java AND programming")
	b := normalizeQuery("programming AND java")
	if a != b {
		t.Fatalf("expected term order to not affect normalization, got %q vs %q", a, b)
	}
}

func TestNormalizeQueryIsCaseInsensitive(t *testing.T) {
	a := normalizeQuery("Java Programming")
	b := normalizeQuery("java programming")
	if a != b {
		t.Fatalf("expected case to not affect normalization, got %q vs %q", a, b)
	}
}

func TestNormalizeQuerySeparatesExclusions(t *testing.T) {
	norm := normalizeQuery("report -draft")
	if norm != "report|NOT:draft" {
		t.Fatalf("expected exclusion to be separated out, got %q", norm)
	}
}

func TestNormalizeQueryIgnoresSortDirective(t *testing.T) {
	a := normalizeQuery("report sort:mtime")
	b := normalizeQuery("report")
	if a != b {
		t.Fatalf("expected sort directive to not affect the cache key, got %q vs %q", a, b)
	}
}

func TestBuildKeyIsDeterministic(t *testing.T) {
	c := &QueryCache{}
	k1 := c.buildKey("java AND programming", 10)
	k2 := c.buildKey("programming AND java", 10)
	if k1 != k2 {
		t.Fatalf("expected equivalent queries to produce the same cache key, got %q vs %q", k1, k2)
	}
}

func TestBuildKeyDiffersByLimit(t *testing.T) {
	c := &QueryCache{}
	k1 := c.buildKey("report", 10)
	k2 := c.buildKey("report", 20)
	if k1 == k2 {
		t.Fatalf("expected different limits to produce different cache keys")
	}
}
