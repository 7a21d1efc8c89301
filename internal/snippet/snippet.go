// Package snippet generates context-window highlight summaries for a
// matched document: it locates query term occurrences in raw text, expands
// them into word-aligned windows, merges overlaps, and ranks the result by
// hit density.
package snippet

import (
	"sort"
	"strings"
)

// contextChars is the number of characters a hit is expanded by on each
// side before window alignment.
const contextChars = 60

// maxSnippets caps how many windows are returned per document.
const maxSnippets = 3

// Span is a highlight range in snippet-relative character offsets.
type Span struct {
	Start int
	End   int
}

// Snippet is one ranked context window extracted from a document's content.
type Snippet struct {
	Text        string
	Line        int
	StartOffset int
	Highlights  []Span
}

// hit is one raw occurrence of a query term in the source content.
type hit struct {
	start int
	end   int
}

// window is a merged, word-aligned run of one or more hits before it is
// rendered into a Snippet.
type window struct {
	start int
	end   int
	hits  []hit
}

// Generate locates every occurrence (ASCII case-insensitive) of each term
// in content, expands each to a ±contextChars window aligned to
// word-character boundaries, merges overlapping windows, ranks them by hit
// density (descending) then start offset (ascending), and returns up to
// maxSnippets of them.
func Generate(content string, terms []string) []Snippet {
	if content == "" || len(terms) == 0 {
		return nil
	}

	hits := findHits(content, terms)
	if len(hits) == 0 {
		return nil
	}

	windows := alignAndMerge(content, hits)
	sort.SliceStable(windows, func(i, j int) bool {
		di, dj := len(windows[i].hits), len(windows[j].hits)
		if di != dj {
			return di > dj
		}
		return windows[i].start < windows[j].start
	})

	if len(windows) > maxSnippets {
		windows = windows[:maxSnippets]
	}

	out := make([]Snippet, 0, len(windows))
	for _, w := range windows {
		out = append(out, render(content, w))
	}
	return out
}

// findHits scans content once per term (ASCII case-insensitive) and
// collects every occurrence's byte range, sorted by start offset.
func findHits(content string, terms []string) []hit {
	lower := strings.ToLower(content)
	var hits []hit
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		for searchFrom := 0; ; {
			idx := strings.Index(lower[searchFrom:], term)
			if idx < 0 {
				break
			}
			start := searchFrom + idx
			end := start + len(term)
			hits = append(hits, hit{start: start, end: end})
			searchFrom = end
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	return hits
}

// alignAndMerge expands every hit to ±contextChars, aligns both boundaries
// outward to the nearest word-character boundary, then merges windows that
// overlap or touch.
func alignAndMerge(content string, hits []hit) []window {
	var windows []window
	for _, h := range hits {
		start := alignLeft(content, maxInt(0, h.start-contextChars))
		end := alignRight(content, minInt(len(content), h.end+contextChars))

		if n := len(windows); n > 0 && start <= windows[n-1].end {
			windows[n-1].end = maxInt(windows[n-1].end, end)
			windows[n-1].hits = append(windows[n-1].hits, h)
			continue
		}
		windows = append(windows, window{start: start, end: end, hits: []hit{h}})
	}
	return windows
}

// alignLeft walks pos backward until it sits on a word-character boundary
// (the start of content, or right after a non-word rune).
func alignLeft(content string, pos int) int {
	for pos > 0 && isWordByte(content[pos-1]) && isWordByte(content[pos]) {
		pos--
	}
	return pos
}

// alignRight walks pos forward until it sits on a word-character boundary
// (the end of content, or right before a non-word rune).
func alignRight(content string, pos int) int {
	for pos < len(content) && pos > 0 && isWordByte(content[pos-1]) && isWordByte(content[pos]) {
		pos++
	}
	return pos
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') ||
		b >= 0x80 // treat multi-byte UTF-8 continuation/lead bytes as word bytes
}

// render converts a merged window into a Snippet, translating absolute
// content offsets into snippet-relative highlight spans and computing the
// 1-based line number of the window's start from the count of preceding
// newlines.
func render(content string, w window) Snippet {
	line := strings.Count(content[:w.start], "\n") + 1
	text := content[w.start:w.end]

	highlights := make([]Span, 0, len(w.hits))
	for _, h := range w.hits {
		highlights = append(highlights, Span{Start: h.start - w.start, End: h.end - w.start})
	}
	sort.Slice(highlights, func(i, j int) bool { return highlights[i].Start < highlights[j].Start })

	return Snippet{
		Text:        text,
		Line:        line,
		StartOffset: w.start,
		Highlights:  highlights,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
