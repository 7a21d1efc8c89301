// Package tokenizer segments mixed Latin and CJK text into docmodel.Token
// values. It partitions input into maximal runs of CJK code points (Han,
// Hiragana, Katakana, Hangul) versus everything else, then dispatches each
// run to script-appropriate tokenization, keeping a single monotone position
// counter across runs.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/fsearch/fsearch/internal/docmodel"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Options controls optional tokenizer behavior.
type Options struct {
	// DropStopWords removes members of the English stop-word list from
	// non-CJK runs when true.
	DropStopWords bool
	// DisableCJKBigram emits one token per CJK character instead of the
	// default two-character sliding-window bigrams.
	DisableCJKBigram bool
}

// DefaultOptions matches the index manager's normal ingest configuration.
func DefaultOptions() Options {
	return Options{DropStopWords: true}
}

// isCJK reports whether r belongs to one of the CJK scripts this tokenizer
// treats as a single run: Han, Hiragana, Katakana, Hangul.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Tokenize breaks text into Tokens with a globally monotone position and
// char-offset-accurate start/end bounds.
func Tokenize(text string, opts Options) []docmodel.Token {
	runes := []rune(text)
	tokens := make([]docmodel.Token, 0, len(runes)/3)
	var pos uint32

	i := 0
	for i < len(runes) {
		start := i
		cjk := isCJK(runes[i])
		for i < len(runes) && isCJK(runes[i]) == cjk {
			i++
		}
		run := runes[start:i]
		if cjk {
			tokens, pos = appendCJKRun(tokens, run, uint32(start), pos, opts)
		} else {
			tokens, pos = appendLatinRun(tokens, run, uint32(start), pos, opts)
		}
	}
	return tokens
}

// appendCJKRun emits every two-character sliding window of a CJK run as a
// bigram token, or the single character if the run has length 1 or
// opts.DisableCJKBigram is set.
func appendCJKRun(tokens []docmodel.Token, run []rune, runStart uint32, pos uint32, opts Options) ([]docmodel.Token, uint32) {
	if len(run) == 1 || opts.DisableCJKBigram {
		for i, r := range run {
			tokens = append(tokens, docmodel.Token{
				Term:        string(r),
				Position:    pos,
				StartOffset: runStart + uint32(i),
				EndOffset:   runStart + uint32(i) + 1,
			})
			pos++
		}
		return tokens, pos
	}
	for i := 0; i+1 < len(run); i++ {
		tokens = append(tokens, docmodel.Token{
			Term:        string(run[i : i+2]),
			Position:    pos,
			StartOffset: runStart + uint32(i),
			EndOffset:   runStart + uint32(i) + 2,
		})
		pos++
	}
	return tokens, pos
}

// appendLatinRun splits a non-CJK run on non-alphanumeric boundaries,
// lowercases, drops single-character tokens, and optionally drops
// stop-words.
func appendLatinRun(tokens []docmodel.Token, run []rune, runStart uint32, pos uint32, opts Options) ([]docmodel.Token, uint32) {
	n := len(run)
	i := 0
	for i < n {
		for i < n && !isWordRune(run[i]) {
			i++
		}
		wordStart := i
		for i < n && isWordRune(run[i]) {
			i++
		}
		if i == wordStart {
			continue
		}
		word := run[wordStart:i]
		if len(word) <= 1 {
			continue
		}
		lower := strings.ToLower(string(word))
		if opts.DropStopWords {
			if _, isStop := stopWords[lower]; isStop {
				continue
			}
		}
		tokens = append(tokens, docmodel.Token{
			Term:        lower,
			Position:    pos,
			StartOffset: runStart + uint32(wordStart),
			EndOffset:   runStart + uint32(i),
		})
		pos++
	}
	return tokens, pos
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
