package query

import (
	"fmt"
	"strings"

	"github.com/fsearch/fsearch/internal/tokenizer"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
)

type parser struct {
	source string
	tokens []Token
	pos    int
}

// Parse rewrites bare dotted tokens, lexes, and recursive-descent parses
// raw into a Parsed AST plus its effective sort directive.
func Parse(raw string) (Parsed, error) {
	normalized := normalizeBareDottedTokens(raw)
	tokens, err := lex(normalized)
	if err != nil {
		return Parsed{}, err
	}

	p := &parser{source: normalized, tokens: tokens}
	ast, err := p.parseOrExpr()
	if err != nil {
		return Parsed{}, err
	}

	sortField := SortScore
	if p.peek().Kind == TokSort {
		p.next()
		if err := p.expect(TokColon); err != nil {
			return Parsed{}, err
		}
		fieldTok := p.peek()
		if fieldTok.Kind != TokTerm {
			return Parsed{}, p.errorAt(fieldTok, "expected a field name after 'sort:'")
		}
		p.next()
		switch fieldTok.Text {
		case "mtime":
			sortField = SortMtime
		case "size":
			sortField = SortSize
		default:
			sortField = SortScore // unknown sort field falls back to score
		}
	}

	if p.peek().Kind != TokEOF {
		return Parsed{}, p.errorAt(p.peek(), fmt.Sprintf("unexpected %s after a complete query", p.peek().Kind))
	}
	return Parsed{AST: ast, Sort: sortField}, nil
}

func (p *parser) peek() Token { return p.tokens[p.pos] }

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) error {
	if p.peek().Kind != kind {
		return p.errorAt(p.peek(), fmt.Sprintf("expected %s, found %s", kind, p.peek().Kind))
	}
	p.next()
	return nil
}

func (p *parser) errorAt(tok Token, msg string) error {
	caret := strings.Repeat(" ", tok.Pos) + "^"
	return fserrors.Newf(fserrors.ErrQueryParse, "%s\n%s\n%s", msg, p.source, caret)
}

// parseOrExpr = and_expr { 'OR' and_expr }
func (p *parser) parseOrExpr() (Query, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokOr {
		p.next()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		left = BoolQuery{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

// parseAndExpr = unary { ('AND' | implicit) unary }
func (p *parser) parseAndExpr() (Query, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Kind {
		case TokAnd:
			p.next()
		case TokOr, TokSort, TokEOF, TokRParen:
			return left, nil
		default:
			// implicit AND: another primary follows with no operator
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BoolQuery{Op: OpAnd, Left: left, Right: right}
	}
}

// parseUnary = [ 'NOT' | '-' ] primary
func (p *parser) parseUnary() (Query, error) {
	switch p.peek().Kind {
	case TokNot, TokMinus:
		p.next()
		child, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return NotQuery{Child: child}, nil
	default:
		return p.parsePrimary()
	}
}

// parsePrimary = '(' or_expr ')' | field_expr | phrase | prefix | term
func (p *parser) parsePrimary() (Query, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokLParen:
		p.next()
		inner, err := p.parseOrExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TokField:
		return p.parseFieldExpr()
	case TokPhrase:
		p.next()
		return PhraseQuery{Terms: phraseTerms(tok.Text)}, nil
	case TokTerm:
		p.next()
		if p.peek().Kind == TokStar && p.peek().Pos == tok.Pos+len(tok.Text) {
			p.next()
			return PrefixQuery{Prefix: tok.Text}, nil
		}
		return TermQuery{Term: tok.Text}, nil
	default:
		return nil, p.errorAt(tok, fmt.Sprintf("expected a term, phrase, field query, or '(', found %s", tok.Kind))
	}
}

// parseFieldExpr = FIELD ':' ( value '..' value | value )
func (p *parser) parseFieldExpr() (Query, error) {
	fieldTok := p.next()
	field := fieldTok.Text
	if !RecognizedFields[field] {
		return nil, p.errorAt(fieldTok, fmt.Sprintf(
			"unrecognized field %q (expected one of path, ext, filename, name, type, size, mtime)", field))
	}
	if err := p.expect(TokColon); err != nil {
		return nil, err
	}
	first, err := p.parseFieldValue()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind == TokRangeSep {
		if !RangeFields[field] {
			return nil, p.errorAt(p.peek(), fmt.Sprintf("field %q does not accept a '..' range", field))
		}
		p.next()
		second, err := p.parseFieldValue()
		if err != nil {
			return nil, err
		}
		return RangeQuery{Field: field, Low: first, High: second}, nil
	}
	return FieldQuery{Field: field, Value: first}, nil
}

func (p *parser) parseFieldValue() (string, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokTerm, TokPhrase:
		p.next()
		return tok.Text, nil
	default:
		return "", p.errorAt(tok, fmt.Sprintf("expected a field value, found %s", tok.Kind))
	}
}

// phraseTerms tokenizes quoted phrase text the same way the indexer
// tokenizes document content, so the evaluator's position-chain check
// compares like with like.
func phraseTerms(text string) []string {
	tokens := tokenizer.Tokenize(text, tokenizer.Options{DropStopWords: false})
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}
