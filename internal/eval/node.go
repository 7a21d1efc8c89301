package eval

import (
	"fmt"

	"github.com/fsearch/fsearch/internal/query"
	"github.com/fsearch/fsearch/internal/rank"
	"github.com/fsearch/fsearch/internal/segment"
)

// segEval evaluates one AST against one segment, restricted to that
// segment's live documents. Per spec.md §4.7, "per-segment evaluation
// returns a mapping docId -> score restricted to that segment's live docs."
type segEval struct {
	ec      *evalContext
	reader  *segment.Reader
	tomb    map[uint32]struct{}
	liveIDs map[uint32]struct{}
}

func (se *segEval) eval(q query.Query) (map[uint32]float64, error) {
	switch v := q.(type) {
	case query.TermQuery:
		return se.evalTerm(v.Term)
	case query.PrefixQuery:
		return se.evalPrefix(v.Prefix)
	case query.PhraseQuery:
		return se.evalPhrase(v.Terms)
	case query.BoolQuery:
		left, err := se.eval(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := se.eval(v.Right)
		if err != nil {
			return nil, err
		}
		switch v.Op {
		case query.OpAnd:
			return intersectAdd(left, right), nil
		case query.OpOr:
			return unionAdd(left, right), nil
		default:
			return nil, fmt.Errorf("eval: unknown bool op %v", v.Op)
		}
	case query.NotQuery:
		child, err := se.eval(v.Child)
		if err != nil {
			return nil, err
		}
		live, err := se.liveDocIDs()
		if err != nil {
			return nil, err
		}
		out := make(map[uint32]float64)
		for id := range live {
			if _, excluded := child[id]; !excluded {
				out[id] = 0
			}
		}
		return out, nil
	case query.FieldQuery:
		return se.evalResolved(se.ec.fieldHits[v])
	case query.RangeQuery:
		return se.evalResolved(se.ec.rangeHits[v])
	default:
		return nil, fmt.Errorf("eval: unsupported query node %T", q)
	}
}

// liveDocIDs lazily computes and caches this segment's live docId set
// (postings' docIds minus the tombstone set), needed by NotQuery and by
// field/range intersection.
func (se *segEval) liveDocIDs() (map[uint32]struct{}, error) {
	if se.liveIDs != nil {
		return se.liveIDs, nil
	}
	all, err := se.reader.LiveDocIDs()
	if err != nil {
		return nil, err
	}
	live := make(map[uint32]struct{}, len(all))
	for id := range all {
		if segment.IsLive(se.tomb, id) {
			live[id] = struct{}{}
		}
	}
	se.liveIDs = live
	return live, nil
}

func (se *segEval) evalResolved(globalHits map[uint32]struct{}) (map[uint32]float64, error) {
	live, err := se.liveDocIDs()
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]float64)
	for id := range globalHits {
		if _, ok := live[id]; ok {
			out[id] = 1
		}
	}
	return out, nil
}

// evalTerm reads the term's postings list, drops tombstoned or
// DocStore-missing docIds, and scores each survivor with BM25 using the
// already-computed global df.
func (se *segEval) evalTerm(term string) (map[uint32]float64, error) {
	entry, ok := se.reader.Find(term)
	if !ok {
		return map[uint32]float64{}, nil
	}
	postings, err := se.reader.Postings(entry)
	if err != nil {
		return nil, err
	}
	df := se.ec.globalDF[term]
	out := make(map[uint32]float64, len(postings))
	for _, p := range postings {
		if !segment.IsLive(se.tomb, p.DocID) {
			continue
		}
		doc, found, err := se.ec.docInfo(p.DocID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out[p.DocID] = rank.IDF(se.ec.params.TotalDocs, df) * rank.TFNorm(p.TermFreq, doc.TokenCount, se.ec.params.AvgDocLength)
	}
	return out, nil
}

// evalPrefix unions the per-term score maps of every dictionary entry
// matching the prefix, adding scores where a document matches more than
// one expanded term.
func (se *segEval) evalPrefix(prefix string) (map[uint32]float64, error) {
	out := make(map[uint32]float64)
	for _, entry := range se.reader.PrefixRange(prefix) {
		termScores, err := se.evalTerm(entry.Term)
		if err != nil {
			return nil, err
		}
		for id, score := range termScores {
			out[id] += score
		}
	}
	return out, nil
}

// evalPhrase intersects each term's live docId set, then verifies a
// consecutive position chain p0, p0+1, p0+2, ... for every candidate via a
// targeted positions read, per spec.md §4.7.
func (se *segEval) evalPhrase(terms []string) (map[uint32]float64, error) {
	if len(terms) == 0 {
		return map[uint32]float64{}, nil
	}
	entries := make([]segment.DictEntry, len(terms))
	for i, t := range terms {
		entry, ok := se.reader.Find(t)
		if !ok {
			return map[uint32]float64{}, nil
		}
		entries[i] = entry
	}

	termDocs := make([]map[uint32]uint32, len(terms))
	for i, entry := range entries {
		postings, err := se.reader.Postings(entry)
		if err != nil {
			return nil, err
		}
		m := make(map[uint32]uint32, len(postings))
		for _, p := range postings {
			if segment.IsLive(se.tomb, p.DocID) {
				m[p.DocID] = p.TermFreq
			}
		}
		termDocs[i] = m
	}

	candidates := make(map[uint32]struct{})
	for id := range termDocs[0] {
		inAll := true
		for _, m := range termDocs[1:] {
			if _, ok := m[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			candidates[id] = struct{}{}
		}
	}

	out := make(map[uint32]float64)
	for docID := range candidates {
		positionsPerTerm := make([][]uint32, len(entries))
		complete := true
		for i, entry := range entries {
			positions, found, err := se.reader.PositionsForDoc(entry, docID)
			if err != nil {
				return nil, err
			}
			if !found {
				complete = false
				break
			}
			positionsPerTerm[i] = positions
		}
		if !complete || !hasConsecutiveChain(positionsPerTerm) {
			continue
		}
		doc, found, err := se.ec.docInfo(docID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var score float64
		for i, entry := range entries {
			score += rank.IDF(se.ec.params.TotalDocs, se.ec.globalDF[entry.Term]) * rank.TFNorm(termDocs[i][docID], doc.TokenCount, se.ec.params.AvgDocLength)
		}
		out[docID] = score
	}
	return out, nil
}

// hasConsecutiveChain reports whether there is a position p0 in the first
// term's positions such that p0+i appears in the i-th term's positions,
// for every term — i.e. the terms appear adjacent and in query order.
func hasConsecutiveChain(positionsPerTerm [][]uint32) bool {
	if len(positionsPerTerm) == 0 {
		return false
	}
	sets := make([]map[uint32]struct{}, len(positionsPerTerm))
	for i, positions := range positionsPerTerm {
		m := make(map[uint32]struct{}, len(positions))
		for _, p := range positions {
			m[p] = struct{}{}
		}
		sets[i] = m
	}
	for _, p0 := range positionsPerTerm[0] {
		match := true
		for i := 1; i < len(sets); i++ {
			if _, ok := sets[i][p0+uint32(i)]; !ok {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func intersectAdd(a, b map[uint32]float64) map[uint32]float64 {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	out := make(map[uint32]float64, len(small))
	for id, score := range small {
		if other, ok := big[id]; ok {
			out[id] = score + other
		}
	}
	return out
}

func unionAdd(a, b map[uint32]float64) map[uint32]float64 {
	out := make(map[uint32]float64, len(a)+len(b))
	for id, score := range a {
		out[id] = score
	}
	for id, score := range b {
		out[id] += score
	}
	return out
}
