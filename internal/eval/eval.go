// Package eval implements the query evaluator: it walks a parsed AST over
// an immutable segment-set snapshot, computing BM25 scores with
// corpus-wide statistics held stable across every participating segment,
// then merges and ranks the per-segment results into a final top-K.
package eval

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/indexmgr"
	"github.com/fsearch/fsearch/internal/merger"
	"github.com/fsearch/fsearch/internal/query"
	"github.com/fsearch/fsearch/internal/rank"
)

// Hit is one ranked, fully resolved query result.
type Hit struct {
	DocID    uint32
	Score    float64
	Document docmodel.Document
}

// Result is the outcome of evaluating one parsed query against a segment
// snapshot.
type Result struct {
	Query     string
	TotalHits int
	Hits      []Hit
}

// Evaluator walks a query AST over an immutable segment-set snapshot.
type Evaluator struct {
	docs DocStore
}

// New builds an Evaluator backed by docs for global statistics, field and
// range resolution, and per-document metadata.
func New(docs DocStore) *Evaluator {
	return &Evaluator{docs: docs}
}

// Evaluate scores parsed.AST against snapshot and returns up to
// max(limit, 0) hits ordered per parsed.Sort. rawQuery is carried through
// purely for the result's Query field.
func (e *Evaluator) Evaluate(ctx context.Context, parsed query.Parsed, snapshot *indexmgr.Snapshot, rawQuery string, limit int) (*Result, error) {
	if parsed.AST == nil {
		return &Result{Query: rawQuery}, nil
	}

	totalDocs, err := e.docs.TotalDocCount(ctx)
	if err != nil {
		return nil, err
	}
	avgDL, err := e.docs.AverageDocLength(ctx)
	if err != nil {
		return nil, err
	}

	ec := &evalContext{
		ctx:       ctx,
		docs:      e.docs,
		params:    rank.Params{TotalDocs: totalDocs, AvgDocLength: avgDL},
		globalDF:  make(map[string]uint32),
		fieldHits: make(map[query.FieldQuery]map[uint32]struct{}),
		rangeHits: make(map[query.RangeQuery]map[uint32]struct{}),
		docCache:  make(map[uint32]docmodel.Document),
	}

	terms := make(map[string]struct{})
	prefixes := make(map[string]struct{})
	fields := make(map[query.FieldQuery]struct{})
	ranges := make(map[query.RangeQuery]struct{})
	collectLeaves(parsed.AST, terms, prefixes, fields, ranges)

	if err := ec.computeGlobalDF(snapshot, terms, prefixes); err != nil {
		return nil, err
	}
	if err := ec.resolveLeaves(fields, ranges); err != nil {
		return nil, err
	}

	perSegment := make([]map[uint32]float64, len(snapshot.Readers))
	g, _ := errgroup.WithContext(ctx)
	for i, reader := range snapshot.Readers {
		i, reader := i, reader
		g.Go(func() error {
			se := &segEval{ec: ec, reader: reader, tomb: snapshot.Tombstones[reader.Meta().SegmentID]}
			scores, err := se.eval(parsed.AST)
			if err != nil {
				return err
			}
			perSegment[i] = scores
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totalHits := 0
	for _, seg := range perSegment {
		totalHits += len(seg)
	}

	k := limit
	if k < 0 {
		k = 0
	}

	var hits []Hit
	if parsed.Sort == query.SortScore {
		hits, err = e.rankByScore(ec, perSegment, k)
	} else {
		hits, err = e.rankByField(ec, perSegment, parsed.Sort, k)
	}
	if err != nil {
		return nil, err
	}

	return &Result{Query: rawQuery, TotalHits: totalHits, Hits: hits}, nil
}

// rankByScore feeds each segment's score map into the bounded top-K heap
// merge, then hydrates only the surviving docs' metadata.
func (e *Evaluator) rankByScore(ec *evalContext, perSegment []map[uint32]float64, limit int) ([]Hit, error) {
	segmentScored := make([][]rank.ScoredDoc, len(perSegment))
	for i, seg := range perSegment {
		scored := make([]rank.ScoredDoc, 0, len(seg))
		for docID, score := range seg {
			scored = append(scored, rank.ScoredDoc{DocID: docID, Score: score})
		}
		segmentScored[i] = scored
	}
	ranked := merger.Merge(segmentScored, limit)

	hits := make([]Hit, 0, len(ranked))
	for _, sd := range ranked {
		doc, found, err := ec.docInfo(sd.DocID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		hits = append(hits, Hit{DocID: sd.DocID, Score: sd.Score, Document: doc})
	}
	return hits, nil
}

// rankByField combines every segment's candidates (disjoint doc sets, so a
// plain sum is a union), hydrates all of their metadata, and sorts by the
// requested field, tie-breaking ascending by docId.
func (e *Evaluator) rankByField(ec *evalContext, perSegment []map[uint32]float64, sortField query.SortField, limit int) ([]Hit, error) {
	merged := make(map[uint32]float64)
	for _, seg := range perSegment {
		for docID, score := range seg {
			merged[docID] += score
		}
	}

	hits := make([]Hit, 0, len(merged))
	for docID, score := range merged {
		doc, found, err := ec.docInfo(docID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		hits = append(hits, Hit{DocID: docID, Score: score, Document: doc})
	}

	sort.Slice(hits, func(i, j int) bool {
		switch sortField {
		case query.SortMtime:
			if !hits[i].Document.Mtime.Equal(hits[j].Document.Mtime) {
				return hits[i].Document.Mtime.After(hits[j].Document.Mtime)
			}
		case query.SortSize:
			if hits[i].Document.SizeBytes != hits[j].Document.SizeBytes {
				return hits[i].Document.SizeBytes > hits[j].Document.SizeBytes
			}
		}
		return hits[i].DocID < hits[j].DocID
	})

	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}
