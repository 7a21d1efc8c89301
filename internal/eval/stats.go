package eval

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/indexmgr"
	"github.com/fsearch/fsearch/internal/query"
	"github.com/fsearch/fsearch/internal/rank"
	"github.com/fsearch/fsearch/internal/segment"
)

// DocStore is the slice of the docstore.Store contract the evaluator
// consults: global corpus statistics, field/range predicates, and
// per-document metadata. Declared here (rather than depending on the
// concrete *docstore.Store) so the evaluator can be exercised against a
// fake in tests without a database.
type DocStore interface {
	TotalDocCount(ctx context.Context) (uint32, error)
	AverageDocLength(ctx context.Context) (float64, error)
	FindByID(ctx context.Context, docID uint32) (docmodel.Document, bool, error)
	FindDocIDsByExtension(ctx context.Context, extension string) ([]uint32, error)
	FindDocIDsByType(ctx context.Context, docType docmodel.DocType) ([]uint32, error)
	FindDocIDsByMtimeRange(ctx context.Context, from, to time.Time) ([]uint32, error)
	FindDocIDsBySizeRange(ctx context.Context, min, max uint64) ([]uint32, error)
	FindDocIDsByPathPrefix(ctx context.Context, prefix string) ([]uint32, error)
	FindDocIDsByFileName(ctx context.Context, name string) ([]uint32, error)
}

// evalContext is shared, read-mostly state for one Evaluate call: the
// corpus-wide BM25 parameters, term document frequencies computed once up
// front (stable across every segment per spec.md's global-statistics
// requirement), resolved field/range doc-id sets, and a docstore.Document
// cache shared by the concurrent per-segment evaluators.
type evalContext struct {
	ctx    context.Context
	docs   DocStore
	params rank.Params

	globalDF  map[string]uint32
	fieldHits map[query.FieldQuery]map[uint32]struct{}
	rangeHits map[query.RangeQuery]map[uint32]struct{}

	docMu    sync.Mutex
	docCache map[uint32]docmodel.Document
}

// collectLeaves walks the AST once, gathering every distinct term, prefix,
// field query, and range query so their corpus-wide statistics can be
// computed before any segment is scored.
func collectLeaves(q query.Query, terms, prefixes map[string]struct{}, fields map[query.FieldQuery]struct{}, ranges map[query.RangeQuery]struct{}) {
	switch v := q.(type) {
	case query.TermQuery:
		terms[v.Term] = struct{}{}
	case query.PrefixQuery:
		prefixes[v.Prefix] = struct{}{}
	case query.PhraseQuery:
		for _, t := range v.Terms {
			terms[t] = struct{}{}
		}
	case query.BoolQuery:
		collectLeaves(v.Left, terms, prefixes, fields, ranges)
		collectLeaves(v.Right, terms, prefixes, fields, ranges)
	case query.NotQuery:
		collectLeaves(v.Child, terms, prefixes, fields, ranges)
	case query.FieldQuery:
		fields[v] = struct{}{}
	case query.RangeQuery:
		ranges[v] = struct{}{}
	}
}

// computeGlobalDF expands every prefix against each segment's dictionary,
// then computes the live document frequency of every plain and
// prefix-matched term across all active segments, per spec.md §4.7: "df(t)
// = count of distinct live docIds for t across all active segments,
// computed once per query before evaluation."
func (ec *evalContext) computeGlobalDF(snapshot *indexmgr.Snapshot, terms, prefixes map[string]struct{}) error {
	for _, reader := range snapshot.Readers {
		for prefix := range prefixes {
			for _, entry := range reader.PrefixRange(prefix) {
				terms[entry.Term] = struct{}{}
			}
		}
	}
	for term := range terms {
		var df uint32
		for _, reader := range snapshot.Readers {
			entry, ok := reader.Find(term)
			if !ok {
				continue
			}
			postings, err := reader.Postings(entry)
			if err != nil {
				return err
			}
			tomb := snapshot.Tombstones[reader.Meta().SegmentID]
			for _, p := range postings {
				if segment.IsLive(tomb, p.DocID) {
					df++
				}
			}
		}
		ec.globalDF[term] = df
	}
	return nil
}

// resolveLeaves resolves every field and range query against the DocStore
// exactly once, ahead of the per-segment fan-out; each segment's evaluator
// then intersects these corpus-wide hits with its own live docId set.
func (ec *evalContext) resolveLeaves(fields map[query.FieldQuery]struct{}, ranges map[query.RangeQuery]struct{}) error {
	for f := range fields {
		hits, err := ec.resolveField(f)
		if err != nil {
			return err
		}
		ec.fieldHits[f] = hits
	}
	for r := range ranges {
		hits, err := ec.resolveRange(r)
		if err != nil {
			return err
		}
		ec.rangeHits[r] = hits
	}
	return nil
}

func (ec *evalContext) resolveField(f query.FieldQuery) (map[uint32]struct{}, error) {
	var ids []uint32
	var err error
	switch f.Field {
	case "path":
		ids, err = ec.docs.FindDocIDsByPathPrefix(ec.ctx, f.Value)
	case "ext":
		ids, err = ec.docs.FindDocIDsByExtension(ec.ctx, f.Value)
	case "filename", "name":
		ids, err = ec.docs.FindDocIDsByFileName(ec.ctx, f.Value)
	case "type":
		ids, err = ec.docs.FindDocIDsByType(ec.ctx, docmodel.DocType(strings.ToUpper(f.Value)))
	case "size":
		v, ok := parseSize(f.Value)
		if !ok {
			return map[uint32]struct{}{}, nil
		}
		ids, err = ec.docs.FindDocIDsBySizeRange(ec.ctx, v, v)
	case "mtime":
		v, ok := parseMtime(f.Value)
		if !ok {
			return map[uint32]struct{}{}, nil
		}
		ids, err = ec.docs.FindDocIDsByMtimeRange(ec.ctx, v, v)
	default:
		return map[uint32]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

func (ec *evalContext) resolveRange(r query.RangeQuery) (map[uint32]struct{}, error) {
	var ids []uint32
	var err error
	switch r.Field {
	case "size":
		lo, okLo := parseSize(r.Low)
		hi, okHi := parseSize(r.High)
		if !okLo || !okHi {
			return map[uint32]struct{}{}, nil
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		ids, err = ec.docs.FindDocIDsBySizeRange(ec.ctx, lo, hi)
	case "mtime":
		lo, okLo := parseMtime(r.Low)
		hi, okHi := parseMtime(r.High)
		if !okLo || !okHi {
			return map[uint32]struct{}{}, nil
		}
		if lo.After(hi) {
			lo, hi = hi, lo
		}
		ids, err = ec.docs.FindDocIDsByMtimeRange(ec.ctx, lo, hi)
	default:
		return map[uint32]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

// docInfo resolves docID's metadata, memoized across the whole query since
// several leaf operators (different terms, a phrase, a field filter) may
// all need the same document's length or mtime/size.
func (ec *evalContext) docInfo(docID uint32) (docmodel.Document, bool, error) {
	ec.docMu.Lock()
	doc, ok := ec.docCache[docID]
	ec.docMu.Unlock()
	if ok {
		return doc, true, nil
	}
	doc, found, err := ec.docs.FindByID(ec.ctx, docID)
	if err != nil {
		return docmodel.Document{}, false, err
	}
	if !found {
		return docmodel.Document{}, false, nil
	}
	ec.docMu.Lock()
	ec.docCache[docID] = doc
	ec.docMu.Unlock()
	return doc, true, nil
}

func parseSize(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

func parseMtime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}

func toSet(ids []uint32) map[uint32]struct{} {
	out := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
