// Package merger combines per-segment BM25 score lists into the global
// top-K result set using a bounded min-heap, so the final ranking step
// never materializes more scored documents than the requested limit.
package merger

import (
	"container/heap"

	"github.com/fsearch/fsearch/internal/rank"
)

// Merge combines scored docs from every segment into the top-limit results,
// ordered by descending score with ties broken by ascending docId. limit
// follows the evaluator's K = max(limit, 0) truncation rule: limit <= 0
// yields no results.
func Merge(segmentResults [][]rank.ScoredDoc, limit int) []rank.ScoredDoc {
	if limit <= 0 {
		return []rank.ScoredDoc{}
	}
	h := &scoredDocHeap{}
	heap.Init(h)
	for _, results := range segmentResults {
		for _, doc := range results {
			heap.Push(h, doc)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]rank.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(rank.ScoredDoc)
	}
	return result
}

// scoredDocHeap is a min-heap ordered so the worst-ranked document (lowest
// score, then highest docId) is always at the root and evicted first once
// the heap exceeds limit.
type scoredDocHeap []rank.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(rank.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
