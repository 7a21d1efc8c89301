// Package apiserver exposes the query evaluator over HTTP for cmd/fsearchd:
// GET /search, GET /healthz, GET /metrics. It is a thin collaborator in
// front of the in-process engine — no gateway, auth, or CORS layer sits in
// front of it, and the core evaluator is unaware it exists.
package apiserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsearch/fsearch/internal/admission"
	"github.com/fsearch/fsearch/internal/eval"
	"github.com/fsearch/fsearch/internal/indexmgr"
	"github.com/fsearch/fsearch/internal/query"
	"github.com/fsearch/fsearch/internal/querycache"
	"github.com/fsearch/fsearch/internal/snippet"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
	"github.com/fsearch/fsearch/pkg/health"
	"github.com/fsearch/fsearch/pkg/logger"
	"github.com/fsearch/fsearch/pkg/metrics"
	"github.com/fsearch/fsearch/pkg/middleware"
	"github.com/fsearch/fsearch/pkg/tracing"
)

// Handler serves the search daemon's HTTP API.
type Handler struct {
	mgr          *indexmgr.Manager
	evaluator    *eval.Evaluator
	cache        *querycache.QueryCache
	limiter      *admission.Limiter
	checker      *health.Checker
	metrics      *metrics.Metrics
	defaultLimit int
	maxLimit     int
	queryTimeout time.Duration
	logger       *slog.Logger
}

// New builds a Handler. cache and metrics may be nil (caching and metrics
// are both optional collaborators); limiter and checker must not be nil.
func New(mgr *indexmgr.Manager, evaluator *eval.Evaluator, cache *querycache.QueryCache, limiter *admission.Limiter, checker *health.Checker, m *metrics.Metrics, defaultLimit, maxLimit int, queryTimeout time.Duration) *Handler {
	return &Handler{
		mgr:          mgr,
		evaluator:    evaluator,
		cache:        cache,
		limiter:      limiter,
		checker:      checker,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		queryTimeout: queryTimeout,
		logger:       slog.Default().With("component", "apiserver"),
	}
}

// Routes registers the daemon's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", metrics.Handler())
}

// Search handles GET /search?q=&limit=. It admits the request through the
// concurrency limiter, parses the query, checks the result cache, evaluates
// against the current segment snapshot, attaches highlight snippets, and
// writes the JSON result.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	requestID := middleware.GetRequestID(ctx)
	ctx, span := tracing.StartSpan(ctx, "search", requestID)
	defer func() {
		span.End()
		span.Log()
	}()

	rawQuery := r.URL.Query().Get("q")
	if rawQuery == "" {
		h.writeError(w, fserrors.New(fserrors.ErrValidation, "query parameter 'q' is required"))
		return
	}

	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, fserrors.New(fserrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		if parsed > h.maxLimit {
			parsed = h.maxLimit
		}
		limit = parsed
	}

	release, ok := h.limiter.TryAcquire()
	if !ok {
		if h.metrics != nil {
			h.metrics.QueryAdmissionRejected.Inc()
		}
		h.writeError(w, fserrors.New(fserrors.ErrIO, "too many concurrent queries, try again shortly"))
		return
	}
	defer release()

	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}

	_, parseSpan := tracing.StartChildSpan(ctx, "parse_query")
	parsed, err := query.Parse(rawQuery)
	parseSpan.End()
	if err != nil {
		h.recordSearchMetrics("error", false, 0, time.Since(start))
		h.writeError(w, err)
		return
	}

	snap := h.mgr.GetActiveSegments()
	defer snap.Release()

	evaluate := func() (*eval.Result, error) {
		_, execSpan := tracing.StartChildSpan(ctx, "execute_query")
		defer execSpan.End()
		return h.evaluator.Evaluate(ctx, parsed, snap, rawQuery, limit)
	}

	var result *eval.Result
	cacheHit := false
	if h.cache != nil {
		_, cacheSpan := tracing.StartChildSpan(ctx, "cache_lookup")
		result, cacheHit, err = h.cache.GetOrEvaluate(ctx, rawQuery, limit, evaluate)
		cacheSpan.SetAttr("hit", cacheHit)
		cacheSpan.End()
	} else {
		result, err = evaluate()
	}
	if err != nil {
		log.Error("search execution failed", "query", rawQuery, "error", err)
		h.recordSearchMetrics("error", false, 0, time.Since(start))
		h.writeError(w, err)
		return
	}

	resultType := "hit"
	if result.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.recordSearchMetrics(resultType, cacheHit, len(result.Hits), time.Since(start))

	span.SetAttr("query", rawQuery)
	span.SetAttr("total_hits", result.TotalHits)
	span.SetAttr("returned", len(result.Hits))
	span.SetAttr("cache_hit", cacheHit)
	log.Info("search completed", "query", rawQuery, "total_hits", result.TotalHits, "returned", len(result.Hits), "cache_hit", cacheHit)

	h.writeJSON(w, http.StatusOK, searchResponse{
		Query:    result.Query,
		Total:    result.TotalHits,
		TookMs:   float64(time.Since(start).Milliseconds()),
		CacheHit: cacheHit,
		Results:  buildResultViews(result, queryTerms(rawQuery)),
	})
}

// Healthz handles GET /healthz, running every registered health.Check.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	report := h.checker.Run(ctx)
	status := http.StatusOK
	if report.Status != health.StatusUp {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

func (h *Handler) recordSearchMetrics(resultType string, cacheHit bool, resultCount int, duration time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
		h.metrics.CacheHitsTotal.Inc()
	} else {
		h.metrics.CacheMissesTotal.Inc()
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(duration.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(resultCount))
}

type searchResponse struct {
	Query    string       `json:"query"`
	Total    int          `json:"total"`
	TookMs   float64      `json:"took_ms"`
	CacheHit bool         `json:"cache_hit"`
	Results  []resultView `json:"results"`
}

type resultView struct {
	DocID     uint32            `json:"doc_id"`
	Path      string            `json:"path"`
	Score     float64           `json:"score"`
	SizeBytes uint64            `json:"size_bytes"`
	Mtime     time.Time         `json:"mtime"`
	DocType   string            `json:"doc_type"`
	Snippets  []snippet.Snippet `json:"snippets,omitempty"`
}

// buildResultViews hydrates each hit's document metadata into the wire
// shape and, best-effort, attaches highlight snippets read from disk. A
// file that can no longer be read (deleted, permissions changed since
// indexing) simply yields no snippets rather than failing the request.
func buildResultViews(result *eval.Result, terms []string) []resultView {
	views := make([]resultView, 0, len(result.Hits))
	for _, hit := range result.Hits {
		view := resultView{
			DocID:     hit.DocID,
			Path:      hit.Document.Path,
			Score:     hit.Score,
			SizeBytes: hit.Document.SizeBytes,
			Mtime:     hit.Document.Mtime,
			DocType:   string(hit.Document.DocType),
		}
		if content, err := os.ReadFile(hit.Document.Path); err == nil {
			view.Snippets = snippet.Generate(string(content), terms)
		}
		views = append(views, view)
	}
	return views
}

// queryTerms extracts a rough set of positive search terms from the raw
// query string for highlighting, mirroring the teacher's plan.Terms split
// but tolerant of this grammar's boolean operators and field/sort clauses.
func queryTerms(raw string) []string {
	var terms []string
	excludeNext := false
	for _, word := range strings.Fields(raw) {
		w := strings.Trim(word, `"()`)
		switch {
		case w == "":
		case strings.EqualFold(w, "not"):
			excludeNext = true
		case strings.EqualFold(w, "and") || strings.EqualFold(w, "or"):
		case excludeNext:
			excludeNext = false
		case strings.HasPrefix(w, "-"):
		case strings.Contains(w, ":"):
		default:
			terms = append(terms, w)
		}
	}
	return terms
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := fserrors.HTTPStatusCode(err)
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
