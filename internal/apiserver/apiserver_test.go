package apiserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsearch/fsearch/internal/admission"
	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/internal/eval"
	"github.com/fsearch/fsearch/pkg/health"
)

func TestSearchRejectsMissingQueryParam(t *testing.T) {
	h := New(nil, nil, nil, admission.New(1), health.NewChecker(), nil, 10, 100, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSearchRejectsNonPositiveLimit(t *testing.T) {
	h := New(nil, nil, nil, admission.New(1), health.NewChecker(), nil, 10, 100, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/search?q=foo&limit=0", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHealthzReportsUnavailableWhenAnyCheckDown(t *testing.T) {
	checker := health.NewChecker()
	checker.Register("docstore", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusDown, Message: "connection refused"}
	})

	h := New(nil, nil, nil, admission.New(1), checker, nil, 10, 100, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestQueryTermsDropsOperatorsAndFieldClauses(t *testing.T) {
	got := queryTerms(`error AND NOT deprecated type:CODE "exact phrase" sort:mtime`)
	want := map[string]bool{"error": true, "deprecated": false, "phrase": true}
	for term, shouldAppear := range want {
		found := false
		for _, g := range got {
			if g == term {
				found = true
			}
		}
		if found != shouldAppear {
			t.Errorf("queryTerms(%v) contains %q = %v, want %v", got, term, found, shouldAppear)
		}
	}
}

func TestBuildResultViewsAttachesSnippetsWhenFileReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	content := "this line mentions the search keyword right here"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	result := &eval.Result{
		Query:     "keyword",
		TotalHits: 1,
		Hits: []eval.Hit{
			{DocID: 1, Score: 2.5, Document: docmodel.Document{
				DocID: 1, Path: path, SizeBytes: uint64(len(content)), Mtime: time.Now(), DocType: docmodel.TypeNote,
			}},
		},
	}

	views := buildResultViews(result, []string{"keyword"})
	if len(views) != 1 {
		t.Fatalf("len(views) = %d, want 1", len(views))
	}
	if len(views[0].Snippets) == 0 {
		t.Fatalf("expected at least one snippet for a readable file containing the term")
	}
}

func TestBuildResultViewsSkipsSnippetsForUnreadableFile(t *testing.T) {
	result := &eval.Result{
		Hits: []eval.Hit{
			{DocID: 1, Document: docmodel.Document{DocID: 1, Path: "/nonexistent/path/does-not-exist.txt"}},
		},
	}
	views := buildResultViews(result, []string{"keyword"})
	if len(views) != 1 {
		t.Fatalf("len(views) = %d, want 1", len(views))
	}
	if views[0].Snippets != nil {
		t.Fatalf("expected no snippets for an unreadable file, got %v", views[0].Snippets)
	}
}
