package docstore

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fsearch/fsearch/internal/docmodel"
	"github.com/fsearch/fsearch/pkg/config"
	"github.com/fsearch/fsearch/pkg/postgres"
)

// skipIfNoPostgres skips the test when a real PostgreSQL instance is not
// reachable, matching the project's preference for exercising a real
// database in integration tests rather than mocking database/sql.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping docstore test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "fsearch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "fsearch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func resetTable(t *testing.T, db *postgres.Client) {
	t.Helper()
	if _, err := db.DB.Exec(`DELETE FROM documents`); err != nil {
		t.Fatalf("resetting documents table: %v", err)
	}
}

func TestInsertAndFindByPath(t *testing.T) {
	db := skipIfNoPostgres(t)
	resetTable(t, db)
	s := New(db)
	ctx := context.Background()

	docID, err := s.NextDocID(ctx)
	if err != nil {
		t.Fatalf("NextDocID: %v", err)
	}
	doc := docmodel.Document{
		DocID:      docID,
		Path:       "/repo/readme.md",
		Extension:  ".md",
		SizeBytes:  100,
		Mtime:      time.Now().UTC().Truncate(time.Second),
		DocType:    docmodel.TypeDoc,
		TokenCount: 20,
	}
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := s.FindByPath(ctx, doc.Path)
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if !ok {
		t.Fatal("expected document to be found")
	}
	if got.DocID != doc.DocID || got.TokenCount != doc.TokenCount {
		t.Fatalf("mismatch: want %+v got %+v", doc, got)
	}
}

func TestInsertDuplicatePathFails(t *testing.T) {
	db := skipIfNoPostgres(t)
	resetTable(t, db)
	s := New(db)
	ctx := context.Background()

	docID, _ := s.NextDocID(ctx)
	doc := docmodel.Document{DocID: docID, Path: "/repo/a.go", Extension: ".go", DocType: docmodel.TypeCode}
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	docID2, _ := s.NextDocID(ctx)
	dup := docmodel.Document{DocID: docID2, Path: "/repo/a.go", Extension: ".go", DocType: docmodel.TypeCode}
	if err := s.Insert(ctx, dup); err == nil {
		t.Fatal("expected duplicate path insert to fail")
	}
}

func TestDeleteByPath(t *testing.T) {
	db := skipIfNoPostgres(t)
	resetTable(t, db)
	s := New(db)
	ctx := context.Background()

	docID, _ := s.NextDocID(ctx)
	doc := docmodel.Document{DocID: docID, Path: "/repo/gone.go", Extension: ".go", DocType: docmodel.TypeCode}
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	gotID, found, err := s.DeleteByPath(ctx, doc.Path)
	if err != nil {
		t.Fatalf("DeleteByPath: %v", err)
	}
	if !found || gotID != docID {
		t.Fatalf("expected to delete docId %d, got %d found=%v", docID, gotID, found)
	}

	if _, found, _ := s.FindByPath(ctx, doc.Path); found {
		t.Fatal("expected document to be gone after delete")
	}

	if _, found, err := s.DeleteByPath(ctx, "/repo/never-existed.go"); err != nil || found {
		t.Fatalf("expected delete of absent path to report not-found, got found=%v err=%v", found, err)
	}
}

func TestFindDocIDsByExtensionAndPrefix(t *testing.T) {
	db := skipIfNoPostgres(t)
	resetTable(t, db)
	s := New(db)
	ctx := context.Background()

	paths := []string{"/repo/a.go", "/repo/b.go", "/repo/sub/c.md"}
	for _, p := range paths {
		id, _ := s.NextDocID(ctx)
		ext := p[len(p)-3:]
		if err := s.Insert(ctx, docmodel.Document{DocID: id, Path: p, Extension: ext, DocType: docmodel.ClassifyExtension(ext)}); err != nil {
			t.Fatalf("Insert %s: %v", p, err)
		}
	}

	goIDs, err := s.FindDocIDsByExtension(ctx, ".go")
	if err != nil {
		t.Fatalf("FindDocIDsByExtension: %v", err)
	}
	if len(goIDs) != 2 {
		t.Fatalf("expected 2 .go documents, got %d", len(goIDs))
	}

	prefixIDs, err := s.FindDocIDsByPathPrefix(ctx, "/repo/sub/")
	if err != nil {
		t.Fatalf("FindDocIDsByPathPrefix: %v", err)
	}
	if len(prefixIDs) != 1 {
		t.Fatalf("expected 1 document under /repo/sub/, got %d", len(prefixIDs))
	}
}

func TestTotalDocCountAndAverageDocLength(t *testing.T) {
	db := skipIfNoPostgres(t)
	resetTable(t, db)
	s := New(db)
	ctx := context.Background()

	for i, tc := range []uint32{10, 20, 30} {
		id, _ := s.NextDocID(ctx)
		path := "/repo/file" + strconv.Itoa(i) + ".go"
		if err := s.Insert(ctx, docmodel.Document{DocID: id, Path: path, Extension: ".go", DocType: docmodel.TypeCode, TokenCount: tc}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	count, err := s.TotalDocCount(ctx)
	if err != nil {
		t.Fatalf("TotalDocCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 documents, got %d", count)
	}

	avg, err := s.AverageDocLength(ctx)
	if err != nil {
		t.Fatalf("AverageDocLength: %v", err)
	}
	if avg != 20 {
		t.Fatalf("expected average doc length 20, got %f", avg)
	}
}

func TestAverageDocLengthEmptyStoreIsZero(t *testing.T) {
	db := skipIfNoPostgres(t)
	resetTable(t, db)
	s := New(db)
	avg, err := s.AverageDocLength(context.Background())
	if err != nil {
		t.Fatalf("AverageDocLength: %v", err)
	}
	if avg != 0 {
		t.Fatalf("expected 0 for empty store, got %f", avg)
	}
}
