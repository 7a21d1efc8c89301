// Package docstore implements the DocStore external collaborator against
// PostgreSQL: the doc_id <-> path/size/mtime/type/token_count metadata
// table the index manager and query evaluator consult for document
// existence, liveness, and field/range predicates.
//
// It requires a `documents` table:
//
//	CREATE TABLE documents (
//	    doc_id      BIGINT PRIMARY KEY,
//	    path        TEXT NOT NULL UNIQUE,
//	    extension   TEXT NOT NULL,
//	    size_bytes  BIGINT NOT NULL,
//	    mtime       TIMESTAMPTZ NOT NULL,
//	    doc_type    TEXT NOT NULL,
//	    token_count INTEGER NOT NULL DEFAULT 0
//	);
//	CREATE SEQUENCE documents_doc_id_seq OWNED BY documents.doc_id;
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsearch/fsearch/internal/docmodel"
	fserrors "github.com/fsearch/fsearch/pkg/errors"
	"github.com/fsearch/fsearch/pkg/postgres"
	"github.com/fsearch/fsearch/pkg/resilience"
)

// Store implements the DocStore contract against a PostgreSQL connection
// pool. Reads and writes are serializable at the row level; nextDocId and
// insert-if-absent rely on a dedicated sequence and a unique index on path.
// Every round trip runs through a circuit breaker so a wedged Postgres
// instance fails ingest and query fast instead of piling up blocked
// connections.
type Store struct {
	db      *postgres.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// New creates a Store backed by db.
func New(db *postgres.Client) *Store {
	return &Store{
		db:      db,
		breaker: resilience.NewCircuitBreaker("docstore", resilience.CircuitBreakerConfig{}),
		logger:  slog.Default().With("component", "docstore"),
	}
}

// Ping verifies connectivity to the backing Postgres instance, used by the
// docstore health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.breaker.Execute(func() error {
		return s.db.DB.PingContext(ctx)
	})
}

// BreakerState returns the docstore circuit breaker's current state, for
// the fsearch_circuit_breaker_state gauge.
func (s *Store) BreakerState() resilience.State {
	return s.breaker.GetState()
}

// NextDocID allocates the next monotone document ID from the backing
// sequence.
func (s *Store) NextDocID(ctx context.Context) (uint32, error) {
	var id int64
	err := s.breaker.Execute(func() error {
		return s.db.DB.QueryRowContext(ctx, `SELECT nextval('documents_doc_id_seq')`).Scan(&id)
	})
	if err != nil {
		return 0, fserrors.Newf(fserrors.ErrIO, "allocating next doc id: %v", err)
	}
	return uint32(id), nil
}

// Insert persists a new document row. It fails with ErrValidation if path
// already exists.
func (s *Store) Insert(ctx context.Context, doc docmodel.Document) error {
	var validationErr error
	err := s.breaker.Execute(func() error {
		return s.db.InTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO documents (doc_id, path, extension, size_bytes, mtime, doc_type, token_count)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (path) DO NOTHING`,
				doc.DocID, doc.Path, doc.Extension, doc.SizeBytes, doc.Mtime.UTC(), string(doc.DocType), doc.TokenCount,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				validationErr = fserrors.Newf(fserrors.ErrValidation, "document already exists at path %q", doc.Path)
				return nil
			}
			return nil
		})
	})
	if validationErr != nil {
		return validationErr
	}
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "inserting document: %v", err)
	}
	return nil
}

// Update updates an existing document's size, mtime, and token count after
// re-ingestion.
func (s *Store) Update(ctx context.Context, docID uint32, size uint64, mtime time.Time, tokenCount uint32) error {
	var notFound bool
	err := s.breaker.Execute(func() error {
		res, err := s.db.DB.ExecContext(ctx,
			`UPDATE documents SET size_bytes=$1, mtime=$2, token_count=$3 WHERE doc_id=$4`,
			size, mtime.UTC(), tokenCount, docID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		notFound = n == 0
		return nil
	})
	if err != nil {
		return fserrors.Newf(fserrors.ErrIO, "updating document %d: %v", docID, err)
	}
	if notFound {
		return fserrors.Newf(fserrors.ErrValidation, "no document with doc_id %d", docID)
	}
	return nil
}

const selectColumns = `doc_id, path, extension, size_bytes, mtime, doc_type, token_count`

func scanDocument(row *sql.Row) (docmodel.Document, bool, error) {
	var d docmodel.Document
	var docType string
	err := row.Scan(&d.DocID, &d.Path, &d.Extension, &d.SizeBytes, &d.Mtime, &docType, &d.TokenCount)
	if err == sql.ErrNoRows {
		return docmodel.Document{}, false, nil
	}
	if err != nil {
		return docmodel.Document{}, false, fserrors.Newf(fserrors.ErrIO, "scanning document row: %v", err)
	}
	d.DocType = docmodel.DocType(docType)
	return d, true, nil
}

// FindByPath returns the document at path, if any.
func (s *Store) FindByPath(ctx context.Context, path string) (docmodel.Document, bool, error) {
	var doc docmodel.Document
	var found bool
	err := s.breaker.Execute(func() error {
		row := s.db.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE path=$1`, selectColumns), path)
		var err error
		doc, found, err = scanDocument(row)
		return err
	})
	return doc, found, err
}

// FindByID returns the document with the given docId, if any.
func (s *Store) FindByID(ctx context.Context, docID uint32) (docmodel.Document, bool, error) {
	var doc docmodel.Document
	var found bool
	err := s.breaker.Execute(func() error {
		row := s.db.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE doc_id=$1`, selectColumns), docID)
		var err error
		doc, found, err = scanDocument(row)
		return err
	})
	return doc, found, err
}

// DeleteByPath removes the document at path, returning its former docId if
// it existed.
func (s *Store) DeleteByPath(ctx context.Context, path string) (uint32, bool, error) {
	var docID uint32
	var found bool
	err := s.breaker.Execute(func() error {
		err := s.db.DB.QueryRowContext(ctx, `DELETE FROM documents WHERE path=$1 RETURNING doc_id`, path).Scan(&docID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return 0, false, fserrors.Newf(fserrors.ErrIO, "deleting document at path %q: %v", path, err)
	}
	return docID, found, nil
}

func (s *Store) queryDocIDs(ctx context.Context, query string, args ...any) ([]uint32, error) {
	var ids []uint32
	err := s.breaker.Execute(func() error {
		rows, err := s.db.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uint32
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "querying doc ids: %v", err)
	}
	return ids, nil
}

// FindDocIDsByExtension returns, in ascending docId order, every document
// with the given extension.
func (s *Store) FindDocIDsByExtension(ctx context.Context, extension string) ([]uint32, error) {
	return s.queryDocIDs(ctx, `SELECT doc_id FROM documents WHERE extension=$1 ORDER BY doc_id`, extension)
}

// FindDocIDsByType returns, in ascending docId order, every document of the
// given classified type.
func (s *Store) FindDocIDsByType(ctx context.Context, docType docmodel.DocType) ([]uint32, error) {
	return s.queryDocIDs(ctx, `SELECT doc_id FROM documents WHERE doc_type=$1 ORDER BY doc_id`, string(docType))
}

// FindDocIDsByMtimeRange returns, in ascending docId order, every document
// whose mtime falls within [from, to].
func (s *Store) FindDocIDsByMtimeRange(ctx context.Context, from, to time.Time) ([]uint32, error) {
	return s.queryDocIDs(ctx, `SELECT doc_id FROM documents WHERE mtime BETWEEN $1 AND $2 ORDER BY doc_id`, from.UTC(), to.UTC())
}

// FindDocIDsBySizeRange returns, in ascending docId order, every document
// whose size falls within [min, max].
func (s *Store) FindDocIDsBySizeRange(ctx context.Context, min, max uint64) ([]uint32, error) {
	return s.queryDocIDs(ctx, `SELECT doc_id FROM documents WHERE size_bytes BETWEEN $1 AND $2 ORDER BY doc_id`, min, max)
}

// FindDocIDsByPathPrefix returns, in ascending docId order, every document
// whose path starts with prefix.
func (s *Store) FindDocIDsByPathPrefix(ctx context.Context, prefix string) ([]uint32, error) {
	return s.queryDocIDs(ctx, `SELECT doc_id FROM documents WHERE path LIKE $1 ORDER BY doc_id`, escapeLikePrefix(prefix)+"%")
}

// FindDocIDsByFileName returns, in ascending docId order, every document
// whose base file name matches name exactly.
func (s *Store) FindDocIDsByFileName(ctx context.Context, name string) ([]uint32, error) {
	return s.queryDocIDs(ctx, `SELECT doc_id FROM documents WHERE path LIKE $1 ORDER BY doc_id`, "%/"+escapeLikePrefix(name))
}

// AllDocuments returns every live document, in ascending docId order. Used
// by incremental update to detect paths that have disappeared from a
// source scan (DocStore has them, the scan does not).
func (s *Store) AllDocuments(ctx context.Context) ([]docmodel.Document, error) {
	var docs []docmodel.Document
	err := s.breaker.Execute(func() error {
		rows, err := s.db.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM documents ORDER BY doc_id`, selectColumns))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d docmodel.Document
			var docType string
			if err := rows.Scan(&d.DocID, &d.Path, &d.Extension, &d.SizeBytes, &d.Mtime, &docType, &d.TokenCount); err != nil {
				return err
			}
			d.DocType = docmodel.DocType(docType)
			docs = append(docs, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fserrors.Newf(fserrors.ErrIO, "listing all documents: %v", err)
	}
	return docs, nil
}

// TotalDocCount returns the number of live documents.
func (s *Store) TotalDocCount(ctx context.Context) (uint32, error) {
	var count uint32
	err := s.breaker.Execute(func() error {
		return s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	})
	if err != nil {
		return 0, fserrors.Newf(fserrors.ErrIO, "counting documents: %v", err)
	}
	return count, nil
}

// AverageDocLength returns the mean token count across live documents, or
// zero if the store is empty.
func (s *Store) AverageDocLength(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.breaker.Execute(func() error {
		return s.db.DB.QueryRowContext(ctx, `SELECT AVG(token_count) FROM documents`).Scan(&avg)
	})
	if err != nil {
		return 0, fserrors.Newf(fserrors.ErrIO, "averaging doc length: %v", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// escapeLikePrefix escapes LIKE metacharacters in a literal prefix so user
// input cannot widen the match pattern.
func escapeLikePrefix(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
