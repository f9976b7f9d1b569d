// Package store provides the relational backends for the document store and
// vector index. SQLiteStore keeps documents and embeddings in a local SQLite
// file and ranks by brute-force cosine distance; PostgresStore keeps them in
// Postgres and ranks with pgvector. Both implement rag.DocumentStore and
// rag.VectorIndex.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/ragdoc/internal/rag"
)

// Options configures the vector side of a store.
type Options struct {
	// Dimensions is the embedding length accepted by PutEmbedding and Search.
	Dimensions int
	// Model identifies the embedding model. A store created with one model
	// refuses to open with another.
	Model string
}

func (o Options) validate() error {
	if o.Dimensions <= 0 {
		return fmt.Errorf("store: dimensions must be positive, got %d", o.Dimensions)
	}
	if o.Model == "" {
		return fmt.Errorf("store: embedding model must be set")
	}
	return nil
}

// SQLiteStore is a DocumentStore and VectorIndex backed by a local SQLite
// database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// opts is the vector configuration the store was opened with.
	opts Options
}

var (
	_ rag.DocumentStore = (*SQLiteStore)(nil)
	_ rag.VectorIndex   = (*SQLiteStore)(nil)
)

// DefaultDBPath returns the default path for the document database.
// It resolves to ~/.ragdoc/ragdoc.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragdoc")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ragdoc.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path, runs the schema
// migration and checks the stored index metadata against opts. Use ":memory:"
// for an in-memory database in tests.
func Open(ctx context.Context, path string, opts Options) (*SQLiteStore, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w: %w", path, rag.ErrStorageUnavailable, err)
	}
	// Single connection: serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, opts: opts}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.checkMeta(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT    NOT NULL UNIQUE,
    tenant_id    TEXT    NOT NULL,
    project_id   TEXT    NOT NULL,
    file_name    TEXT    NOT NULL,
    contents     TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_documents_project_tenant
    ON documents (project_id, tenant_id);

CREATE TABLE IF NOT EXISTS embeddings (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id    TEXT    NOT NULL,
    document_id  TEXT    NOT NULL REFERENCES documents(id),
    vector       BLOB    NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_document
    ON embeddings (document_id);

CREATE TABLE IF NOT EXISTS index_meta (
    key          TEXT PRIMARY KEY,
    value        TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return nil
}

// checkMeta records the embedding model and dimensions on first open and
// rejects later opens that disagree with them.
func (s *SQLiteStore) checkMeta(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{}
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return fmt.Errorf("store: read index meta: %w: %w", rag.ErrStorageUnavailable, err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("store: scan index meta: %w: %w", rag.ErrStorageUnavailable, err)
		}
		meta[k] = v
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: index meta rows: %w: %w", rag.ErrStorageUnavailable, err)
	}

	if v, ok := meta["dimensions"]; ok && v != strconv.Itoa(s.opts.Dimensions) {
		return fmt.Errorf("store: index built with %s dimensions, configured %d: %w",
			v, s.opts.Dimensions, rag.ErrDimensionMismatch)
	}
	if v, ok := meta["model"]; ok && v != s.opts.Model {
		return fmt.Errorf("store: index built with model %q, configured %q: %w",
			v, s.opts.Model, rag.ErrModelMismatch)
	}

	const upsert = `INSERT OR IGNORE INTO index_meta (key, value) VALUES (?, ?)`
	if _, err := tx.ExecContext(ctx, upsert, "dimensions", strconv.Itoa(s.opts.Dimensions)); err != nil {
		return fmt.Errorf("store: write index meta: %w: %w", rag.ErrStorageUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, upsert, "model", s.opts.Model); err != nil {
		return fmt.Errorf("store: write index meta: %w: %w", rag.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit index meta: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return nil
}

// PutDocument persists a new document and returns its generated ID.
func (s *SQLiteStore) PutDocument(ctx context.Context, tenantID, projectID, fileName, contents string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("store: project id is required")
	}
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: put document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO documents (id, tenant_id, project_id, file_name, contents, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, id, tenantID, projectID, fileName, contents, time.Now().Unix()); err != nil {
		return "", fmt.Errorf("store: put document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: put document commit: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return id, nil
}

// GetDocument returns the document with the given ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	const q = `SELECT seq, id, tenant_id, project_id, file_name, contents, created_at FROM documents WHERE id = ?`

	var d rag.Document
	var ts int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&d.Seq, &d.ID, &d.TenantID, &d.ProjectID, &d.FileName, &d.Contents, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get document %s: %w", id, rag.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document %s: %w: %w", id, rag.ErrStorageUnavailable, err)
	}
	d.CreatedAt = time.Unix(ts, 0)
	return &d, nil
}

// DeleteDocument removes a document and all of its embeddings.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete embeddings: %w: %w", rag.ErrStorageUnavailable, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("store: delete document %s: %w", id, rag.ErrDocumentNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete document commit: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return nil
}

// Dimensions returns the configured embedding length.
func (s *SQLiteStore) Dimensions() int {
	return s.opts.Dimensions
}

// PutEmbedding persists one embedding record for documentID. The document
// must exist and belong to tenantID.
func (s *SQLiteStore) PutEmbedding(ctx context.Context, tenantID, documentID string, vector []float32) error {
	if len(vector) != s.opts.Dimensions {
		return fmt.Errorf("store: vector has %d dimensions, index expects %d: %w",
			len(vector), s.opts.Dimensions, rag.ErrDimensionMismatch)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: put embedding: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT tenant_id FROM documents WHERE id = ?`, documentID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != tenantID) {
		return fmt.Errorf("store: put embedding for %s: %w", documentID, rag.ErrDocumentNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: put embedding: %w: %w", rag.ErrStorageUnavailable, err)
	}

	const q = `INSERT INTO embeddings (tenant_id, document_id, vector, created_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, tenantID, documentID, encodeVector(vector), time.Now().Unix()); err != nil {
		return fmt.Errorf("store: put embedding: %w: %w", rag.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: put embedding commit: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return nil
}

// Search ranks every embedding in scope by cosine distance to query and
// returns the k closest, joined with their documents. An empty scope yields
// an empty, non-nil slice.
func (s *SQLiteStore) Search(ctx context.Context, scope rag.Scope, query []float32, k int) ([]rag.SimilarityResult, error) {
	if len(query) != s.opts.Dimensions {
		return nil, fmt.Errorf("store: query has %d dimensions, index expects %d: %w",
			len(query), s.opts.Dimensions, rag.ErrDimensionMismatch)
	}

	const q = `
SELECT d.id, d.file_name, d.contents, d.seq, e.seq, e.vector
FROM   embeddings e
JOIN   documents d ON d.id = e.document_id
WHERE  d.project_id = ?
  AND  (? = '' OR d.tenant_id = ?)`

	rows, err := s.db.QueryContext(ctx, q, scope.ProjectID, scope.TenantID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var cands []rag.Candidate
	for rows.Next() {
		var c rag.Candidate
		var blob []byte
		if err := rows.Scan(&c.Result.DocumentID, &c.Result.FileName, &c.Result.Contents, &c.DocSeq, &c.RecordSeq, &blob); err != nil {
			return nil, fmt.Errorf("store: search scan: %w: %w", rag.ErrStorageUnavailable, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("store: search: record %d: %w", c.RecordSeq, err)
		}
		if len(vec) != len(query) {
			return nil, fmt.Errorf("store: search: record %d has %d dimensions: %w",
				c.RecordSeq, len(vec), rag.ErrDimensionMismatch)
		}
		c.Result.Distance = rag.CosineDistance(query, vec)
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search rows: %w: %w", rag.ErrStorageUnavailable, err)
	}

	return rag.TopK(cands, k), nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
