package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/54b3r/ragdoc/internal/rag"
)

// PostgresConfig holds connection parameters for a PostgresStore.
type PostgresConfig struct {
	// ConnString is a libpq-style URL or keyword/value DSN.
	ConnString string

	// ConnectTimeout bounds the startup connection retry loop.
	// Defaults to 30s if zero.
	ConnectTimeout time.Duration
}

// PostgresStore is a DocumentStore and VectorIndex backed by Postgres with
// the pgvector extension. Ranking uses the cosine distance operator (<=>).
type PostgresStore struct {
	// pool is the pgx connection pool. Every operation acquires one
	// connection and releases it before returning.
	pool *pgxpool.Pool
	// opts is the vector configuration the store was opened with.
	opts Options
}

var (
	_ rag.DocumentStore = (*PostgresStore)(nil)
	_ rag.VectorIndex   = (*PostgresStore)(nil)
)

// OpenPostgres connects to Postgres, retrying with exponential backoff until
// ConnectTimeout elapses, then runs the schema migration and checks the
// stored index metadata against opts.
func OpenPostgres(ctx context.Context, cfg *PostgresConfig, opts Options) (*PostgresStore, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("store: postgres connection string is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("store: postgres config: %w", err)
	}

	s := &PostgresStore{pool: pool, opts: opts}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.ConnectTimeout
	if err := backoff.Retry(func() error { return s.Ping(ctx) }, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.checkMeta(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the extension and schema if they do not already exist.
func (s *PostgresStore) migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: migrate: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer conn.Release()

	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
    seq          BIGSERIAL   PRIMARY KEY,
    id           UUID        NOT NULL UNIQUE,
    tenant_id    TEXT        NOT NULL,
    project_id   TEXT        NOT NULL,
    file_name    TEXT        NOT NULL,
    contents     TEXT        NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_project_tenant ON documents (project_id, tenant_id)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
    seq          BIGSERIAL   PRIMARY KEY,
    tenant_id    TEXT        NOT NULL,
    document_id  UUID        NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    embedding    vector(` + strconv.Itoa(s.opts.Dimensions) + `) NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings (document_id)`,
		`CREATE TABLE IF NOT EXISTS index_meta (
    key          TEXT PRIMARY KEY,
    value        TEXT NOT NULL
)`,
	}
	for _, stmt := range ddl {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w: %w", rag.ErrStorageUnavailable, err)
		}
	}
	return nil
}

// checkMeta records the embedding model and dimensions on first open and
// rejects later opens that disagree with them.
func (s *PostgresStore) checkMeta(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT key, value FROM index_meta`)
		if err != nil {
			return fmt.Errorf("store: read index meta: %w: %w", rag.ErrStorageUnavailable, err)
		}
		meta := map[string]string{}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				rows.Close()
				return fmt.Errorf("store: scan index meta: %w: %w", rag.ErrStorageUnavailable, err)
			}
			meta[k] = v
		}
		rows.Close()
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

		const upsert = `INSERT INTO index_meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`
		if _, err := tx.Exec(ctx, upsert, "dimensions", strconv.Itoa(s.opts.Dimensions)); err != nil {
			return fmt.Errorf("store: write index meta: %w: %w", rag.ErrStorageUnavailable, err)
		}
		if _, err := tx.Exec(ctx, upsert, "model", s.opts.Model); err != nil {
			return fmt.Errorf("store: write index meta: %w: %w", rag.ErrStorageUnavailable, err)
		}
		return nil
	})
}

// PutDocument persists a new document and returns its generated ID.
func (s *PostgresStore) PutDocument(ctx context.Context, tenantID, projectID, fileName, contents string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("store: project id is required")
	}
	id := uuid.NewString()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("store: put document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer conn.Release()

	const q = `INSERT INTO documents (id, tenant_id, project_id, file_name, contents) VALUES ($1, $2, $3, $4, $5)`
	if _, err := conn.Exec(ctx, q, id, tenantID, projectID, fileName, contents); err != nil {
		return "", fmt.Errorf("store: put document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return id, nil
}

// GetDocument returns the document with the given ID.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, fmt.Errorf("store: get document %s: %w", id, rag.ErrDocumentNotFound)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer conn.Release()

	const q = `SELECT seq, id::text, tenant_id, project_id, file_name, contents, created_at FROM documents WHERE id = $1`
	var d rag.Document
	err = conn.QueryRow(ctx, q, id).Scan(&d.Seq, &d.ID, &d.TenantID, &d.ProjectID, &d.FileName, &d.Contents, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("store: get document %s: %w", id, rag.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document %s: %w: %w", id, rag.ErrStorageUnavailable, err)
	}
	return &d, nil
}

// DeleteDocument removes a document; its embeddings cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("store: delete document %s: %w", id, rag.ErrDocumentNotFound)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: delete document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w: %w", rag.ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete document %s: %w", id, rag.ErrDocumentNotFound)
	}
	return nil
}

// Dimensions returns the configured embedding length.
func (s *PostgresStore) Dimensions() int {
	return s.opts.Dimensions
}

// PutEmbedding persists one embedding record for documentID. The document
// must exist and belong to tenantID.
func (s *PostgresStore) PutEmbedding(ctx context.Context, tenantID, documentID string, vector []float32) error {
	if len(vector) != s.opts.Dimensions {
		return fmt.Errorf("store: vector has %d dimensions, index expects %d: %w",
			len(vector), s.opts.Dimensions, rag.ErrDimensionMismatch)
	}
	if err := uuid.Validate(documentID); err != nil {
		return fmt.Errorf("store: put embedding for %s: %w", documentID, rag.ErrDocumentNotFound)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: put embedding: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer conn.Release()

	// The SELECT yields no row when the document is missing or owned by
	// another tenant, so nothing is inserted.
	const q = `
INSERT INTO embeddings (tenant_id, document_id, embedding)
SELECT $1, d.id, $3::vector
FROM   documents d
WHERE  d.id = $2 AND d.tenant_id = $1`
	tag, err := conn.Exec(ctx, q, tenantID, documentID, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("store: put embedding: %w: %w", rag.ErrStorageUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: put embedding for %s: %w", documentID, rag.ErrDocumentNotFound)
	}
	return nil
}

// Search returns the k embeddings in scope closest to query by cosine
// distance, joined with their documents. An empty scope yields an empty,
// non-nil slice.
func (s *PostgresStore) Search(ctx context.Context, scope rag.Scope, query []float32, k int) ([]rag.SimilarityResult, error) {
	if len(query) != s.opts.Dimensions {
		return nil, fmt.Errorf("store: query has %d dimensions, index expects %d: %w",
			len(query), s.opts.Dimensions, rag.ErrDimensionMismatch)
	}
	if k <= 0 {
		k = rag.DefaultTopK
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer conn.Release()

	const q = `
SELECT d.id::text, d.file_name, d.contents, e.embedding <=> $1::vector AS distance
FROM   embeddings e
JOIN   documents d ON d.id = e.document_id
WHERE  d.project_id = $2
  AND  ($3 = '' OR d.tenant_id = $3)
ORDER  BY distance, d.seq, e.seq
LIMIT  $4`

	rows, err := conn.Query(ctx, q, pgvector.NewVector(query), scope.ProjectID, scope.TenantID, k)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w: %w", rag.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	results := make([]rag.SimilarityResult, 0, k)
	for rows.Next() {
		var r rag.SimilarityResult
		if err := rows.Scan(&r.DocumentID, &r.FileName, &r.Contents, &r.Distance); err != nil {
			return nil, fmt.Errorf("store: search scan: %w: %w", rag.ErrStorageUnavailable, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search rows: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return results, nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping: %w: %w", rag.ErrStorageUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
