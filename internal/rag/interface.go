// Package rag defines the core types and interfaces of the retrieval-augmented
// generation pipeline: documents, embedding records, similarity results, and
// the storage, embedding, and generation components that operate on them.
// Concrete implementations (SQLite, Postgres, Qdrant, Ollama, Eino models)
// satisfy these interfaces so the pipelines never depend on a specific backend.
package rag

import (
	"context"
	"time"
)

// DefaultTopK is the number of results returned by a search when the caller
// passes k <= 0. One document is forwarded as context by default.
const DefaultTopK = 1

// Scope selects the partition of stored data a search runs against.
// ProjectID is required. TenantID is optional: when empty the search is
// scoped to the project alone.
type Scope struct {
	// TenantID is the top-level isolation boundary. Empty means "any tenant".
	TenantID string
	// ProjectID is the sub-partition within a tenant.
	ProjectID string
}

// Document is a single ingested text file. It is created once during
// ingestion and never mutated.
type Document struct {
	// ID is the unique identifier assigned by the DocumentStore (a UUID).
	ID string

	// TenantID is the tenant that owns this document.
	TenantID string

	// ProjectID is the project within the tenant this document belongs to.
	ProjectID string

	// FileName is the base name of the source file. Not necessarily unique.
	FileName string

	// Contents is the full raw text of the document.
	Contents string

	// Seq is the store-assigned insertion order. It is used to break
	// distance ties deterministically during search.
	Seq int64

	// CreatedAt is when the document was persisted.
	CreatedAt time.Time
}

// EmbeddingRecord associates an embedding vector with exactly one Document.
type EmbeddingRecord struct {
	// TenantID is the tenant that owns the referenced document.
	TenantID string

	// DocumentID references Document.ID.
	DocumentID string

	// Vector is the embedding of the document contents.
	Vector []float32
}

// SimilarityResult is one ranked match returned by a VectorIndex search.
type SimilarityResult struct {
	// DocumentID is the matched document's identifier.
	DocumentID string `json:"documentId"`

	// FileName is the matched document's file name.
	FileName string `json:"fileName"`

	// Contents is the matched document's full text.
	Contents string `json:"contents"`

	// Distance is the cosine distance between the query and the stored
	// vector. Lower is more similar; 0 is an exact match.
	Distance float64 `json:"distance"`
}

// Embedder is the interface implemented by embedding backends.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingProvider converts a single text into a fixed-length vector. It is
// deterministic for a fixed model version. Failures are reported as
// ErrEmbeddingUnavailable and never substituted with a zero vector.
type EmbeddingProvider interface {
	// Embed returns the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed vector length produced by the model.
	Dimensions() int

	// Model returns the identifier of the embedding model.
	Model() string
}

// DocumentStore persists raw documents scoped by tenant and project.
// Implementations must be safe to call from multiple goroutines.
type DocumentStore interface {
	// PutDocument persists a new document atomically and returns its ID.
	PutDocument(ctx context.Context, tenantID, projectID, fileName, contents string) (string, error)

	// GetDocument returns the document with the given ID, or
	// ErrDocumentNotFound.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// DeleteDocument removes a document and any embeddings referencing it.
	// It exists so ingestion can compensate for a failed embedding step.
	DeleteDocument(ctx context.Context, id string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// VectorIndex persists embedding vectors keyed to documents and supports
// similarity search against a query vector.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// PutEmbedding persists one embedding record for documentID. It fails
	// with ErrDimensionMismatch when len(vector) != Dimensions() and leaves
	// no partial record behind.
	PutEmbedding(ctx context.Context, tenantID, documentID string, vector []float32) error

	// Search returns up to k results in scope ordered by ascending distance,
	// ties broken by document insertion order. An empty scope yields an
	// empty slice and a nil error.
	Search(ctx context.Context, scope Scope, query []float32, k int) ([]SimilarityResult, error)

	// Dimensions returns the configured vector length of this index.
	Dimensions() int

	// Ping reports whether the backing index is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the index.
	Close() error
}

// AnswerGenerator produces a natural-language answer for a fully rendered
// prompt. Local and hosted model backends both satisfy it.
type AnswerGenerator interface {
	// Generate returns the model's raw text output for prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}
