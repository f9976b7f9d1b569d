package rag

import "errors"

// Sentinel errors shared by every pipeline component. Implementations join
// these with the underlying cause so callers can match with errors.Is while
// the original error stays in the chain.
var (
	// ErrStorageUnavailable reports a connection or query failure against the
	// DocumentStore or VectorIndex.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDimensionMismatch reports a vector whose length differs from the
	// index's configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelMismatch reports an index that was built with a different
	// embedding model than the one configured.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrEmbeddingUnavailable reports an unreachable embedding backend or one
	// that returned malformed output.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrGenerationUnavailable reports an unreachable answer generator.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrDocumentNotFound reports a lookup of an unknown document ID.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNoRelevantDocuments is not a failure: it signals that a search scope
	// holds no documents, so the caller should present "no relevant
	// information found" instead of an answer.
	ErrNoRelevantDocuments = errors.New("no relevant documents")
)
