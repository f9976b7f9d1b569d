package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragdoc/internal/ingestion"
	"github.com/54b3r/ragdoc/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover embedding plus answer generation.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MaxBodyBytes caps request bodies. Defaults to 8 MiB if zero.
	MaxBodyBytes int64
	// DefaultTopK is used when a search or ask request omits k.
	// Defaults to rag.DefaultTopK if zero.
	DefaultTopK int
	// MetricsRegistry receives the server metrics. If nil,
	// prometheus.DefaultRegisterer is used.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. If nil, prometheus.DefaultGatherer
	// is used.
	MetricsGatherer prometheus.Gatherer
}

// ingester is the slice of *ingestion.Pipeline the document handlers use.
type ingester interface {
	// Ingest stores, embeds and indexes one document.
	Ingest(ctx context.Context, tenantID, projectID, fileName, contents string) (string, error)
	// IngestFolder ingests a batch, continuing past per-document failures.
	IngestFolder(ctx context.Context, tenantID, projectID string, sources []ingestion.Source) *ingestion.Report
}

// retriever is the slice of *rag.Retriever the query handlers use.
type retriever interface {
	// Retrieve returns ranked matches for queryText.
	Retrieve(ctx context.Context, scope rag.Scope, queryText string, k int) ([]rag.SimilarityResult, error)
	// Ask retrieves context and generates an answer.
	Ask(ctx context.Context, scope rag.Scope, question string, k int) (*rag.Answer, error)
}

// documentGetter fetches stored documents by id.
type documentGetter interface {
	// GetDocument returns the document or rag.ErrDocumentNotFound.
	GetDocument(ctx context.Context, id string) (*rag.Document, error)
}

// Deps are the pipeline components the server exposes.
type Deps struct {
	// Ingester runs the ingestion pipeline. *ingestion.Pipeline satisfies it.
	Ingester ingester
	// Retriever runs the retrieval pipeline. *rag.Retriever satisfies it.
	Retriever retriever
	// Documents reads stored documents. Any rag.DocumentStore satisfies it.
	Documents documentGetter
}

// Server is the HTTP server that exposes the ingestion and retrieval
// pipelines as a JSON API.
type Server struct {
	// ingester handles document ingestion.
	ingester ingester
	// retriever handles search and ask requests.
	retriever retriever
	// docs reads stored documents.
	docs documentGetter
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped root handler.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the HTTP metrics.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// documentRequest is the JSON body for POST /api/documents.
type documentRequest struct {
	// TenantID owns the document.
	TenantID string `json:"tenantId"`
	// ProjectID is the project within the tenant.
	ProjectID string `json:"projectId"`
	// FileName is the document's file name.
	FileName string `json:"fileName"`
	// Contents is the full document text.
	Contents string `json:"contents"`
}

// documentResponse is the JSON response for POST /api/documents.
type documentResponse struct {
	// ID is the new document id.
	ID string `json:"id"`
}

// batchRequest is the JSON body for POST /api/documents/batch.
type batchRequest struct {
	// TenantID owns every document in the batch.
	TenantID string `json:"tenantId"`
	// ProjectID is the project within the tenant.
	ProjectID string `json:"projectId"`
	// Documents are ingested in order.
	Documents []ingestion.Source `json:"documents"`
}

// batchFailure is one failed document in a batch response.
type batchFailure struct {
	// FileName is the document's file name.
	FileName string `json:"fileName"`
	// Stage is the pipeline stage that failed.
	Stage string `json:"stage"`
	// Error is the failure message.
	Error string `json:"error"`
}

// batchResponse is the JSON response for POST /api/documents/batch.
type batchResponse struct {
	// Ingested lists the stored documents.
	Ingested []ingestion.Ingested `json:"ingested"`
	// Failed lists the rejected documents.
	Failed []batchFailure `json:"failed"`
}

// getDocumentResponse is the JSON response for GET /api/documents/{id}.
type getDocumentResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	ProjectID string    `json:"projectId"`
	FileName  string    `json:"fileName"`
	Contents  string    `json:"contents"`
	CreatedAt time.Time `json:"createdAt"`
}

// queryRequest is the JSON body for POST /api/search and POST /api/ask.
type queryRequest struct {
	// TenantID optionally narrows the scope to one tenant.
	TenantID string `json:"tenantId"`
	// ProjectID is the project to search. Required.
	ProjectID string `json:"projectId"`
	// Query is the search text or question.
	Query string `json:"query"`
	// K is the number of documents to retrieve. Zero selects the default.
	K int `json:"k"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Results are ranked by ascending distance.
	Results []rag.SimilarityResult `json:"results"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the generated text, or the no-information message.
	Answer string `json:"answer"`
	// Files are the matched file names in ranking order.
	Files []string `json:"files"`
	// Found is false when the scope held no documents.
	Found bool `json:"found"`
}

// errorResponse is the JSON body of every error response.
type errorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`
}
