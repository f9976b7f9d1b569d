package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/ragdoc/internal/logging"
	"github.com/54b3r/ragdoc/internal/metrics"
)

// promptTemplate is the fixed prompt sent to the AnswerGenerator. The first
// verb receives the assembled context, the second the user's question.
const promptTemplate = "Context:\n%s\n\nQuestion:\n%s\n\nAnswer:"

// RetrieverConfig holds the dependencies required to construct a Retriever.
type RetrieverConfig struct {
	// Embedder converts query text to a vector. Required.
	Embedder EmbeddingProvider

	// Index performs the similarity search. Required.
	Index VectorIndex

	// Generator produces the final answer. May be nil for retrieval-only
	// use; Answer and Ask then fail with ErrGenerationUnavailable.
	Generator AnswerGenerator

	// DefaultTopK is the number of results used when a caller passes k <= 0.
	// Defaults to DefaultTopK if zero.
	DefaultTopK int

	// Metrics records retrieval outcomes. May be nil.
	Metrics *metrics.Pipeline
}

// Retriever implements the retrieval half of the pipeline: embed the query,
// search the index, assemble context, and delegate to the generator.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder EmbeddingProvider

	// index performs the vector similarity search.
	index VectorIndex

	// generator produces answers from an assembled prompt.
	generator AnswerGenerator

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int

	// metrics records retrieval latency and result counts.
	metrics *metrics.Pipeline
}

// Answer is the outcome of Ask: the generated text plus the matched file
// names, which are reported for observability.
type Answer struct {
	// Text is the generator's raw output.
	Text string `json:"answer"`

	// Files lists the file names used as context, in ranking order.
	Files []string `json:"files"`

	// Results are the ranked matches the context was assembled from.
	Results []SimilarityResult `json:"results"`
}

// NewRetriever constructs a Retriever from the given config.
func NewRetriever(cfg *RetrieverConfig) (*Retriever, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rag: retriever config must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		embedder:    cfg.Embedder,
		index:       cfg.Index,
		generator:   cfg.Generator,
		defaultTopK: topK,
		metrics:     cfg.Metrics,
	}, nil
}

// Retrieve embeds queryText and returns up to k ranked matches in scope.
// Results are returned exactly as the index ordered them. If k is 0 the
// defaultTopK configured at construction time is used.
func (r *Retriever) Retrieve(ctx context.Context, scope Scope, queryText string, k int) ([]SimilarityResult, error) {
	if scope.ProjectID == "" {
		return nil, fmt.Errorf("rag: project id is required")
	}
	if k <= 0 {
		k = r.defaultTopK
	}

	start := time.Now()
	vector, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		r.metrics.ObserveRetrieval("embed_error", time.Since(start), 0)
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	results, err := r.index.Search(ctx, scope, vector, k)
	if err != nil {
		r.metrics.ObserveRetrieval("search_error", time.Since(start), 0)
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	r.metrics.ObserveRetrieval("ok", time.Since(start), len(results))

	logging.FromContext(ctx).Debug("retrieval complete",
		slog.String("project_id", scope.ProjectID),
		slog.String("tenant_id", scope.TenantID),
		slog.Int("k", k),
		slog.Any("files", FileNames(results)),
	)

	return results, nil
}

// AssembleContext concatenates each result's file name and contents into a
// single text block, one section per result, in ranking order. An empty
// input yields an empty string.
func AssembleContext(results []SimilarityResult) string {
	if len(results) == 0 {
		return ""
	}
	sections := make([]string, 0, len(results))
	for _, res := range results {
		sections = append(sections, fmt.Sprintf("File: %s\nContent: %s", res.FileName, res.Contents))
	}
	return strings.Join(sections, "\n")
}

// BuildPrompt renders the fixed prompt template for contextText and question.
func BuildPrompt(contextText, question string) string {
	return fmt.Sprintf(promptTemplate, contextText, question)
}

// Answer renders the prompt for contextText and question and returns the
// generator's output unmodified. Generator failures surface as
// ErrGenerationUnavailable.
func (r *Retriever) Answer(ctx context.Context, contextText, question string) (string, error) {
	if r.generator == nil {
		return "", fmt.Errorf("rag: no answer generator configured: %w", ErrGenerationUnavailable)
	}
	out, err := r.generator.Generate(ctx, BuildPrompt(contextText, question))
	if err != nil {
		if !errors.Is(err, ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
		}
		return "", fmt.Errorf("rag: answer: %w", err)
	}
	return out, nil
}

// Ask runs the full query path: retrieve, assemble context, and answer.
// When the scope holds no documents it returns ErrNoRelevantDocuments
// without calling the generator.
func (r *Retriever) Ask(ctx context.Context, scope Scope, question string, k int) (*Answer, error) {
	results, err := r.Retrieve(ctx, scope, question, k)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoRelevantDocuments
	}

	text, err := r.Answer(ctx, AssembleContext(results), question)
	if err != nil {
		return nil, err
	}

	return &Answer{
		Text:    text,
		Files:   FileNames(results),
		Results: results,
	}, nil
}

// FileNames returns the file name of every result, in order.
func FileNames(results []SimilarityResult) []string {
	names := make([]string, 0, len(results))
	for _, res := range results {
		names = append(names, res.FileName)
	}
	return names
}
