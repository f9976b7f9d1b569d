package embedder

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/54b3r/ragdoc/internal/metrics"
	"github.com/54b3r/ragdoc/internal/rag"
)

// Provider adapts a batch rag.Embedder to rag.EmbeddingProvider. It bounds
// every call with a timeout, validates the returned vector and pins the model
// identity so vectors from different models never reach the same index.
type Provider struct {
	// backend performs the actual embedding call.
	backend rag.Embedder
	// model is the embedding model identifier reported by Model.
	model string
	// dims is the vector length every result must have.
	dims int
	// timeout bounds a single Embed call.
	timeout time.Duration
	// metrics records embedding latency. May be nil.
	metrics *metrics.Pipeline
}

var _ rag.EmbeddingProvider = (*Provider)(nil)

// NewProvider constructs the backend selected by cfg and wraps it.
func NewProvider(cfg *Config, m *metrics.Pipeline) (*Provider, error) {
	backend, err := New(cfg)
	if err != nil {
		return nil, err
	}
	c := cfg.withDefaults()
	return Wrap(backend, c.Model, c.Dimensions, c.Timeout, m), nil
}

// Wrap returns a Provider around an existing backend. A non-positive timeout
// selects the 60s default.
func Wrap(backend rag.Embedder, model string, dims int, timeout time.Duration, m *metrics.Pipeline) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{
		backend: backend,
		model:   model,
		dims:    dims,
		timeout: timeout,
		metrics: m,
	}
}

// Embed returns the vector for text. Backend failures, timeouts and
// malformed output are reported as rag.ErrEmbeddingUnavailable; a vector of
// the wrong length as rag.ErrDimensionMismatch.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	vecs, err := p.backend.Embed(ctx, []string{text})
	p.metrics.ObserveEmbed(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("embedder: %s: %w: %w", p.model, rag.ErrEmbeddingUnavailable, err)
	}

	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder: %s: expected 1 embedding, got %d: %w",
			p.model, len(vecs), rag.ErrEmbeddingUnavailable)
	}
	vec := vecs[0]
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedder: %s: empty embedding: %w", p.model, rag.ErrEmbeddingUnavailable)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("embedder: %s: non-finite value at index %d: %w",
				p.model, i, rag.ErrEmbeddingUnavailable)
		}
	}
	if len(vec) != p.dims {
		return nil, fmt.Errorf("embedder: %s returned %d dimensions, configured %d: %w",
			p.model, len(vec), p.dims, rag.ErrDimensionMismatch)
	}

	return vec, nil
}

// Dimensions returns the configured vector length.
func (p *Provider) Dimensions() int { return p.dims }

// Model returns the embedding model identifier.
func (p *Provider) Model() string { return p.model }
