// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings, and the Provider wrapper that
// turns any of them into a rag.EmbeddingProvider. Each backend talks to a
// different service: Ollama and Azure OpenAI over plain HTTP, OpenAI through
// the official SDK. The hash backend runs offline.
package embedder

import (
	"fmt"
	"time"

	"github.com/54b3r/ragdoc/internal/rag"
)

// Backend names accepted by Config.Backend.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendAzure  = "azure"
	BackendHash   = "hash"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "mxbai-embed-large"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultHashModel   = "hash-trigram-v1"

	// defaultOllamaDimensions is the output dimension of mxbai-embed-large.
	// Other Ollama models may differ, override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 1024
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultHashDimensions is the bucket count of the hash embedder.
	defaultHashDimensions = 384

	defaultTimeout = 60 * time.Second
)

// Config selects and configures an embedding backend.
type Config struct {
	// Backend is one of ollama, openai, azure, hash.
	Backend string
	// Model is the embedding model name. Empty selects the backend default.
	Model string
	// Endpoint is the backend base URL. For ollama the server root, for
	// openai an optional API base, for azure the resource endpoint.
	Endpoint string
	// APIKey authenticates against openai and azure.
	APIKey string
	// APIVersion is the Azure OpenAI API version query parameter.
	APIVersion string
	// Dimensions is the expected vector length. Zero selects the backend default.
	Dimensions int
	// Timeout bounds a single embedding call. Zero selects 60s.
	Timeout time.Duration
}

// DefaultModel returns the default embedding model for backend.
func DefaultModel(backend string) string {
	switch backend {
	case BackendOllama:
		return defaultOllamaModel
	case BackendHash:
		return defaultHashModel
	default:
		return defaultOpenAIModel
	}
}

// DefaultDimensions returns the correct default embedding vector size for the
// given backend name. Callers that need to pre-configure a vector index
// should use this rather than hardcoding a value.
func DefaultDimensions(backend string) int {
	switch backend {
	case BackendOllama:
		return defaultOllamaDimensions
	case BackendHash:
		return defaultHashDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// withDefaults returns a copy of cfg with empty fields filled in.
func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendOllama
	}
	if c.Model == "" {
		c.Model = DefaultModel(c.Backend)
	}
	if c.Dimensions <= 0 {
		c.Dimensions = DefaultDimensions(c.Backend)
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Backend == BackendOllama && c.Endpoint == "" {
		c.Endpoint = "http://localhost:11434"
	}
	if c.Backend == BackendAzure && c.APIVersion == "" {
		c.APIVersion = "2025-04-01-preview"
	}
	return c
}

// New constructs the batch rag.Embedder selected by cfg.Backend.
func New(cfg *Config) (rag.Embedder, error) {
	c := cfg.withDefaults()

	switch c.Backend {
	case BackendOllama:
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  c.Endpoint,
			Model: c.Model,
		}), nil

	case BackendOpenAI:
		if c.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    c.Endpoint,
			APIKey:     c.APIKey,
			Model:      c.Model,
			Dimensions: c.Dimensions,
		}), nil

	case BackendAzure:
		if c.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if c.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewAzureEmbedder(&AzureConfig{
			Endpoint:   c.Endpoint,
			APIKey:     c.APIKey,
			Deployment: c.Model,
			Dimensions: c.Dimensions,
			APIVersion: c.APIVersion,
		}), nil

	case BackendHash:
		return NewHashEmbedder(c.Dimensions), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure, hash", c.Backend)
	}
}
