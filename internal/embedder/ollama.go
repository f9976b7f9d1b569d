package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedResponse marks a backend reply that arrived but cannot be used
// as embeddings: an error body, undecodable JSON, or vectors of the wrong
// count or shape. Provider reports it as rag.ErrEmbeddingUnavailable.
var ErrMalformedResponse = errors.New("embedder: malformed response")

// maxOllamaErrorBody caps how much of a non-JSON error body is quoted.
const maxOllamaErrorBody = 256

// OllamaEmbedder calls the /api/embed endpoint of a local Ollama server.
// Safe for concurrent use.
type OllamaEmbedder struct {
	host   string
	model  string
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL, e.g. http://localhost:11434.
	Host string
	// Model is the embedding model to request, e.g. mxbai-embed-large.
	Model string
}

// NewOllamaEmbedder constructs an OllamaEmbedder. The client timeout only
// guards against a hung server; callers bound each call through ctx.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the /api/embed reply. Ollama reports failures in
// Error, sometimes with a 200 status while a model is still loading.
type ollamaEmbedResponse struct {
	Model      string      `json:"model,omitempty"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: read response: %w", err)
	}

	var result ollamaEmbedResponse
	decodeErr := json.Unmarshal(raw, &result)

	switch {
	case decodeErr == nil && result.Error != "":
		return nil, fmt.Errorf("ollama embedder: %s: HTTP %d: %s: %w", e.model, resp.StatusCode, result.Error, ErrMalformedResponse)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("ollama embedder: %s: HTTP %d: %s", e.model, resp.StatusCode, snippet(raw))
	case decodeErr != nil:
		return nil, fmt.Errorf("ollama embedder: decode response: %w: %w", ErrMalformedResponse, decodeErr)
	}

	if err := checkBatch(result.Embeddings, len(texts)); err != nil {
		return nil, fmt.Errorf("ollama embedder: %s: %w", e.model, err)
	}
	return result.Embeddings, nil
}

// checkBatch verifies that vecs holds want non-empty vectors of one length.
func checkBatch(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("expected %d embeddings, got %d: %w", want, len(vecs), ErrMalformedResponse)
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("embedding %d is empty: %w", i, ErrMalformedResponse)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("embedding %d has %d dimensions, embedding 0 has %d: %w",
				i, len(v), len(vecs[0]), ErrMalformedResponse)
		}
	}
	return nil
}

// snippet returns the start of an error body for inclusion in a message.
func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "empty body"
	}
	if len(s) > maxOllamaErrorBody {
		s = s[:maxOllamaErrorBody] + "..."
	}
	return s
}
