package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AzureEmbedder implements rag.Embedder using the Azure OpenAI embeddings
// REST API. It is safe for concurrent use.
type AzureEmbedder struct {
	// endpoint is the resource base (e.g. "https://<resource>.openai.azure.com").
	endpoint string
	// apiKey is the api-key header value.
	apiKey string
	// deployment is the embedding deployment name.
	deployment string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	// apiVersion is the api-version query parameter.
	apiVersion string
	// client is the shared HTTP client. Per-call deadlines come from ctx.
	client *http.Client
}

// AzureConfig holds the settings for constructing an AzureEmbedder.
type AzureConfig struct {
	// Endpoint is the resource URL: "https://<resource>.openai.azure.com".
	Endpoint string
	// APIKey is the authentication key.
	APIKey string
	// Deployment is the embedding deployment name.
	Deployment string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	APIVersion string
}

// NewAzureEmbedder constructs an AzureEmbedder from the given config.
func NewAzureEmbedder(cfg *AzureConfig) *AzureEmbedder {
	return &AzureEmbedder{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		deployment: cfg.Deployment,
		dimensions: cfg.Dimensions,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: 2 * time.Minute},
	}
}

// azureEmbedRequest is the JSON body sent to the embeddings endpoint.
type azureEmbedRequest struct {
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// azureEmbedResponse is the JSON body returned from the embeddings endpoint.
type azureEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *AzureEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(azureEmbedRequest{
		Input:      texts,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("azure embedder: marshal request: %w", err)
	}

	u := e.endpoint + "/openai/deployments/" + url.PathEscape(e.deployment) +
		"/embeddings?api-version=" + url.QueryEscape(e.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("azure embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result azureEmbedResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if decodeErr == nil && result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("azure embedder: %s", msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("azure embedder: decode response: %w", decodeErr)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("azure embedder: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; sort by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("azure embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}
