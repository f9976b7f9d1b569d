// Package provider constructs the answer generator. A Config selects one
// Eino chat model backend at startup; Generator adapts it to
// rag.AnswerGenerator so the retrieval pipeline never branches on which
// backend is in use. Supported backends: Ollama (local), Gemini, OpenAI,
// Azure OpenAI and Ark (hosted).
package provider

import (
	"fmt"
	"time"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcano Engine Ark runtime.
	BackendArk Backend = "ark"
)

// Default model per backend.
const (
	defaultOllamaModel = "llama3.1:8b"
	defaultGeminiModel = "gemini-2.0-flash"
	defaultOpenAIModel = "gpt-4o-mini"

	defaultOllamaURL       = "http://localhost:11434"
	defaultAzureAPIVersion = "2024-10-21"
	defaultTimeout         = 120 * time.Second
)

// Config holds all provider-level configuration resolved by the config
// package.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or deployment ID to use (e.g. "llama3.1:8b").
	// For Azure this is the deployment name.
	Model string

	// BaseURL overrides the default API endpoint (required for Azure).
	BaseURL string

	// APIKey is the authentication credential for hosted providers.
	APIKey string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	AzureAPIVersion string

	// MaxTokens caps the number of tokens the model may generate per response.
	// Zero leaves the backend default.
	MaxTokens int

	// Temperature controls response randomness (0.0-1.0).
	Temperature float32

	// Timeout bounds a single Generate call. Zero selects 120s.
	Timeout time.Duration
}

// DefaultModel returns the default model for backend, or "" when the backend
// has no sensible default (azure deployments and ark endpoints are
// account-specific).
func DefaultModel(b Backend) string {
	switch b {
	case BackendOllama:
		return defaultOllamaModel
	case BackendGemini:
		return defaultGeminiModel
	case BackendOpenAI:
		return defaultOpenAIModel
	default:
		return ""
	}
}

// withDefaults returns a copy of c with empty fields filled in.
func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendOllama
	}
	if c.Model == "" {
		c.Model = DefaultModel(c.Backend)
	}
	if c.Backend == BackendOllama && c.BaseURL == "" {
		c.BaseURL = defaultOllamaURL
	}
	if c.Backend == BackendAzure && c.AzureAPIVersion == "" {
		c.AzureAPIVersion = defaultAzureAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// Validate reports missing credentials or settings for the selected backend.
// It is called by New so misconfiguration fails at startup rather than on the
// first question.
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("provider: temperature must be within [0, 2], got %g", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("provider: max tokens must not be negative, got %d", c.MaxTokens)
	}

	switch c.Backend {
	case BackendOllama:
		if c.Model == "" {
			return fmt.Errorf("provider: MODEL_NAME is required for ollama backend")
		}
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY or MODEL_API_KEY is required for gemini backend")
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY or MODEL_API_KEY is required for openai backend")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY or MODEL_API_KEY is required for azure backend")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT or MODEL_BASE_URL is required for azure backend")
		}
		if c.Model == "" {
			return fmt.Errorf("provider: MODEL_NAME (Azure deployment) is required for azure backend")
		}
	case BackendArk:
		if c.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY or MODEL_API_KEY is required for ark backend")
		}
		if c.Model == "" {
			return fmt.Errorf("provider: MODEL_NAME (Ark endpoint id) is required for ark backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, gemini, openai, azure, ark", c.Backend)
	}
	return nil
}
