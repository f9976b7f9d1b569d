package embedder

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Backends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ollama default", Config{}, ""},
		{"hash", Config{Backend: BackendHash}, ""},
		{"openai", Config{Backend: BackendOpenAI, APIKey: "sk"}, ""},
		{"openai no key", Config{Backend: BackendOpenAI}, "OPENAI_API_KEY"},
		{"azure", Config{Backend: BackendAzure, APIKey: "k", Endpoint: "https://x.openai.azure.com"}, ""},
		{"azure no key", Config{Backend: BackendAzure, Endpoint: "https://x"}, "AZURE_OPENAI_API_KEY"},
		{"azure no endpoint", Config{Backend: BackendAzure, APIKey: "k"}, "AZURE_OPENAI_ENDPOINT"},
		{"unknown", Config{Backend: "bedrock"}, "unknown backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := New(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil || e == nil {
					t.Fatalf("want embedder, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("want error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	t.Parallel()

	for backend, want := range map[string]int{
		BackendOllama: 1024,
		BackendOpenAI: 1536,
		BackendAzure:  1536,
		BackendHash:   384,
	} {
		if got := DefaultDimensions(backend); got != want {
			t.Errorf("DefaultDimensions(%s) = %d, want %d", backend, got, want)
		}
	}
}

func TestValidateForRAG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	if err := ValidateForRAG(&Config{Backend: BackendOpenAI}, log); err == nil {
		t.Error("openai without key: want error")
	}
	if err := ValidateForRAG(&Config{Backend: BackendAzure, APIKey: "k"}, log); err == nil {
		t.Error("azure without endpoint: want error")
	}
	if err := ValidateForRAG(&Config{Backend: "nope"}, log); err == nil {
		t.Error("unknown backend: want error")
	}

	buf.Reset()
	if err := ValidateForRAG(&Config{Backend: BackendOllama, Model: "llama3.1:8b"}, log); err != nil {
		t.Fatalf("ollama chat model: unexpected error %v", err)
	}
	if !strings.Contains(buf.String(), "looks like a chat model") {
		t.Errorf("want chat-model warning, got %q", buf.String())
	}

	buf.Reset()
	if err := ValidateForRAG(&Config{Backend: BackendOllama}, log); err != nil {
		t.Fatalf("ollama default: unexpected error %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("want no warning for default model, got %q", buf.String())
	}
}
