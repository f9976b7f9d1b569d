// Package config resolves the ragdoc configuration once at process start.
// Values are layered with increasing precedence:
//
//	defaults -> .env files -> YAML file -> environment variables
//
// .env files never override variables already present in the process
// environment, so a real environment variable always wins.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. RAGDOC_CONFIG environment variable
//  3. ~/.ragdoc/config.yaml
//  4. ./ragdoc.yaml
//
// If no file is found the system runs from defaults and env vars alone.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Index backends. IndexSQL keeps vectors in the storage backend.
const (
	IndexSQL    = "sql"
	IndexQdrant = "qdrant"
)

// Config is the top-level configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the answer generator.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Storage configures the document store.
	Storage StorageConfig `yaml:"storage"`

	// Index selects where embeddings are kept.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the Qdrant vector index connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Retrieval holds query defaults.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds answer generator settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, gemini, openai, azure, ark.
	Provider string `yaml:"provider"`
	// Name is the model name, or the deployment / endpoint id for azure and ark.
	Name string `yaml:"name"`
	// BaseURL overrides the backend endpoint (Ollama host, Azure endpoint).
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates against hosted backends. Prefer env vars.
	APIKey string `yaml:"api_key"`
	// AzureAPIVersion is the Azure OpenAI API version.
	AzureAPIVersion string `yaml:"azure_api_version"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness.
	Temperature float32 `yaml:"temperature"`
	// Timeout bounds a single answer generation.
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: ollama, openai, azure, hash.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIVersion is the Azure OpenAI API version for embeddings.
	APIVersion string `yaml:"api_version"`
	// Timeout bounds a single embedding call.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds document store settings.
type StorageConfig struct {
	// Backend is sqlite or postgres.
	Backend string `yaml:"backend"`
	// SQLitePath is the SQLite database file. Empty selects ~/.ragdoc/ragdoc.db.
	SQLitePath string `yaml:"sqlite_path"`
	// ConnectionString is a complete Postgres DSN. When set, the discrete
	// fields below are ignored.
	ConnectionString string `yaml:"connection_string"`
	// Host is the Postgres host.
	Host string `yaml:"host"`
	// Port is the Postgres port.
	Port int `yaml:"port"`
	// Name is the Postgres database name.
	Name string `yaml:"name"`
	// User is the Postgres user.
	User string `yaml:"user"`
	// Password is the Postgres password. Prefer env var DB_PASSWORD.
	Password string `yaml:"password"`
	// SSLMode is the Postgres sslmode parameter.
	SSLMode string `yaml:"sslmode"`
	// ConnectTimeout bounds the startup connection retry loop.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Backend is sql (same database as the documents) or qdrant.
	Backend string `yaml:"backend"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// RetrievalConfig holds query defaults.
type RetrievalConfig struct {
	// TopK is the number of documents retrieved per question.
	TopK int `yaml:"top_k"`
	// Tenant is the default tenant for CLI commands.
	Tenant string `yaml:"tenant"`
	// Project is the default project for CLI commands.
	Project string `yaml:"project"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// RateLimit is the sustained per-IP request rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst size.
	RateBurst int `yaml:"rate_burst"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "ollama",
			Temperature: 0.2,
			Timeout:     120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Timeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Backend:        StorageSQLite,
			Port:           5432,
			SSLMode:        "disable",
			ConnectTimeout: 30 * time.Second,
		},
		Index: IndexConfig{Backend: IndexSQL},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "ragdoc",
		},
		Retrieval: RetrievalConfig{TopK: 1},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			RateLimit:    10,
			RateBurst:    20,
			MaxBodyBytes: 8 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// Load resolves the configuration from .env files, the YAML file and the
// environment, then validates it. It returns the YAML path that was loaded,
// or "" if none was found.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	if err := loadDotEnv(os.Getenv("RAGDOC_ENV_FILE"), log); err != nil {
		return nil, "", err
	}
	return load(explicitPath, os.LookupEnv, log)
}

// load is Load without the .env side effect, reading env through lookup.
func load(explicitPath string, lookup lookupFunc, log *slog.Logger) (*Config, string, error) {
	cfg := Defaults()

	path := resolveConfigPath(explicitPath, lookup)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	} else {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	}

	applied, err := applyEnv(cfg, lookup)
	if err != nil {
		return nil, "", err
	}
	inheritCredentials(cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	log.Debug("config: resolved", slog.Int("env_keys_applied", applied))
	return cfg, path, nil
}

// loadDotEnv loads variables from .env files into the process environment
// without overriding existing variables. An explicit file must exist; the
// default files (.env, .env.chat, .env.embed) are loaded only if present.
func loadDotEnv(explicit string, log *slog.Logger) error {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return fmt.Errorf("config: failed to load env file %s: %w", explicit, err)
		}
		log.Debug("config: loaded env file", slog.String("path", explicit))
		return nil
	}

	var found []string
	for _, f := range []string{".env", ".env.chat", ".env.embed"} {
		if _, err := os.Stat(f); err == nil {
			found = append(found, f)
		}
	}
	if len(found) == 0 {
		return nil
	}
	if err := godotenv.Load(found...); err != nil {
		return fmt.Errorf("config: failed to load env files %v: %w", found, err)
	}
	log.Debug("config: loaded env files", slog.Any("paths", found))
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string, lookup lookupFunc) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath, ok := lookup("RAGDOC_CONFIG"); ok && envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragdoc", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragdoc.yaml"); err == nil {
		return "ragdoc.yaml"
	}

	return ""
}

// PostgresDSN returns the Postgres connection string, built from the
// discrete fields when ConnectionString is empty.
func (s StorageConfig) PostgresDSN() string {
	if s.ConnectionString != "" {
		return s.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.User, s.Password),
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Name,
	}
	if s.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {s.SSLMode}}.Encode()
	}
	return u.String()
}

// Validate reports misconfiguration that must stop the process at startup.
// Backend-specific credential checks for the model and embedding providers
// live in their own packages.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageSQLite:
	case StoragePostgres:
		if c.Storage.ConnectionString == "" {
			if c.Storage.Host == "" || c.Storage.Name == "" {
				return fmt.Errorf("config: postgres storage requires DB_CONNECTION_STRING or DB_HOST and DB_NAME")
			}
			if c.Storage.User == "" || c.Storage.Password == "" {
				return fmt.Errorf("config: postgres storage requires DB_USER and DB_PASSWORD")
			}
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q, valid values: sqlite, postgres", c.Storage.Backend)
	}

	switch c.Index.Backend {
	case IndexSQL:
	case IndexQdrant:
		if c.Qdrant.Host == "" || c.Qdrant.Collection == "" {
			return fmt.Errorf("config: qdrant index requires QDRANT_HOST and QDRANT_COLLECTION")
		}
	default:
		return fmt.Errorf("config: unknown index backend %q, valid values: sql, qdrant", c.Index.Backend)
	}

	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("config: embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	return nil
}
