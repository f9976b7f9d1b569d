package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/54b3r/ragdoc/internal/audit"
)

// envBinding maps one environment variable onto a Config field.
type envBinding struct {
	// key is the environment variable name.
	key string
	// set parses v and stores it in c.
	set func(c *Config, v string) error
	// secret redacts the value in audit output.
	secret bool
	// get renders the field for audit output.
	get func(c *Config) string
}

func strField(f func(*Config) *string) (func(*Config, string) error, func(*Config) string) {
	return func(c *Config, v string) error { *f(c) = v; return nil },
		func(c *Config) string { return *f(c) }
}

func intField(f func(*Config) *int) (func(*Config, string) error, func(*Config) string) {
	return func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*f(c) = n
			return nil
		}, func(c *Config) string {
			return strconv.Itoa(*f(c))
		}
}

func int64Field(f func(*Config) *int64) (func(*Config, string) error, func(*Config) string) {
	return func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			*f(c) = n
			return nil
		}, func(c *Config) string {
			return strconv.FormatInt(*f(c), 10)
		}
}

func float32Field(f func(*Config) *float32) (func(*Config, string) error, func(*Config) string) {
	return func(c *Config, v string) error {
			n, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return err
			}
			*f(c) = float32(n)
			return nil
		}, func(c *Config) string {
			return strconv.FormatFloat(float64(*f(c)), 'g', -1, 32)
		}
}

func float64Field(f func(*Config) *float64) (func(*Config, string) error, func(*Config) string) {
	return func(c *Config, v string) error {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*f(c) = n
			return nil
		}, func(c *Config) string {
			return strconv.FormatFloat(*f(c), 'g', -1, 64)
		}
}

func boolField(f func(*Config) *bool) (func(*Config, string) error, func(*Config) string) {
	return func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*f(c) = b
			return nil
		}, func(c *Config) string {
			return strconv.FormatBool(*f(c))
		}
}

func durationField(f func(*Config) *time.Duration) (func(*Config, string) error, func(*Config) string) {
	return func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*f(c) = d
			return nil
		}, func(c *Config) string {
			return f(c).String()
		}
}

func bind(key string, secret bool, pair func() (func(*Config, string) error, func(*Config) string)) envBinding {
	set, get := pair()
	return envBinding{key: key, set: set, get: get, secret: secret}
}

// envMapping lists every environment variable that overrides a Config field,
// in audit log order.
var envMapping = []envBinding{
	bind("MODEL_PROVIDER", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Model.Provider })
	}),
	bind("MODEL_NAME", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Model.Name })
	}),
	bind("MODEL_BASE_URL", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Model.BaseURL })
	}),
	bind("MODEL_API_KEY", true, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Model.APIKey })
	}),
	bind("AZURE_OPENAI_API_VERSION", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Model.AzureAPIVersion })
	}),
	bind("MODEL_MAX_TOKENS", false, func() (func(*Config, string) error, func(*Config) string) {
		return intField(func(c *Config) *int { return &c.Model.MaxTokens })
	}),
	bind("MODEL_TEMPERATURE", false, func() (func(*Config, string) error, func(*Config) string) {
		return float32Field(func(c *Config) *float32 { return &c.Model.Temperature })
	}),
	bind("MODEL_TIMEOUT", false, func() (func(*Config, string) error, func(*Config) string) {
		return durationField(func(c *Config) *time.Duration { return &c.Model.Timeout })
	}),
	bind("EMBEDDING_PROVIDER", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Embedding.Provider })
	}),
	bind("EMBEDDING_MODEL", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Embedding.Model })
	}),
	bind("EMBEDDING_DIMENSIONS", false, func() (func(*Config, string) error, func(*Config) string) {
		return intField(func(c *Config) *int { return &c.Embedding.Dimensions })
	}),
	bind("EMBEDDING_API_KEY", true, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Embedding.APIKey })
	}),
	bind("EMBEDDING_ENDPOINT", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Embedding.Endpoint })
	}),
	bind("EMBEDDING_API_VERSION", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Embedding.APIVersion })
	}),
	bind("EMBEDDING_TIMEOUT", false, func() (func(*Config, string) error, func(*Config) string) {
		return durationField(func(c *Config) *time.Duration { return &c.Embedding.Timeout })
	}),
	bind("STORAGE_BACKEND", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.Backend })
	}),
	bind("RAGDOC_DB_PATH", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.SQLitePath })
	}),
	bind("DB_CONNECTION_STRING", true, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.ConnectionString })
	}),
	bind("DB_HOST", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.Host })
	}),
	bind("DB_PORT", false, func() (func(*Config, string) error, func(*Config) string) {
		return intField(func(c *Config) *int { return &c.Storage.Port })
	}),
	bind("DB_NAME", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.Name })
	}),
	bind("DB_USER", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.User })
	}),
	bind("DB_PASSWORD", true, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.Password })
	}),
	bind("DB_SSLMODE", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Storage.SSLMode })
	}),
	bind("DB_CONNECT_TIMEOUT", false, func() (func(*Config, string) error, func(*Config) string) {
		return durationField(func(c *Config) *time.Duration { return &c.Storage.ConnectTimeout })
	}),
	bind("INDEX_BACKEND", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Index.Backend })
	}),
	bind("QDRANT_HOST", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Qdrant.Host })
	}),
	bind("QDRANT_PORT", false, func() (func(*Config, string) error, func(*Config) string) {
		return intField(func(c *Config) *int { return &c.Qdrant.Port })
	}),
	bind("QDRANT_COLLECTION", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Qdrant.Collection })
	}),
	bind("QDRANT_API_KEY", true, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Qdrant.APIKey })
	}),
	bind("QDRANT_TLS", false, func() (func(*Config, string) error, func(*Config) string) {
		return boolField(func(c *Config) *bool { return &c.Qdrant.TLS })
	}),
	bind("RAGDOC_TOP_K", false, func() (func(*Config, string) error, func(*Config) string) {
		return intField(func(c *Config) *int { return &c.Retrieval.TopK })
	}),
	bind("RAGDOC_TENANT", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Retrieval.Tenant })
	}),
	bind("RAGDOC_PROJECT", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Retrieval.Project })
	}),
	bind("RAGDOC_HOST", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Server.Host })
	}),
	bind("RAGDOC_PORT", false, func() (func(*Config, string) error, func(*Config) string) {
		return intField(func(c *Config) *int { return &c.Server.Port })
	}),
	bind("RAGDOC_RATE_LIMIT", false, func() (func(*Config, string) error, func(*Config) string) {
		return float64Field(func(c *Config) *float64 { return &c.Server.RateLimit })
	}),
	bind("RAGDOC_RATE_BURST", false, func() (func(*Config, string) error, func(*Config) string) {
		return intField(func(c *Config) *int { return &c.Server.RateBurst })
	}),
	bind("RAGDOC_MAX_BODY_BYTES", false, func() (func(*Config, string) error, func(*Config) string) {
		return int64Field(func(c *Config) *int64 { return &c.Server.MaxBodyBytes })
	}),
	bind("LOG_LEVEL", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Logging.Level })
	}),
	bind("LOG_FORMAT", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Logging.Format })
	}),
	bind("LANGFUSE_PUBLIC_KEY", true, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Tracing.PublicKey })
	}),
	bind("LANGFUSE_SECRET_KEY", true, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Tracing.SecretKey })
	}),
	bind("LANGFUSE_HOST", false, func() (func(*Config, string) error, func(*Config) string) {
		return strField(func(c *Config) *string { return &c.Tracing.Host })
	}),
}

// applyEnv overwrites fields with every non-empty mapped env var. It returns
// the number of variables applied.
func applyEnv(c *Config, lookup lookupFunc) (int, error) {
	applied := 0
	for _, b := range envMapping {
		v, ok := lookup(b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			return applied, fmt.Errorf("config: invalid value for %s: %w", b.key, err)
		}
		applied++
	}
	return applied, nil
}

// inheritCredentials fills provider credentials from the providers' native
// env vars when the ragdoc-specific ones are unset. The embedding backend
// inherits the chat provider's credentials for the same vendor.
func inheritCredentials(c *Config, lookup lookupFunc) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	first := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := get(k); v != "" {
				*dst = v
				return
			}
		}
	}

	switch c.Model.Provider {
	case "ollama":
		first(&c.Model.BaseURL, "OLLAMA_HOST")
	case "gemini":
		first(&c.Model.APIKey, "GOOGLE_API_KEY", "GEMINI_API_KEY")
	case "openai":
		first(&c.Model.APIKey, "OPENAI_API_KEY")
	case "azure":
		first(&c.Model.APIKey, "AZURE_OPENAI_API_KEY")
		first(&c.Model.BaseURL, "AZURE_OPENAI_ENDPOINT")
		first(&c.Model.Name, "AZURE_OPENAI_DEPLOYMENT")
	case "ark":
		first(&c.Model.APIKey, "ARK_API_KEY")
	}

	switch c.Embedding.Provider {
	case "ollama":
		first(&c.Embedding.Endpoint, "OLLAMA_HOST")
	case "openai":
		first(&c.Embedding.APIKey, "OPENAI_API_KEY")
	case "azure":
		first(&c.Embedding.APIKey, "AZURE_OPENAI_API_KEY")
		first(&c.Embedding.Endpoint, "AZURE_OPENAI_ENDPOINT")
		first(&c.Embedding.APIVersion, "AZURE_OPENAI_API_VERSION")
	}
}

// AuditSettings renders every mapped field for the audit log. Secrets are
// flagged so the audit package records only their presence.
func (c *Config) AuditSettings() []audit.Setting {
	out := make([]audit.Setting, 0, len(envMapping))
	for _, b := range envMapping {
		out = append(out, audit.Setting{Key: b.key, Value: b.get(c), Secret: b.secret})
	}
	return out
}
