package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragdoc/internal/config"
	"github.com/54b3r/ragdoc/internal/embedder"
	"github.com/54b3r/ragdoc/internal/metrics"
	"github.com/54b3r/ragdoc/internal/provider"
	"github.com/54b3r/ragdoc/internal/rag"
	"github.com/54b3r/ragdoc/internal/server"
	"github.com/54b3r/ragdoc/internal/store"
	"github.com/54b3r/ragdoc/internal/tracing"
)

// ollamaTagsPath is the cheap Ollama endpoint used for readiness checks.
const ollamaTagsPath = "/api/tags"

// runtime holds the components shared by every data-path command.
type runtime struct {
	// docs is the document store.
	docs rag.DocumentStore
	// index is the vector index. For the sql index backend it is docs.
	index rag.VectorIndex
	// embedder is the embedding provider.
	embedder *embedder.Provider
	// metrics records pipeline activity.
	metrics *metrics.Pipeline
	// closers release resources in reverse order.
	closers []func() error
}

// sqlBackend is a storage backend that also serves as the vector index.
type sqlBackend interface {
	rag.DocumentStore
	rag.VectorIndex
}

// Close releases every resource opened by buildRuntime.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// embedderConfig maps the resolved configuration onto embedder.Config.
func embedderConfig(cfg *config.Config) *embedder.Config {
	return &embedder.Config{
		Backend:    cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		Endpoint:   cfg.Embedding.Endpoint,
		APIKey:     cfg.Embedding.APIKey,
		APIVersion: cfg.Embedding.APIVersion,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	}
}

// providerConfig maps the resolved configuration onto provider.Config.
func providerConfig(cfg *config.Config) *provider.Config {
	return &provider.Config{
		Backend:         provider.Backend(cfg.Model.Provider),
		Model:           cfg.Model.Name,
		BaseURL:         cfg.Model.BaseURL,
		APIKey:          cfg.Model.APIKey,
		AzureAPIVersion: cfg.Model.AzureAPIVersion,
		MaxTokens:       cfg.Model.MaxTokens,
		Temperature:     cfg.Model.Temperature,
		Timeout:         cfg.Model.Timeout,
	}
}

// tracingConfig maps the resolved configuration onto tracing.Config.
func tracingConfig(cfg *config.Config) tracing.Config {
	return tracing.Config{
		Host:      cfg.Tracing.Host,
		PublicKey: cfg.Tracing.PublicKey,
		SecretKey: cfg.Tracing.SecretKey,
	}
}

// buildRuntime opens the embedding provider, document store and vector
// index selected by cfg. The caller must Close the returned runtime.
func buildRuntime(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, log *slog.Logger) (*runtime, error) {
	rt := &runtime{metrics: metrics.NewPipeline(reg)}

	embCfg := embedderConfig(cfg)
	if err := embedder.ValidateForRAG(embCfg, log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewProvider(embCfg, rt.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	rt.embedder = emb
	log.Info("embedder initialised",
		slog.String("provider", cfg.Embedding.Provider),
		slog.String("model", emb.Model()),
		slog.Int("dimensions", emb.Dimensions()),
	)

	opts := store.Options{Dimensions: emb.Dimensions(), Model: emb.Model()}

	var backend sqlBackend
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		pg, err := store.OpenPostgres(ctx, &store.PostgresConfig{
			ConnString:     cfg.Storage.PostgresDSN(),
			ConnectTimeout: cfg.Storage.ConnectTimeout,
		}, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		backend = pg
		log.Info("postgres store ready", slog.String("host", cfg.Storage.Host), slog.String("database", cfg.Storage.Name))
	default:
		path := cfg.Storage.SQLitePath
		if path == "" {
			path, err = store.DefaultDBPath()
			if err != nil {
				return nil, err
			}
		}
		lite, err := store.Open(ctx, path, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		backend = lite
		log.Info("sqlite store ready", slog.String("path", path))
	}
	rt.docs = backend
	rt.index = backend
	rt.closers = append(rt.closers, backend.Close)

	if cfg.Index.Backend == config.IndexQdrant {
		q, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			VectorSize: uint64(emb.Dimensions()), //nolint:gosec // dimensions are validated positive
			Model:      emb.Model(),
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.TLS,
		}, backend)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to connect to qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
		}
		rt.index = q
		rt.closers = append(rt.closers, q.Close)
		log.Info("qdrant index ready",
			slog.String("host", cfg.Qdrant.Host),
			slog.Int("port", cfg.Qdrant.Port),
			slog.String("collection", cfg.Qdrant.Collection),
		)
	}

	return rt, nil
}

// retriever builds a Retriever over rt. gen may be nil for search-only use.
func (rt *runtime) retriever(cfg *config.Config, gen rag.AnswerGenerator) (*rag.Retriever, error) {
	return rag.NewRetriever(&rag.RetrieverConfig{
		Embedder:    rt.embedder,
		Index:       rt.index,
		Generator:   gen,
		DefaultTopK: cfg.Retrieval.TopK,
		Metrics:     rt.metrics,
	})
}

// buildPingers returns the readiness checks for every backend in use.
func buildPingers(cfg *config.Config, rt *runtime) []server.Pinger {
	pingers := []server.Pinger{server.NewDependencyPinger(cfg.Storage.Backend, rt.docs)}
	if cfg.Index.Backend == config.IndexQdrant {
		pingers = append(pingers, server.NewDependencyPinger(config.IndexQdrant, rt.index))
	}

	model := providerConfig(cfg)
	if model.Backend == provider.BackendOllama && cfg.Model.BaseURL != "" {
		pingers = append(pingers, server.NewHTTPPinger("ollama", cfg.Model.BaseURL, ollamaTagsPath))
	}
	if cfg.Embedding.Provider == embedder.BackendOllama && cfg.Embedding.Endpoint != "" &&
		cfg.Embedding.Endpoint != cfg.Model.BaseURL {
		pingers = append(pingers, server.NewHTTPPinger("ollama-embeddings", cfg.Embedding.Endpoint, ollamaTagsPath))
	}
	return pingers
}
