package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragdoc/internal/ingestion"
	"github.com/54b3r/ragdoc/internal/provider"
	"github.com/54b3r/ragdoc/internal/server"
	"github.com/54b3r/ragdoc/internal/tracing"
)

// startupCheckTimeout bounds the dependency check run before listening.
const startupCheckTimeout = 5 * time.Second

// NewServeCmd constructs the `ragdoc serve` command, which exposes ingestion
// and retrieval over HTTP.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragdoc HTTP server",
		Long: `Start the ragdoc HTTP API.

Endpoints:
  POST /api/documents          ingest one document
  POST /api/documents/batch    ingest many documents, 207 on partial failure
  GET  /api/documents/{id}     fetch a stored document
  POST /api/search             ranked matches for a query
  POST /api/ask                answer a question from the closest documents
  GET  /api/health             liveness
  GET  /api/ready              backend readiness
  GET  /metrics                Prometheus metrics

Examples:
  ragdoc serve
  ragdoc serve --port 9090
  STORAGE_BACKEND=postgres INDEX_BACKEND=qdrant ragdoc serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := appConfig
			log := appLogger

			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			log.Info("serve starting",
				slog.String("model_provider", cfg.Model.Provider),
				slog.String("storage", cfg.Storage.Backend),
				slog.String("index", cfg.Index.Backend),
			)

			// Setup Langfuse tracing, opt-in, no-op if keys are absent.
			tc := tracingConfig(cfg)
			flush := tracing.Install(tc)
			defer flush()
			if tc.Enabled() {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			gen, err := provider.NewGenerator(ctx, providerConfig(cfg))
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", cfg.Model.Provider))

			reg := prometheus.NewRegistry()
			rt, err := buildRuntime(ctx, cfg, reg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = rt.Close() }()

			pipeline, err := ingestion.NewPipeline(rt.docs, rt.index, rt.embedder, rt.metrics)
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}
			ret, err := rt.retriever(cfg, gen)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := buildPingers(cfg, rt)
			checkDependencies(ctx, log, pingers)

			srv, err := server.New(server.Deps{
				Ingester:  pipeline,
				Retriever: ret,
				Documents: rt.docs,
			}, &server.Config{
				Host:            cfg.Server.Host,
				Port:            cfg.Server.Port,
				Logger:          log,
				Pingers:         pingers,
				RateLimit:       cfg.Server.RateLimit,
				RateBurst:       cfg.Server.RateBurst,
				MaxBodyBytes:    cfg.Server.MaxBodyBytes,
				DefaultTopK:     cfg.Retrieval.TopK,
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (default: RAGDOC_HOST)")
	cmd.Flags().IntVar(&port, "port", 8080, "TCP port to listen on (default: RAGDOC_PORT)")

	return cmd
}

// checkDependencies pings every backend once before the listener starts.
// Failures are logged, not fatal: /api/ready keeps reporting them.
func checkDependencies(ctx context.Context, log *slog.Logger, pingers []server.Pinger) {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()
	if err := server.NewMultiPinger(pingers...).Ping(ctx); err != nil {
		log.Warn("startup dependency check failed", slog.Any("error", err))
		return
	}
	log.Info("startup dependency check passed", slog.Int("dependencies", len(pingers)))
}
