package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragdoc/internal/provider"
	"github.com/54b3r/ragdoc/internal/rag"
	"github.com/54b3r/ragdoc/internal/tracing"
)

// NewAskCmd constructs the `ragdoc ask` command, which answers a question
// using the closest documents in the scope as context.
func NewAskCmd() *cobra.Command {
	var tenant string
	var project string
	var k int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the documents in a scope",
		Long: `Retrieve the k closest documents in the scope, pass them to the
configured language model as context, and print its answer followed by the
file names used.

An empty scope is not an error: the command prints
"No relevant information found." and exits zero.

Examples:
  ragdoc ask --project handbook "how many vacation days do I get?"
  MODEL_PROVIDER=openai ragdoc ask --tenant acme --project handbook -k 3 "who approves expenses?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appConfig
			log := appLogger

			scope, err := resolveScope(cfg.Retrieval.Tenant, cfg.Retrieval.Project, tenant, project)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			// Langfuse tracing is opt-in, no-op if keys are absent.
			flush := tracing.Install(tracingConfig(cfg))
			defer flush()

			gen, err := provider.NewGenerator(ctx, providerConfig(cfg))
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			rt, err := buildRuntime(ctx, cfg, prometheus.NewRegistry(), log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = rt.Close() }()

			ret, err := rt.retriever(cfg, gen)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			ans, err := ret.Ask(ctx, scope, strings.Join(args, " "), k)
			if errors.Is(err, rag.ErrNoRelevantDocuments) {
				fmt.Fprintln(out, noInformationMessage)
				return nil
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			log.Info("answered question", slog.String("project_id", scope.ProjectID), slog.Any("files", ans.Files))

			fmt.Fprintln(out, ans.Text)
			fmt.Fprintf(out, "\nSources: %s\n", strings.Join(ans.Files, ", "))
			return nil
		},
	}

	addScopeFlags(cmd, &tenant, &project, &k)

	return cmd
}
