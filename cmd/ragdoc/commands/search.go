package commands

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragdoc/internal/rag"
)

// NewSearchCmd constructs the `ragdoc search` command, which prints the
// closest documents to a query without calling the language model.
func NewSearchCmd() *cobra.Command {
	var tenant string
	var project string
	var k int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Print the documents closest to a query",
		Long: `Embed the query and print the k closest documents in the scope,
ordered by cosine distance (lower is closer).

Examples:
  ragdoc search --project handbook "vacation policy"
  ragdoc search --tenant acme --project handbook -k 5 "expense limits"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appConfig

			scope, err := resolveScope(cfg.Retrieval.Tenant, cfg.Retrieval.Project, tenant, project)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			rt, err := buildRuntime(ctx, cfg, prometheus.NewRegistry(), appLogger)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = rt.Close() }()

			ret, err := rt.retriever(cfg, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			results, err := ret.Retrieve(ctx, scope, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, noInformationMessage)
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %s  (distance %.4f, id %s)\n", i+1, r.FileName, r.Distance, r.DocumentID)
			}
			return nil
		},
	}

	addScopeFlags(cmd, &tenant, &project, &k)

	return cmd
}

// noInformationMessage is printed when the scope holds no documents.
const noInformationMessage = "No relevant information found."

// addScopeFlags registers the query scope flags shared by search and ask.
func addScopeFlags(cmd *cobra.Command, tenant, project *string, k *int) {
	cmd.Flags().StringVarP(tenant, "tenant", "t", "", "Tenant id; empty searches every tenant of the project (default: RAGDOC_TENANT)")
	cmd.Flags().StringVarP(project, "project", "p", "", "Project id (default: RAGDOC_PROJECT)")
	cmd.Flags().IntVarP(k, "top-k", "k", 0, "Number of documents to retrieve (default: RAGDOC_TOP_K)")
}

// resolveScope applies the configured defaults to the flag values.
func resolveScope(defTenant, defProject, tenant, project string) (rag.Scope, error) {
	if tenant == "" {
		tenant = defTenant
	}
	if project == "" {
		project = defProject
	}
	if project == "" {
		return rag.Scope{}, fmt.Errorf("--project is required")
	}
	return rag.Scope{TenantID: tenant, ProjectID: project}, nil
}
