package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragdoc/internal/ingestion"
)

// fetchTimeout bounds a single --url download.
const fetchTimeout = 30 * time.Second

// NewIngestCmd constructs the `ragdoc ingest` command, which stores,
// embeds and indexes text documents under one tenant and project.
func NewIngestCmd() *cobra.Command {
	var tenant string
	var project string
	var files []string
	var dir string
	var glob string
	var urls []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest text documents into a tenant/project scope",
		Long: `Store, embed and index plain-text documents.

Each document is committed independently: a failure rolls back that
document only and the rest of the batch continues. The command exits
non-zero when any document failed.

Sources may be combined:
  --file    a single UTF-8 text file (repeatable)
  --dir     every file under a directory matching --glob (default **/*.txt)
  --url     an http(s) URL serving text/* content (repeatable)

Examples:
  ragdoc ingest --tenant acme --project handbook --dir ./docs
  ragdoc ingest --tenant acme --project handbook --file notes.txt --file faq.txt
  ragdoc ingest --tenant acme --project handbook --url https://example.com/readme.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appConfig
			log := appLogger

			if tenant == "" {
				tenant = cfg.Retrieval.Tenant
			}
			if project == "" {
				project = cfg.Retrieval.Project
			}
			if tenant == "" || project == "" {
				return fmt.Errorf("ingest: --tenant and --project are required")
			}
			if len(files) == 0 && dir == "" && len(urls) == 0 {
				return fmt.Errorf("ingest: at least one of --file, --dir or --url is required")
			}

			// Unreadable sources are reported with the batch, not fatal.
			var sources []ingestion.Source
			var unread []ingestion.Failure
			for _, f := range files {
				src, err := ingestion.LoadFile(f)
				if err != nil {
					unread = append(unread, ingestion.Failure{FileName: f, Stage: ingestion.StageLoad, Err: err})
					continue
				}
				sources = append(sources, src)
			}
			if dir != "" {
				found, failed, err := ingestion.LoadDir(dir, glob)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("directory scanned",
					slog.String("dir", dir),
					slog.String("glob", glob),
					slog.Int("files", len(found)),
					slog.Int("unreadable", len(failed)),
				)
				sources = append(sources, found...)
				unread = append(unread, failed...)
			}
			client := &http.Client{Timeout: fetchTimeout}
			for _, u := range urls {
				src, err := ingestion.LoadURL(ctx, client, u)
				if err != nil {
					unread = append(unread, ingestion.Failure{FileName: u, Stage: ingestion.StageLoad, Err: err})
					continue
				}
				sources = append(sources, src)
			}

			rt, err := buildRuntime(ctx, cfg, prometheus.NewRegistry(), log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = rt.Close() }()

			pipeline, err := ingestion.NewPipeline(rt.docs, rt.index, rt.embedder, rt.metrics)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion",
				slog.String("tenant_id", tenant),
				slog.String("project_id", project),
				slog.Int("sources", len(sources)),
			)

			report := pipeline.IngestFolder(ctx, tenant, project, sources)
			pipeline.RecordLoadFailures(report, unread)

			out := cmd.OutOrStdout()
			for _, d := range report.Ingested {
				fmt.Fprintf(out, "ingested  %s  %s\n", d.DocumentID, d.FileName)
			}
			for _, f := range report.Failed {
				fmt.Fprintf(out, "failed    %s  [%s] %v\n", f.FileName, f.Stage, f.Err)
			}
			fmt.Fprintf(out, "%d ingested, %d failed\n", len(report.Ingested), len(report.Failed))

			log.Info("ingestion complete",
				slog.Int("ingested", len(report.Ingested)),
				slog.Int("failed", len(report.Failed)),
			)

			if err := report.Err(); err != nil {
				return fmt.Errorf("ingest: %d of %d documents failed: %w", len(report.Failed), len(sources)+len(unread), err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant id (default: RAGDOC_TENANT)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Project id (default: RAGDOC_PROJECT)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Text file to ingest (repeatable)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to ingest")
	cmd.Flags().StringVar(&glob, "glob", ingestion.DefaultPattern, "File pattern used with --dir, relative to the directory")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "URL to fetch and ingest (repeatable)")

	return cmd
}
