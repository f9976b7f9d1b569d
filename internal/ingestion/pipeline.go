// Package ingestion implements the document ingestion pipeline.
// Each document is stored, embedded and indexed in that order. A failure
// after the document was stored is compensated by deleting it, so a
// document without an embedding never stays behind.
// This pipeline backs the `ragdoc ingest` command and the documents API.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/ragdoc/internal/logging"
	"github.com/54b3r/ragdoc/internal/metrics"
	"github.com/54b3r/ragdoc/internal/rag"
)

// Pipeline stages reported in Failure.Stage and the failures metric.
const (
	StageLoad     = "load"
	StageValidate = "validate"
	StageStore    = "store"
	StageEmbed    = "embed"
	StageIndex    = "index"
	StageCleanup  = "cleanup"
)

// ErrEmptyDocument is returned when a document has no non-whitespace contents.
var ErrEmptyDocument = errors.New("document contents are empty")

// Source is one document to ingest.
type Source struct {
	// FileName is the base name recorded with the document.
	FileName string `json:"fileName"`
	// Contents is the full document text.
	Contents string `json:"contents"`
}

// Ingested reports one successfully ingested document.
type Ingested struct {
	// FileName is the source file name.
	FileName string `json:"fileName"`
	// DocumentID is the id assigned by the store.
	DocumentID string `json:"documentId"`
}

// Failure reports one document that could not be ingested.
type Failure struct {
	// FileName is the source file name.
	FileName string `json:"fileName"`
	// Stage is the pipeline stage that failed.
	Stage string `json:"stage"`
	// Err is the underlying error.
	Err error `json:"-"`
}

// Report is the outcome of a batch ingestion.
type Report struct {
	// Ingested lists the documents that were stored and indexed.
	Ingested []Ingested `json:"ingested"`
	// Failed lists the documents that were rejected or rolled back.
	Failed []Failure `json:"failed"`
}

// Err joins every failure into one error, or returns nil if all succeeded.
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %s: %w", f.FileName, f.Stage, f.Err))
	}
	return errors.Join(errs...)
}

// StageError is returned by Ingest and records which stage failed.
type StageError struct {
	// Stage is the pipeline stage that failed.
	Stage string
	// OrphanID is the id of a stored document that compensation could not
	// remove. Empty unless Stage is StageCleanup.
	OrphanID string
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *StageError) Error() string {
	if e.OrphanID != "" {
		return fmt.Sprintf("ingestion: %s failed, orphaned document %s: %v", e.Stage, e.OrphanID, e.Err)
	}
	return fmt.Sprintf("ingestion: %s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *StageError) Unwrap() error { return e.Err }

// Pipeline orchestrates the store → embed → index flow for documents.
type Pipeline struct {
	// docs persists the raw documents.
	docs rag.DocumentStore

	// index persists the embeddings.
	index rag.VectorIndex

	// embedder converts document contents into vectors.
	embedder rag.EmbeddingProvider

	// metrics records outcomes per document. May be nil.
	metrics *metrics.Pipeline
}

// NewPipeline constructs a Pipeline from the provided dependencies.
func NewPipeline(docs rag.DocumentStore, index rag.VectorIndex, embedder rag.EmbeddingProvider, m *metrics.Pipeline) (*Pipeline, error) {
	if docs == nil {
		return nil, fmt.Errorf("ingestion: document store must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: vector index must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if embedder.Dimensions() != index.Dimensions() {
		return nil, fmt.Errorf("ingestion: embedder produces %d dimensions, index expects %d: %w",
			embedder.Dimensions(), index.Dimensions(), rag.ErrDimensionMismatch)
	}
	return &Pipeline{docs: docs, index: index, embedder: embedder, metrics: m}, nil
}

// Ingest stores one document, embeds its contents and indexes the vector.
// It returns the new document id. On failure the returned error is a
// *StageError wrapping the cause.
func (p *Pipeline) Ingest(ctx context.Context, tenantID, projectID, fileName, contents string) (string, error) {
	log := logging.FromContext(ctx).With(
		slog.String("tenant", tenantID),
		slog.String("project", projectID),
		slog.String("file", fileName),
	)
	start := time.Now()

	if strings.TrimSpace(contents) == "" {
		return "", p.fail(log, &StageError{Stage: StageValidate, Err: ErrEmptyDocument})
	}

	id, err := p.docs.PutDocument(ctx, tenantID, projectID, fileName, contents)
	if err != nil {
		return "", p.fail(log, &StageError{Stage: StageStore, Err: err})
	}

	vec, err := p.embedder.Embed(ctx, contents)
	if err != nil {
		return "", p.fail(log, p.compensate(ctx, log, id, StageEmbed, err))
	}

	if err := p.index.PutEmbedding(ctx, tenantID, id, vec); err != nil {
		return "", p.fail(log, p.compensate(ctx, log, id, StageIndex, err))
	}

	p.metrics.ObserveIngest("ok")
	log.Info("ingestion: document ingested",
		slog.String("document_id", id),
		slog.Int("bytes", len(contents)),
		slog.Duration("duration", time.Since(start)),
	)
	return id, nil
}

// IngestFolder ingests sources sequentially. A failing document is
// recorded in the report and does not stop the remaining ones.
func (p *Pipeline) IngestFolder(ctx context.Context, tenantID, projectID string, sources []Source) *Report {
	report := &Report{
		Ingested: []Ingested{},
		Failed:   []Failure{},
	}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, Failure{FileName: src.FileName, Stage: StageValidate, Err: err})
			continue
		}
		id, err := p.Ingest(ctx, tenantID, projectID, src.FileName, src.Contents)
		if err != nil {
			stage := StageStore
			var se *StageError
			if errors.As(err, &se) {
				stage = se.Stage
			}
			report.Failed = append(report.Failed, Failure{FileName: src.FileName, Stage: stage, Err: err})
			continue
		}
		report.Ingested = append(report.Ingested, Ingested{FileName: src.FileName, DocumentID: id})
	}

	logging.FromContext(ctx).Info("ingestion: batch complete",
		slog.String("tenant", tenantID),
		slog.String("project", projectID),
		slog.Int("ingested", len(report.Ingested)),
		slog.Int("failed", len(report.Failed)),
	)
	return report
}

// RecordLoadFailures appends documents that could not be read to report
// and counts each one as a failed ingestion at StageLoad.
func (p *Pipeline) RecordLoadFailures(report *Report, failed []Failure) {
	for _, f := range failed {
		p.metrics.ObserveIngest("error")
		p.metrics.ObserveIngestFailure(StageLoad)
		f.Stage = StageLoad
		report.Failed = append(report.Failed, f)
	}
}

// compensate deletes the stored document after a failure at stage. If the
// delete itself fails the error reports the orphaned id.
func (p *Pipeline) compensate(ctx context.Context, log *slog.Logger, id, stage string, cause error) *StageError {
	// The caller's context may be what failed; cleanup gets its own budget.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.docs.DeleteDocument(cleanupCtx, id); err != nil {
		log.Error("ingestion: compensation failed, document orphaned",
			slog.String("document_id", id),
			slog.String("failed_stage", stage),
			slog.String("error", err.Error()),
		)
		return &StageError{Stage: StageCleanup, OrphanID: id, Err: errors.Join(cause, err)}
	}
	log.Debug("ingestion: removed document after failure",
		slog.String("document_id", id),
		slog.String("failed_stage", stage),
	)
	return &StageError{Stage: stage, Err: cause}
}

// fail records a failed document and returns err.
func (p *Pipeline) fail(log *slog.Logger, err *StageError) error {
	p.metrics.ObserveIngest("error")
	p.metrics.ObserveIngestFailure(err.Stage)
	log.Warn("ingestion: document failed",
		slog.String("stage", err.Stage),
		slog.String("error", err.Err.Error()),
	)
	return err
}
