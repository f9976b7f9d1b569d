package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/ragdoc/internal/ingestion"
	"github.com/54b3r/ragdoc/internal/logging"
	"github.com/54b3r/ragdoc/internal/rag"
)

// noInformationAnswer is returned by /api/ask when the scope is empty.
const noInformationAnswer = "No relevant information found."

// maxBatchDocuments caps the number of documents in one batch request.
const maxBatchDocuments = 1000

// errorMapping maps a sentinel error to the HTTP status it produces.
type errorMapping struct {
	err    error
	status int
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{ingestion.ErrEmptyDocument, http.StatusBadRequest},
	{rag.ErrDimensionMismatch, http.StatusBadRequest},
	{rag.ErrDocumentNotFound, http.StatusNotFound},
	{rag.ErrGenerationUnavailable, http.StatusBadGateway},
	{rag.ErrEmbeddingUnavailable, http.StatusServiceUnavailable},
	{rag.ErrStorageUnavailable, http.StatusServiceUnavailable},
}

// statusFor returns the HTTP status for a pipeline error.
func statusFor(err error) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// writePipelineError logs err and writes it with the mapped status.
// Internal errors are reported without detail.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, r, status, msg)
}

// decodeBody decodes the JSON request body into v, enforcing the configured
// size cap and rejecting unknown fields.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleIngest handles POST /api/documents.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.ProjectID == "" {
		writeError(w, r, http.StatusBadRequest, "tenantId and projectId are required")
		return
	}
	if req.FileName == "" {
		writeError(w, r, http.StatusBadRequest, "fileName is required")
		return
	}

	id, err := s.ingester.Ingest(r.Context(), req.TenantID, req.ProjectID, req.FileName, req.Contents)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, documentResponse{ID: id})
}

// handleIngestBatch handles POST /api/documents/batch. It returns 200 when
// every document was ingested and 207 Multi-Status when some failed.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.ProjectID == "" {
		writeError(w, r, http.StatusBadRequest, "tenantId and projectId are required")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, r, http.StatusBadRequest, "documents must not be empty")
		return
	}
	if len(req.Documents) > maxBatchDocuments {
		writeError(w, r, http.StatusBadRequest, "too many documents in one batch")
		return
	}

	report := s.ingester.IngestFolder(r.Context(), req.TenantID, req.ProjectID, req.Documents)

	resp := batchResponse{
		Ingested: report.Ingested,
		Failed:   make([]batchFailure, 0, len(report.Failed)),
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, batchFailure{FileName: f.FileName, Stage: f.Stage, Error: f.Err.Error()})
	}

	status := http.StatusOK
	if len(report.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, r, status, resp)
}

// handleGetDocument handles GET /api/documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "id is required")
		return
	}
	doc, err := s.docs.GetDocument(r.Context(), id)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, getDocumentResponse{
		ID:        doc.ID,
		TenantID:  doc.TenantID,
		ProjectID: doc.ProjectID,
		FileName:  doc.FileName,
		Contents:  doc.Contents,
		CreatedAt: doc.CreatedAt,
	})
}

// decodeQuery decodes and validates a search or ask request.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if !s.decodeBody(w, r, &req) {
		return req, false
	}
	if req.ProjectID == "" {
		writeError(w, r, http.StatusBadRequest, "projectId is required")
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, "query is required")
		return req, false
	}
	if req.K < 0 {
		writeError(w, r, http.StatusBadRequest, "k must not be negative")
		return req, false
	}
	if req.K == 0 {
		req.K = s.cfg.DefaultTopK
	}
	return req, true
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	scope := rag.Scope{TenantID: req.TenantID, ProjectID: req.ProjectID}
	results, err := s.retriever.Retrieve(r.Context(), scope, req.Query, req.K)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	if results == nil {
		results = []rag.SimilarityResult{}
	}
	writeJSON(w, r, http.StatusOK, searchResponse{Results: results})
}

// handleAsk handles POST /api/ask. An empty scope is not an error: the
// response carries found=false and the no-information message.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	scope := rag.Scope{TenantID: req.TenantID, ProjectID: req.ProjectID}

	ans, err := s.retriever.Ask(r.Context(), scope, req.Query, req.K)
	switch {
	case errors.Is(err, rag.ErrNoRelevantDocuments):
		s.metrics.observeAsk("no_documents", time.Since(start))
		writeJSON(w, r, http.StatusOK, askResponse{Answer: noInformationAnswer, Files: []string{}, Found: false})
	case err != nil:
		s.metrics.observeAsk("error", time.Since(start))
		writePipelineError(w, r, err)
	default:
		s.metrics.observeAsk("ok", time.Since(start))
		logging.FromContext(r.Context()).Info("answered question",
			slog.String("project_id", req.ProjectID),
			slog.Any("files", ans.Files),
		)
		writeJSON(w, r, http.StatusOK, askResponse{Answer: ans.Text, Files: ans.Files, Found: true})
	}
}
