package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragdoc/internal/embedder"
	"github.com/54b3r/ragdoc/internal/ingestion"
	"github.com/54b3r/ragdoc/internal/rag"
	"github.com/54b3r/ragdoc/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeIngester implements ingester with configurable results.
type fakeIngester struct {
	id     string
	err    error
	report *ingestion.Report
	calls  int
}

func (f *fakeIngester) Ingest(context.Context, string, string, string, string) (string, error) {
	f.calls++
	return f.id, f.err
}

func (f *fakeIngester) IngestFolder(context.Context, string, string, []ingestion.Source) *ingestion.Report {
	f.calls++
	return f.report
}

// fakeRetriever implements retriever with configurable results.
type fakeRetriever struct {
	results []rag.SimilarityResult
	answer  *rag.Answer
	err     error
	gotK    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ rag.Scope, _ string, k int) ([]rag.SimilarityResult, error) {
	f.gotK = k
	return f.results, f.err
}

func (f *fakeRetriever) Ask(_ context.Context, _ rag.Scope, _ string, k int) (*rag.Answer, error) {
	f.gotK = k
	return f.answer, f.err
}

// fakeDocs implements documentGetter over a map.
type fakeDocs map[string]*rag.Document

func (f fakeDocs) GetDocument(_ context.Context, id string) (*rag.Document, error) {
	d, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", id, rag.ErrDocumentNotFound)
	}
	return d, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a *Server with no-op fakes and an isolated registry.
func newTestServer() *Server {
	return newFakeServer(&fakeIngester{}, &fakeRetriever{}, fakeDocs{})
}

// newFakeServer builds a *Server through New so routing and middleware are
// exercised, backed by the given fakes.
func newFakeServer(ing ingester, ret retriever, docs documentGetter) *Server {
	reg := prometheus.NewRegistry()
	s, err := New(Deps{Ingester: ing, Retriever: ret, Documents: docs}, &Config{
		Logger:          discardLogger(),
		RateLimit:       1000,
		RateBurst:       1000,
		MaxBodyBytes:    1 << 10,
		DefaultTopK:     2,
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		panic(err)
	}
	return s
}

// do sends method path body through the full handler chain.
func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{Retriever: &fakeRetriever{}, Documents: fakeDocs{}}, nil); err == nil {
		t.Error("expected error for nil ingester")
	}
	if _, err := New(Deps{Ingester: &fakeIngester{}, Documents: fakeDocs{}}, nil); err == nil {
		t.Error("expected error for nil retriever")
	}
	if _, err := New(Deps{Ingester: &fakeIngester{}, Retriever: &fakeRetriever{}}, nil); err == nil {
		t.Error("expected error for nil document store")
	}
}

// ---------------------------------------------------------------------------
// POST /api/documents
// ---------------------------------------------------------------------------

func TestHandleIngest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		ingester   *fakeIngester
		wantStatus int
	}{
		{"created", `{"tenantId":"t","projectId":"p","fileName":"a.txt","contents":"x"}`, &fakeIngester{id: "doc-1"}, http.StatusCreated},
		{"missing project", `{"tenantId":"t","fileName":"a.txt","contents":"x"}`, &fakeIngester{}, http.StatusBadRequest},
		{"missing file name", `{"tenantId":"t","projectId":"p","contents":"x"}`, &fakeIngester{}, http.StatusBadRequest},
		{"malformed json", `{"tenantId":`, &fakeIngester{}, http.StatusBadRequest},
		{"unknown field", `{"tenantId":"t","projectId":"p","fileName":"a","contents":"x","extra":1}`, &fakeIngester{}, http.StatusBadRequest},
		{"body too large", `{"tenantId":"t","projectId":"p","fileName":"a","contents":"` + strings.Repeat("x", 2<<10) + `"}`, &fakeIngester{}, http.StatusRequestEntityTooLarge},
		{"empty contents", `{"tenantId":"t","projectId":"p","fileName":"a","contents":""}`, &fakeIngester{err: &ingestion.StageError{Stage: ingestion.StageValidate, Err: ingestion.ErrEmptyDocument}}, http.StatusBadRequest},
		{"embedding down", `{"tenantId":"t","projectId":"p","fileName":"a","contents":"x"}`, &fakeIngester{err: rag.ErrEmbeddingUnavailable}, http.StatusServiceUnavailable},
		{"storage down", `{"tenantId":"t","projectId":"p","fileName":"a","contents":"x"}`, &fakeIngester{err: rag.ErrStorageUnavailable}, http.StatusServiceUnavailable},
		{"dimension mismatch", `{"tenantId":"t","projectId":"p","fileName":"a","contents":"x"}`, &fakeIngester{err: rag.ErrDimensionMismatch}, http.StatusBadRequest},
		{"unexpected error", `{"tenantId":"t","projectId":"p","fileName":"a","contents":"x"}`, &fakeIngester{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newFakeServer(tt.ingester, &fakeRetriever{}, fakeDocs{})
			w := do(t, s, http.MethodPost, "/api/documents", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d, body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: got %q", ct)
			}
		})
	}
}

func TestHandleIngest_ReturnsID(t *testing.T) {
	t.Parallel()

	s := newFakeServer(&fakeIngester{id: "doc-42"}, &fakeRetriever{}, fakeDocs{})
	w := do(t, s, http.MethodPost, "/api/documents", `{"tenantId":"t","projectId":"p","fileName":"a.txt","contents":"x"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d", w.Code)
	}
	if resp := decode[documentResponse](t, w); resp.ID != "doc-42" {
		t.Errorf("id: got %q", resp.ID)
	}
}

func TestHandleIngest_InternalErrorHidesDetail(t *testing.T) {
	t.Parallel()

	s := newFakeServer(&fakeIngester{err: errors.New("secret dsn leaked")}, &fakeRetriever{}, fakeDocs{})
	w := do(t, s, http.MethodPost, "/api/documents", `{"tenantId":"t","projectId":"p","fileName":"a","contents":"x"}`)
	if strings.Contains(w.Body.String(), "secret") {
		t.Errorf("internal error detail leaked: %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// POST /api/documents/batch
// ---------------------------------------------------------------------------

func TestHandleIngestBatch_AllOK(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{report: &ingestion.Report{
		Ingested: []ingestion.Ingested{{FileName: "a.txt", DocumentID: "1"}},
		Failed:   []ingestion.Failure{},
	}}
	s := newFakeServer(ing, &fakeRetriever{}, fakeDocs{})
	w := do(t, s, http.MethodPost, "/api/documents/batch", `{"tenantId":"t","projectId":"p","documents":[{"fileName":"a.txt","contents":"x"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	resp := decode[batchResponse](t, w)
	if len(resp.Ingested) != 1 || len(resp.Failed) != 0 {
		t.Errorf("got %+v", resp)
	}
}

func TestHandleIngestBatch_PartialFailure(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{report: &ingestion.Report{
		Ingested: []ingestion.Ingested{{FileName: "a.txt", DocumentID: "1"}},
		Failed:   []ingestion.Failure{{FileName: "b.txt", Stage: ingestion.StageEmbed, Err: rag.ErrEmbeddingUnavailable}},
	}}
	s := newFakeServer(ing, &fakeRetriever{}, fakeDocs{})
	w := do(t, s, http.MethodPost, "/api/documents/batch",
		`{"tenantId":"t","projectId":"p","documents":[{"fileName":"a.txt","contents":"x"},{"fileName":"b.txt","contents":"y"}]}`)
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("status: got %d, want 207", w.Code)
	}
	resp := decode[batchResponse](t, w)
	if len(resp.Failed) != 1 || resp.Failed[0].Stage != "embed" || resp.Failed[0].Error == "" {
		t.Errorf("failed: got %+v", resp.Failed)
	}
}

func TestHandleIngestBatch_Validation(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s := newFakeServer(ing, &fakeRetriever{}, fakeDocs{})
	for _, body := range []string{
		`{"tenantId":"t","projectId":"p","documents":[]}`,
		`{"projectId":"p","documents":[{"fileName":"a","contents":"x"}]}`,
	} {
		if w := do(t, s, http.MethodPost, "/api/documents/batch", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: got %d, want 400", body, w.Code)
		}
	}
	if ing.calls != 0 {
		t.Errorf("ingester must not be called on invalid input, got %d calls", ing.calls)
	}
}

// ---------------------------------------------------------------------------
// GET /api/documents/{id}
// ---------------------------------------------------------------------------

func TestHandleGetDocument(t *testing.T) {
	t.Parallel()

	docs := fakeDocs{"doc-1": {ID: "doc-1", TenantID: "t", ProjectID: "p", FileName: "a.txt", Contents: "alpha"}}
	s := newFakeServer(&fakeIngester{}, &fakeRetriever{}, docs)

	w := do(t, s, http.MethodGet, "/api/documents/doc-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	resp := decode[getDocumentResponse](t, w)
	if resp.FileName != "a.txt" || resp.Contents != "alpha" {
		t.Errorf("got %+v", resp)
	}

	if w := do(t, s, http.MethodGet, "/api/documents/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/search
// ---------------------------------------------------------------------------

func TestHandleSearch(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{results: []rag.SimilarityResult{{DocumentID: "1", FileName: "a.txt", Distance: 0.1}}}
	s := newFakeServer(&fakeIngester{}, ret, fakeDocs{})

	w := do(t, s, http.MethodPost, "/api/search", `{"projectId":"p","query":"alpha"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	resp := decode[searchResponse](t, w)
	if len(resp.Results) != 1 || resp.Results[0].FileName != "a.txt" {
		t.Errorf("results: got %+v", resp.Results)
	}
	if ret.gotK != 2 {
		t.Errorf("default k: got %d, want configured 2", ret.gotK)
	}
}

func TestHandleSearch_EmptyScopeReturnsEmptyArray(t *testing.T) {
	t.Parallel()

	s := newFakeServer(&fakeIngester{}, &fakeRetriever{}, fakeDocs{})
	w := do(t, s, http.MethodPost, "/api/search", `{"projectId":"p","query":"alpha","k":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("want empty JSON array, got %s", w.Body.String())
	}
}

func TestHandleSearch_Validation(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	for _, body := range []string{
		`{"query":"alpha"}`,
		`{"projectId":"p","query":"   "}`,
		`{"projectId":"p","query":"alpha","k":-1}`,
	} {
		if w := do(t, s, http.MethodPost, "/api/search", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: got %d, want 400", body, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// POST /api/ask
// ---------------------------------------------------------------------------

func TestHandleAsk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		retriever  *fakeRetriever
		wantStatus int
		wantFound  bool
		wantAnswer string
	}{
		{
			name:       "answered",
			retriever:  &fakeRetriever{answer: &rag.Answer{Text: "Fifteen hours.", Files: []string{"cats.txt"}}},
			wantStatus: http.StatusOK,
			wantFound:  true,
			wantAnswer: "Fifteen hours.",
		},
		{
			name:       "no documents",
			retriever:  &fakeRetriever{err: rag.ErrNoRelevantDocuments},
			wantStatus: http.StatusOK,
			wantFound:  false,
			wantAnswer: noInformationAnswer,
		},
		{
			name:       "generator down",
			retriever:  &fakeRetriever{err: fmt.Errorf("rag: answer: %w", rag.ErrGenerationUnavailable)},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "embedding down",
			retriever:  &fakeRetriever{err: rag.ErrEmbeddingUnavailable},
			wantStatus: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newFakeServer(&fakeIngester{}, tt.retriever, fakeDocs{})
			w := do(t, s, http.MethodPost, "/api/ask", `{"projectId":"p","query":"How long do cats sleep?"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d, body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[askResponse](t, w)
			if resp.Found != tt.wantFound || resp.Answer != tt.wantAnswer {
				t.Errorf("got %+v", resp)
			}
			if resp.Files == nil {
				t.Error("files must be a JSON array, not null")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRouting_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	if w := do(t, s, http.MethodGet, "/api/search", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/search: got %d, want 405", w.Code)
	}
}

func TestRouting_HealthThroughMux(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	if w := do(t, s, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("GET /api/health: got %d, want 200", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End to end: real SQLite store, hash embedder, real pipelines
// ---------------------------------------------------------------------------

// stubGenerator echoes a fixed answer.
type stubGenerator struct{ answer string }

func (g stubGenerator) Generate(context.Context, string) (string, error) { return g.answer, nil }

func TestEndToEnd_IngestThenAsk(t *testing.T) {
	t.Parallel()

	const dims = 64
	ctx := context.Background()
	model := embedder.DefaultModel(embedder.BackendHash)

	st, err := store.Open(ctx, ":memory:", store.Options{Dimensions: dims, Model: model})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	emb := embedder.Wrap(embedder.NewHashEmbedder(dims), model, dims, 0, nil)
	pipe, err := ingestion.NewPipeline(st, st, emb, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	ret, err := rag.NewRetriever(&rag.RetrieverConfig{Embedder: emb, Index: st, Generator: stubGenerator{answer: "About fifteen hours."}})
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	s := newFakeServer(pipe, ret, st)

	batch, _ := json.Marshal(batchRequest{
		TenantID:  "acme",
		ProjectID: "kb",
		Documents: []ingestion.Source{
			{FileName: "cats.txt", Contents: "Cats sleep around fifteen hours each day."},
			{FileName: "rockets.txt", Contents: "Rockets burn fuel to reach orbit."},
		},
	})
	if w := do(t, s, http.MethodPost, "/api/documents/batch", string(bytes.TrimSpace(batch))); w.Code != http.StatusOK {
		t.Fatalf("batch: got %d, body: %s", w.Code, w.Body.String())
	}

	w := do(t, s, http.MethodPost, "/api/ask", `{"tenantId":"acme","projectId":"kb","query":"How long do cats sleep?","k":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ask: got %d, body: %s", w.Code, w.Body.String())
	}
	resp := decode[askResponse](t, w)
	if !resp.Found || len(resp.Files) != 1 || resp.Files[0] != "cats.txt" {
		t.Errorf("ask: got %+v", resp)
	}

	w = do(t, s, http.MethodPost, "/api/ask", `{"tenantId":"other","projectId":"kb","query":"How long do cats sleep?"}`)
	if resp := decode[askResponse](t, w); resp.Found {
		t.Errorf("other tenant must not see acme documents: %+v", resp)
	}
}
