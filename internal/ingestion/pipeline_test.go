package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragdoc/internal/embedder"
	"github.com/54b3r/ragdoc/internal/metrics"
	"github.com/54b3r/ragdoc/internal/rag"
	"github.com/54b3r/ragdoc/internal/store"
)

const testDims = 4

// memStore is an in-memory rag.DocumentStore and rag.VectorIndex.
type memStore struct {
	mu         sync.Mutex
	next       int
	docs       map[string]rag.Document
	vectors    map[string][]float32
	putErr     error
	indexErr   error
	deleteErr  error
	deleteCall int
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]rag.Document{}, vectors: map[string][]float32{}}
}

func (m *memStore) PutDocument(_ context.Context, tenantID, projectID, fileName, contents string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.next++
	id := fmt.Sprintf("doc-%d", m.next)
	m.docs[id] = rag.Document{ID: id, TenantID: tenantID, ProjectID: projectID, FileName: fileName, Contents: contents}
	return id, nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (*rag.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, rag.ErrDocumentNotFound
	}
	return &d, nil
}

func (m *memStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCall++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.docs, id)
	delete(m.vectors, id)
	return nil
}

func (m *memStore) PutEmbedding(_ context.Context, _, documentID string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexErr != nil {
		return m.indexErr
	}
	m.vectors[documentID] = vector
	return nil
}

func (m *memStore) Search(context.Context, rag.Scope, []float32, int) ([]rag.SimilarityResult, error) {
	return []rag.SimilarityResult{}, nil
}

func (m *memStore) Dimensions() int { return testDims }

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) count() (docs, vectors int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs), len(m.vectors)
}

// fakeEmbedder returns a fixed vector and fails for texts containing failOn.
type fakeEmbedder struct {
	failOn string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, fmt.Errorf("backend down: %w", rag.ErrEmbeddingUnavailable)
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return testDims }
func (f *fakeEmbedder) Model() string   { return "fake" }

func newTestPipeline(t *testing.T, s *memStore, e rag.EmbeddingProvider) *Pipeline {
	t.Helper()
	p, err := NewPipeline(s, s, e, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

// failuresByStage gathers ragdoc_ingest_failures_total from reg keyed by
// stage label.
func failuresByStage(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "ragdoc_ingest_failures_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "stage" {
					got[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	return got
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	e := &fakeEmbedder{}
	if _, err := NewPipeline(nil, s, e, nil); err == nil {
		t.Error("expected error for nil document store")
	}
	if _, err := NewPipeline(s, nil, e, nil); err == nil {
		t.Error("expected error for nil index")
	}
	if _, err := NewPipeline(s, s, nil, nil); err == nil {
		t.Error("expected error for nil embedder")
	}

	wrong := embedder.Wrap(embedder.NewHashEmbedder(8), "hash", 8, 0, nil)
	if _, err := NewPipeline(s, s, wrong, nil); !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("want ErrDimensionMismatch, got %v", err)
	}
}

func TestIngest_Success(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	p := newTestPipeline(t, s, &fakeEmbedder{})

	id, err := p.Ingest(context.Background(), "acme", "docs", "a.txt", "alpha")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if id == "" {
		t.Fatal("want document id")
	}
	if docs, vecs := s.count(); docs != 1 || vecs != 1 {
		t.Errorf("got %d docs, %d vectors; want 1, 1", docs, vecs)
	}
}

func TestIngest_EmptyContentsRejected(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	p := newTestPipeline(t, s, &fakeEmbedder{})

	_, err := p.Ingest(context.Background(), "acme", "docs", "blank.txt", "  \n\t ")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("want ErrEmptyDocument, got %v", err)
	}
	if docs, _ := s.count(); docs != 0 {
		t.Errorf("nothing should be stored, got %d docs", docs)
	}
}

func TestIngest_StoreFailure(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	s.putErr = fmt.Errorf("disk gone: %w", rag.ErrStorageUnavailable)
	p := newTestPipeline(t, s, &fakeEmbedder{})

	_, err := p.Ingest(context.Background(), "acme", "docs", "a.txt", "alpha")
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageStore {
		t.Fatalf("want store StageError, got %v", err)
	}
	if !errors.Is(err, rag.ErrStorageUnavailable) {
		t.Errorf("want ErrStorageUnavailable in chain, got %v", err)
	}
	if s.deleteCall != 0 {
		t.Errorf("nothing stored, no compensation expected; got %d deletes", s.deleteCall)
	}
}

func TestIngest_EmbedFailureCompensates(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	p := newTestPipeline(t, s, &fakeEmbedder{failOn: "alpha"})

	_, err := p.Ingest(context.Background(), "acme", "docs", "a.txt", "alpha")
	if !errors.Is(err, rag.ErrEmbeddingUnavailable) {
		t.Fatalf("want ErrEmbeddingUnavailable, got %v", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageEmbed {
		t.Fatalf("want embed StageError, got %v", err)
	}
	if docs, vecs := s.count(); docs != 0 || vecs != 0 {
		t.Errorf("document should be removed, got %d docs, %d vectors", docs, vecs)
	}
}

func TestIngest_IndexFailureCompensates(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	s.indexErr = fmt.Errorf("wrong size: %w", rag.ErrDimensionMismatch)
	p := newTestPipeline(t, s, &fakeEmbedder{})

	_, err := p.Ingest(context.Background(), "acme", "docs", "a.txt", "alpha")
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageIndex {
		t.Fatalf("want index StageError, got %v", err)
	}
	if !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("want ErrDimensionMismatch, got %v", err)
	}
	if docs, _ := s.count(); docs != 0 {
		t.Errorf("document should be removed, got %d docs", docs)
	}
}

func TestIngest_CompensationFailureReportsOrphan(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	s.deleteErr = errors.New("connection reset")
	p := newTestPipeline(t, s, &fakeEmbedder{failOn: "alpha"})

	_, err := p.Ingest(context.Background(), "acme", "docs", "a.txt", "alpha")
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageCleanup {
		t.Fatalf("want cleanup StageError, got %v", err)
	}
	if se.OrphanID == "" {
		t.Error("want orphan id on cleanup failure")
	}
	if !strings.Contains(err.Error(), se.OrphanID) {
		t.Errorf("error should name the orphan: %v", err)
	}
	if !errors.Is(err, rag.ErrEmbeddingUnavailable) {
		t.Errorf("original cause should remain inspectable: %v", err)
	}
}

func TestIngest_CompensationFailureCountedOnce(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	s.deleteErr = errors.New("connection reset")
	reg := prometheus.NewRegistry()
	p, err := NewPipeline(s, s, &fakeEmbedder{failOn: "alpha"}, metrics.NewPipeline(reg))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if _, err := p.Ingest(context.Background(), "acme", "docs", "a.txt", "alpha"); err == nil {
		t.Fatal("expected ingest to fail")
	}

	got := failuresByStage(t, reg)
	if len(got) != 1 || got[StageCleanup] != 1 {
		t.Errorf("failures by stage: got %v, want only %s=1", got, StageCleanup)
	}
}

func TestRecordLoadFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newMemStore()
	p, err := NewPipeline(s, s, &fakeEmbedder{}, metrics.NewPipeline(reg))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	report := p.IngestFolder(context.Background(), "acme", "docs", []Source{{FileName: "a.txt", Contents: "a"}})
	p.RecordLoadFailures(report, []Failure{{FileName: "b.txt", Err: errors.New("not valid UTF-8")}})

	if len(report.Ingested) != 1 {
		t.Errorf("ingested: got %+v", report.Ingested)
	}
	if len(report.Failed) != 1 || report.Failed[0].FileName != "b.txt" || report.Failed[0].Stage != StageLoad {
		t.Fatalf("failed: got %+v", report.Failed)
	}
	if err := report.Err(); err == nil || !strings.Contains(err.Error(), "b.txt") {
		t.Errorf("Report.Err: got %v", err)
	}
	if got := failuresByStage(t, reg); got[StageLoad] != 1 {
		t.Errorf("load failures: got %v, want 1", got)
	}
}

func TestIngestFolder_ContinuesPastFailure(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	p := newTestPipeline(t, s, &fakeEmbedder{failOn: "second"})

	report := p.IngestFolder(context.Background(), "acme", "docs", []Source{
		{FileName: "1.txt", Contents: "first document"},
		{FileName: "2.txt", Contents: "second document"},
		{FileName: "3.txt", Contents: "third document"},
	})

	if len(report.Ingested) != 2 {
		t.Fatalf("ingested: got %d, want 2", len(report.Ingested))
	}
	if report.Ingested[0].FileName != "1.txt" || report.Ingested[1].FileName != "3.txt" {
		t.Errorf("ingested order: got %+v", report.Ingested)
	}
	if len(report.Failed) != 1 || report.Failed[0].FileName != "2.txt" || report.Failed[0].Stage != StageEmbed {
		t.Fatalf("failed: got %+v", report.Failed)
	}
	if err := report.Err(); err == nil || !strings.Contains(err.Error(), "2.txt") {
		t.Errorf("Report.Err: got %v", err)
	}
	if docs, vecs := s.count(); docs != 2 || vecs != 2 {
		t.Errorf("store: got %d docs, %d vectors; want 2, 2", docs, vecs)
	}
}

func TestIngestFolder_AllSucceeded(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, newMemStore(), &fakeEmbedder{})
	report := p.IngestFolder(context.Background(), "acme", "docs", []Source{{FileName: "a.txt", Contents: "a"}})
	if err := report.Err(); err != nil {
		t.Errorf("Report.Err: want nil, got %v", err)
	}
}

func TestIngestFolder_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newMemStore()
	p := newTestPipeline(t, s, &fakeEmbedder{})
	report := p.IngestFolder(ctx, "acme", "docs", []Source{{FileName: "a.txt", Contents: "a"}})
	if len(report.Failed) != 1 || !errors.Is(report.Failed[0].Err, context.Canceled) {
		t.Errorf("want cancelled failure, got %+v", report.Failed)
	}
	if docs, _ := s.count(); docs != 0 {
		t.Errorf("nothing should be stored, got %d", docs)
	}
}

// TestIngest_SQLiteEndToEnd runs the pipeline against the real SQLite store
// with the hash embedder and verifies the ingested document is searchable.
func TestIngest_SQLiteEndToEnd(t *testing.T) {
	t.Parallel()

	const dims = 64
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:", store.Options{Dimensions: dims, Model: embedder.DefaultModel(embedder.BackendHash)})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	e := embedder.Wrap(embedder.NewHashEmbedder(dims), embedder.DefaultModel(embedder.BackendHash), dims, 0, nil)
	p, err := NewPipeline(s, s, e, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	id, err := p.Ingest(ctx, "acme", "docs", "cats.txt", "Cats sleep most of the day.")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	q, err := e.Embed(ctx, "Cats sleep most of the day.")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	results, err := s.Search(ctx, rag.Scope{TenantID: "acme", ProjectID: "docs"}, q, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != id {
		t.Fatalf("search: got %+v", results)
	}
	if results[0].Distance != 0 {
		t.Errorf("self distance: got %v, want 0", results[0].Distance)
	}
}
