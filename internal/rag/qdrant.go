package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored on every Qdrant point.
const (
	payloadTenantID   = "tenant_id"
	payloadProjectID  = "project_id"
	payloadDocumentID = "document_id"
	payloadDocSeq     = "doc_seq"
	payloadModel      = "model"
)

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// Model is the embedding model identifier recorded on every point.
	Model string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// ConnectTimeout bounds the startup health-check retry loop.
	// Defaults to 30s if zero.
	ConnectTimeout time.Duration
}

// QdrantIndex implements VectorIndex backed by a Qdrant collection. File
// names and contents are not duplicated into Qdrant: search hits are joined
// back through the DocumentStore.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig

	// docs resolves document IDs to file names and contents.
	docs DocumentStore
}

// NewQdrantIndex connects to Qdrant, waits for it to report healthy, ensures
// the target collection exists with the configured vector size, and returns
// a ready-to-use index.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig, docs DocumentStore) (*QdrantIndex, error) {
	if docs == nil {
		return nil, fmt.Errorf("qdrant: document store must not be nil")
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be positive")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w: %w", ErrStorageUnavailable, err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg, docs: docs}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.ConnectTimeout
	if err := backoff.Retry(func() error { return idx.Ping(ctx) }, backoff.WithContext(b, ctx)); err != nil {
		_ = client.Close()
		return nil, err
	}

	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return idx, nil
}

// ensureCollection creates the collection and its payload indexes if it does
// not already exist, and verifies the vector size of an existing one.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w: %w", ErrStorageUnavailable, err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant: failed to read collection %q: %w: %w", q.cfg.Collection, ErrStorageUnavailable, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != q.cfg.VectorSize {
			return fmt.Errorf("qdrant: collection %q has vector size %d, configured %d: %w",
				q.cfg.Collection, size, q.cfg.VectorSize, ErrDimensionMismatch)
		}
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w: %w", q.cfg.Collection, ErrStorageUnavailable, err)
	}

	for _, field := range []string{payloadTenantID, payloadProjectID, payloadDocumentID} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create index for field %s: %w: %w", field, ErrStorageUnavailable, err)
		}
	}

	return nil
}

// Dimensions returns the configured vector size.
func (q *QdrantIndex) Dimensions() int {
	return int(q.cfg.VectorSize) //nolint:gosec // dimensions are bounded
}

// PutEmbedding stores one point for documentID. The document must exist in
// the DocumentStore and belong to tenantID.
func (q *QdrantIndex) PutEmbedding(ctx context.Context, tenantID, documentID string, vector []float32) error {
	if len(vector) != q.Dimensions() {
		return fmt.Errorf("qdrant: vector has %d dimensions, index expects %d: %w",
			len(vector), q.Dimensions(), ErrDimensionMismatch)
	}

	doc, err := q.docs.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("qdrant: resolve document %s: %w", documentID, err)
	}
	if doc.TenantID != tenantID {
		return fmt.Errorf("qdrant: document %s does not belong to tenant %s: %w", documentID, tenantID, ErrDocumentNotFound)
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadTenantID:   doc.TenantID,
				payloadProjectID:  doc.ProjectID,
				payloadDocumentID: doc.ID,
				payloadDocSeq:     doc.Seq,
				payloadModel:      q.cfg.Model,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w: %w", ErrStorageUnavailable, err)
	}

	return nil
}

// qdrantPageSlack is how many hits beyond k each Qdrant page requests, so
// distance ties at the k-th position and orphaned points rarely need a
// second round trip.
const qdrantPageSlack = 16

// qdrantExactScore is the score gap below float32 resolution at which a hit
// is treated as an exact match. Qdrant normalises stored vectors, so an
// identical vector can score a few ulps under 1.
const qdrantExactScore = 1e-6

// Search performs a filtered cosine similarity search and returns up to k
// results ordered by ascending distance (1 - score), ties broken by document
// insertion order. Hits are paged from Qdrant until every point scoring as
// well as the k-th live result has been seen, so the tie-break does not
// depend on which equal-score points the server happened to return.
func (q *QdrantIndex) Search(ctx context.Context, scope Scope, query []float32, k int) ([]SimilarityResult, error) {
	if len(query) != q.Dimensions() {
		return nil, fmt.Errorf("qdrant: query has %d dimensions, index expects %d: %w",
			len(query), q.Dimensions(), ErrDimensionMismatch)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	must := []*qdrant.Condition{qdrant.NewMatch(payloadProjectID, scope.ProjectID)}
	if scope.TenantID != "" {
		must = append(must, qdrant.NewMatch(payloadTenantID, scope.TenantID))
	}

	pageSize := uint64(k + qdrantPageSlack) //nolint:gosec // k is positive
	var (
		offset uint64
		cands  []Candidate
		scores []float32
	)
	for {
		hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.cfg.Collection,
			Query:          qdrant.NewQuery(query...),
			Filter:         &qdrant.Filter{Must: must},
			Limit:          qdrant.PtrOf(pageSize),
			Offset:         qdrant.PtrOf(offset),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: search failed: %w: %w", ErrStorageUnavailable, err)
		}

		for _, h := range hits {
			docID := h.GetPayload()[payloadDocumentID].GetStringValue()
			doc, err := q.docs.GetDocument(ctx, docID)
			if errors.Is(err, ErrDocumentNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("qdrant: join document %s: %w", docID, err)
			}
			cands = append(cands, Candidate{
				Result: SimilarityResult{
					DocumentID: doc.ID,
					FileName:   doc.FileName,
					Contents:   doc.Contents,
					Distance:   scoreDistance(h.GetScore()),
				},
				DocSeq: doc.Seq,
			})
			scores = append(scores, h.GetScore())
		}

		full := uint64(len(hits)) == pageSize
		var last float32
		if len(hits) > 0 {
			last = hits[len(hits)-1].GetScore()
		}
		if !needNextPage(scores, last, k, full) {
			break
		}
		offset += pageSize
	}

	return TopK(cands, k), nil
}

// needNextPage reports whether another page of hits could still change the
// top k. live holds the scores of joined hits in the descending order Qdrant
// returned them, last is the lowest score on the page just read and full is
// true when that page was not short.
func needNextPage(live []float32, last float32, k int, full bool) bool {
	if !full {
		return false
	}
	if len(live) < k {
		return true
	}
	// A later point can only tie the k-th result, never beat it.
	return last >= live[k-1]
}

// scoreDistance converts a Qdrant cosine score to a distance in [0, 2].
func scoreDistance(score float32) float64 {
	d := 1 - float64(score)
	if d < qdrantExactScore {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

// Ping calls the Qdrant HealthCheck RPC.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
