// Package metrics registers the Prometheus metrics owned by the ingestion and
// retrieval pipelines. A single Pipeline instance is created at startup and
// passed to both pipelines; tests pass a fresh prometheus.Registry so they
// never touch the default registerer.
//
// Every method is safe to call on a nil *Pipeline, which disables recording.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric owned by ragdoc.
const namespace = "ragdoc"

// Pipeline holds the ingestion and retrieval metrics.
type Pipeline struct {
	// ingestDocumentsTotal counts documents processed by ingestion,
	// partitioned by outcome: "ok" or "error".
	ingestDocumentsTotal *prometheus.CounterVec

	// ingestFailuresTotal counts ingestion failures partitioned by the
	// pipeline stage that failed: "load", "validate", "store", "embed",
	// "index" or "cleanup". Each failed document is counted once.
	ingestFailuresTotal *prometheus.CounterVec

	// embedDurationSeconds records the latency of embedding calls.
	embedDurationSeconds prometheus.Histogram

	// retrievalDurationSeconds records embed+search latency per query,
	// partitioned by outcome.
	retrievalDurationSeconds *prometheus.HistogramVec

	// retrievalResults records how many results each search returned.
	retrievalResults prometheus.Histogram
}

// NewPipeline registers all pipeline metrics against reg and returns the
// populated Pipeline.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)

	return &Pipeline{
		ingestDocumentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of documents processed by ingestion, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of ingestion failures, partitioned by the failing stage.",
		}, []string{"stage"}),

		embedDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "duration_seconds",
			Help:      "Latency of embedding calls.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		retrievalDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of query embedding plus similarity search, partitioned by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),

		retrievalResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of results returned per similarity search.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}
}

// ObserveIngest records one processed document with the given outcome.
func (m *Pipeline) ObserveIngest(outcome string) {
	if m == nil {
		return
	}
	m.ingestDocumentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveIngestFailure records a failure at the given ingestion stage.
func (m *Pipeline) ObserveIngestFailure(stage string) {
	if m == nil {
		return
	}
	m.ingestFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveEmbed records the latency of one embedding call.
func (m *Pipeline) ObserveEmbed(d time.Duration) {
	if m == nil {
		return
	}
	m.embedDurationSeconds.Observe(d.Seconds())
}

// ObserveRetrieval records the latency and result count of one search.
func (m *Pipeline) ObserveRetrieval(outcome string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.retrievalDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == "ok" {
		m.retrievalResults.Observe(float64(results))
	}
}
