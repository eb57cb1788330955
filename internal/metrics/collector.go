package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records all medflow metrics.
type Collector struct {
	// ingestion
	documentsIngested *prometheus.CounterVec
	chunksIndexed     *prometheus.CounterVec
	embedCacheHits    prometheus.Counter
	embedCacheMisses  prometheus.Counter
	embedDuration     prometheus.Histogram

	// retrieval
	retrievalsTotal   *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	evidenceItems     prometheus.Histogram

	// tools
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// pipeline
	runsTotal     *prometheus.CounterVec
	stagesTotal   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered with reg. A nil
// registerer uses a fresh registry so tests never collide on duplicate
// registration.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.documentsIngested = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Total number of documents ingested",
		},
		[]string{"namespace", "status"},
	)

	c.chunksIndexed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the vector index",
		},
		[]string{"namespace"},
	)

	c.embedCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total embedding cache hits",
		},
	)

	c.embedCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total embedding cache misses",
		},
	)

	c.embedDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
	)

	c.retrievalsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total retrieval calls by source",
		},
		[]string{"source", "status"}, // source: vector, graph
	)

	c.retrievalDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"source"},
	)

	c.evidenceItems = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evidence_bundle_items",
			Help:      "Evidence items per fused bundle",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool invocations",
		},
		[]string{"tool", "stage", "status"}, // status: ok, error, denied, timeout
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"tool"},
	)

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total pipeline runs",
		},
		[]string{"status"}, // status: complete, cancelled
	)

	c.stagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stages_total",
			Help:      "Total stage executions by terminal status",
		},
		[]string{"stage", "status"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	return c
}

// RecordDocumentIngested records one finished document ingestion.
func (c *Collector) RecordDocumentIngested(namespace, status string, chunks int) {
	c.documentsIngested.WithLabelValues(namespace, status).Inc()
	c.chunksIndexed.WithLabelValues(namespace).Add(float64(chunks))
}

// RecordEmbedCache records cache hits and misses from one batch.
func (c *Collector) RecordEmbedCache(hits, misses int) {
	c.embedCacheHits.Add(float64(hits))
	c.embedCacheMisses.Add(float64(misses))
}

// RecordEmbedRequest records one embedding request's duration.
func (c *Collector) RecordEmbedRequest(d time.Duration) {
	c.embedDuration.Observe(d.Seconds())
}

// RecordRetrieval records one retrieval call against a source.
func (c *Collector) RecordRetrieval(source, status string, d time.Duration) {
	c.retrievalsTotal.WithLabelValues(source, status).Inc()
	c.retrievalDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordBundle records the size of one fused evidence bundle.
func (c *Collector) RecordBundle(items int) {
	c.evidenceItems.Observe(float64(items))
}

// RecordToolCall records one tool invocation.
func (c *Collector) RecordToolCall(tool, stage, status string, d time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, stage, status).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordRun records one completed pipeline run.
func (c *Collector) RecordRun(status string) {
	c.runsTotal.WithLabelValues(status).Inc()
}

// RecordStage records one stage execution.
func (c *Collector) RecordStage(stage, status string, d time.Duration) {
	c.stagesTotal.WithLabelValues(stage, status).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
