package rag

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/internal/cache"
	"github.com/BaSui01/medflow/internal/metrics"
	"github.com/BaSui01/medflow/llm/embedding"
	"github.com/BaSui01/medflow/types"
)

// Indexer ingests documents: chunk, embed (cache-first), and upsert into
// the vector index. A failed embedding batch drops only its own chunks;
// the rest of the document is still indexed.
type Indexer struct {
	cfg      config.EmbeddingConfig
	chunker  *Chunker
	embedder embedding.Provider
	store    VectorStore
	cache    *cache.EmbeddingCache
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// IngestResult summarizes one document ingestion.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Namespace  string `json:"namespace"`
	Chunks     int    `json:"chunks"`
	Indexed    int    `json:"indexed"`
	Failed     int    `json:"failed"`
	CacheHits  int    `json:"cache_hits"`
}

// Partial reports whether some chunks were dropped.
func (r *IngestResult) Partial() bool { return r.Failed > 0 }

// NewIndexer creates an indexer. cache and collector may be nil.
func NewIndexer(
	cfg config.EmbeddingConfig,
	chunker *Chunker,
	embedder embedding.Provider,
	store VectorStore,
	embCache *cache.EmbeddingCache,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Indexer{
		cfg:      cfg,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		cache:    embCache,
		metrics:  collector,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "indexer")),
	}
}

// IngestDocument chunks and indexes one document. Existing chunks of the
// same document are deleted first, so re-ingestion replaces rather than
// accumulates.
func (ix *Indexer) IngestDocument(ctx context.Context, documentID, namespace, text string) (*IngestResult, error) {
	chunks := ix.chunker.Chunk(documentID, namespace, text)
	result := &IngestResult{
		DocumentID: documentID,
		Namespace:  namespace,
		Chunks:     len(chunks),
	}
	if len(chunks) == 0 {
		return result, nil
	}

	vectors, cacheHits, failed := ix.embedChunks(ctx, chunks)
	result.CacheHits = cacheHits
	result.Failed = failed

	var ready []types.Chunk
	for i, ch := range chunks {
		if vectors[i] == nil {
			continue
		}
		ch.Vector = vectors[i]
		ready = append(ready, ch)
	}

	if len(ready) == 0 {
		ix.recordIngest(namespace, "failed", 0)
		return result, types.NewError(types.ErrIngestion, "no chunks could be embedded").WithRetryable(true)
	}

	if err := ix.store.DeleteByDocument(ctx, namespace, documentID); err != nil {
		ix.recordIngest(namespace, "failed", 0)
		return result, types.NewError(types.ErrIngestion, "failed to clear previous chunks").WithCause(err)
	}
	if err := ix.store.Upsert(ctx, ready); err != nil {
		ix.recordIngest(namespace, "failed", 0)
		return result, types.NewError(types.ErrIngestion, "failed to upsert chunks").WithCause(err)
	}

	result.Indexed = len(ready)
	status := "ok"
	if result.Partial() {
		status = "partial"
	}
	ix.recordIngest(namespace, status, result.Indexed)

	ix.logger.Info("document ingested",
		zap.String("document_id", documentID),
		zap.String("namespace", namespace),
		zap.Int("chunks", result.Chunks),
		zap.Int("indexed", result.Indexed),
		zap.Int("failed", result.Failed),
		zap.Int("cache_hits", result.CacheHits))

	return result, nil
}

// embedChunks resolves vectors for all chunks, cache first, then batched
// concurrent embed requests. Returns vectors aligned with chunks (nil for
// failures), the cache hit count, and the failure count.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []types.Chunk) ([][]float64, int, int) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	var vectors [][]float64
	var misses []int
	if ix.cache != nil {
		vectors, misses = ix.cache.GetBatch(ctx, ix.cfg.Model, texts)
	} else {
		vectors = make([][]float64, len(texts))
		misses = make([]int, len(texts))
		for i := range texts {
			misses[i] = i
		}
	}
	cacheHits := len(texts) - len(misses)
	if ix.metrics != nil {
		ix.metrics.RecordEmbedCache(cacheHits, len(misses))
	}
	if len(misses) == 0 {
		return vectors, cacheHits, 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Concurrency)

	results := make([][]float64, len(misses))

	for batchIdx, start := 0, 0; start < len(misses); batchIdx, start = batchIdx+1, start+ix.cfg.BatchSize {
		end := start + ix.cfg.BatchSize
		if end > len(misses) {
			end = len(misses)
		}
		batchIdx, start, end := batchIdx, start, end

		g.Go(func() error {
			if ix.limiter != nil {
				if err := ix.limiter.Wait(gctx); err != nil {
					return nil
				}
			}

			batchTexts := make([]string, end-start)
			for i, mi := range misses[start:end] {
				batchTexts[i] = texts[mi]
			}

			began := time.Now()
			vecs, err := ix.embedder.EmbedDocuments(gctx, batchTexts)
			if ix.metrics != nil {
				ix.metrics.RecordEmbedRequest(time.Since(began))
			}
			if err != nil || len(vecs) != len(batchTexts) {
				ix.logger.Warn("embedding batch failed",
					zap.Int("batch", batchIdx),
					zap.Int("size", len(batchTexts)),
					zap.Error(err))
				return nil
			}

			copy(results[start:end], vecs)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, mi := range misses {
		if results[i] == nil {
			failed++
			continue
		}
		vectors[mi] = results[i]
		if ix.cache != nil {
			ix.cache.Set(ctx, ix.cfg.Model, texts[mi], results[i])
		}
	}

	return vectors, cacheHits, failed
}

func (ix *Indexer) recordIngest(namespace, status string, indexed int) {
	if ix.metrics != nil {
		ix.metrics.RecordDocumentIngested(namespace, status, indexed)
	}
}
