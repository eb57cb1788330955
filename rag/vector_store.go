package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/medflow/types"
)

// VectorStore is the namespaced vector index. One shared namespace holds
// reference knowledge and each patient gets an isolated partition.
type VectorStore interface {
	// Upsert writes chunks into their namespaces, replacing same-ID entries.
	Upsert(ctx context.Context, chunks []types.Chunk) error

	// Query searches the given namespaces and returns merged hits sorted by
	// similarity. Hits from a patient namespace rank before medical_kb hits
	// at equal score.
	Query(ctx context.Context, vector []float64, namespaces []string, topK int) ([]VectorHit, error)

	// DeleteByDocument removes all chunks of one document from a namespace.
	DeleteByDocument(ctx context.Context, namespace, documentID string) error

	// Count returns the number of chunks stored in a namespace.
	Count(ctx context.Context, namespace string) (int, error)
}

// VectorHit is one similarity search result.
type VectorHit struct {
	Chunk types.Chunk `json:"chunk"`
	Score float64     `json:"score"` // cosine similarity, -1..1
}

// MergeHits combines per-namespace results into one ranking: score
// descending, then patient namespaces before shared ones, then chunk ID.
func MergeHits(hits []VectorHit, topK int) []VectorHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		pi := types.IsPatientNamespace(hits[i].Chunk.Namespace)
		pj := types.IsPatientNamespace(hits[j].Chunk.Namespace)
		if pi != pj {
			return pi
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// InMemoryVectorStore keeps all chunks in process memory. Used in tests and
// single-node deployments.
type InMemoryVectorStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]types.Chunk // namespace -> chunk ID -> chunk
	logger     *zap.Logger
}

var _ VectorStore = (*InMemoryVectorStore)(nil)

// NewInMemoryVectorStore creates an empty in-memory store.
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		namespaces: make(map[string]map[string]types.Chunk),
		logger:     logger.With(zap.String("component", "vector_store")),
	}
}

// Upsert writes chunks, replacing entries with the same ID.
func (s *InMemoryVectorStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range chunks {
		if len(ch.Vector) == 0 {
			return types.NewError(types.ErrIngestion, "chunk "+ch.ID+" has no vector")
		}
		ns := s.namespaces[ch.Namespace]
		if ns == nil {
			ns = make(map[string]types.Chunk)
			s.namespaces[ch.Namespace] = ns
		}
		ns[ch.ID] = ch
	}

	s.logger.Debug("chunks upserted", zap.Int("count", len(chunks)))
	return nil
}

// Query searches each namespace and merges the per-namespace top-K.
func (s *InMemoryVectorStore) Query(ctx context.Context, vector []float64, namespaces []string, topK int) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var merged []VectorHit
	for _, nsName := range namespaces {
		ns := s.namespaces[nsName]
		if len(ns) == 0 {
			continue
		}

		hits := make([]VectorHit, 0, len(ns))
		for _, ch := range ns {
			hits = append(hits, VectorHit{Chunk: ch, Score: cosineSimilarity(vector, ch.Vector)})
		}
		hits = MergeHits(hits, topK)
		merged = append(merged, hits...)
	}

	return MergeHits(merged, 0), nil
}

// DeleteByDocument removes every chunk of the document from the namespace.
func (s *InMemoryVectorStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.namespaces[namespace]
	for id, ch := range ns {
		if ch.DocumentID == documentID {
			delete(ns, id)
		}
	}
	return nil
}

// Count returns the chunk count of one namespace.
func (s *InMemoryVectorStore) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace]), nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// for mismatched or zero vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
