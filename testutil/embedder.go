// Package testutil provides deterministic fakes for tests: a hash-based
// embedder and a scripted chat provider.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"

	"github.com/BaSui01/medflow/llm/embedding"
)

var _ embedding.Provider = (*MockEmbedder)(nil)

// MockEmbedder produces deterministic unit vectors derived from the input
// text hash. Equal texts always embed to equal vectors.
type MockEmbedder struct {
	mu       sync.Mutex
	dims     int
	calls    int
	failNext int
	failText map[string]bool
}

// NewMockEmbedder creates a mock embedder with the given dimensionality.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 8
	}
	return &MockEmbedder{dims: dims, failText: make(map[string]bool)}
}

// FailNext makes the next n Embed calls fail.
func (m *MockEmbedder) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// FailOn makes any batch containing text fail.
func (m *MockEmbedder) FailOn(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failText[text] = true
}

// Calls returns how many Embed requests were made.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Vector returns the deterministic embedding for text.
func (m *MockEmbedder) Vector(text string) []float64 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float64, m.dims)
	var norm float64
	for i := 0; i < m.dims; i++ {
		u := binary.BigEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
		// deterministic value in [-1, 1), perturbed by position
		vec[i] = float64(int64(u)+int64(i)*7919)/float64(math.MaxUint32)*2 - 1
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// Embed implements embedding.Provider.
func (m *MockEmbedder) Embed(ctx context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	m.mu.Lock()
	m.calls++
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return nil, context.DeadlineExceeded
	}
	for _, text := range req.Input {
		if m.failText[text] {
			m.mu.Unlock()
			return nil, context.DeadlineExceeded
		}
	}
	m.mu.Unlock()

	resp := &embedding.EmbeddingResponse{
		Provider: m.Name(),
		Model:    "mock",
	}
	for i, text := range req.Input {
		resp.Embeddings = append(resp.Embeddings, embedding.EmbeddingData{
			Index:     i,
			Embedding: m.Vector(text),
		})
	}
	return resp, nil
}

// EmbedQuery implements embedding.Provider.
func (m *MockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := m.Embed(ctx, &embedding.EmbeddingRequest{Input: []string{query}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments implements embedding.Provider.
func (m *MockEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := m.Embed(ctx, &embedding.EmbeddingRequest{Input: documents})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Embedding
	}
	return out, nil
}

func (m *MockEmbedder) Name() string { return "mock-embedder" }

func (m *MockEmbedder) Dimensions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dims
}

func (m *MockEmbedder) MaxBatchSize() int { return 2048 }
