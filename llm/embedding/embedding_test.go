package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/llm"
)

var _ Provider = (*OpenAIProvider)(nil)

func TestOpenAIProvider_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		require.Len(t, req.Input, 2)

		resp := map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{
				{"index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
				{"index": 1, "embedding": []float64{0.4, 0.5, 0.6}},
			},
			"usage": map[string]int{"prompt_tokens": 8, "total_tokens": 8},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{
		APIKey:     "key",
		BaseURL:    srv.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 3,
	})

	vecs, err := p.EmbedDocuments(context.Background(), []string{
		"patient presents with polyuria",
		"HbA1c 8.2 percent",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vecs[0])
	assert.Equal(t, []float64{0.4, 0.5, 0.6}, vecs[1])
}

func TestOpenAIProvider_EmbedQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"model": "text-embedding-3-small",
			"data":  []map[string]any{{"index": 0, "embedding": []float64{1, 0}}},
			"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{APIKey: "key", BaseURL: srv.URL, Dimensions: 2})

	vec, err := p.EmbedQuery(context.Background(), "metformin interactions")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vec)
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{APIKey: "key", BaseURL: srv.URL})

	_, err := p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)

	var lerr *llm.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, llm.ErrRateLimited, lerr.Code)
	assert.True(t, lerr.Retryable)
}

func TestOpenAIProvider_EmbedDocumentsSplitsBatches(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Input), 2)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float64{float64(i), 1}}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"data":  data,
			"usage": map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{
		APIKey:     "key",
		BaseURL:    srv.URL,
		Dimensions: 2,
		BatchSize:  2,
	})

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, 3, requests)
}

func TestOpenAIProvider_RejectsWrongDimensions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "text-embedding-3-small",
			"data":  []map[string]any{{"index": 0, "embedding": []float64{1, 2, 3}}},
			"usage": map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.EmbeddingConfig{APIKey: "key", BaseURL: srv.URL, Dimensions: 2})

	_, err := p.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestOpenAIProvider_Defaults(t *testing.T) {
	t.Parallel()

	p := NewOpenAIProvider(config.EmbeddingConfig{})
	assert.Equal(t, "openai-embedding", p.Name())
	assert.Equal(t, 1536, p.Dimensions())
	assert.Equal(t, 2048, p.MaxBatchSize())
}
