package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/llm"
)

const (
	defaultEmbedModel = "text-embedding-3-small"
	defaultDimensions = 1536
	defaultMaxBatch   = 2048
)

// OpenAIProvider embeds text against an OpenAI-compatible /v1/embeddings
// endpoint. Document batches larger than MaxBatchSize are split into
// sequential requests, and every returned vector is checked against the
// configured dimensionality before it reaches the index.
type OpenAIProvider struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewOpenAIProvider creates an embedding provider from config.
func NewOpenAIProvider(cfg config.EmbeddingConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultEmbedModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultMaxBatch
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string      { return "openai-embedding" }
func (p *OpenAIProvider) Dimensions() int   { return p.cfg.Dimensions }
func (p *OpenAIProvider) MaxBatchSize() int { return p.cfg.BatchSize }

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates embeddings for the request's inputs in one call. Inputs
// beyond MaxBatchSize are rejected; EmbedDocuments handles splitting.
func (p *OpenAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return nil, fmt.Errorf("embed request has no input")
	}
	if len(req.Input) > p.MaxBatchSize() {
		return nil, fmt.Errorf("embed request of %d inputs exceeds batch limit %d", len(req.Input), p.MaxBatchSize())
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}

	body, err := p.post(ctx, openAIEmbedRequest{Input: req.Input, Model: model, Dimensions: dims})
	if err != nil {
		return nil, err
	}

	var wire openAIEmbedResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(wire.Data) != len(req.Input) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(wire.Data), len(req.Input))
	}
	sort.Slice(wire.Data, func(i, j int) bool { return wire.Data[i].Index < wire.Data[j].Index })

	embeddings := make([]EmbeddingData, len(wire.Data))
	for i, d := range wire.Data {
		if len(d.Embedding) != dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", d.Index, len(d.Embedding), dims)
		}
		embeddings[i] = EmbeddingData{Index: d.Index, Embedding: d.Embedding}
	}

	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      wire.Model,
		Embeddings: embeddings,
		Usage: EmbeddingUsage{
			PromptTokens: wire.Usage.PromptTokens,
			TotalTokens:  wire.Usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// EmbedQuery embeds a single search query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &EmbeddingRequest{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments embeds documents for indexing, splitting oversized inputs
// into MaxBatchSize requests.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(documents))
	for start := 0; start < len(documents); start += p.MaxBatchSize() {
		end := start + p.MaxBatchSize()
		if end > len(documents) {
			end = len(documents)
		}
		resp, err := p.Embed(ctx, &EmbeddingRequest{Input: documents[start:end], InputType: InputTypeDocument})
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Embeddings {
			vectors = append(vectors, e.Embedding)
		}
	}
	return vectors, nil
}

func (p *OpenAIProvider) post(ctx context.Context, payload openAIEmbedRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, p.statusError(resp.StatusCode, string(body))
	}
	return body, nil
}

func (p *OpenAIProvider) statusError(status int, msg string) *llm.Error {
	code := llm.ErrUpstreamError
	retryable := status >= 500
	switch status {
	case http.StatusUnauthorized:
		code = llm.ErrUnauthorized
	case http.StatusForbidden:
		code = llm.ErrForbidden
	case http.StatusTooManyRequests:
		code = llm.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = llm.ErrInvalidRequest
	}
	return &llm.Error{
		Code:       code,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  retryable,
		Provider:   p.Name(),
	}
}
