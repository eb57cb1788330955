package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/types"
)

// PineconeStore implements VectorStore against Pinecone's data-plane REST
// API. Namespaces map directly onto Pinecone namespaces, one query request
// per namespace.
type PineconeStore struct {
	host   string
	apiKey string
	client *http.Client
	logger *zap.Logger
}

var _ VectorStore = (*PineconeStore)(nil)

// NewPineconeStore creates a Pinecone-backed store. cfg.Host is the index
// data-plane URL, e.g. https://<index>-<project>.svc.<region>.pinecone.io.
func NewPineconeStore(cfg config.VectorConfig, logger *zap.Logger) *PineconeStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PineconeStore{
		host:   strings.TrimRight(strings.TrimSpace(cfg.Host), "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "pinecone_store")),
	}
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float64      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

type pineconeQueryRequest struct {
	Vector          []float64 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace,omitempty"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

type pineconeDeleteRequest struct {
	Filter    map[string]any `json:"filter,omitempty"`
	DeleteAll bool           `json:"deleteAll,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
}

// Upsert writes chunks grouped by namespace.
func (s *PineconeStore) Upsert(ctx context.Context, chunks []types.Chunk) error {
	byNamespace := make(map[string][]pineconeVector)
	for _, ch := range chunks {
		if len(ch.Vector) == 0 {
			return types.NewError(types.ErrIngestion, "chunk "+ch.ID+" has no vector")
		}
		byNamespace[ch.Namespace] = append(byNamespace[ch.Namespace], pineconeVector{
			ID:     ch.ID,
			Values: ch.Vector,
			Metadata: map[string]any{
				"document_id":  ch.DocumentID,
				"text":         ch.Text,
				"offset_start": ch.Offset.Start,
				"offset_end":   ch.Offset.End,
			},
		})
	}

	for ns, vectors := range byNamespace {
		req := pineconeUpsertRequest{Vectors: vectors, Namespace: ns}
		if err := s.doJSON(ctx, "/vectors/upsert", req, nil); err != nil {
			return types.NewError(types.ErrIngestion, "pinecone upsert failed").WithCause(err).WithRetryable(true)
		}
	}
	return nil
}

// Query issues one request per namespace and merges the results.
func (s *PineconeStore) Query(ctx context.Context, vector []float64, namespaces []string, topK int) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 5
	}

	var merged []VectorHit
	for _, ns := range namespaces {
		req := pineconeQueryRequest{
			Vector:          vector,
			TopK:            topK,
			Namespace:       ns,
			IncludeMetadata: true,
		}
		var resp pineconeQueryResponse
		if err := s.doJSON(ctx, "/query", req, &resp); err != nil {
			return nil, types.NewError(types.ErrRetrieval, "pinecone query failed").WithCause(err).WithRetryable(true)
		}

		for _, m := range resp.Matches {
			merged = append(merged, VectorHit{
				Chunk: types.Chunk{
					ID:         m.ID,
					DocumentID: metaString(m.Metadata, "document_id"),
					Namespace:  ns,
					Text:       metaString(m.Metadata, "text"),
					Offset: types.OffsetRange{
						Start: metaInt(m.Metadata, "offset_start"),
						End:   metaInt(m.Metadata, "offset_end"),
					},
				},
				Score: m.Score,
			})
		}
	}

	return MergeHits(merged, 0), nil
}

// DeleteByDocument deletes via a metadata filter on document_id.
func (s *PineconeStore) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	req := pineconeDeleteRequest{
		Filter:    map[string]any{"document_id": map[string]any{"$eq": documentID}},
		Namespace: namespace,
	}
	if err := s.doJSON(ctx, "/vectors/delete", req, nil); err != nil {
		return types.NewError(types.ErrIngestion, "pinecone delete failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

// Count reads the namespace vector count from index stats.
func (s *PineconeStore) Count(ctx context.Context, namespace string) (int, error) {
	var resp struct {
		Namespaces map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := s.doJSON(ctx, "/describe_index_stats", map[string]any{}, &resp); err != nil {
		return 0, types.NewError(types.ErrRetrieval, "pinecone stats failed").WithCause(err).WithRetryable(true)
	}
	return resp.Namespaces[namespace].VectorCount, nil
}

func (s *PineconeStore) doJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("pinecone request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("pinecone %s: status=%d body=%s", path, resp.StatusCode, string(raw))
	}

	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func metaString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
