package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/medflow/llm"
	"github.com/BaSui01/medflow/types"
)

const defaultPubMedRetMax = 10

// PubMedClient queries the NCBI eutils esearch endpoint.
type PubMedClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPubMedClient creates a client for the given eutils base URL, e.g.
// https://eutils.ncbi.nlm.nih.gov/entrez/eutils.
func NewPubMedClient(baseURL string, timeout time.Duration, logger *zap.Logger) *PubMedClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubMedClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "pubmed")),
	}
}

// PubMedResult is the parsed esearch response.
type PubMedResult struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

type esearchEnvelope struct {
	ESearchResult struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search runs db=pubmed esearch for the term, returning up to retMax
// PubMed IDs and the total hit count.
func (c *PubMedClient) Search(ctx context.Context, term string, retMax int) (*PubMedResult, error) {
	if retMax <= 0 {
		retMax = defaultPubMedRetMax
	}
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", term)
	q.Set("retmode", "json")
	q.Set("retmax", strconv.Itoa(retMax))

	endpoint := c.baseURL + "/esearch.fcgi?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrRetrieval, "build pubmed request").WithCause(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrRetrieval, "pubmed request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.NewError(types.ErrRetrieval, "read pubmed response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ErrRetrieval,
			fmt.Sprintf("pubmed esearch returned %d", resp.StatusCode)).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	var env esearchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, types.NewError(types.ErrRetrieval, "decode pubmed response").WithCause(err)
	}
	count, _ := strconv.Atoi(env.ESearchResult.Count)
	c.logger.Debug("pubmed search",
		zap.String("term", term),
		zap.Int("count", count),
		zap.Int("returned", len(env.ESearchResult.IDList)))
	return &PubMedResult{Count: count, IDs: env.ESearchResult.IDList}, nil
}

type pubmedSearchArgs struct {
	Term   string `json:"term"`
	RetMax int    `json:"ret_max"`
}

// NewPubMedSearchTool builds the pubmed_search tool over an esearch
// client.
func NewPubMedSearchTool(c *PubMedClient) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "pubmed_search",
			Description: "Search PubMed for literature matching a term, returning article IDs and the total hit count.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"term": {"type": "string", "description": "PubMed search term"},
					"ret_max": {"type": "integer", "description": "maximum IDs to return"}
				},
				"required": ["term"]
			}`),
		},
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in pubmedSearchArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, types.NewError(types.ErrValidation, "pubmed_search arguments: "+err.Error())
			}
			if in.Term == "" {
				return nil, types.NewError(types.ErrValidation, "pubmed_search requires a term")
			}
			result, err := c.Search(ctx, in.Term, in.RetMax)
			if err != nil {
				return nil, err
			}
			return json.Marshal(result)
		},
	}
}
