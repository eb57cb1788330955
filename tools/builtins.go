package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/medflow/graph"
	"github.com/BaSui01/medflow/llm"
	"github.com/BaSui01/medflow/types"
)

// Retriever is the hybrid retrieval face the builtin tools need.
type Retriever interface {
	Retrieve(ctx context.Context, query string, namespaces []string, seedTerms []string) (*types.EvidenceBundle, error)
}

// GraphSearcher answers typed path queries.
type GraphSearcher interface {
	Search(ctx context.Context, terms []string, maxHops int) ([]graph.Path, error)
}

type vectorSearchArgs struct {
	Query      string   `json:"query"`
	Namespaces []string `json:"namespaces"`
}

// NewVectorSearchTool builds the vector_search tool over the hybrid
// retriever. When the model omits namespaces, the call defaults to the
// run's patient partition (from the context's patient scope) plus
// defaultNamespaces.
func NewVectorSearchTool(r Retriever, defaultNamespaces []string) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "vector_search",
			Description: "Search indexed medical knowledge and patient records for passages relevant to a query.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "free-text search query"},
					"namespaces": {"type": "array", "items": {"type": "string"}, "description": "index partitions to search"}
				},
				"required": ["query"]
			}`),
		},
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in vectorSearchArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, types.NewError(types.ErrValidation, "vector_search arguments: "+err.Error())
			}
			if in.Query == "" {
				return nil, types.NewError(types.ErrValidation, "vector_search requires a query")
			}
			namespaces := in.Namespaces
			if len(namespaces) == 0 {
				if patientID, ok := types.PatientScope(ctx); ok {
					namespaces = append(namespaces, types.PatientNamespace(patientID))
				}
				namespaces = append(namespaces, defaultNamespaces...)
			}
			bundle, err := r.Retrieve(ctx, in.Query, namespaces, nil)
			if err != nil {
				return nil, err
			}
			return json.Marshal(bundle)
		},
	}
}

type graphQueryArgs struct {
	Terms   []string `json:"terms"`
	MaxHops int      `json:"max_hops"`
}

type graphQueryHit struct {
	Path       string  `json:"path"`
	Confidence float64 `json:"confidence"`
}

// NewGraphQueryTool builds the graph_query tool over the knowledge graph.
func NewGraphQueryTool(gs GraphSearcher, defaultMaxHops int) Tool {
	if defaultMaxHops <= 0 {
		defaultMaxHops = 2
	}
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "graph_query",
			Description: "Find typed relation paths (treats, causes, presents, ...) between medical entities in the knowledge graph.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"terms": {"type": "array", "items": {"type": "string"}, "description": "entity mentions to resolve and expand"},
					"max_hops": {"type": "integer", "description": "maximum path length"}
				},
				"required": ["terms"]
			}`),
		},
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in graphQueryArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, types.NewError(types.ErrValidation, "graph_query arguments: "+err.Error())
			}
			if len(in.Terms) == 0 {
				return nil, types.NewError(types.ErrValidation, "graph_query requires at least one term")
			}
			hops := in.MaxHops
			if hops <= 0 {
				hops = defaultMaxHops
			}
			paths, err := gs.Search(ctx, in.Terms, hops)
			if err != nil {
				return nil, err
			}
			hits := make([]graphQueryHit, 0, len(paths))
			for _, p := range paths {
				hits = append(hits, graphQueryHit{Path: p.String(), Confidence: p.Confidence})
			}
			return json.Marshal(hits)
		},
	}
}

type drugbankArgs struct {
	Name string `json:"name"`
}

// NewDrugbankLookupTool builds drugbank_lookup, a focused query against
// the shared knowledge namespace for a drug's mechanism, dosage, and
// interactions.
func NewDrugbankLookupTool(r Retriever) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "drugbank_lookup",
			Description: "Look up a drug's mechanism of action, dosage guidance, and known interactions.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "drug name"}
				},
				"required": ["name"]
			}`),
		},
		Fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in drugbankArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, types.NewError(types.ErrValidation, "drugbank_lookup arguments: "+err.Error())
			}
			if in.Name == "" {
				return nil, types.NewError(types.ErrValidation, "drugbank_lookup requires a drug name")
			}
			query := fmt.Sprintf("drug:%s mechanism dosage interactions", in.Name)
			bundle, err := r.Retrieve(ctx, query, []string{types.NamespaceMedicalKB}, []string{in.Name})
			if err != nil {
				return nil, err
			}
			return json.Marshal(bundle)
		},
	}
}
