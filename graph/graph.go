package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/types"
)

// NodeKind is the entity type of a graph node.
type NodeKind string

const (
	KindDisease    NodeKind = "Disease"
	KindDrug       NodeKind = "Drug"
	KindGene       NodeKind = "Gene"
	KindAnatomy    NodeKind = "Anatomy"
	KindSymptom    NodeKind = "Symptom"
	KindSideEffect NodeKind = "SideEffect"
	KindPathway    NodeKind = "Pathway"
)

// RelationType is the typed relation of an edge.
type RelationType string

const (
	RelTreats     RelationType = "treats"
	RelAssociates RelationType = "associates"
	RelCauses     RelationType = "causes"
	RelPalliates  RelationType = "palliates"
	RelResembles  RelationType = "resembles"
	RelPresents   RelationType = "presents"
	RelLocalizes  RelationType = "localizes"
	RelExpresses  RelationType = "expresses"
	RelBinds      RelationType = "binds"
)

// Node is one graph entity.
type Node struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     NodeKind `json:"kind"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// Provenance records where an edge came from.
type Provenance struct {
	Dataset string `json:"dataset,omitempty"`
	PMID    string `json:"pmid,omitempty"`
}

// Edge is one directed typed relation with a confidence weight in (0, 1].
type Edge struct {
	Source     string       `json:"source"`
	Target     string       `json:"target"`
	Relation   RelationType `json:"relation"`
	Weight     float64      `json:"weight"`
	Provenance Provenance   `json:"provenance"`
}

// Step is one hop of a path.
type Step struct {
	Relation RelationType `json:"relation"`
	Node     Node         `json:"node"`
}

// Path is a traversal result with a confidence derived from edge weights
// and per-hop decay.
type Path struct {
	Start      Node    `json:"start"`
	Steps      []Step  `json:"steps"`
	Confidence float64 `json:"confidence"`
}

// String renders the path as "A -rel-> B -rel-> C".
func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.Start.Name)
	for _, s := range p.Steps {
		b.WriteString(" -")
		b.WriteString(string(s.Relation))
		b.WriteString("-> ")
		b.WriteString(s.Node.Name)
	}
	return b.String()
}

// Graph is the in-memory knowledge graph. Reads are safe concurrently with
// each other; loading mutates under the write lock.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	out      map[string][]Edge
	resolver *Resolver
	cfg      config.GraphConfig
	logger   *zap.Logger
}

// New creates an empty graph.
func New(cfg config.GraphConfig, logger *zap.Logger) *Graph {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 2
	}
	if cfg.MaxPaths <= 0 {
		cfg.MaxPaths = 64
	}
	if cfg.HopDecay <= 0 || cfg.HopDecay > 1 {
		cfg.HopDecay = 0.8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes:    make(map[string]Node),
		out:      make(map[string][]Edge),
		resolver: NewResolver(),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "graph")),
	}
}

// AddNode inserts or replaces a node and indexes its names.
func (g *Graph) AddNode(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.ID] = n
	g.resolver.Index(n)
}

// AddEdge inserts a directed edge. Zero or out-of-range weights are
// clamped to 1. Unknown endpoints are rejected.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[e.Source]; !ok {
		return types.NewError(types.ErrIngestion, "edge source "+e.Source+" not in graph")
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return types.NewError(types.ErrIngestion, "edge target "+e.Target+" not in graph")
	}
	if e.Weight <= 0 || e.Weight > 1 {
		e.Weight = 1
	}

	edges := append(g.out[e.Source], e)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Relation != edges[j].Relation {
			return edges[i].Relation < edges[j].Relation
		}
		return edges[i].Target < edges[j].Target
	})
	g.out[e.Source] = edges
	return nil
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, edges := range g.out {
		n += len(edges)
	}
	return n
}

// Resolve maps a free-text mention to a node, if any.
func (g *Graph) Resolve(mention string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.resolver.Resolve(mention)
	if !ok {
		return Node{}, false
	}
	return g.nodes[id], true
}

// Search resolves each term and traverses from the resolved seeds.
// Unresolved terms contribute nothing; they are not errors.
func (g *Graph) Search(ctx context.Context, terms []string, maxHops int) ([]Path, error) {
	var seeds []string
	for _, term := range terms {
		if n, ok := g.Resolve(term); ok {
			seeds = append(seeds, n.ID)
		}
	}
	return g.Traverse(ctx, seeds, nil, maxHops)
}

// Traverse runs a hop-bounded BFS from the seed node IDs. When the result
// set exceeds the configured ceiling it is truncated deterministically:
// confidence descending, then path string ascending.
func (g *Graph) Traverse(ctx context.Context, seeds []string, relations []RelationType, maxHops int) ([]Path, error) {
	if maxHops <= 0 || maxHops > g.cfg.MaxHops {
		maxHops = g.cfg.MaxHops
	}

	allowed := make(map[RelationType]bool, len(relations))
	for _, r := range relations {
		allowed[r] = true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var paths []Path
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, types.NewError(types.ErrTimeout, "graph traversal cancelled").WithCause(err)
		}
		start, ok := g.nodes[seed]
		if !ok {
			continue
		}
		g.walk(ctx, Path{Start: start, Confidence: 1}, map[string]bool{seed: true}, maxHops, allowed, seen, &paths)
	}

	sortPaths(paths)
	if len(paths) > g.cfg.MaxPaths {
		paths = paths[:g.cfg.MaxPaths]
	}
	return paths, nil
}

// walk extends the current path one hop at a time, recording every
// intermediate path, skipping node revisits and duplicate renderings.
func (g *Graph) walk(ctx context.Context, cur Path, visited map[string]bool, hopsLeft int, allowed map[RelationType]bool, seen map[string]bool, out *[]Path) {
	if hopsLeft == 0 || ctx.Err() != nil {
		return
	}

	from := cur.Start.ID
	if len(cur.Steps) > 0 {
		from = cur.Steps[len(cur.Steps)-1].Node.ID
	}

	for _, e := range g.out[from] {
		if len(allowed) > 0 && !allowed[e.Relation] {
			continue
		}
		if visited[e.Target] {
			continue
		}

		confidence := cur.Confidence * e.Weight
		if len(cur.Steps) > 0 {
			confidence *= g.cfg.HopDecay
		}

		next := Path{
			Start:      cur.Start,
			Steps:      append(append([]Step(nil), cur.Steps...), Step{Relation: e.Relation, Node: g.nodes[e.Target]}),
			Confidence: confidence,
		}

		key := next.String()
		if !seen[key] {
			seen[key] = true
			*out = append(*out, next)
		}

		visited[e.Target] = true
		g.walk(ctx, next, visited, hopsLeft-1, allowed, seen, out)
		delete(visited, e.Target)
	}
}

func sortPaths(paths []Path) {
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Confidence != paths[j].Confidence {
			return paths[i].Confidence > paths[j].Confidence
		}
		return paths[i].String() < paths[j].String()
	})
}
