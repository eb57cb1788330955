package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/medflow/config"
	"github.com/BaSui01/medflow/types"
)

// buildTestGraph wires a small treats/causes neighborhood around type 2
// diabetes.
func buildTestGraph(t *testing.T, cfg config.GraphConfig) *Graph {
	t.Helper()
	g := New(cfg, nil)

	g.AddNode(Node{ID: "D001", Name: "Type 2 Diabetes", Kind: KindDisease, Synonyms: []string{"T2DM", "diabetes mellitus type 2"}})
	g.AddNode(Node{ID: "D002", Name: "Diabetic Nephropathy", Kind: KindDisease})
	g.AddNode(Node{ID: "C001", Name: "Metformin", Kind: KindDrug})
	g.AddNode(Node{ID: "C002", Name: "Insulin", Kind: KindDrug})
	g.AddNode(Node{ID: "S001", Name: "Polyuria", Kind: KindSymptom})
	g.AddNode(Node{ID: "E001", Name: "Lactic Acidosis", Kind: KindSideEffect})

	require.NoError(t, g.AddEdge(Edge{Source: "C001", Target: "D001", Relation: RelTreats, Weight: 0.95, Provenance: Provenance{Dataset: "hetionet"}}))
	require.NoError(t, g.AddEdge(Edge{Source: "C002", Target: "D001", Relation: RelTreats, Weight: 0.9}))
	require.NoError(t, g.AddEdge(Edge{Source: "D001", Target: "S001", Relation: RelPresents, Weight: 0.8}))
	require.NoError(t, g.AddEdge(Edge{Source: "D001", Target: "D002", Relation: RelCauses, Weight: 0.7}))
	require.NoError(t, g.AddEdge(Edge{Source: "C001", Target: "E001", Relation: RelCauses, Weight: 0.1}))

	return g
}

func TestGraph_AddEdgeUnknownEndpoint(t *testing.T) {
	t.Parallel()

	g := New(config.GraphConfig{}, nil)
	g.AddNode(Node{ID: "a", Name: "A", Kind: KindDrug})

	err := g.AddEdge(Edge{Source: "a", Target: "missing", Relation: RelTreats})
	require.Error(t, err)
	assert.Equal(t, types.ErrIngestion, types.CodeOf(err))
}

func TestGraph_TraverseSingleHop(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{MaxHops: 1})
	paths, err := g.Traverse(context.Background(), []string{"C001"}, nil, 1)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	// highest weight first
	assert.Equal(t, "Metformin -treats-> Type 2 Diabetes", paths[0].String())
	assert.InDelta(t, 0.95, paths[0].Confidence, 1e-9)
	assert.Equal(t, "Metformin -causes-> Lactic Acidosis", paths[1].String())
}

func TestGraph_TraverseTwoHopsAppliesDecay(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{MaxHops: 2, HopDecay: 0.5})
	paths, err := g.Traverse(context.Background(), []string{"C001"}, nil, 2)
	require.NoError(t, err)

	var twoHop *Path
	for i := range paths {
		if paths[i].String() == "Metformin -treats-> Type 2 Diabetes -presents-> Polyuria" {
			twoHop = &paths[i]
		}
	}
	require.NotNil(t, twoHop)
	// 0.95 * 0.8 * decay
	assert.InDelta(t, 0.95*0.8*0.5, twoHop.Confidence, 1e-9)
}

func TestGraph_TraverseRelationFilter(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{MaxHops: 2})
	paths, err := g.Traverse(context.Background(), []string{"C001"}, []RelationType{RelTreats}, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "Metformin -treats-> Type 2 Diabetes", paths[0].String())
}

func TestGraph_TraverseUnknownSeed(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{})
	paths, err := g.Traverse(context.Background(), []string{"nope"}, nil, 2)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestGraph_TraverseDeterministicTruncation(t *testing.T) {
	t.Parallel()

	g := New(config.GraphConfig{MaxHops: 1, MaxPaths: 3}, nil)
	g.AddNode(Node{ID: "hub", Name: "Hub", Kind: KindDisease})
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("n%02d", i)
		g.AddNode(Node{ID: id, Name: "Node " + id, Kind: KindSymptom})
		require.NoError(t, g.AddEdge(Edge{Source: "hub", Target: id, Relation: RelPresents, Weight: 0.5}))
	}

	first, err := g.Traverse(context.Background(), []string{"hub"}, nil, 1)
	require.NoError(t, err)
	second, err := g.Traverse(context.Background(), []string{"hub"}, nil, 1)
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	// equal confidence resolves by path string
	assert.Equal(t, "Hub -presents-> Node n00", first[0].String())
	assert.Equal(t, "Hub -presents-> Node n01", first[1].String())
	assert.Equal(t, "Hub -presents-> Node n02", first[2].String())
}

func TestGraph_TraverseCancelled(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Traverse(ctx, []string{"C001"}, nil, 2)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.CodeOf(err))
}

func TestGraph_Search(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{MaxHops: 1})
	paths, err := g.Search(context.Background(), []string{"metformin", "unknown entity"}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	assert.Equal(t, "Metformin", paths[0].Start.Name)
}

func TestResolver_ExactAndSynonym(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{})

	n, ok := g.Resolve("Type 2 Diabetes")
	require.True(t, ok)
	assert.Equal(t, "D001", n.ID)

	n, ok = g.Resolve("t2dm")
	require.True(t, ok)
	assert.Equal(t, "D001", n.ID)

	// punctuation and case do not matter
	n, ok = g.Resolve("  TYPE-2 diabetes ")
	require.True(t, ok)
	assert.Equal(t, "D001", n.ID)
}

func TestResolver_FuzzyOverlap(t *testing.T) {
	t.Parallel()

	g := buildTestGraph(t, config.GraphConfig{})

	n, ok := g.Resolve("diabetes mellitus type 2 disease")
	require.True(t, ok)
	assert.Equal(t, "D001", n.ID)

	_, ok = g.Resolve("completely unrelated phrase")
	assert.False(t, ok)
}
