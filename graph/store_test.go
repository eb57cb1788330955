package graph

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/medflow/config"
)

const nodesTSV = `id	name	kind	synonyms
D001	Type 2 Diabetes	Disease	T2DM|diabetes mellitus type 2
C001	Metformin	Drug
S001	Polyuria	Symptom
# comment line
`

const edgesTSV = `source	relation	target	weight	dataset	pmid
C001	treats	D001	0.95	hetionet	PMID:12345
D001	presents	S001	0.8	hetionet
C001	treats	MISSING	0.5
`

func TestLoadTSV(t *testing.T) {
	t.Parallel()

	g := New(config.GraphConfig{}, nil)

	n, err := LoadNodesTSV(g, strings.NewReader(nodesTSV))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, g.NodeCount())

	loaded, skipped, err := LoadEdgesTSV(g, strings.NewReader(edgesTSV))
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 1, skipped, "edge to unknown node is skipped, not fatal")
	assert.Equal(t, 2, g.EdgeCount())

	node, ok := g.Resolve("t2dm")
	require.True(t, ok)
	assert.Equal(t, "D001", node.ID)

	paths, err := g.Traverse(context.Background(), []string{"C001"}, nil, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.InDelta(t, 0.95, paths[0].Confidence, 1e-9)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "graph.db")
	store, err := OpenStore(dbPath, nil)
	require.NoError(t, err)

	src := New(config.GraphConfig{}, nil)
	_, err = LoadNodesTSV(src, strings.NewReader(nodesTSV))
	require.NoError(t, err)
	_, _, err = LoadEdgesTSV(src, strings.NewReader(edgesTSV))
	require.NoError(t, err)

	require.NoError(t, store.Save(src))

	dst := New(config.GraphConfig{}, nil)
	require.NoError(t, store.Load(dst))

	assert.Equal(t, src.NodeCount(), dst.NodeCount())
	assert.Equal(t, src.EdgeCount(), dst.EdgeCount())

	// synonyms and provenance survive the round trip
	node, ok := dst.Resolve("diabetes mellitus type 2")
	require.True(t, ok)
	assert.Equal(t, "D001", node.ID)

	paths, err := dst.Traverse(context.Background(), []string{"C001"}, []RelationType{RelTreats}, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "Metformin -treats-> Type 2 Diabetes", paths[0].String())
}

func TestStore_SaveReplacesPrevious(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "graph.db")
	store, err := OpenStore(dbPath, nil)
	require.NoError(t, err)

	first := New(config.GraphConfig{}, nil)
	first.AddNode(Node{ID: "a", Name: "A", Kind: KindDrug})
	first.AddNode(Node{ID: "b", Name: "B", Kind: KindDisease})
	require.NoError(t, first.AddEdge(Edge{Source: "a", Target: "b", Relation: RelTreats, Weight: 1}))
	require.NoError(t, store.Save(first))

	second := New(config.GraphConfig{}, nil)
	second.AddNode(Node{ID: "c", Name: "C", Kind: KindGene})
	require.NoError(t, store.Save(second))

	loaded := New(config.GraphConfig{}, nil)
	require.NoError(t, store.Load(loaded))
	assert.Equal(t, 1, loaded.NodeCount())
	assert.Equal(t, 0, loaded.EdgeCount())
}
