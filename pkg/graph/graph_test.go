package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

func chain() *CausalGraph {
	return FromEdges([]Edge{
		{Source: "payment", Target: "checkout"},
		{Source: "checkout", Target: "frontend"},
		{Source: "catalog", Target: "frontend"},
	})
}

func TestTopologicalOrderPlacesParentsFirst(t *testing.T) {
	order, err := chain().TopologicalOrder()
	require.NoError(t, err)
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos["payment"], pos["checkout"])
	assert.Less(t, pos["checkout"], pos["frontend"])
	assert.Less(t, pos["catalog"], pos["frontend"])
}

func TestCycleIsGraphError(t *testing.T) {
	g := FromEdges([]Edge{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	err := g.Validate()
	assert.ErrorIs(t, err, rcaerr.ErrGraph)

	loop := New()
	loop.AddEdge("a", "a")
	assert.ErrorIs(t, loop.Validate(), rcaerr.ErrGraph)
}

func TestPredecessorsAndAncestors(t *testing.T) {
	g := chain()
	assert.Equal(t, []string{"catalog", "checkout"}, g.Predecessors("frontend"))
	assert.Equal(t, []string{"catalog", "checkout", "payment"}, g.Ancestors("frontend"))
	assert.True(t, g.IsRoot("payment"))
	assert.False(t, g.IsRoot("checkout"))
	assert.Nil(t, g.Predecessors("unknown"))
}

func TestNodeLinkRoundTripPreservesStructure(t *testing.T) {
	g := chain()
	g.AddNode("isolated")
	data, err := MarshalNodeLink(g)
	require.NoError(t, err)

	decoded, err := UnmarshalNodeLink(data)
	require.NoError(t, err)
	assert.Equal(t, g.Nodes(), decoded.Nodes())
	assert.Equal(t, g.Edges(), decoded.Edges())
}

func TestUnmarshalAcceptsEdgesKeyAndNumericIDs(t *testing.T) {
	doc := `{"directed": true, "multigraph": false, "graph": {},
		"nodes": [{"id": 1}, {"id": "b"}],
		"edges": [{"source": 1, "target": "b"}]}`
	g, err := UnmarshalNodeLink([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []Edge{{Source: "1", Target: "b"}}, g.Edges())
}

func TestReversedFlipsEdges(t *testing.T) {
	g := FromEdges([]Edge{{"frontend", "checkout"}})
	assert.Equal(t, []Edge{{Source: "checkout", Target: "frontend"}}, g.Reversed().Edges())
}
