// Package graph stores the causal DAG over service entities.
package graph

import (
	"sort"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Edge is a directed causal edge: Source influences Target.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// CausalGraph is a directed graph whose nodes are entity names. Construction
// accepts cycles; they are rejected by TopologicalOrder and Validate.
type CausalGraph struct {
	g         *simple.DirectedGraph
	ids       map[string]int64
	names     map[int64]string
	selfLoops []string
}

// New returns an empty graph.
func New() *CausalGraph {
	return &CausalGraph{
		g:     simple.NewDirectedGraph(),
		ids:   make(map[string]int64),
		names: make(map[int64]string),
	}
}

// FromEdges builds a graph from an edge list.
func FromEdges(edges []Edge) *CausalGraph {
	c := New()
	for _, e := range edges {
		c.AddEdge(e.Source, e.Target)
	}
	return c
}

// AddNode inserts a node if it is not already present.
func (c *CausalGraph) AddNode(name string) {
	c.id(name)
}

func (c *CausalGraph) id(name string) int64 {
	if id, ok := c.ids[name]; ok {
		return id
	}
	id := int64(len(c.ids))
	c.ids[name] = id
	c.names[id] = name
	c.g.AddNode(simple.Node(id))
	return id
}

// AddEdge inserts both endpoints and the edge source → target.
func (c *CausalGraph) AddEdge(source, target string) {
	from := c.id(source)
	to := c.id(target)
	if from == to {
		for _, n := range c.selfLoops {
			if n == source {
				return
			}
		}
		c.selfLoops = append(c.selfLoops, source)
		return
	}
	c.g.SetEdge(c.g.NewEdge(simple.Node(from), simple.Node(to)))
}

// Has reports whether name is a node of the graph.
func (c *CausalGraph) Has(name string) bool {
	_, ok := c.ids[name]
	return ok
}

// Len returns the number of nodes.
func (c *CausalGraph) Len() int { return len(c.ids) }

// Nodes returns node names sorted.
func (c *CausalGraph) Nodes() []string {
	out := make([]string, 0, len(c.ids))
	for name := range c.ids {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Edges returns all edges sorted by source then target.
func (c *CausalGraph) Edges() []Edge {
	out := make([]Edge, 0)
	edges := c.g.Edges()
	for edges.Next() {
		e := edges.Edge()
		out = append(out, Edge{Source: c.names[e.From().ID()], Target: c.names[e.To().ID()]})
	}
	for _, n := range c.selfLoops {
		out = append(out, Edge{Source: n, Target: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source == out[j].Source {
			return out[i].Target < out[j].Target
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// Predecessors returns the direct parents of name, sorted.
func (c *CausalGraph) Predecessors(name string) []string {
	id, ok := c.ids[name]
	if !ok {
		return nil
	}
	return c.collect(c.g.To(id))
}

// Successors returns the direct children of name, sorted.
func (c *CausalGraph) Successors(name string) []string {
	id, ok := c.ids[name]
	if !ok {
		return nil
	}
	return c.collect(c.g.From(id))
}

// IsRoot reports whether name has no parents.
func (c *CausalGraph) IsRoot(name string) bool {
	return len(c.Predecessors(name)) == 0
}

// Ancestors returns every node with a directed path to name, sorted.
func (c *CausalGraph) Ancestors(name string) []string {
	if !c.Has(name) {
		return nil
	}
	seen := map[string]struct{}{}
	queue := c.Predecessors(name)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok || next == name {
			continue
		}
		seen[next] = struct{}{}
		queue = append(queue, c.Predecessors(next)...)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TopologicalOrder returns nodes so that every parent precedes its children.
// Ties are broken by name so the order is stable across runs.
func (c *CausalGraph) TopologicalOrder() ([]string, error) {
	if len(c.selfLoops) > 0 {
		return nil, rcaerr.Graphf("graph has a self loop on %q", c.selfLoops[0])
	}
	sorted, err := topo.SortStabilized(c.g, func(nodes []gonumgraph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return c.names[nodes[i].ID()] < c.names[nodes[j].ID()]
		})
	})
	if err != nil {
		if cycles, ok := err.(topo.Unorderable); ok && len(cycles) > 0 {
			members := make([]string, 0, len(cycles[0]))
			for _, n := range cycles[0] {
				members = append(members, c.names[n.ID()])
			}
			sort.Strings(members)
			return nil, rcaerr.Graphf("graph is not acyclic: cycle among %v", members)
		}
		return nil, rcaerr.Graphf("graph is not acyclic: %v", err)
	}
	out := make([]string, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, c.names[n.ID()])
	}
	return out, nil
}

// Validate fails with ErrGraph when the graph contains a cycle.
func (c *CausalGraph) Validate() error {
	_, err := c.TopologicalOrder()
	return err
}

// Reversed returns a copy with every edge direction flipped.
func (c *CausalGraph) Reversed() *CausalGraph {
	out := New()
	for _, n := range c.Nodes() {
		out.AddNode(n)
	}
	for _, e := range c.Edges() {
		out.AddEdge(e.Target, e.Source)
	}
	return out
}

func (c *CausalGraph) collect(it gonumgraph.Nodes) []string {
	out := make([]string, 0, it.Len())
	for it.Next() {
		out = append(out, c.names[it.Node().ID()])
	}
	sort.Strings(out)
	return out
}
