package monitoring

import (
	"fmt"
	"sort"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
)

// Call is an observed caller to callee dependency.
type Call struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// Topology is the service dependency map of an application.
type Topology struct {
	Services []string `json:"services"`
	Calls    []Call   `json:"calls"`
}

// CausalGraph converts the topology into a causal graph. With reverse set,
// every call becomes a callee -> caller edge, since a degraded dependency
// shows up in its callers' metrics.
func (t *Topology) CausalGraph(reverse bool) *graph.CausalGraph {
	g := graph.New()
	for _, s := range t.Services {
		g.AddNode(s)
	}
	for _, c := range t.Calls {
		if reverse {
			g.AddEdge(c.Callee, c.Caller)
			continue
		}
		g.AddEdge(c.Caller, c.Callee)
	}
	return g
}

type flowMapEntity struct {
	EntityID int64 `json:"entityId"`
}

type flowMap struct {
	Nodes []struct {
		ID         int64  `json:"idNum"`
		Name       string `json:"name"`
		EntityType string `json:"entityType"`
	} `json:"nodes"`
	Edges []struct {
		Source flowMapEntity `json:"sourceNodeDefinition"`
		Target flowMapEntity `json:"targetNodeDefinition"`
	} `json:"edges"`
}

func (f flowMap) topology() (*Topology, error) {
	names := make(map[int64]string, len(f.Nodes))
	t := &Topology{}
	for _, n := range f.Nodes {
		names[n.ID] = n.Name
		t.Services = append(t.Services, n.Name)
	}
	sort.Strings(t.Services)
	for _, e := range f.Edges {
		caller, ok := names[e.Source.EntityID]
		if !ok {
			return nil, fmt.Errorf("flow map edge references unknown entity %d", e.Source.EntityID)
		}
		callee, ok := names[e.Target.EntityID]
		if !ok {
			return nil, fmt.Errorf("flow map edge references unknown entity %d", e.Target.EntityID)
		}
		t.Calls = append(t.Calls, Call{Caller: caller, Callee: callee})
	}
	return t, nil
}
