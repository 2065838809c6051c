// Package scm builds structural causal models over a causal graph: one
// mechanism per node, fitted to a frame with one column per node.
package scm

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// uniformFloor keeps inverse-transform draws away from the open interval ends.
const uniformFloor = 1e-12

// SCM is a causal graph with a mechanism assigned to every node.
type SCM struct {
	Graph      *graph.CausalGraph
	Order      []string
	Policy     string
	parents    map[string][]string
	mechanisms map[string]Mechanism
	fitted     bool
}

// Build validates the graph against the baseline frame and assigns a
// mechanism to every node with policy. Mechanisms are returned unfitted;
// use Fitted to obtain a model trained on a frame.
func Build(g *graph.CausalGraph, policy AssignmentPolicy, baseline *table.Frame, logger *zap.Logger) (*SCM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		return nil, rcaerr.Configf("mechanism policy is required")
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for _, node := range order {
		if !baseline.Has(node) {
			return nil, rcaerr.Graphf("baseline has no column for graph node %s", node)
		}
	}
	projected, err := baseline.Project(order)
	if err != nil {
		return nil, rcaerr.Graphf("%v", err)
	}
	complete := projected.DropIncomplete()
	if complete.Len() == 0 {
		return nil, rcaerr.Dataf("baseline has no complete rows")
	}

	s := &SCM{
		Graph:      g,
		Order:      order,
		Policy:     policy.Name(),
		parents:    make(map[string][]string, len(order)),
		mechanisms: make(map[string]Mechanism, len(order)),
	}
	for _, node := range order {
		parents := g.Predecessors(node)
		mech, err := policy.Assign(node, parents, complete)
		if err != nil {
			return nil, err
		}
		s.parents[node] = parents
		s.mechanisms[node] = mech
		logger.Debug("assigned causal mechanism",
			zap.String("node", node),
			zap.Strings("parents", parents),
			zap.String("mechanism", mech.Name()),
			zap.String("policy", policy.Name()),
		)
	}
	return s, nil
}

// Parents returns the parents of node.
func (s *SCM) Parents(node string) []string { return s.parents[node] }

// Mechanism returns the mechanism assigned to node.
func (s *SCM) Mechanism(node string) (Mechanism, bool) {
	m, ok := s.mechanisms[node]
	return m, ok
}

// IsFitted reports whether the mechanisms were trained.
func (s *SCM) IsFitted() bool { return s.fitted }

// Describe maps every node to its mechanism name.
func (s *SCM) Describe() map[string]string {
	out := make(map[string]string, len(s.mechanisms))
	for node, m := range s.mechanisms {
		out[node] = m.Name()
	}
	return out
}

// Fitted clones the assignment and fits every mechanism on frame. Columns
// outside the graph are ignored, and so are their missing values.
func (s *SCM) Fitted(frame *table.Frame) (*SCM, error) {
	projected, err := frame.Project(s.Order)
	if err != nil {
		return nil, rcaerr.Graphf("%v", err)
	}
	complete := projected.DropIncomplete()
	if complete.Len() == 0 {
		return nil, rcaerr.Dataf("frame has no complete rows")
	}
	out := &SCM{
		Graph:      s.Graph,
		Order:      s.Order,
		Policy:     s.Policy,
		parents:    s.parents,
		mechanisms: make(map[string]Mechanism, len(s.mechanisms)),
		fitted:     true,
	}
	for _, node := range s.Order {
		values, ok := complete.Column(node)
		if !ok {
			return nil, rcaerr.Graphf("frame has no column for graph node %s", node)
		}
		mech := s.mechanisms[node].Clone()
		var parents [][]float64
		if len(s.parents[node]) > 0 {
			m, err := complete.Matrix(s.parents[node])
			if err != nil {
				return nil, rcaerr.Graphf("node %s: %v", node, err)
			}
			parents = m
		}
		if err := mech.Fit(parents, values); err != nil {
			return nil, rcaerr.Dataf("fit mechanism %s for node %s: %v", mech.Name(), node, err)
		}
		out.mechanisms[node] = mech
	}
	return out, nil
}

// Project restricts frame to the graph nodes and drops rows missing any of
// them.
func (s *SCM) Project(frame *table.Frame) (*table.Frame, error) {
	projected, err := frame.Project(s.Order)
	if err != nil {
		return nil, rcaerr.Graphf("%v", err)
	}
	return projected.DropIncomplete(), nil
}

// Uniforms draws n exogenous uniforms per node in graph order.
func Uniforms(rng *rand.Rand, nodes []string, n int) map[string][]float64 {
	out := make(map[string][]float64, len(nodes))
	for _, node := range nodes {
		u := make([]float64, n)
		for i := range u {
			v := rng.Float64()
			if v < uniformFloor {
				v = uniformFloor
			}
			if v > 1-uniformFloor {
				v = 1 - uniformFloor
			}
			u[i] = v
		}
		out[node] = u
	}
	return out
}

// Propagate evaluates nodes in order, drawing each from the mechanism pick
// returns for it. nodes must be closed under parents and topologically sorted.
func Propagate(
	nodes []string,
	parents func(string) []string,
	pick func(string) Mechanism,
	uniforms map[string][]float64,
) map[string][]float64 {
	out := make(map[string][]float64, len(nodes))
	for _, node := range nodes {
		u := uniforms[node]
		mech := pick(node)
		ps := parents(node)
		values := make([]float64, len(u))
		row := make([]float64, len(ps))
		for i := range u {
			for j, p := range ps {
				row[j] = out[p][i]
			}
			values[i] = mech.Draw(row, u[i])
		}
		out[node] = values
	}
	return out
}

// Sample draws n joint samples from a fitted SCM.
func (s *SCM) Sample(rng *rand.Rand, n int) (map[string][]float64, error) {
	if !s.fitted {
		return nil, rcaerr.Configf("scm must be fitted before sampling")
	}
	u := Uniforms(rng, s.Order, n)
	return Propagate(s.Order, s.Parents, func(node string) Mechanism { return s.mechanisms[node] }, u), nil
}
