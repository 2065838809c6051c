package attribution

import (
	"math"
	"sort"
)

// Contribution is the bootstrap summary of one node's attribution.
type Contribution struct {
	Median float64
	Lower  float64
	Upper  float64
}

// Result maps graph nodes to their contribution to the change at Target.
type Result struct {
	Target        string
	Resamples     int
	Contributions map[string]Contribution
}

// Nodes returns nodes ranked by absolute median contribution, ties by name.
func (r *Result) Nodes() []string {
	out := make([]string, 0, len(r.Contributions))
	for node := range r.Contributions {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool {
		a := math.Abs(r.Contributions[out[i]].Median)
		b := math.Abs(r.Contributions[out[j]].Median)
		if a == b {
			return out[i] < out[j]
		}
		return a > b
	})
	return out
}

// Top returns the node with the largest absolute median contribution.
func (r *Result) Top() (string, bool) {
	nodes := r.Nodes()
	if len(nodes) == 0 {
		return "", false
	}
	return nodes[0], true
}

// TotalChange is the sum of median contributions.
func (r *Result) TotalChange() float64 {
	total := 0.0
	for _, c := range r.Contributions {
		total += c.Median
	}
	return total
}

// PercentContributions normalizes absolute medians to percent of their sum.
// All values are zero when every median is zero.
func PercentContributions(r *Result) map[string]float64 {
	total := 0.0
	for _, c := range r.Contributions {
		total += math.Abs(c.Median)
	}
	out := make(map[string]float64, len(r.Contributions))
	for node, c := range r.Contributions {
		if total == 0 {
			out[node] = 0
			continue
		}
		out[node] = math.Abs(c.Median) / total * 100
	}
	return out
}

// Significant keeps the nodes whose percent contribution exceeds floor.
func Significant(percent map[string]float64, floor float64) map[string]float64 {
	out := make(map[string]float64)
	for node, pct := range percent {
		if pct > floor {
			out[node] = pct
		}
	}
	return out
}
