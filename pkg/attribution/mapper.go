package attribution

import (
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

// BuildFindings converts a result into report findings ranked by absolute
// median contribution. Nodes above floor percent are marked significant.
func BuildFindings(metric string, r *Result, floor float64) []schema.Finding {
	percent := PercentContributions(r)
	out := make([]schema.Finding, 0, len(r.Contributions))
	for _, node := range r.Nodes() {
		c := r.Contributions[node]
		out = append(out, schema.Finding{
			Metric:              metric,
			Node:                node,
			MedianContribution:  c.Median,
			IntervalLower:       c.Lower,
			IntervalUpper:       c.Upper,
			PercentContribution: percent[node],
			Significant:         percent[node] > floor,
		})
	}
	return out
}
