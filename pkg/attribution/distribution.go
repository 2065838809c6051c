// Package attribution decomposes the change of a target node's distribution
// between a baseline and an anomalous window into per-node contributions.
package attribution

import (
	"math/rand"
	"runtime"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/scm"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// Options tunes Attribute and DistributionChange.
type Options struct {
	Difference      DifferenceFunc
	NumResamples    int
	SampleFraction  float64
	ConfidenceLevel float64
	Seed            int64
	// GenerationSamples is the number of joint draws per characteristic
	// function evaluation.
	GenerationSamples int
	// ShapleyPermutations bounds the permutation estimate used when more
	// than exactShapleyLimit mechanisms changed.
	ShapleyPermutations int
	// ChangeAlpha is the significance level of the mechanism change test.
	// Zero attributes every ancestor of the target.
	ChangeAlpha float64
	// Workers bounds concurrent bootstrap iterations.
	Workers int
}

// DefaultOptions returns the stock attribution settings.
func DefaultOptions() Options {
	return Options{
		Difference:          MeanDifference,
		NumResamples:        2,
		SampleFraction:      0.2,
		ConfidenceLevel:     0.95,
		Seed:                42,
		GenerationSamples:   2000,
		ShapleyPermutations: 500,
		ChangeAlpha:         0.05,
		Workers:             runtime.GOMAXPROCS(0),
	}
}

func (o Options) validate() error {
	if o.Difference == nil {
		return rcaerr.Configf("difference function is required")
	}
	if o.NumResamples < 1 {
		return rcaerr.Configf("num_resamples must be >= 1, got %d", o.NumResamples)
	}
	if o.SampleFraction <= 0 || o.SampleFraction > 1 {
		return rcaerr.Configf("sample_fraction %v must be in (0, 1]", o.SampleFraction)
	}
	if o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1 {
		return rcaerr.Configf("confidence_level %v must be in (0, 1)", o.ConfidenceLevel)
	}
	if o.GenerationSamples < 1 {
		return rcaerr.Configf("generation_samples must be >= 1")
	}
	if o.ShapleyPermutations < 1 {
		return rcaerr.Configf("shapley_permutations must be >= 1")
	}
	if o.ChangeAlpha < 0 || o.ChangeAlpha >= 1 {
		return rcaerr.Configf("mechanism change alpha %v must be in [0, 1)", o.ChangeAlpha)
	}
	return nil
}

// DistributionChange fits the SCM's mechanisms separately on old and new,
// then attributes difference(target under old, target under new) to the
// nodes whose mechanisms changed via Shapley values over mechanism swaps.
// Only the target and its ancestors appear in the output; contributions sum
// to the change between the all-old and all-new models.
func DistributionChange(model *scm.SCM, old, new *table.Frame, target string, opts Options, rng *rand.Rand) (map[string]float64, error) {
	if !model.Graph.Has(target) {
		return nil, rcaerr.Shapef("target node %s is not in the causal graph", target)
	}
	old, err := model.Project(old)
	if err != nil {
		return nil, err
	}
	new, err = model.Project(new)
	if err != nil {
		return nil, err
	}
	oldFit, err := model.Fitted(old)
	if err != nil {
		return nil, err
	}
	newFit, err := model.Fitted(new)
	if err != nil {
		return nil, err
	}

	relevant := map[string]struct{}{target: {}}
	for _, a := range model.Graph.Ancestors(target) {
		relevant[a] = struct{}{}
	}
	nodes := make([]string, 0, len(relevant))
	for _, n := range model.Order {
		if _, ok := relevant[n]; ok {
			nodes = append(nodes, n)
		}
	}

	changed := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if opts.ChangeAlpha == 0 {
			changed = append(changed, node)
			continue
		}
		oldMech, _ := oldFit.Mechanism(node)
		ok, err := mechanismChanged(node, model.Parents(node), oldMech, old, new, opts.ChangeAlpha)
		if err != nil {
			return nil, err
		}
		if ok {
			changed = append(changed, node)
		}
	}

	out := make(map[string]float64, len(nodes))
	for _, node := range nodes {
		out[node] = 0
	}
	if len(changed) == 0 {
		return out, nil
	}

	uniforms := scm.Uniforms(rng, nodes, opts.GenerationSamples)
	player := make(map[string]int, len(changed))
	for i, node := range changed {
		player[node] = i
	}
	draw := func(coalition uint64) []float64 {
		samples := scm.Propagate(nodes, model.Parents, func(node string) scm.Mechanism {
			if i, ok := player[node]; ok && coalition&(1<<uint(i)) != 0 {
				m, _ := newFit.Mechanism(node)
				return m
			}
			m, _ := oldFit.Mechanism(node)
			return m
		}, uniforms)
		return samples[target]
	}
	reference := draw(0)
	value := func(coalition uint64) float64 {
		return opts.Difference(reference, draw(coalition))
	}

	shares, err := shapley(len(changed), value, opts.ShapleyPermutations, rng)
	if err != nil {
		return nil, err
	}
	for i, node := range changed {
		out[node] = shares[i]
	}
	return out, nil
}
