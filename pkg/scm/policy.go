package scm

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// Policy names.
const (
	PolicyFixed = "fixed"
	PolicyAuto  = "auto"
)

// AssignmentPolicy chooses an unfitted mechanism for a node given its
// parents and the baseline frame.
type AssignmentPolicy interface {
	Name() string
	Assign(node string, parents []string, baseline *table.Frame) (Mechanism, error)
}

// ParsePolicy resolves a policy name.
func ParsePolicy(raw string, seed int64) (AssignmentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case PolicyFixed:
		return FixedPolicy{}, nil
	case PolicyAuto:
		return AutoPolicy{Folds: 5, Seed: seed}, nil
	default:
		return nil, rcaerr.Configf("unknown mechanism policy %q", raw)
	}
}

// FixedPolicy assigns half-normal marginals to roots and linear additive
// noise models to every other node.
type FixedPolicy struct{}

func (FixedPolicy) Name() string { return PolicyFixed }

func (FixedPolicy) Assign(_ string, parents []string, _ *table.Frame) (Mechanism, error) {
	if len(parents) == 0 {
		return &RootMarginal{Dist: &HalfNormal{}}, nil
	}
	return &ConditionalRegression{Regressor: &LinearRegressor{}}, nil
}

// AutoPolicy selects root marginals by BIC and regressors by k-fold
// cross-validated squared error.
type AutoPolicy struct {
	Folds int
	Seed  int64
}

func (AutoPolicy) Name() string { return PolicyAuto }

func rootCandidates() []Distribution {
	return []Distribution{&HalfNormal{}, &Normal{}, &Exponential{}, &Uniform{}, &LogNormal{}}
}

func regressorCandidates() []Regressor {
	return []Regressor{&LinearRegressor{}, &RidgeRegressor{Lambda: 1}, &QuadraticRegressor{}}
}

func (p AutoPolicy) Assign(node string, parents []string, baseline *table.Frame) (Mechanism, error) {
	values, ok := baseline.Column(node)
	if !ok {
		return nil, rcaerr.Graphf("baseline has no column for node %s", node)
	}
	if len(parents) == 0 {
		return &RootMarginal{Dist: p.selectDistribution(values)}, nil
	}
	x, err := baseline.Matrix(parents)
	if err != nil {
		return nil, rcaerr.Graphf("node %s: %v", node, err)
	}
	return &ConditionalRegression{Regressor: p.selectRegressor(node, x, values)}, nil
}

func (p AutoPolicy) selectDistribution(values []float64) Distribution {
	if _, std := stat.PopMeanStdDev(values, nil); std == 0 || len(values) < 3 {
		return &Empirical{}
	}
	n := float64(len(values))
	var best Distribution
	bestBIC := math.Inf(1)
	for _, candidate := range rootCandidates() {
		if err := candidate.Fit(values); err != nil {
			continue
		}
		ll := candidate.LogLikelihood(values)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			continue
		}
		bic := float64(candidate.NumParams())*math.Log(n) - 2*ll
		if bic < bestBIC {
			best, bestBIC = candidate, bic
		}
	}
	if best == nil {
		return &Empirical{}
	}
	return best.Clone()
}

func (p AutoPolicy) selectRegressor(node string, x [][]float64, y []float64) Regressor {
	folds := p.Folds
	if folds > len(y) {
		folds = len(y)
	}
	if folds < 2 || len(y) < 4 {
		return &LinearRegressor{}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(node))
	rng := rand.New(rand.NewSource(p.Seed ^ int64(h.Sum64()>>1)))
	perm := rng.Perm(len(y))

	var best Regressor
	bestErr := math.Inf(1)
	for _, candidate := range regressorCandidates() {
		mse, ok := crossValidate(candidate, x, y, perm, folds)
		if ok && mse < bestErr {
			best, bestErr = candidate, mse
		}
	}
	if best == nil {
		return &LinearRegressor{}
	}
	return best.Clone()
}

func crossValidate(r Regressor, x [][]float64, y []float64, perm []int, folds int) (float64, bool) {
	total, count := 0.0, 0
	for k := 0; k < folds; k++ {
		trainX, trainY := make([][]float64, 0, len(y)), make([]float64, 0, len(y))
		testIdx := make([]int, 0, len(y)/folds+1)
		for pos, i := range perm {
			if pos%folds == k {
				testIdx = append(testIdx, i)
				continue
			}
			trainX = append(trainX, x[i])
			trainY = append(trainY, y[i])
		}
		model := r.Clone()
		if err := model.Fit(trainX, trainY); err != nil {
			return 0, false
		}
		for _, i := range testIdx {
			diff := y[i] - model.Predict(x[i])
			total += diff * diff
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return total / float64(count), true
}
