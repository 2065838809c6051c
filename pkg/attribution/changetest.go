package attribution

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/scm"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// ksPValue is the asymptotic two-sample Kolmogorov-Smirnov p-value.
func ksPValue(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1
	}
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)
	d := stat.KolmogorovSmirnov(x, nil, y, nil)
	n, m := float64(len(x)), float64(len(y))
	en := math.Sqrt(n * m / (n + m))
	return kolmogorovSurvival((en + 0.12 + 0.11/en) * d)
}

// kolmogorovSurvival is Q(λ) = 2 Σ (-1)^(k-1) exp(-2k²λ²).
func kolmogorovSurvival(lambda float64) float64 {
	if lambda < 0.2 {
		return 1
	}
	sum, sign := 0.0, 1.0
	for k := 1; k <= 100; k++ {
		term := sign * 2 * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	return math.Min(math.Max(sum, 0), 1)
}

// mechanismChanged tests whether the exogenous part of node differs between
// the two frames under the baseline mechanism.
func mechanismChanged(node string, parents []string, oldMech scm.Mechanism, oldFrame, newFrame *table.Frame, alpha float64) (bool, error) {
	oldRes, err := residuals(node, parents, oldMech, oldFrame)
	if err != nil {
		return false, err
	}
	newRes, err := residuals(node, parents, oldMech, newFrame)
	if err != nil {
		return false, err
	}
	return ksPValue(oldRes, newRes) < alpha, nil
}

func residuals(node string, parents []string, mech scm.Mechanism, frame *table.Frame) ([]float64, error) {
	values, _ := frame.Column(node)
	var x [][]float64
	if len(parents) > 0 {
		m, err := frame.Matrix(parents)
		if err != nil {
			return nil, err
		}
		x = m
	}
	return mech.Residuals(x, values), nil
}
