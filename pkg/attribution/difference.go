package attribution

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// DifferenceFunc summarizes how different new is from old as one number.
type DifferenceFunc func(old, new []float64) float64

// MeanDifference is mean(new) - mean(old).
func MeanDifference(old, new []float64) float64 {
	return stat.Mean(new, nil) - stat.Mean(old, nil)
}

// MedianDifference is median(new) - median(old).
func MedianDifference(old, new []float64) float64 {
	return sortedMedian(new) - sortedMedian(old)
}

func sortedMedian(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return quantile(sorted, 0.5)
}

// ParseDifference resolves a difference function by name.
func ParseDifference(raw string) (DifferenceFunc, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "mean":
		return MeanDifference, nil
	case "median":
		return MedianDifference, nil
	default:
		return nil, rcaerr.Configf("unknown difference function %q", raw)
	}
}

// quantile is the linearly interpolated p-quantile of sorted values, using
// the (n-1)p position convention.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(h)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
