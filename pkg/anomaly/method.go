// Package anomaly fits per-entity baseline detectors and scores metric
// tables against them.
package anomaly

import (
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Method names a detection method.
type Method string

const (
	MethodIsolationForest  Method = "isolation_forest"
	MethodRobustCovariance Method = "robust_covariance"
	MethodZScore           Method = "z_score"
)

// ZScoreColumnPrefix prefixes per-metric breakdown columns of z-score tables.
const ZScoreColumnPrefix = "z_score__"

// ParseMethod validates a method name.
func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(raw))) {
	case MethodIsolationForest:
		return MethodIsolationForest, nil
	case MethodRobustCovariance:
		return MethodRobustCovariance, nil
	case MethodZScore:
		return MethodZScore, nil
	default:
		return "", rcaerr.Configf("unknown detection method %q", raw)
	}
}

// SupportedMethods lists accepted method names.
func SupportedMethods() []string {
	return []string{string(MethodIsolationForest), string(MethodRobustCovariance), string(MethodZScore)}
}

// Params tunes the detectors.
type Params struct {
	// Contamination is the expected outlier share used to derive flag offsets.
	Contamination float64
	Seed          int64
	NumTrees      int
	MaxSamples    int
	// ZScoreThreshold flags z-score rows whose maximum |z| exceeds it.
	ZScoreThreshold float64
	// MCDStarts is the number of random starts of the robust covariance search.
	MCDStarts int
}

// DefaultParams returns the stock detector settings.
func DefaultParams() Params {
	return Params{
		Contamination:   0.1,
		Seed:            42,
		NumTrees:        100,
		MaxSamples:      256,
		ZScoreThreshold: 3.0,
		MCDStarts:       10,
	}
}

func (p Params) validate() error {
	if p.Contamination <= 0 || p.Contamination >= 0.5 {
		return rcaerr.Configf("contamination %v must be in (0, 0.5)", p.Contamination)
	}
	if p.NumTrees < 1 {
		return rcaerr.Configf("num_trees must be >= 1")
	}
	if p.MaxSamples < 2 {
		return rcaerr.Configf("max_samples must be >= 2")
	}
	if p.MCDStarts < 1 {
		return rcaerr.Configf("mcd starts must be >= 1")
	}
	return nil
}
