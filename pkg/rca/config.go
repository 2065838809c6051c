// Package rca orchestrates anomaly scoring and distribution-change
// attribution into complete root cause analysis runs.
package rca

import (
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/anomaly"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/scm"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/toolkitcfg"
)

// Strategy names an orchestration strategy.
type Strategy string

const (
	StrategyDirect     Strategy = "direct"
	StrategyAggregated Strategy = "aggregated"
	StrategyPerMetric  Strategy = "per_metric"
)

// ParseStrategy accepts the strategy names with either _ or - separators.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")) {
	case StrategyDirect:
		return StrategyDirect, nil
	case StrategyAggregated:
		return StrategyAggregated, nil
	case StrategyPerMetric:
		return StrategyPerMetric, nil
	default:
		return "", rcaerr.Configf("unknown strategy %q", raw)
	}
}

// StrategyConfig is the mechanism policy and bootstrap size of one strategy.
type StrategyConfig struct {
	Policy       string
	NumResamples int
}

// AggregatedConfig tunes the aggregate-then-attribute strategy.
type AggregatedConfig struct {
	StrategyConfig
	DetectionMethod anomaly.Method
}

// PerMetricConfig tunes the attribute-per-metric strategy.
type PerMetricConfig struct {
	StrategyConfig
	// ZThreshold flags a metric when any entity's mean |z| exceeds it.
	ZThreshold float64
	// FloorPct keeps only nodes whose percent contribution exceeds it.
	FloorPct float64
	// Parallel attributes flagged metrics concurrently.
	Parallel bool
}

// Config holds the settings of every strategy.
type Config struct {
	Metrics     []string
	Detection   anomaly.Params
	Attribution attribution.Options
	Direct      StrategyConfig
	Aggregated  AggregatedConfig
	PerMetric   PerMetricConfig
}

// DefaultConfig mirrors toolkitcfg.Default.
func DefaultConfig() Config {
	cfg, err := FromToolkit(toolkitcfg.Default())
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromToolkit converts a loaded toolkit config.
func FromToolkit(tc toolkitcfg.ToolkitConfig) (Config, error) {
	opts, err := tc.AttributionOptions(tc.Direct.NumResamples)
	if err != nil {
		return Config{}, err
	}
	method, err := anomaly.ParseMethod(tc.Aggregated.DetectionMethod)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Metrics:     append([]string(nil), tc.Metrics...),
		Detection:   tc.AnomalyParams(),
		Attribution: opts,
		Direct: StrategyConfig{
			Policy:       tc.Direct.Policy,
			NumResamples: tc.Direct.NumResamples,
		},
		Aggregated: AggregatedConfig{
			StrategyConfig: StrategyConfig{
				Policy:       tc.Aggregated.Policy,
				NumResamples: tc.Aggregated.NumResamples,
			},
			DetectionMethod: method,
		},
		PerMetric: PerMetricConfig{
			StrategyConfig: StrategyConfig{
				Policy:       tc.PerMetric.Policy,
				NumResamples: tc.PerMetric.NumResamples,
			},
			ZThreshold: tc.PerMetric.ZThreshold,
			FloorPct:   tc.PerMetric.ContributionFloorPct,
			Parallel:   tc.PerMetric.Parallel,
		},
	}, nil
}

// options returns the attribution options of a strategy.
func (c Config) options(s StrategyConfig) attribution.Options {
	opts := c.Attribution
	opts.NumResamples = s.NumResamples
	return opts
}

// policy resolves the assignment policy of a strategy, seeded from the
// attribution seed.
func (c Config) policy(s StrategyConfig) (scm.AssignmentPolicy, error) {
	return scm.ParsePolicy(s.Policy, c.Attribution.Seed)
}
