package attribution

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/scm"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// Attribute bootstraps DistributionChange: every iteration draws independent
// subsamples of SampleFraction from baseline and anomalous, and the result
// reports the median and interval of each node's contribution.
func Attribute(
	ctx context.Context,
	model *scm.SCM,
	baseline *table.Frame,
	anomalous *table.Frame,
	target string,
	opts Options,
	logger *zap.Logger,
) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !model.Graph.Has(target) {
		return nil, rcaerr.Shapef("target node %s is not in the causal graph", target)
	}
	for _, node := range model.Order {
		if !baseline.Has(node) {
			return nil, rcaerr.Graphf("baseline has no column for graph node %s", node)
		}
		if !anomalous.Has(node) {
			return nil, rcaerr.Graphf("anomalous sample has no column for graph node %s", node)
		}
	}
	baseline, err := model.Project(baseline)
	if err != nil {
		return nil, err
	}
	anomalous, err = model.Project(anomalous)
	if err != nil {
		return nil, err
	}
	if _, err := table.SampleSize(baseline.Len(), opts.SampleFraction); err != nil {
		return nil, err
	}
	if _, err := table.SampleSize(anomalous.Len(), opts.SampleFraction); err != nil {
		return nil, err
	}

	started := time.Now()
	estimate := func(_ context.Context, rng *rand.Rand) (map[string]float64, error) {
		oldSample, err := baseline.Sample(rng, opts.SampleFraction)
		if err != nil {
			return nil, err
		}
		newSample, err := anomalous.Sample(rng, opts.SampleFraction)
		if err != nil {
			return nil, err
		}
		return DistributionChange(model, oldSample, newSample, target, opts, rng)
	}
	contributions, err := ConfidenceIntervals(ctx, estimate, opts.NumResamples, opts.ConfidenceLevel, opts.Seed, opts.Workers)
	if err != nil {
		return nil, err
	}

	logger.Debug("distribution change attributed",
		zap.String("target", target),
		zap.String("policy", model.Policy),
		zap.Int("resamples", opts.NumResamples),
		zap.Float64("sample_fraction", opts.SampleFraction),
		zap.Duration("elapsed", time.Since(started)),
	)
	return &Result{Target: target, Resamples: opts.NumResamples, Contributions: contributions}, nil
}

// MatrixKey represents one expected/predicted root cause pair in confusion
// matrix output.
type MatrixKey struct {
	Actual    string
	Predicted string
}

// Outcome pairs the expected root cause of a labelled run with the node the
// attribution ranked first.
type Outcome struct {
	Scenario  string
	Expected  string
	Predicted string
}

// BuildConfusionMatrix returns counts keyed by expected/predicted root cause.
func BuildConfusionMatrix(outcomes []Outcome) map[MatrixKey]int {
	matrix := make(map[MatrixKey]int)
	for _, o := range outcomes {
		predicted := o.Predicted
		if predicted == "" {
			predicted = "none"
		}
		matrix[MatrixKey{Actual: o.Expected, Predicted: predicted}]++
	}
	return matrix
}

// Accuracy returns the share of outcomes whose prediction matched, in [0,1].
func Accuracy(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	correct := 0
	for _, o := range outcomes {
		if o.Expected == o.Predicted {
			correct++
		}
	}
	return float64(correct) / float64(len(outcomes))
}
