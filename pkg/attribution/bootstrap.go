package attribution

import (
	"context"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Estimator computes one bootstrap estimate of per-node contributions using
// the iteration-owned rng.
type Estimator func(ctx context.Context, rng *rand.Rand) (map[string]float64, error)

// ConfidenceIntervals runs estimate numResamples times and summarizes each
// node by its median and the two-sided interval at level. Iteration i is
// seeded with seed+i, so results do not depend on worker scheduling.
// Summaries are computed only after every iteration completes.
func ConfidenceIntervals(
	ctx context.Context,
	estimate Estimator,
	numResamples int,
	level float64,
	seed int64,
	workers int,
) (map[string]Contribution, error) {
	if numResamples < 1 {
		return nil, rcaerr.Configf("num_resamples must be >= 1, got %d", numResamples)
	}
	if workers < 1 {
		workers = 1
	}

	estimates := make([]map[string]float64, numResamples)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := 0; i < numResamples; i++ {
		i := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seed + int64(i)))
			est, err := estimate(groupCtx, rng)
			if err != nil {
				return err
			}
			estimates[i] = est
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	samples := make(map[string][]float64)
	for _, est := range estimates {
		for node, v := range est {
			samples[node] = append(samples[node], v)
		}
	}
	tail := (1 - level) / 2
	out := make(map[string]Contribution, len(samples))
	for node, values := range samples {
		// Nodes missing from some iterations contributed nothing there.
		for len(values) < numResamples {
			values = append(values, 0)
		}
		sort.Float64s(values)
		out[node] = Contribution{
			Median: quantile(values, 0.5),
			Lower:  quantile(values, tail),
			Upper:  quantile(values, 1-tail),
		}
	}
	return out, nil
}
