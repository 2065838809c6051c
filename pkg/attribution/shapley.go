package attribution

import (
	"math/bits"
	"math/rand"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

const (
	// exactShapleyLimit is the largest player count enumerated exactly.
	exactShapleyLimit = 10
	maxPlayers        = 63
)

// shapley returns the Shapley value of each of n players under the
// characteristic function v over coalition bitmasks. v is memoized.
func shapley(n int, v func(uint64) float64, permutations int, rng *rand.Rand) ([]float64, error) {
	if n > maxPlayers {
		return nil, rcaerr.Configf("%d changed mechanisms exceed the supported %d", n, maxPlayers)
	}
	cache := make(map[uint64]float64)
	eval := func(mask uint64) float64 {
		if value, ok := cache[mask]; ok {
			return value
		}
		value := v(mask)
		cache[mask] = value
		return value
	}
	if n <= exactShapleyLimit {
		return exactShapley(n, eval), nil
	}
	return sampledShapley(n, eval, permutations, rng), nil
}

func exactShapley(n int, v func(uint64) float64) []float64 {
	factorial := make([]float64, n+1)
	factorial[0] = 1
	for i := 1; i <= n; i++ {
		factorial[i] = factorial[i-1] * float64(i)
	}
	out := make([]float64, n)
	full := uint64(1)<<uint(n) - 1
	for mask := uint64(0); mask <= full; mask++ {
		size := bits.OnesCount64(mask)
		for i := 0; i < n; i++ {
			bit := uint64(1) << uint(i)
			if mask&bit != 0 {
				continue
			}
			weight := factorial[size] * factorial[n-size-1] / factorial[n]
			out[i] += weight * (v(mask|bit) - v(mask))
		}
	}
	return out
}

// sampledShapley averages marginal contributions over random orderings.
// Every ordering telescopes to v(all) - v(∅), so the estimate keeps the
// efficiency property exactly.
func sampledShapley(n int, v func(uint64) float64, permutations int, rng *rand.Rand) []float64 {
	out := make([]float64, n)
	for p := 0; p < permutations; p++ {
		mask := uint64(0)
		prev := v(mask)
		for _, i := range rng.Perm(n) {
			mask |= uint64(1) << uint(i)
			cur := v(mask)
			out[i] += cur - prev
			prev = cur
		}
	}
	for i := range out {
		out[i] /= float64(permutations)
	}
	return out
}
