package anomaly

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

const maxConcentrationSteps = 30

// robustEnvelope is a minimum covariance determinant estimate of location and
// scatter. Points are scored by squared Mahalanobis distance.
type robustEnvelope struct {
	location []float64
	chol     mat.Cholesky
}

func fitRobustEnvelope(data [][]float64, starts int, seed int64) (*robustEnvelope, error) {
	n := len(data)
	if n < 2 {
		return nil, rcaerr.Dataf("robust covariance needs at least 2 rows, got %d", n)
	}
	p := len(data[0])
	h := (n + p + 2) / 2
	if h > n {
		h = n
	}
	if h < 2 {
		h = 2
	}

	rng := rand.New(rand.NewSource(seed))
	var best *robustEnvelope
	bestLogDet := math.Inf(1)
	for s := 0; s < starts; s++ {
		support := rng.Perm(n)[:h]
		env, logDet, err := concentrate(data, support, h)
		if err != nil {
			continue
		}
		if logDet < bestLogDet {
			best, bestLogDet = env, logDet
		}
	}
	if best == nil {
		return nil, rcaerr.Dataf("robust covariance is singular for every support subset")
	}

	// Consistency correction scales the raw scatter so the median distance
	// matches the chi-square median, then one reweighting pass drops points
	// beyond the 97.5% chi-square quantile.
	dist := best.distances(data)
	correction := median(dist) / chiSquareQuantile(0.5, p)
	if correction <= 0 || math.IsNaN(correction) {
		return best, nil
	}
	corrected, err := best.scaled(correction)
	if err != nil {
		return best, nil
	}
	cutoff := chiSquareQuantile(0.975, p)
	dist = corrected.distances(data)
	inliers := make([]int, 0, n)
	for i, d := range dist {
		if d < cutoff {
			inliers = append(inliers, i)
		}
	}
	if len(inliers) <= p {
		return corrected, nil
	}
	reweighted, _, err := estimate(data, inliers)
	if err != nil {
		return corrected, nil
	}
	dist = reweighted.distances(data)
	correction = median(dist) / chiSquareQuantile(0.5, p)
	if correction <= 0 || math.IsNaN(correction) {
		return reweighted, nil
	}
	if final, err := reweighted.scaled(correction); err == nil {
		return final, nil
	}
	return reweighted, nil
}

// concentrate runs C-steps from an initial support until it stops changing.
func concentrate(data [][]float64, support []int, h int) (*robustEnvelope, float64, error) {
	env, logDet, err := estimate(data, support)
	if err != nil {
		return nil, 0, err
	}
	prev := append([]int(nil), support...)
	sort.Ints(prev)
	for step := 0; step < maxConcentrationSteps; step++ {
		dist := env.distances(data)
		order := make([]int, len(data))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })
		next := append([]int(nil), order[:h]...)
		sort.Ints(next)
		if equalInts(prev, next) {
			break
		}
		candidate, candidateLogDet, err := estimate(data, next)
		if err != nil || candidateLogDet > logDet {
			break
		}
		env, logDet, prev = candidate, candidateLogDet, next
	}
	return env, logDet, nil
}

// estimate computes mean and empirical covariance over rows. A small ridge
// keeps constant features factorizable.
func estimate(data [][]float64, rows []int) (*robustEnvelope, float64, error) {
	p := len(data[0])
	x := mat.NewDense(len(rows), p, nil)
	for i, r := range rows {
		x.SetRow(i, data[r])
	}
	location := make([]float64, p)
	col := make([]float64, len(rows))
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		location[j] = stat.Mean(col, nil)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)
	trace := 0.0
	for j := 0; j < p; j++ {
		trace += cov.At(j, j)
	}
	ridge := 1e-9 * math.Max(trace/float64(p), 1e-12)
	for j := 0; j < p; j++ {
		cov.SetSym(j, j, cov.At(j, j)+ridge)
	}
	env := &robustEnvelope{location: location}
	if ok := env.chol.Factorize(&cov); !ok {
		return nil, 0, rcaerr.Dataf("covariance is not positive definite")
	}
	return env, env.chol.LogDet(), nil
}

func (e *robustEnvelope) scaled(factor float64) (*robustEnvelope, error) {
	var cov mat.SymDense
	e.chol.ToSym(&cov)
	cov.ScaleSym(factor, &cov)
	out := &robustEnvelope{location: e.location}
	if ok := out.chol.Factorize(&cov); !ok {
		return nil, rcaerr.Dataf("scaled covariance is not positive definite")
	}
	return out, nil
}

// mahalanobis returns the squared Mahalanobis distance of x.
func (e *robustEnvelope) mahalanobis(x []float64) float64 {
	diff := make([]float64, len(x))
	for j := range x {
		diff[j] = x[j] - e.location[j]
	}
	d := mat.NewVecDense(len(diff), diff)
	var solved mat.VecDense
	if err := e.chol.SolveVecTo(&solved, d); err != nil {
		return math.Inf(1)
	}
	return mat.Dot(d, &solved)
}

func (e *robustEnvelope) distances(data [][]float64) []float64 {
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = e.mahalanobis(x)
	}
	return out
}

func chiSquareQuantile(p float64, dof int) float64 {
	return 2 * mathext.GammaIncRegInv(float64(dof)/2, p)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
