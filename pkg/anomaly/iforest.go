package anomaly

import (
	"math"
	"math/rand"
)

type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

// isolationForest scores points by how quickly random axis-aligned splits
// isolate them.
type isolationForest struct {
	trees         []*isolationTree
	numTrees      int
	subSampleSize int
	maxDepth      int
	rng           *rand.Rand
}

func newIsolationForest(numTrees, maxSamples int, seed int64) *isolationForest {
	return &isolationForest{
		numTrees:      numTrees,
		subSampleSize: maxSamples,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

func (f *isolationForest) fit(data [][]float64) {
	if f.subSampleSize > len(data) {
		f.subSampleSize = len(data)
	}
	f.maxDepth = int(math.Ceil(math.Log2(math.Max(float64(f.subSampleSize), 2))))
	f.trees = make([]*isolationTree, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		f.trees = append(f.trees, f.buildTree(f.sample(data), 0))
	}
}

// score returns 2^(-E[h(x)]/c(ψ)); values near 1 are anomalous, values well
// below 0.5 are normal.
func (f *isolationForest) score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, x, 0)
	}
	avg := total / float64(len(f.trees))
	c := averagePathLength(f.subSampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avg/c)
}

// sample draws subSampleSize points without replacement (partial Fisher-Yates).
func (f *isolationForest) sample(data [][]float64) [][]float64 {
	shuffled := make([][]float64, len(data))
	copy(shuffled, data)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:f.subSampleSize]
}

func (f *isolationForest) buildTree(data [][]float64, depth int) *isolationTree {
	if len(data) <= 1 || depth >= f.maxDepth || allIdentical(data) {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	// Only features with spread can split the node.
	candidates := make([]int, 0, len(data[0]))
	for feature := range data[0] {
		lo, hi := featureRange(data, feature)
		if hi > lo {
			candidates = append(candidates, feature)
		}
	}
	feature := candidates[f.rng.Intn(len(candidates))]
	lo, hi := featureRange(data, feature)
	split := lo + f.rng.Float64()*(hi-lo)

	left := make([][]float64, 0, len(data))
	right := make([][]float64, 0, len(data))
	for _, point := range data {
		if point[feature] < split {
			left = append(left, point)
		} else {
			right = append(right, point)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(data), isLeaf: true}
	}
	return &isolationTree{
		splitFeature: feature,
		splitValue:   split,
		left:         f.buildTree(left, depth+1),
		right:        f.buildTree(right, depth+1),
		size:         len(data),
	}
}

func pathLength(tree *isolationTree, x []float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if x[tree.splitFeature] < tree.splitValue {
		return pathLength(tree.left, x, depth+1)
	}
	return pathLength(tree.right, x, depth+1)
}

// averagePathLength is c(n) = 2H(n-1) - 2(n-1)/n, the mean unsuccessful
// search depth of a binary search tree over n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	harmonic := math.Log(float64(n-1)) + 0.5772156649
	return 2*harmonic - 2*float64(n-1)/float64(n)
}

func allIdentical(data [][]float64) bool {
	first := data[0]
	for _, point := range data[1:] {
		for j := range first {
			if math.Abs(point[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data [][]float64, feature int) (float64, float64) {
	lo, hi := data[0][feature], data[0][feature]
	for _, point := range data[1:] {
		v := point[feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
