package scm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// linearFrame generates x ~ 10 + |N(0, 2²)| and y = 3x + 5 + N(0, 0.5²).
func linearFrame(t *testing.T, seed int64, n int) *table.Frame {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	y := make([]float64, n)
	index := make([]int64, n)
	for i := 0; i < n; i++ {
		index[i] = int64(i)
		x[i] = 10 + math.Abs(2*rng.NormFloat64())
		y[i] = 3*x[i] + 5 + 0.5*rng.NormFloat64()
	}
	f, err := table.NewFrame(index, []string{"x", "y"}, [][]float64{x, y})
	require.NoError(t, err)
	return f
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("fixed", 1)
	require.NoError(t, err)
	assert.Equal(t, PolicyFixed, p.Name())
	p, err = ParsePolicy("AUTO", 1)
	require.NoError(t, err)
	assert.Equal(t, PolicyAuto, p.Name())
	_, err = ParsePolicy("gbm", 1)
	assert.ErrorIs(t, err, rcaerr.ErrConfig)
}

func TestBuildRejectsCycle(t *testing.T) {
	g := graph.FromEdges([]graph.Edge{{Source: "x", Target: "y"}, {Source: "y", Target: "x"}})
	_, err := Build(g, FixedPolicy{}, linearFrame(t, 1, 20), nil)
	assert.ErrorIs(t, err, rcaerr.ErrGraph)
}

func TestBuildRejectsMissingColumn(t *testing.T) {
	g := graph.FromEdges([]graph.Edge{{Source: "x", Target: "z"}})
	_, err := Build(g, FixedPolicy{}, linearFrame(t, 1, 20), nil)
	assert.ErrorIs(t, err, rcaerr.ErrGraph)
}

func TestFixedPolicyAssignsHalfNormalAndLinear(t *testing.T) {
	g := graph.FromEdges([]graph.Edge{{Source: "x", Target: "y"}})
	model, err := Build(g, FixedPolicy{}, linearFrame(t, 2, 50), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"x": "root:half_normal",
		"y": "additive_noise:linear",
	}, model.Describe())
	assert.False(t, model.IsFitted())
}

func TestFittedRecoversLinearMechanism(t *testing.T) {
	g := graph.FromEdges([]graph.Edge{{Source: "x", Target: "y"}})
	frame := linearFrame(t, 3, 400)
	model, err := Build(g, FixedPolicy{}, frame, nil)
	require.NoError(t, err)
	fitted, err := model.Fitted(frame)
	require.NoError(t, err)

	mech, ok := fitted.Mechanism("y")
	require.True(t, ok)
	reg := mech.(*ConditionalRegression).Regressor.(*LinearRegressor)
	assert.InDelta(t, 5, reg.Coef[0], 0.5)
	assert.InDelta(t, 3, reg.Coef[1], 0.05)

	samples, err := fitted.Sample(rand.New(rand.NewSource(9)), 4000)
	require.NoError(t, err)
	observed, _ := frame.Column("y")
	assert.InDelta(t, stat.Mean(observed, nil), stat.Mean(samples["y"], nil), 1.0)
}

func TestAutoPolicyIsDeterministicAndPicksLinearFamily(t *testing.T) {
	g := graph.FromEdges([]graph.Edge{{Source: "x", Target: "y"}})
	frame := linearFrame(t, 4, 200)
	first, err := Build(g, AutoPolicy{Folds: 5, Seed: 42}, frame, nil)
	require.NoError(t, err)
	second, err := Build(g, AutoPolicy{Folds: 5, Seed: 42}, frame, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Describe(), second.Describe())
	assert.Contains(t, []string{"additive_noise:linear", "additive_noise:ridge", "additive_noise:quadratic"}, first.Describe()["y"])
}

func TestAutoPolicyFallsBackToEmpiricalOnConstantRoot(t *testing.T) {
	frame, err := table.NewFrame([]int64{0, 1, 2, 3}, []string{"c"}, [][]float64{{7, 7, 7, 7}})
	require.NoError(t, err)
	g := graph.New()
	g.AddNode("c")
	model, err := Build(g, AutoPolicy{Folds: 5, Seed: 1}, frame, nil)
	require.NoError(t, err)
	assert.Equal(t, "root:empirical", model.Describe()["c"])

	fitted, err := model.Fitted(frame)
	require.NoError(t, err)
	samples, err := fitted.Sample(rand.New(rand.NewSource(1)), 10)
	require.NoError(t, err)
	for _, v := range samples["c"] {
		assert.Equal(t, 7.0, v)
	}
}

func TestHalfNormalFitMatchesMoments(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	values := make([]float64, 5000)
	for i := range values {
		values[i] = 2 + math.Abs(3*rng.NormFloat64())
	}
	d := &HalfNormal{}
	require.NoError(t, d.Fit(values))
	assert.InDelta(t, 2, d.Loc, 0.05)
	assert.InDelta(t, 3, d.Scale, 0.15)
	assert.InDelta(t, d.Loc, d.Quantile(1e-12), 1e-6)
}

func TestSampleRequiresFit(t *testing.T) {
	g := graph.New()
	g.AddNode("x")
	model, err := Build(g, FixedPolicy{}, linearFrame(t, 5, 10), nil)
	require.NoError(t, err)
	_, err = model.Sample(rand.New(rand.NewSource(1)), 5)
	assert.ErrorIs(t, err, rcaerr.ErrConfig)
}

// logNormalRoots assigns log-normal marginals to roots and linear models
// elsewhere.
type logNormalRoots struct{ FixedPolicy }

func (logNormalRoots) Assign(node string, parents []string, baseline *table.Frame) (Mechanism, error) {
	if len(parents) == 0 {
		return &RootMarginal{Dist: &LogNormal{}}, nil
	}
	return FixedPolicy{}.Assign(node, parents, baseline)
}

func TestRootMarginalFallsBackToEmpiricalOutsideSupport(t *testing.T) {
	m := &RootMarginal{Dist: &LogNormal{}}
	require.NoError(t, m.Fit(nil, []float64{0, 1.5, 2, 0, 3}))
	assert.Equal(t, "root:empirical", m.Name())
	assert.Equal(t, 0.0, m.Draw(nil, 0.1))
	assert.Equal(t, 3.0, m.Draw(nil, 0.99))

	positive := &RootMarginal{Dist: &LogNormal{}}
	require.NoError(t, positive.Fit(nil, []float64{1, 2, 3}))
	assert.Equal(t, "root:log_normal", positive.Name())

	empty := &RootMarginal{Dist: &LogNormal{}}
	assert.ErrorIs(t, empty.Fit(nil, nil), rcaerr.ErrData)
}

func TestFittedKeepsAssignedFamilyAfterFallback(t *testing.T) {
	baseline := linearFrame(t, 21, 50)
	g := graph.FromEdges([]graph.Edge{{Source: "x", Target: "y"}})
	model, err := Build(g, logNormalRoots{}, baseline, nil)
	require.NoError(t, err)

	x, _ := baseline.Column("x")
	y, _ := baseline.Column("y")
	outageX := append([]float64(nil), x...)
	for i := 0; i < len(outageX); i += 2 {
		outageX[i] = 0
	}
	outage, err := table.NewFrame(baseline.Index, []string{"x", "y"}, [][]float64{outageX, y})
	require.NoError(t, err)

	fitted, err := model.Fitted(outage)
	require.NoError(t, err)
	assert.Equal(t, "root:empirical", fitted.Describe()["x"])
	assert.Equal(t, "root:log_normal", model.Describe()["x"])

	refit, err := model.Fitted(baseline)
	require.NoError(t, err)
	assert.Equal(t, "root:log_normal", refit.Describe()["x"])
}

func TestFittedIgnoresColumnsOutsideGraph(t *testing.T) {
	base := linearFrame(t, 23, 40)
	x, _ := base.Column("x")
	y, _ := base.Column("y")
	extra := make([]float64, base.Len())
	for i := range extra {
		extra[i] = math.NaN()
	}
	frame, err := table.NewFrame(base.Index, []string{"x", "y", "ledger"}, [][]float64{x, y, extra})
	require.NoError(t, err)

	g := graph.FromEdges([]graph.Edge{{Source: "x", Target: "y"}})
	model, err := Build(g, FixedPolicy{}, frame, nil)
	require.NoError(t, err)
	_, err = model.Fitted(frame)
	require.NoError(t, err)

	projected, err := model.Project(frame)
	require.NoError(t, err)
	assert.Equal(t, base.Len(), projected.Len())
	assert.False(t, projected.Has("ledger"))
}
