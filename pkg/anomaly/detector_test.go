package anomaly

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

var testMetrics = []string{"latency", "errors"}

func gaussianTable(seed int64, rows int, shift map[string]float64) *table.MetricTable {
	rng := rand.New(rand.NewSource(seed))
	out := &table.MetricTable{Metrics: testMetrics}
	for _, entity := range []string{"api", "db"} {
		for i := 0; i < rows; i++ {
			out.Rows = append(out.Rows, table.Row{
				TimeIndex: int64(i),
				Entity:    entity,
				Values: map[string]float64{
					"latency": 100 + 10*rng.NormFloat64() + shift[entity],
					"errors":  5 + rng.NormFloat64(),
				},
			})
		}
	}
	return out
}

func TestParseMethodRejectsUnknown(t *testing.T) {
	_, err := ParseMethod("local_outlier_factor")
	assert.ErrorIs(t, err, rcaerr.ErrConfig)

	m, err := ParseMethod(" Z_SCORE ")
	require.NoError(t, err)
	assert.Equal(t, MethodZScore, m)
}

func TestZScoreBreakdownAndMax(t *testing.T) {
	baseline := &table.MetricTable{
		Metrics: testMetrics,
		Rows: []table.Row{
			{TimeIndex: 0, Entity: "api", Values: map[string]float64{"latency": 90, "errors": 1}},
			{TimeIndex: 1, Entity: "api", Values: map[string]float64{"latency": 110, "errors": 3}},
		},
	}
	model, err := Fit(baseline, testMetrics, MethodZScore, DefaultParams(), nil)
	require.NoError(t, err)

	scored, err := model.Score(&table.MetricTable{
		Metrics: testMetrics,
		Rows: []table.Row{
			{TimeIndex: 5, Entity: "api", Values: map[string]float64{"latency": 130, "errors": 2}},
		},
	})
	require.NoError(t, err)
	require.Len(t, scored.Scores, 1)
	s := scored.Scores[0]
	// mean 100, population std 10 → |z| = 3; errors sit on the mean.
	assert.InDelta(t, 3.0, s.ZScores["latency"], 1e-12)
	assert.InDelta(t, 0.0, s.ZScores["errors"], 1e-12)
	assert.InDelta(t, 3.0, s.Value, 1e-12)
	assert.False(t, s.Flagged)

	exported := scored.MetricTable()
	assert.Equal(t, []string{"anomaly_score", "z_score__latency", "z_score__errors"}, exported.Metrics)
}

func TestZScoreZeroVarianceIsDataError(t *testing.T) {
	baseline := &table.MetricTable{
		Metrics: testMetrics,
		Rows: []table.Row{
			{TimeIndex: 0, Entity: "api", Values: map[string]float64{"latency": 90, "errors": 1}},
		},
	}
	_, err := Fit(baseline, testMetrics, MethodZScore, DefaultParams(), nil)
	assert.ErrorIs(t, err, rcaerr.ErrData)
}

func TestScoreUnknownEntityIsDataError(t *testing.T) {
	model, err := Fit(gaussianTable(1, 40, nil), testMetrics, MethodZScore, DefaultParams(), nil)
	require.NoError(t, err)
	_, err = model.Score(&table.MetricTable{
		Metrics: testMetrics,
		Rows:    []table.Row{{TimeIndex: 0, Entity: "cache", Values: map[string]float64{"latency": 1, "errors": 1}}},
	})
	assert.ErrorIs(t, err, rcaerr.ErrData)
}

func TestShiftedEntityScoresHigherForEveryMethod(t *testing.T) {
	baseline := gaussianTable(3, 200, nil)
	anomalous := gaussianTable(4, 50, map[string]float64{"api": 120})
	for _, method := range []Method{MethodIsolationForest, MethodRobustCovariance, MethodZScore} {
		t.Run(string(method), func(t *testing.T) {
			model, err := Fit(baseline, testMetrics, method, DefaultParams(), nil)
			require.NoError(t, err)
			scored, err := model.Score(anomalous)
			require.NoError(t, err)
			means := scored.MeanByEntity()
			assert.Greater(t, means["api"], means["db"])
			assert.Greater(t, scored.FlaggedCount(), 40)

			frame, err := scored.Pivot()
			require.NoError(t, err)
			assert.Equal(t, []string{"api", "db"}, frame.Columns)
			assert.Equal(t, 50, frame.Len())
		})
	}
}

func TestIsolationForestIsDeterministicForSeed(t *testing.T) {
	baseline := gaussianTable(5, 100, nil)
	probe := gaussianTable(6, 10, map[string]float64{"db": 50})
	first, err := Fit(baseline, testMetrics, MethodIsolationForest, DefaultParams(), nil)
	require.NoError(t, err)
	second, err := Fit(baseline, testMetrics, MethodIsolationForest, DefaultParams(), nil)
	require.NoError(t, err)
	a, err := first.Score(probe)
	require.NoError(t, err)
	b, err := second.Score(probe)
	require.NoError(t, err)
	assert.Equal(t, a.Scores, b.Scores)
}

func TestMeanZScoresAndFlaggedMetrics(t *testing.T) {
	baseline := gaussianTable(7, 200, nil)
	anomalous := gaussianTable(8, 100, map[string]float64{"db": 80})
	model, err := Fit(baseline, testMetrics, MethodZScore, DefaultParams(), nil)
	require.NoError(t, err)
	scored, err := model.Score(anomalous)
	require.NoError(t, err)

	meanZ, err := scored.MeanZScores()
	require.NoError(t, err)
	assert.Greater(t, meanZ["db"]["latency"], 5.0)
	assert.Less(t, meanZ["api"]["errors"], 2.0)
	assert.Equal(t, []string{"latency"}, FlaggedMetrics(testMetrics, meanZ, 2.0))

	forest, err := Fit(baseline, testMetrics, MethodIsolationForest, DefaultParams(), nil)
	require.NoError(t, err)
	forestScores, err := forest.Score(anomalous)
	require.NoError(t, err)
	_, err = forestScores.MeanZScores()
	assert.ErrorIs(t, err, rcaerr.ErrConfig)
}
