package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rca"
)

func fixedAnalyzer() *rca.Analyzer {
	cfg := rca.DefaultConfig()
	cfg.PerMetric.Policy = "fixed"
	return rca.NewAnalyzer(cfg)
}

func TestGenerateArtifacts(t *testing.T) {
	tmp := t.TempDir()
	opts := Options{Scenarios: []string{"checkout_latency"}, Trials: 2, Rows: 100, Seed: 42}
	require.NoError(t, GenerateArtifacts(context.Background(), tmp, fixedAnalyzer(), opts, zaptest.NewLogger(t)))

	for _, name := range []string{
		"scenario_results.csv",
		"confusion-matrix.csv",
		"benchmark_summary.json",
		"report.md",
		"provenance.json",
	} {
		_, err := os.Stat(filepath.Join(tmp, name))
		require.NoError(t, err, name)
	}

	raw, err := os.ReadFile(filepath.Join(tmp, "benchmark_summary.json"))
	require.NoError(t, err)
	var summary benchmarkSummary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, 2, summary.Trials)
	assert.Equal(t, 1.0, summary.Metrics.Top1Accuracy)
	assert.Equal(t, 1.0, summary.PerScenario["checkout_latency"])
	assert.Zero(t, summary.Metrics.NoDetectionRate)

	f, err := os.Open(filepath.Join(tmp, "scenario_results.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "checkout", records[1][3])
	assert.Equal(t, "checkout", records[1][4])
	assert.Equal(t, "42", records[1][2])
	assert.Equal(t, "1042", records[2][2])

	matrix, err := os.ReadFile(filepath.Join(tmp, "confusion-matrix.csv"))
	require.NoError(t, err)
	assert.Equal(t, "actual,predicted,count\ncheckout,checkout,2\n", string(matrix))
}

func TestGenerateArtifactsRejectsUnknownScenario(t *testing.T) {
	opts := Options{Scenarios: []string{"disk_full"}, Trials: 1, Rows: 50, Seed: 1}
	err := GenerateArtifacts(context.Background(), t.TempDir(), fixedAnalyzer(), opts, nil)
	assert.ErrorContains(t, err, "disk_full")
}

func TestSummarizeCountsMisses(t *testing.T) {
	results := []scenarioResult{
		{Scenario: "a", ExpectedNode: "x", PredictedNode: "x", ExpectedMetric: "m", PredictedMetric: "m", Confidence: 0.9},
		{Scenario: "a", ExpectedNode: "x", PredictedNode: "", ExpectedMetric: "m"},
	}
	s := summarize(time.Time{}, Options{Trials: 2}, results, 0.5)
	assert.Equal(t, 0.5, s.PerScenario["a"])
	assert.Equal(t, 0.5, s.Metrics.NoDetectionRate)
	assert.InDelta(t, 0.45, s.Metrics.MeanConfidence, 1e-9)
}
