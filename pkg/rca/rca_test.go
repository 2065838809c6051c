package rca

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/faultreplay"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/telemetry"
)

func checkoutScenario(t *testing.T) *faultreplay.Scenario {
	t.Helper()
	s, err := faultreplay.Generate("checkout_latency", 100, 42)
	require.NoError(t, err)
	return s
}

func fixedConfig() Config {
	cfg := DefaultConfig()
	cfg.Direct.Policy = "fixed"
	cfg.Aggregated.Policy = "fixed"
	cfg.PerMetric.Policy = "fixed"
	return cfg
}

func rank(nodes []string, node string) int {
	for i, n := range nodes {
		if n == node {
			return i
		}
	}
	return -1
}

func TestPerMetricFlagsCheckoutDuration(t *testing.T) {
	s := checkoutScenario(t)
	analyzer := NewAnalyzer(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))

	result, err := analyzer.PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	assert.Equal(t, []string{"duration"}, result.FlaggedMetrics)
	require.Len(t, result.Metrics, 1)

	duration := result.Metrics[0]
	assert.Equal(t, "duration", duration.Metric)
	assert.Greater(t, duration.Significant["checkout"], 20.0)
	r := rank(duration.Attribution.Nodes(), "checkout")
	assert.True(t, r == 0 || r == 1, "checkout ranked %d", r)
	assert.Greater(t, result.MeanZScores["checkout"]["duration"], 2.0)
	assert.Less(t, result.MeanZScores["checkout"]["rate"], 2.0)
}

func TestPerMetricFixedPolicyRanksCheckoutFirst(t *testing.T) {
	s := checkoutScenario(t)
	analyzer := NewAnalyzer(fixedConfig())

	result, err := analyzer.PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	require.Len(t, result.Metrics, 1)
	top, ok := result.Metrics[0].Attribution.Top()
	require.True(t, ok)
	assert.Equal(t, "checkout", top)

	report := result.Report(time.Now())
	assert.Equal(t, "checkout", report.RootCause)
	assert.Equal(t, "duration", report.RootCauseMetric)
	assert.Greater(t, report.Confidence, 0.2)
	require.NoError(t, schema.ValidateReport(report))
}

func TestPerMetricParallelMatchesSequential(t *testing.T) {
	s, err := faultreplay.Generate("payment_errors", 100, 11)
	require.NoError(t, err)

	sequential := NewAnalyzer(fixedConfig())
	cfg := fixedConfig()
	cfg.PerMetric.Parallel = true
	parallel := NewAnalyzer(cfg)

	a, err := sequential.PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	b, err := parallel.PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	assert.Equal(t, a.FlaggedMetrics, b.FlaggedMetrics)
	require.Equal(t, len(a.Metrics), len(b.Metrics))
	for i := range a.Metrics {
		assert.Equal(t, a.Metrics[i].Attribution.Contributions, b.Metrics[i].Attribution.Contributions)
	}
	assert.Contains(t, a.FlaggedMetrics, "error_rate")
}

func TestPerMetricWithoutAnomalyIsEmpty(t *testing.T) {
	s := checkoutScenario(t)
	analyzer := NewAnalyzer(DefaultConfig())

	result, err := analyzer.PerMetric(context.Background(), s.Graph, s.Baseline, s.Baseline, s.Target)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.Empty(t, result.FlaggedMetrics)

	report := result.Report(time.Now())
	assert.Empty(t, report.RootCause)
	assert.Empty(t, report.Findings)
	require.NoError(t, schema.ValidateReport(report))
}

func TestPerMetricThresholdChangesReportedNodes(t *testing.T) {
	s := checkoutScenario(t)

	cfg := fixedConfig()
	cfg.PerMetric.ZThreshold = 1e6
	strict, err := NewAnalyzer(cfg).PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	assert.True(t, strict.Empty())

	cfg = fixedConfig()
	cfg.PerMetric.ZThreshold = 0.5
	loose, err := NewAnalyzer(cfg).PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	assert.Equal(t, []string{"rate", "error_rate", "duration"}, loose.FlaggedMetrics)
	assert.Len(t, loose.Metrics, 3)
}

func TestPerMetricFloorChangesReportedNodes(t *testing.T) {
	s := checkoutScenario(t)

	cfg := fixedConfig()
	cfg.PerMetric.FloorPct = 0
	open, err := NewAnalyzer(cfg).PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)

	cfg.PerMetric.FloorPct = 99.999
	closed, err := NewAnalyzer(cfg).PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)

	assert.Equal(t, open.Metrics[0].Percent, closed.Metrics[0].Percent)
	assert.Greater(t, len(open.Metrics[0].Significant), len(closed.Metrics[0].Significant))
}

func TestAggregatedContributionsSumToObservedChange(t *testing.T) {
	s := checkoutScenario(t)
	cfg := fixedConfig()
	cfg.Aggregated.NumResamples = 1
	cfg.Attribution.SampleFraction = 1
	cfg.Attribution.ChangeAlpha = 0

	result, err := NewAnalyzer(cfg).Aggregated(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	require.Greater(t, result.ObservedChange, 0.0)
	assert.InDelta(t, result.ObservedChange, result.Attribution.TotalChange(), 0.15*math.Abs(result.ObservedChange))
	assert.InDelta(t, 100, result.Percent["checkout"]+result.Percent["frontend"]+result.Percent["payment"], 1e-6)
	assert.Greater(t, result.MeanScores["checkout"], result.MeanScores["payment"])

	report := result.Report(time.Now())
	assert.Equal(t, "anomaly_score", report.RootCauseMetric)
	require.NoError(t, schema.ValidateReport(report))
}

func TestAggregatedAutoPolicySumsToObservedChange(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "auto", cfg.Aggregated.Policy)

	for _, name := range []string{"checkout_latency", "payment_latency", "payment_errors"} {
		t.Run(name, func(t *testing.T) {
			s, err := faultreplay.Generate(name, 100, 42)
			require.NoError(t, err)
			result, err := NewAnalyzer(cfg).Aggregated(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
			require.NoError(t, err)
			require.NotZero(t, result.ObservedChange)
			assert.InDelta(t, result.ObservedChange, result.Attribution.TotalChange(), 0.1*math.Abs(result.ObservedChange))
		})
	}
}

func TestAggregatedDefaultsUseZScore(t *testing.T) {
	s := checkoutScenario(t)
	result, err := NewAnalyzer(DefaultConfig()).Aggregated(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	assert.Equal(t, "z_score", string(result.Method))
	assert.Equal(t, 4, result.Attribution.Resamples)
	for node, c := range result.Attribution.Contributions {
		assert.LessOrEqual(t, c.Lower, c.Median, node)
		assert.LessOrEqual(t, c.Median, c.Upper, node)
	}
}

func TestDirectOnWideFrames(t *testing.T) {
	s := checkoutScenario(t)
	baseline, err := table.Pivot(s.Baseline, "duration")
	require.NoError(t, err)
	anomalous, err := table.Pivot(s.Anomalous, "duration")
	require.NoError(t, err)

	result, err := NewAnalyzer(DefaultConfig()).Direct(context.Background(), s.Graph, baseline, anomalous, s.Target)
	require.NoError(t, err)
	top, ok := result.Attribution.Top()
	require.True(t, ok)
	assert.Equal(t, "checkout", top)
	assert.Equal(t, "root:half_normal", result.Mechanisms["payment"])
	assert.Equal(t, "additive_noise:linear", result.Mechanisms["checkout"])
	require.NoError(t, schema.ValidateReport(result.Report(time.Now())))
}

func TestCyclicGraphFailsBeforeAttribution(t *testing.T) {
	s := checkoutScenario(t)
	cyclic := graph.FromEdges(append(faultreplay.Edges(), graph.Edge{Source: "frontend", Target: "payment"}))

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")
	analyzer := NewAnalyzer(DefaultConfig(), WithMetrics(metrics), WithTracer(tracer))

	_, err := analyzer.PerMetric(context.Background(), cyclic, s.Baseline, s.Anomalous, s.Target)
	assert.ErrorIs(t, err, rcaerr.ErrGraph)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("per_metric", "graph")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BootstrapIterations.WithLabelValues("per_metric")))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "rca.per_metric", spans[0].Name())
}

func TestMissingTargetIsShapeError(t *testing.T) {
	s := checkoutScenario(t)
	_, err := NewAnalyzer(DefaultConfig()).Aggregated(context.Background(), s.Graph, s.Baseline, s.Anomalous, "ledger")
	assert.ErrorIs(t, err, rcaerr.ErrShape)
}

func TestRunMetricsAndSpans(t *testing.T) {
	s := checkoutScenario(t)
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")
	analyzer := NewAnalyzer(fixedConfig(), WithMetrics(metrics), WithTracer(tracer))

	_, err := analyzer.PerMetric(context.Background(), s.Graph, s.Baseline, s.Anomalous, s.Target)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("per_metric", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FlaggedMetrics.WithLabelValues("duration")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.BootstrapIterations.WithLabelValues("per_metric")))

	names := make(map[string]int)
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, map[string]int{"rca.per_metric": 1, "rca.score": 1, "rca.attribute": 1}, names)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("per-metric")
	require.NoError(t, err)
	assert.Equal(t, StrategyPerMetric, s)
	_, err = ParseStrategy("bayesian")
	assert.ErrorIs(t, err, rcaerr.ErrConfig)
}

func TestBuildReportPicksHighestPercent(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	report := BuildReport(StrategyPerMetric, "frontend", []string{"duration"}, []MetricAttribution{{
		Metric:  "duration",
		Percent: map[string]float64{"checkout": 70, "payment": 30},
		Attribution: &attribution.Result{
			Target:    "frontend",
			Resamples: 2,
			Contributions: map[string]attribution.Contribution{
				"checkout": {Median: 7, Lower: 6, Upper: 8},
				"payment":  {Median: -3, Lower: -4, Upper: -2},
			},
		},
	}}, 20, now)
	assert.Equal(t, "checkout", report.RootCause)
	assert.InDelta(t, 0.7, report.Confidence, 1e-9)
	assert.Equal(t, now, report.GeneratedAt)
	assert.Len(t, report.Findings, 2)
	assert.NotEmpty(t, report.ReportID)
}
