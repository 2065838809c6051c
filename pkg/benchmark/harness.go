package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/faultreplay"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rca"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

const defaultDatasetSeed = 42

// Options configures one benchmark run.
type Options struct {
	// Scenarios defaults to every supported fault scenario.
	Scenarios []string
	// Trials is the number of seeded datasets generated per scenario.
	Trials int
	// Rows is the number of time indices per window.
	Rows int
	Seed int64
}

// DefaultOptions runs every scenario three times on 100-row windows.
func DefaultOptions() Options {
	return Options{
		Scenarios: faultreplay.SupportedScenarios(),
		Trials:    3,
		Rows:      100,
		Seed:      defaultDatasetSeed,
	}
}

type scenarioResult struct {
	Scenario        string
	Trial           int
	Seed            int64
	ExpectedNode    string
	ExpectedMetric  string
	PredictedNode   string
	PredictedMetric string
	Confidence      float64
	FlaggedMetrics  []string
	Elapsed         time.Duration
}

func (r scenarioResult) correct() bool { return r.ExpectedNode == r.PredictedNode }

// GenerateArtifacts runs the per-metric strategy over labelled synthetic
// scenarios and writes the benchmark bundle into outDir.
func GenerateArtifacts(ctx context.Context, outDir string, analyzer *rca.Analyzer, opts Options, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Scenarios) == 0 {
		opts.Scenarios = faultreplay.SupportedScenarios()
	}
	if opts.Trials <= 0 {
		opts.Trials = 1
	}
	startedAt := time.Now().UTC()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var results []scenarioResult
	for _, name := range opts.Scenarios {
		for trial := 0; trial < opts.Trials; trial++ {
			seed := opts.Seed + int64(trial)*1000
			result, err := runScenario(ctx, analyzer, name, trial, opts.Rows, seed)
			if err != nil {
				return fmt.Errorf("scenario %s trial %d: %w", name, trial, err)
			}
			logger.Info("benchmark scenario finished",
				zap.String("scenario", name),
				zap.Int("trial", trial),
				zap.String("expected", result.ExpectedNode),
				zap.String("predicted", result.PredictedNode),
				zap.Duration("elapsed", result.Elapsed),
			)
			results = append(results, result)
		}
	}

	if err := writeScenarioResults(filepath.Join(outDir, "scenario_results.csv"), results); err != nil {
		return err
	}
	outcomes := make([]attribution.Outcome, 0, len(results))
	for _, r := range results {
		outcomes = append(outcomes, attribution.Outcome{Scenario: r.Scenario, Expected: r.ExpectedNode, Predicted: r.PredictedNode})
	}
	if err := writeConfusionMatrix(filepath.Join(outDir, "confusion-matrix.csv"), attribution.BuildConfusionMatrix(outcomes)); err != nil {
		return err
	}

	summary := summarize(startedAt, opts, results, attribution.Accuracy(outcomes))
	if err := writeJSON(filepath.Join(outDir, "benchmark_summary.json"), summary); err != nil {
		return err
	}
	if err := writeReportMarkdown(filepath.Join(outDir, "report.md"), summary); err != nil {
		return err
	}

	finishedAt := time.Now().UTC()
	provenance := map[string]interface{}{
		"git_commit":       getenvOrDefault("GIT_COMMIT", "unknown"),
		"scenario_version": "v1",
		"dataset_seed":     opts.Seed,
		"rows_per_window":  opts.Rows,
		"started_at":       startedAt.Format(time.RFC3339),
		"finished_at":      finishedAt.Format(time.RFC3339),
	}
	return writeJSON(filepath.Join(outDir, "provenance.json"), provenance)
}

func runScenario(ctx context.Context, analyzer *rca.Analyzer, name string, trial, rows int, seed int64) (scenarioResult, error) {
	s, err := faultreplay.Generate(name, rows, seed)
	if err != nil {
		return scenarioResult{}, err
	}
	started := time.Now()
	res, err := analyzer.PerMetric(ctx, s.Graph, s.Baseline, s.Anomalous, s.Target)
	if err != nil {
		return scenarioResult{}, err
	}
	elapsed := time.Since(started)
	report := res.Report(time.Now())
	if err := schema.ValidateReport(report); err != nil {
		return scenarioResult{}, fmt.Errorf("validate report: %w", err)
	}
	return scenarioResult{
		Scenario:        name,
		Trial:           trial,
		Seed:            seed,
		ExpectedNode:    s.ExpectedRootCause,
		ExpectedMetric:  s.ExpectedMetric,
		PredictedNode:   report.RootCause,
		PredictedMetric: report.RootCauseMetric,
		Confidence:      report.Confidence,
		FlaggedMetrics:  res.FlaggedMetrics,
		Elapsed:         elapsed,
	}, nil
}

type benchmarkSummary struct {
	RunID     string        `json:"run_id"`
	Project   string        `json:"project"`
	Scenarios []string      `json:"scenarios"`
	Trials    int           `json:"trials"`
	Metrics   metricSummary `json:"metrics"`
	// PerScenario is top-1 accuracy per scenario.
	PerScenario map[string]float64 `json:"per_scenario_accuracy"`
}

type metricSummary struct {
	Top1Accuracy         float64 `json:"top1_accuracy"`
	MetricAccuracy       float64 `json:"metric_accuracy"`
	MeanConfidence       float64 `json:"mean_confidence"`
	NoDetectionRate      float64 `json:"no_detection_rate"`
	MedianLatencySeconds float64 `json:"median_latency_seconds"`
}

func summarize(startedAt time.Time, opts Options, results []scenarioResult, accuracy float64) benchmarkSummary {
	summary := benchmarkSummary{
		RunID:       startedAt.Format("2006-01-02T15-04-05Z"),
		Project:     "causal-rca-toolkit",
		Scenarios:   opts.Scenarios,
		Trials:      opts.Trials,
		PerScenario: make(map[string]float64),
	}
	if len(results) == 0 {
		return summary
	}

	correctByScenario := make(map[string]int)
	totalByScenario := make(map[string]int)
	metricHits, misses := 0, 0
	confidence := 0.0
	latencies := make([]float64, 0, len(results))
	for _, r := range results {
		totalByScenario[r.Scenario]++
		if r.correct() {
			correctByScenario[r.Scenario]++
		}
		if r.PredictedMetric == r.ExpectedMetric {
			metricHits++
		}
		if r.PredictedNode == "" {
			misses++
		}
		confidence += r.Confidence
		latencies = append(latencies, r.Elapsed.Seconds())
	}
	for name, total := range totalByScenario {
		summary.PerScenario[name] = float64(correctByScenario[name]) / float64(total)
	}
	sort.Float64s(latencies)
	n := float64(len(results))
	summary.Metrics = metricSummary{
		Top1Accuracy:         accuracy,
		MetricAccuracy:       float64(metricHits) / n,
		MeanConfidence:       confidence / n,
		NoDetectionRate:      float64(misses) / n,
		MedianLatencySeconds: latencies[len(latencies)/2],
	}
	return summary
}

func writeScenarioResults(path string, results []scenarioResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create scenario results csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	headers := []string{
		"scenario",
		"trial",
		"seed",
		"expected_root_cause",
		"predicted_root_cause",
		"expected_metric",
		"predicted_metric",
		"flagged_metrics",
		"confidence",
		"elapsed_seconds",
		"is_correct",
	}
	if err := writer.Write(headers); err != nil {
		return err
	}

	for _, r := range results {
		if err := writer.Write([]string{
			r.Scenario,
			strconv.Itoa(r.Trial),
			strconv.FormatInt(r.Seed, 10),
			r.ExpectedNode,
			r.PredictedNode,
			r.ExpectedMetric,
			r.PredictedMetric,
			strings.Join(r.FlaggedMetrics, ";"),
			fmt.Sprintf("%.4f", r.Confidence),
			fmt.Sprintf("%.3f", r.Elapsed.Seconds()),
			strconv.FormatBool(r.correct()),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeConfusionMatrix(path string, matrix map[attribution.MatrixKey]int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create confusion matrix: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"actual", "predicted", "count"}); err != nil {
		return err
	}

	keys := make([]attribution.MatrixKey, 0, len(matrix))
	for key := range matrix {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Actual == keys[j].Actual {
			return keys[i].Predicted < keys[j].Predicted
		}
		return keys[i].Actual < keys[j].Actual
	})

	for _, key := range keys {
		if err := writer.Write([]string{key.Actual, key.Predicted, strconv.Itoa(matrix[key])}); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, payload interface{}) error {
	bytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, bytes, 0o644); err != nil {
		return fmt.Errorf("write json file: %w", err)
	}
	return nil
}

func writeReportMarkdown(path string, summary benchmarkSummary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Root Cause Attribution Benchmark\n\n")
	fmt.Fprintf(&b, "- Run ID: `%s`\n", summary.RunID)
	fmt.Fprintf(&b, "- Trials per scenario: `%d`\n", summary.Trials)
	fmt.Fprintf(&b, "- Top-1 accuracy: `%.4f`\n", summary.Metrics.Top1Accuracy)
	fmt.Fprintf(&b, "- Metric accuracy: `%.4f`\n", summary.Metrics.MetricAccuracy)
	fmt.Fprintf(&b, "- Mean confidence: `%.4f`\n", summary.Metrics.MeanConfidence)
	fmt.Fprintf(&b, "- No-detection rate: `%.4f`\n", summary.Metrics.NoDetectionRate)
	fmt.Fprintf(&b, "- Median latency (s): `%.3f`\n\n", summary.Metrics.MedianLatencySeconds)

	b.WriteString("## Scenarios\n\n| scenario | top-1 accuracy |\n|---|---|\n")
	names := make([]string, 0, len(summary.PerScenario))
	for name := range summary.PerScenario {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "| %s | %.2f |\n", name, summary.PerScenario[name])
	}

	b.WriteString("\n## Bundle\n\n" +
		"- `scenario_results.csv`\n" +
		"- `confusion-matrix.csv`\n" +
		"- `benchmark_summary.json`\n" +
		"- `provenance.json`\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write report markdown: %w", err)
	}
	return nil
}

func getenvOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
