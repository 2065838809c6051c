package rca

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

// BuildReport maps attributions into the report envelope. The root cause is
// the highest-percent node of the first attribution; confidence is its
// percent share as a fraction.
func BuildReport(strategy Strategy, target string, flagged []string, runs []MetricAttribution, floor float64, now time.Time) schema.AttributionReport {
	report := schema.AttributionReport{
		ReportID:       uuid.NewString(),
		GeneratedAt:    now.UTC(),
		Strategy:       string(strategy),
		TargetNode:     target,
		FlaggedMetrics: append([]string{}, flagged...),
		Findings:       []schema.Finding{},
	}
	for _, run := range runs {
		if run.Attribution == nil {
			continue
		}
		report.Findings = append(report.Findings, attribution.BuildFindings(run.Metric, run.Attribution, floor)...)
	}
	if len(runs) > 0 && runs[0].Attribution != nil {
		if node, pct, ok := topPercent(runs[0].Percent); ok {
			report.RootCause = node
			report.RootCauseMetric = runs[0].Metric
			report.Confidence = pct / 100
		}
	}
	return report
}

func topPercent(percent map[string]float64) (string, float64, bool) {
	nodes := make([]string, 0, len(percent))
	for node := range percent {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	best, bestPct := "", 0.0
	for _, node := range nodes {
		if percent[node] > bestPct {
			best, bestPct = node, percent[node]
		}
	}
	return best, bestPct, best != ""
}

// Report maps the direct result into the report envelope.
func (r *DirectResult) Report(now time.Time) schema.AttributionReport {
	return BuildReport(StrategyDirect, r.Target, nil, []MetricAttribution{r.MetricAttribution}, r.FloorPct, now)
}

// Report maps the aggregated result into the report envelope, with the
// observed change and entity scores as evidence.
func (r *AggregatedResult) Report(now time.Time) schema.AttributionReport {
	report := BuildReport(StrategyAggregated, r.Target, nil, []MetricAttribution{r.MetricAttribution}, r.FloorPct, now)
	report.Evidence = append(report.Evidence, schema.Evidence{
		Signal: "observed_change",
		Value:  r.ObservedChange,
		Source: string(r.Method),
	})
	for _, entity := range sortedKeys(r.MeanScores) {
		report.Evidence = append(report.Evidence, schema.Evidence{
			Signal: "mean_anomaly_score:" + entity,
			Value:  r.MeanScores[entity],
			Source: string(r.Method),
		})
	}
	return report
}

// Report maps the per-metric result into the report envelope, with the
// largest mean z-score of each flagged metric as evidence.
func (r *PerMetricResult) Report(now time.Time) schema.AttributionReport {
	report := BuildReport(StrategyPerMetric, r.Target, r.FlaggedMetrics, r.Metrics, r.FloorPct, now)
	for _, metric := range r.FlaggedMetrics {
		entity, z := "", 0.0
		for _, e := range sortedKeys(r.MeanZScores) {
			if v := r.MeanZScores[e][metric]; v > z {
				entity, z = e, v
			}
		}
		report.Evidence = append(report.Evidence, schema.Evidence{
			Signal: "mean_z_score:" + metric,
			Value:  map[string]interface{}{"entity": entity, "z": z},
			Source: "z_score",
		})
	}
	return report
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
