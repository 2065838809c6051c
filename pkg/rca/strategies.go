package rca

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/anomaly"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/semconv"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// MetricAttribution is the attribution of one input series: a raw metric in
// the per-metric strategy, the anomaly score in the aggregated one, or the
// supplied frame in the direct one.
type MetricAttribution struct {
	Metric      string
	Attribution *attribution.Result
	// Percent is |median| share of the total absolute median, in percent.
	Percent map[string]float64
	// Significant keeps the nodes of Percent above the floor.
	Significant map[string]float64
	// Mechanisms names the mechanism assigned to every graph node.
	Mechanisms map[string]string
}

func newMetricAttribution(metric string, r *attribution.Result, mechanisms map[string]string, floor float64) MetricAttribution {
	percent := attribution.PercentContributions(r)
	return MetricAttribution{
		Metric:      metric,
		Attribution: r,
		Percent:     percent,
		Significant: attribution.Significant(percent, floor),
		Mechanisms:  mechanisms,
	}
}

// DirectResult is the outcome of attributing two wide frames directly.
type DirectResult struct {
	Target   string
	FloorPct float64
	MetricAttribution
}

// AggregatedResult is the outcome of the aggregate-then-attribute strategy.
type AggregatedResult struct {
	Target   string
	Method   anomaly.Method
	FloorPct float64
	// ObservedChange is the mean anomalous minus mean baseline target score.
	ObservedChange float64
	// MeanScores is the mean anomalous-window score per entity.
	MeanScores map[string]float64
	MetricAttribution
}

// PerMetricResult is the outcome of the attribute-per-metric strategy. An
// empty Metrics slice means no metric was anomalous.
type PerMetricResult struct {
	Target   string
	FloorPct float64
	// FlaggedMetrics lists anomalous metrics in configured metric order.
	FlaggedMetrics []string
	// MeanZScores is the mean |z| per entity per metric over the anomalous window.
	MeanZScores map[string]map[string]float64
	Metrics     []MetricAttribution
}

// Empty reports whether no attributable anomaly was detected.
func (r *PerMetricResult) Empty() bool { return len(r.Metrics) == 0 }

// Direct attributes the change of target between two frames whose columns
// are graph nodes, using the direct strategy's policy.
func (a *Analyzer) Direct(ctx context.Context, g *graph.CausalGraph, baseline, anomalous *table.Frame, target string) (*DirectResult, error) {
	var out *DirectResult
	err := a.run(ctx, StrategyDirect, target, func(ctx context.Context, _ trace.Span) error {
		if err := checkGraph(g, target); err != nil {
			return err
		}
		result, mechanisms, err := a.attribute(ctx, StrategyDirect, "", a.cfg.Direct, g, baseline, anomalous, target)
		if err != nil {
			return err
		}
		out = &DirectResult{
			Target:            target,
			FloorPct:          a.cfg.PerMetric.FloorPct,
			MetricAttribution: newMetricAttribution("", result, mechanisms, a.cfg.PerMetric.FloorPct),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregated collapses every metric into one anomaly score per entity and
// time index, then attributes the change of target's score.
func (a *Analyzer) Aggregated(ctx context.Context, g *graph.CausalGraph, baseline, anomalous *table.MetricTable, target string) (*AggregatedResult, error) {
	var out *AggregatedResult
	cfg := a.cfg.Aggregated
	err := a.run(ctx, StrategyAggregated, target, func(ctx context.Context, span trace.Span) error {
		if err := checkGraph(g, target); err != nil {
			return err
		}
		baseScores, anomScores, err := a.score(ctx, cfg.DetectionMethod, baseline, anomalous)
		if err != nil {
			return err
		}
		baseFrame, err := baseScores.Pivot()
		if err != nil {
			return err
		}
		anomFrame, err := anomScores.Pivot()
		if err != nil {
			return err
		}

		meanScores := anomScores.MeanByEntity()
		a.metrics.SetEntityScores(meanScores)
		result, mechanisms, err := a.attribute(ctx, StrategyAggregated, anomaly.ScoreColumn, cfg.StrategyConfig, g, baseFrame, anomFrame, target)
		if err != nil {
			return err
		}
		observed := anomFrame.Mean(target) - baseFrame.Mean(target)
		span.SetAttributes(attribute.Float64(semconv.AttrObservedChange, observed))
		out = &AggregatedResult{
			Target:            target,
			Method:            cfg.DetectionMethod,
			FloorPct:          a.cfg.PerMetric.FloorPct,
			ObservedChange:    observed,
			MeanScores:        meanScores,
			MetricAttribution: newMetricAttribution(anomaly.ScoreColumn, result, mechanisms, a.cfg.PerMetric.FloorPct),
		}
		a.logger.Debug("aggregated attribution",
			zap.String("method", string(cfg.DetectionMethod)),
			zap.Float64("observed_change", observed),
			zap.Float64("attributed_change", result.TotalChange()),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PerMetric screens metrics by mean z-score, attributes each anomalous
// metric separately and keeps the nodes above the contribution floor. Any
// failing metric fails the whole run.
func (a *Analyzer) PerMetric(ctx context.Context, g *graph.CausalGraph, baseline, anomalous *table.MetricTable, target string) (*PerMetricResult, error) {
	var out *PerMetricResult
	cfg := a.cfg.PerMetric
	err := a.run(ctx, StrategyPerMetric, target, func(ctx context.Context, span trace.Span) error {
		if err := checkGraph(g, target); err != nil {
			return err
		}
		_, anomScores, err := a.score(ctx, anomaly.MethodZScore, baseline, anomalous)
		if err != nil {
			return err
		}
		meanZ, err := anomScores.MeanZScores()
		if err != nil {
			return err
		}
		flagged := anomaly.FlaggedMetrics(a.cfg.Metrics, meanZ, cfg.ZThreshold)
		span.SetAttributes(attribute.StringSlice(semconv.AttrFlaggedMetrics, flagged))
		out = &PerMetricResult{
			Target:         target,
			FloorPct:       cfg.FloorPct,
			FlaggedMetrics: flagged,
			MeanZScores:    meanZ,
			Metrics:        make([]MetricAttribution, len(flagged)),
		}
		if len(flagged) == 0 {
			a.logger.Info("no anomalous metrics", zap.Float64("z_threshold", cfg.ZThreshold))
			out.Metrics = nil
			return nil
		}
		for _, metric := range flagged {
			a.metrics.MarkFlagged(metric)
		}

		branch := func(ctx context.Context, i int) error {
			metric := flagged[i]
			baseFrame, err := table.Pivot(baseline, metric)
			if err != nil {
				return err
			}
			anomFrame, err := table.Pivot(anomalous, metric)
			if err != nil {
				return err
			}
			result, mechanisms, err := a.attribute(ctx, StrategyPerMetric, metric, cfg.StrategyConfig, g, baseFrame, anomFrame, target)
			if err != nil {
				return err
			}
			out.Metrics[i] = newMetricAttribution(metric, result, mechanisms, cfg.FloorPct)
			return nil
		}

		if !cfg.Parallel {
			for i := range flagged {
				if err := branch(ctx, i); err != nil {
					return err
				}
			}
			return nil
		}
		group, groupCtx := errgroup.WithContext(ctx)
		for i := range flagged {
			i := i
			group.Go(func() error { return branch(groupCtx, i) })
		}
		return group.Wait()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// score fits method on the baseline table and scores both windows.
func (a *Analyzer) score(ctx context.Context, method anomaly.Method, baseline, anomalous *table.MetricTable) (*anomaly.ScoreTable, *anomaly.ScoreTable, error) {
	_, span := a.tracer.Start(ctx, "rca.score",
		trace.WithAttributes(attribute.String(semconv.AttrDetectionMethod, string(method))),
	)
	defer span.End()

	if err := anomalous.Validate(a.cfg.Metrics); err != nil {
		return nil, nil, err
	}
	model, err := anomaly.Fit(baseline, a.cfg.Metrics, method, a.cfg.Detection, a.logger)
	if err != nil {
		return nil, nil, err
	}
	baseScores, err := model.Score(baseline)
	if err != nil {
		return nil, nil, err
	}
	anomScores, err := model.Score(anomalous)
	if err != nil {
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.Int(semconv.AttrEntityCount, len(model.Entities())),
		attribute.Int(semconv.AttrFlaggedRows, anomScores.FlaggedCount()),
	)
	return baseScores, anomScores, nil
}
