package rca

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/attribution"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/scm"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/semconv"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/telemetry"
)

// Analyzer runs the orchestration strategies. It holds no per-run state and
// is safe for concurrent use.
type Analyzer struct {
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records run metrics on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(a *Analyzer) {
		if t != nil {
			a.tracer = t
		}
	}
}

// NewAnalyzer returns an analyzer over cfg.
func NewAnalyzer(cfg Config, opts ...Option) *Analyzer {
	a := &Analyzer{
		cfg:    cfg,
		logger: zap.NewNop(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the analyzer settings.
func (a *Analyzer) Config() Config { return a.cfg }

// run wraps one strategy invocation in a span and records its outcome.
func (a *Analyzer) run(ctx context.Context, strategy Strategy, target string, fn func(context.Context, trace.Span) error) error {
	ctx, span := a.tracer.Start(ctx, "rca."+string(strategy),
		trace.WithAttributes(
			attribute.String(semconv.AttrStrategy, string(strategy)),
			attribute.String(semconv.AttrTargetNode, target),
		),
	)
	defer span.End()

	started := time.Now()
	err := fn(ctx, span)
	elapsed := time.Since(started)
	a.metrics.ObserveRun(string(strategy), err, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(semconv.AttrErrorKind, rcaerr.Kind(err)))
		a.logger.Error("root cause analysis failed",
			zap.String("strategy", string(strategy)),
			zap.String("target", target),
			zap.String("kind", rcaerr.Kind(err)),
			zap.Error(err),
		)
		return err
	}
	a.logger.Info("root cause analysis finished",
		zap.String("strategy", string(strategy)),
		zap.String("target", target),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// checkGraph rejects cyclic graphs and absent targets before any fitting.
func checkGraph(g *graph.CausalGraph, target string) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if !g.Has(target) {
		return rcaerr.Shapef("target node %s is not in the causal graph", target)
	}
	return nil
}

// attribute builds an SCM over baseline with the strategy's policy and runs
// the bootstrap attributor on the two frames.
func (a *Analyzer) attribute(
	ctx context.Context,
	strategy Strategy,
	label string,
	s StrategyConfig,
	g *graph.CausalGraph,
	baseline, anomalous *table.Frame,
	target string,
) (*attribution.Result, map[string]string, error) {
	ctx, span := a.tracer.Start(ctx, "rca.attribute",
		trace.WithAttributes(
			attribute.String(semconv.AttrMetric, label),
			attribute.String(semconv.AttrMechanismPolicy, s.Policy),
			attribute.Int(semconv.AttrNumResamples, s.NumResamples),
			attribute.Float64(semconv.AttrSampleFraction, a.cfg.Attribution.SampleFraction),
		),
	)
	defer span.End()

	policy, err := a.cfg.policy(s)
	if err != nil {
		return nil, nil, err
	}
	model, err := scm.Build(g, policy, baseline, a.logger)
	if err != nil {
		return nil, nil, err
	}
	result, err := attribution.Attribute(ctx, model, baseline, anomalous, target, a.cfg.options(s), a.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	a.metrics.AddBootstrapIterations(string(strategy), s.NumResamples)
	if top, ok := result.Top(); ok {
		span.SetAttributes(attribute.String(semconv.AttrRootCause, top))
	}
	return result, model.Describe(), nil
}
