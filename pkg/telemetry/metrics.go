// Package telemetry carries the Prometheus collectors and OpenTelemetry
// tracer provider of an analysis run.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Metrics holds the run collectors. A nil *Metrics records nothing.
type Metrics struct {
	Runs                *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	BootstrapIterations *prometheus.CounterVec
	FlaggedMetrics      *prometheus.CounterVec
	EntityAnomalyScore  *prometheus.GaugeVec
}

// NewMetrics registers the run collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rca_runs_total",
			Help: "Attribution runs by strategy and outcome.",
		}, []string{"strategy", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rca_run_duration_seconds",
			Help:    "Wall time of one attribution run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"strategy"}),
		BootstrapIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rca_bootstrap_iterations_total",
			Help: "Bootstrap resampling iterations executed.",
		}, []string{"strategy"}),
		FlaggedMetrics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rca_flagged_metrics_total",
			Help: "Metrics screened as anomalous by the per-metric strategy.",
		}, []string{"metric"}),
		EntityAnomalyScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rca_entity_anomaly_score",
			Help: "Mean anomaly score of an entity over the anomalous window.",
		}, []string{"entity"}),
	}
}

// ObserveRun records the outcome and duration of one run. Failed runs are
// labelled with the error kind.
func (m *Metrics) ObserveRun(strategy string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = rcaerr.Kind(err)
	}
	m.Runs.WithLabelValues(strategy, status).Inc()
	m.RunDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// AddBootstrapIterations counts finished bootstrap iterations.
func (m *Metrics) AddBootstrapIterations(strategy string, n int) {
	if m == nil {
		return
	}
	m.BootstrapIterations.WithLabelValues(strategy).Add(float64(n))
}

// MarkFlagged counts a metric screened as anomalous.
func (m *Metrics) MarkFlagged(metric string) {
	if m == nil {
		return
	}
	m.FlaggedMetrics.WithLabelValues(metric).Inc()
}

// SetEntityScores publishes mean anomaly scores per entity.
func (m *Metrics) SetEntityScores(scores map[string]float64) {
	if m == nil {
		return
	}
	for entity, score := range scores {
		m.EntityAnomalyScore.WithLabelValues(entity).Set(score)
	}
}

// WriteTextfile writes every metric gathered by g in the node-exporter
// textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
