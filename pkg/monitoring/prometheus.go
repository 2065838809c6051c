package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// DefaultQueries are PromQL templates for the default metric columns.
func DefaultQueries() map[string]string {
	return map[string]string{
		"rate":       `sum(rate(http_requests_total{service="{{service}}"}[1m]))`,
		"error_rate": `sum(rate(http_requests_total{service="{{service}}",code=~"5.."}[1m])) / sum(rate(http_requests_total{service="{{service}}"}[1m]))`,
		"duration":   `histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{service="{{service}}"}[1m])) by (le))`,
	}
}

// PrometheusSource runs one range query per entity and metric.
type PrometheusSource struct {
	API     v1.API
	Queries map[string]string
	Metrics []string
	Step    time.Duration
	Now     func() time.Time
	Logger  *zap.Logger
}

// NewPrometheusSource connects to the Prometheus HTTP API at address.
func NewPrometheusSource(address string, metrics []string, queries map[string]string, step time.Duration, logger *zap.Logger) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, rcaerr.Configf("prometheus client: %v", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if step <= 0 {
		step = time.Minute
	}
	return &PrometheusSource{
		API:     v1.NewAPI(client),
		Queries: queries,
		Metrics: metrics,
		Step:    step,
		Now:     time.Now,
		Logger:  logger,
	}, nil
}

// FetchTable implements Source. Time indices are Step-sized buckets.
func (s *PrometheusSource) FetchTable(ctx context.Context, entities []string, r TimeRange) (*table.MetricTable, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	start, end, err := r.Bounds(now())
	if err != nil {
		return nil, err
	}
	span := v1.Range{Start: start, End: end, Step: s.Step}

	b := newSeriesBuilder(s.Metrics, s.Step)
	for _, entity := range entities {
		for _, metric := range s.Metrics {
			template, ok := s.Queries[metric]
			if !ok {
				return nil, rcaerr.Configf("no query configured for metric %s", metric)
			}
			query := Expand(template, entity)
			value, warnings, err := s.API.QueryRange(ctx, query, span)
			if err != nil {
				return nil, fmt.Errorf("prometheus range query %q: %w", query, err)
			}
			for _, w := range warnings {
				s.Logger.Warn("prometheus warning", zap.String("query", query), zap.String("warning", w))
			}
			matrix, ok := value.(model.Matrix)
			if !ok {
				return nil, fmt.Errorf("prometheus range query %q returned %s, want matrix", query, value.Type())
			}
			for _, stream := range matrix {
				for _, pair := range stream.Values {
					b.add(entity, metric, pair.Timestamp.Time(), float64(pair.Value))
				}
			}
		}
	}
	return b.table()
}
