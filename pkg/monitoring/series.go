package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// ServicePlaceholder is replaced by the entity name in metric query templates.
const ServicePlaceholder = "{{service}}"

// Source fetches a long metric table for a set of entities.
type Source interface {
	FetchTable(ctx context.Context, entities []string, r TimeRange) (*table.MetricTable, error)
}

// Expand substitutes entity into a query template.
func Expand(template, entity string) string {
	return strings.ReplaceAll(template, ServicePlaceholder, entity)
}

// seriesBuilder accumulates samples into table rows keyed by entity and
// time bucket. Samples falling into the same bucket overwrite each other.
type seriesBuilder struct {
	metrics []string
	step    time.Duration
	rows    map[string]map[int64]map[string]float64
}

func newSeriesBuilder(metrics []string, step time.Duration) *seriesBuilder {
	if step <= 0 {
		step = time.Minute
	}
	return &seriesBuilder{
		metrics: metrics,
		step:    step,
		rows:    make(map[string]map[int64]map[string]float64),
	}
}

func (b *seriesBuilder) add(entity, metric string, ts time.Time, value float64) {
	byTime, ok := b.rows[entity]
	if !ok {
		byTime = make(map[int64]map[string]float64)
		b.rows[entity] = byTime
	}
	idx := ts.UnixNano() / int64(b.step)
	values, ok := byTime[idx]
	if !ok {
		values = make(map[string]float64, len(b.metrics))
		byTime[idx] = values
	}
	values[metric] = value
}

// table keeps only buckets in which every metric was observed.
func (b *seriesBuilder) table() (*table.MetricTable, error) {
	out := &table.MetricTable{Metrics: append([]string(nil), b.metrics...)}
	for entity, byTime := range b.rows {
		for idx, values := range byTime {
			if len(values) != len(b.metrics) {
				continue
			}
			out.Rows = append(out.Rows, table.Row{TimeIndex: idx, Entity: entity, Values: values})
		}
	}
	if len(out.Rows) == 0 {
		return nil, rcaerr.Dataf("no time bucket carries every metric %v", b.metrics)
	}
	table.SortRows(out.Rows)
	return out, nil
}
