// Package table holds the tabular inputs of the attribution pipeline: long
// metric tables keyed by (time_index, entity) and pivoted frames with one
// column per graph node.
package table

import (
	"sort"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// TimeIndexColumn is the name of the discrete time column in every CSV layout.
const TimeIndexColumn = "time_index"

// Row is one observation of one entity at one time index.
type Row struct {
	TimeIndex int64
	Entity    string
	Values    map[string]float64
}

// MetricTable is a long table of per-entity metric observations.
type MetricTable struct {
	Metrics []string
	Rows    []Row
}

// Entities returns the distinct entities in the table, sorted.
func (t *MetricTable) Entities() []string {
	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		seen[row.Entity] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for entity := range seen {
		out = append(out, entity)
	}
	sort.Strings(out)
	return out
}

// ByEntity groups rows by entity preserving table order.
func (t *MetricTable) ByEntity() map[string][]Row {
	grouped := make(map[string][]Row)
	for _, row := range t.Rows {
		grouped[row.Entity] = append(grouped[row.Entity], row)
	}
	return grouped
}

// HasMetric reports whether name is one of the table's metric columns.
func (t *MetricTable) HasMetric(name string) bool {
	for _, metric := range t.Metrics {
		if metric == name {
			return true
		}
	}
	return false
}

// Validate checks that every row carries the requested metrics and that
// time_index values are unique within each entity.
func (t *MetricTable) Validate(metrics []string) error {
	if len(t.Rows) == 0 {
		return rcaerr.Dataf("metric table is empty")
	}
	for _, metric := range metrics {
		if !t.HasMetric(metric) {
			return rcaerr.Dataf("metric %q is not a column of the table", metric)
		}
	}

	type key struct {
		entity string
		ts     int64
	}
	seen := make(map[key]struct{}, len(t.Rows))
	for idx, row := range t.Rows {
		if row.Entity == "" {
			return rcaerr.Dataf("row %d has an empty entity", idx)
		}
		k := key{entity: row.Entity, ts: row.TimeIndex}
		if _, dup := seen[k]; dup {
			return rcaerr.Dataf("duplicate time_index %d for entity %s", row.TimeIndex, row.Entity)
		}
		seen[k] = struct{}{}
		for _, metric := range metrics {
			if _, ok := row.Values[metric]; !ok {
				return rcaerr.Dataf("row %d (%s@%d) is missing metric %q", idx, row.Entity, row.TimeIndex, metric)
			}
		}
	}
	return nil
}
