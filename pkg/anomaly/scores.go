package anomaly

import (
	"sort"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// ScoreColumn names the anomaly score in exported tables.
const ScoreColumn = "anomaly_score"

// Score is the anomaly score of one (time_index, entity) observation.
type Score struct {
	TimeIndex int64
	Entity    string
	Value     float64
	Flagged   bool
	// ZScores holds |z| per metric; nil unless the method is z-score.
	ZScores map[string]float64
}

// ScoreTable holds scores in the row order of the scored table.
type ScoreTable struct {
	Method  Method
	Metrics []string
	Scores  []Score
}

// Pivot reshapes the scores into a time_index × entity frame.
func (s *ScoreTable) Pivot() (*table.Frame, error) {
	return table.Pivot(s.MetricTable(), ScoreColumn)
}

// MeanZScores returns the mean |z| per entity per metric.
func (s *ScoreTable) MeanZScores() (map[string]map[string]float64, error) {
	if s.Method != MethodZScore {
		return nil, rcaerr.Configf("per-metric z-scores require method %s, got %s", MethodZScore, s.Method)
	}
	sums := make(map[string]map[string]float64)
	counts := make(map[string]int)
	for _, score := range s.Scores {
		if sums[score.Entity] == nil {
			sums[score.Entity] = make(map[string]float64, len(s.Metrics))
		}
		for _, metric := range s.Metrics {
			sums[score.Entity][metric] += score.ZScores[metric]
		}
		counts[score.Entity]++
	}
	for entity, perMetric := range sums {
		for metric := range perMetric {
			perMetric[metric] /= float64(counts[entity])
		}
	}
	return sums, nil
}

// MeanByEntity returns the mean anomaly score of each entity.
func (s *ScoreTable) MeanByEntity() map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, score := range s.Scores {
		sums[score.Entity] += score.Value
		counts[score.Entity]++
	}
	for entity := range sums {
		sums[entity] /= float64(counts[entity])
	}
	return sums
}

// FlaggedCount returns how many rows exceeded their detector offset.
func (s *ScoreTable) FlaggedCount() int {
	n := 0
	for _, score := range s.Scores {
		if score.Flagged {
			n++
		}
	}
	return n
}

// MetricTable exposes the scores as a long table with an anomaly_score
// column and, for z-score tables, one z_score__<metric> column per metric.
func (s *ScoreTable) MetricTable() *table.MetricTable {
	metrics := []string{ScoreColumn}
	if s.Method == MethodZScore {
		for _, metric := range s.Metrics {
			metrics = append(metrics, ZScoreColumnPrefix+metric)
		}
	}
	out := &table.MetricTable{Metrics: metrics, Rows: make([]table.Row, 0, len(s.Scores))}
	for _, score := range s.Scores {
		values := map[string]float64{ScoreColumn: score.Value}
		for metric, z := range score.ZScores {
			values[ZScoreColumnPrefix+metric] = z
		}
		out.Rows = append(out.Rows, table.Row{TimeIndex: score.TimeIndex, Entity: score.Entity, Values: values})
	}
	return out
}

// FlaggedMetrics returns, in metric order, the metrics whose mean |z|
// exceeds threshold for at least one entity.
func FlaggedMetrics(metrics []string, meanZ map[string]map[string]float64, threshold float64) []string {
	entities := make([]string, 0, len(meanZ))
	for e := range meanZ {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	out := make([]string, 0, len(metrics))
	for _, metric := range metrics {
		for _, entity := range entities {
			if meanZ[entity][metric] > threshold {
				out = append(out, metric)
				break
			}
		}
	}
	return out
}
