package anomaly

import (
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// meanStd is the baseline of the z-score method.
type meanStd struct {
	mean []float64
	std  []float64
}

// Detector is the fitted state of one entity. Exactly one of the method
// states is set, selected by Method.
type Detector struct {
	Method  Method
	Entity  string
	Metrics []string

	forest   *isolationForest
	envelope *robustEnvelope
	baseline *meanStd

	// offset is the score above which a row is flagged.
	offset float64
}

// Score returns the anomaly score of one observation; for z-score detectors
// it also returns the per-metric |z| values.
func (d *Detector) Score(x []float64) (float64, []float64) {
	switch d.Method {
	case MethodIsolationForest:
		return d.forest.score(x), nil
	case MethodRobustCovariance:
		return d.envelope.mahalanobis(x), nil
	default:
		z := make([]float64, len(x))
		score := 0.0
		for j, v := range x {
			z[j] = math.Abs(v-d.baseline.mean[j]) / d.baseline.std[j]
			if z[j] > score {
				score = z[j]
			}
		}
		return score, z
	}
}

// Flagged reports whether score exceeds the detector's offset.
func (d *Detector) Flagged(score float64) bool {
	return score > d.offset
}

// Model holds one fitted detector per entity.
type Model struct {
	Method    Method
	Metrics   []string
	Params    Params
	detectors map[string]*Detector
}

// Entities returns the fitted entities, sorted.
func (m *Model) Entities() []string {
	out := make([]string, 0, len(m.detectors))
	for e := range m.detectors {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Detector returns the fitted state of an entity.
func (m *Model) Detector(entity string) (*Detector, bool) {
	d, ok := m.detectors[entity]
	return d, ok
}

// Fit builds one detector per entity of the baseline table.
func Fit(baseline *table.MetricTable, metrics []string, method Method, params Params, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, rcaerr.Configf("at least one metric is required")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if err := baseline.Validate(metrics); err != nil {
		return nil, err
	}

	model := &Model{
		Method:    method,
		Metrics:   append([]string(nil), metrics...),
		Params:    params,
		detectors: make(map[string]*Detector),
	}
	for entity, rows := range baseline.ByEntity() {
		data := observations(rows, metrics)
		d, err := fitDetector(entity, data, metrics, method, params)
		if err != nil {
			return nil, err
		}
		model.detectors[entity] = d
		logger.Debug("fitted entity detector",
			zap.String("entity", entity),
			zap.String("method", string(method)),
			zap.Int("rows", len(rows)),
		)
	}
	return model, nil
}

func fitDetector(entity string, data [][]float64, metrics []string, method Method, params Params) (*Detector, error) {
	d := &Detector{Method: method, Entity: entity, Metrics: metrics}
	switch method {
	case MethodIsolationForest:
		d.forest = newIsolationForest(params.NumTrees, params.MaxSamples, params.Seed)
		d.forest.fit(data)
		d.offset = trainingOffset(d, data, params.Contamination)
	case MethodRobustCovariance:
		env, err := fitRobustEnvelope(data, params.MCDStarts, params.Seed)
		if err != nil {
			return nil, rcaerr.Dataf("entity %s: %v", entity, err)
		}
		d.envelope = env
		d.offset = trainingOffset(d, data, params.Contamination)
	case MethodZScore:
		base := &meanStd{mean: make([]float64, len(metrics)), std: make([]float64, len(metrics))}
		col := make([]float64, len(data))
		for j, metric := range metrics {
			for i, x := range data {
				col[i] = x[j]
			}
			mean, std := stat.PopMeanStdDev(col, nil)
			if std == 0 || math.IsNaN(std) {
				return nil, rcaerr.Dataf("entity %s has zero variance on metric %s; z-score is undefined", entity, metric)
			}
			base.mean[j], base.std[j] = mean, std
		}
		d.baseline = base
		d.offset = params.ZScoreThreshold
	default:
		return nil, rcaerr.Configf("unknown detection method %q", method)
	}
	return d, nil
}

// trainingOffset is the (1 - contamination) quantile of training scores.
func trainingOffset(d *Detector, data [][]float64, contamination float64) float64 {
	scores := make([]float64, len(data))
	for i, x := range data {
		scores[i], _ = d.Score(x)
	}
	sort.Float64s(scores)
	return stat.Quantile(1-contamination, stat.Empirical, scores, nil)
}

func observations(rows []table.Row, metrics []string) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		x := make([]float64, len(metrics))
		for j, metric := range metrics {
			x[j] = row.Values[metric]
		}
		out[i] = x
	}
	return out
}

// Score scores every row of t with the detector fitted for its entity.
func (m *Model) Score(t *table.MetricTable) (*ScoreTable, error) {
	if err := t.Validate(m.Metrics); err != nil {
		return nil, err
	}
	out := &ScoreTable{
		Method:  m.Method,
		Metrics: append([]string(nil), m.Metrics...),
		Scores:  make([]Score, 0, len(t.Rows)),
	}
	for _, row := range t.Rows {
		d, ok := m.detectors[row.Entity]
		if !ok {
			return nil, rcaerr.Dataf("entity %s has no fitted baseline", row.Entity)
		}
		x := make([]float64, len(m.Metrics))
		for j, metric := range m.Metrics {
			x[j] = row.Values[metric]
		}
		value, z := d.Score(x)
		score := Score{
			TimeIndex: row.TimeIndex,
			Entity:    row.Entity,
			Value:     value,
			Flagged:   d.Flagged(value),
		}
		if z != nil {
			score.ZScores = make(map[string]float64, len(z))
			for j, metric := range m.Metrics {
				score.ZScores[metric] = z[j]
			}
		}
		out.Scores = append(out.Scores, score)
	}
	return out, nil
}
