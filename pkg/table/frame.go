package table

import (
	"math"
	"math/rand"
	"sort"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Frame is a dense matrix indexed by time_index with one named column per
// node. Values are stored column-major.
type Frame struct {
	Index   []int64
	Columns []string
	cols    [][]float64
	pos     map[string]int
}

// NewFrame builds a frame from column-major values.
func NewFrame(index []int64, columns []string, values [][]float64) (*Frame, error) {
	if len(columns) != len(values) {
		return nil, rcaerr.Shapef("frame has %d column names but %d columns", len(columns), len(values))
	}
	pos := make(map[string]int, len(columns))
	for j, name := range columns {
		if _, dup := pos[name]; dup {
			return nil, rcaerr.Shapef("duplicate frame column %q", name)
		}
		if len(values[j]) != len(index) {
			return nil, rcaerr.Shapef("column %q has %d rows, index has %d", name, len(values[j]), len(index))
		}
		pos[name] = j
	}
	return &Frame{
		Index:   append([]int64(nil), index...),
		Columns: append([]string(nil), columns...),
		cols:    values,
		pos:     pos,
	}, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Index) }

// Has reports whether the frame has a column named name.
func (f *Frame) Has(name string) bool {
	_, ok := f.pos[name]
	return ok
}

// Column returns the values of a column. The slice is shared with the frame.
func (f *Frame) Column(name string) ([]float64, bool) {
	j, ok := f.pos[name]
	if !ok {
		return nil, false
	}
	return f.cols[j], true
}

// Mean returns the arithmetic mean of a column, NaN when absent or empty.
func (f *Frame) Mean(name string) float64 {
	col, ok := f.Column(name)
	if !ok || len(col) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range col {
		sum += v
	}
	return sum / float64(len(col))
}

// SelectRows returns a new frame holding the given row positions in order.
func (f *Frame) SelectRows(rows []int) *Frame {
	index := make([]int64, len(rows))
	for i, r := range rows {
		index[i] = f.Index[r]
	}
	cols := make([][]float64, len(f.cols))
	for j, col := range f.cols {
		picked := make([]float64, len(rows))
		for i, r := range rows {
			picked[i] = col[r]
		}
		cols[j] = picked
	}
	out, _ := NewFrame(index, f.Columns, cols)
	return out
}

// SampleSize returns round(frac × rows), failing when the subsample would be empty.
func SampleSize(rows int, frac float64) (int, error) {
	if math.IsNaN(frac) || frac <= 0 || frac > 1 {
		return 0, rcaerr.Configf("sample fraction %v must be in (0, 1]", frac)
	}
	if frac*float64(rows) < 1 {
		return 0, rcaerr.Insufficientf("sample fraction %v of %d rows selects no rows", frac, rows)
	}
	size := int(math.Round(frac * float64(rows)))
	if size < 1 {
		size = 1
	}
	return size, nil
}

// Sample draws round(frac × rows) rows without replacement using rng.
func (f *Frame) Sample(rng *rand.Rand, frac float64) (*Frame, error) {
	size, err := SampleSize(f.Len(), frac)
	if err != nil {
		return nil, err
	}
	rows := rng.Perm(f.Len())[:size]
	sort.Ints(rows)
	return f.SelectRows(rows), nil
}

// Project returns a frame holding only columns, in that order. Columns
// share storage with f.
func (f *Frame) Project(columns []string) (*Frame, error) {
	cols := make([][]float64, len(columns))
	for k, name := range columns {
		col, ok := f.Column(name)
		if !ok {
			return nil, rcaerr.Shapef("frame has no column %q", name)
		}
		cols[k] = col
	}
	return NewFrame(f.Index, columns, cols)
}

// DropIncomplete removes rows holding a NaN in any column.
func (f *Frame) DropIncomplete() *Frame {
	keep := make([]int, 0, f.Len())
	for i := range f.Index {
		complete := true
		for _, col := range f.cols {
			if math.IsNaN(col[i]) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, i)
		}
	}
	if len(keep) == f.Len() {
		return f
	}
	return f.SelectRows(keep)
}

// Matrix returns the selected columns as row-major observations.
func (f *Frame) Matrix(columns []string) ([][]float64, error) {
	idx := make([]int, len(columns))
	for k, name := range columns {
		j, ok := f.pos[name]
		if !ok {
			return nil, rcaerr.Shapef("frame has no column %q", name)
		}
		idx[k] = j
	}
	out := make([][]float64, f.Len())
	for i := range out {
		row := make([]float64, len(idx))
		for k, j := range idx {
			row[k] = f.cols[j][i]
		}
		out[i] = row
	}
	return out, nil
}

// Pivot reshapes one metric of a long table into a time_index × entity frame.
// Index and columns are sorted; missing cells are NaN.
func Pivot(t *MetricTable, metric string) (*Frame, error) {
	if !t.HasMetric(metric) {
		return nil, rcaerr.Dataf("metric %q is not a column of the table", metric)
	}
	return PivotFunc(t.Rows, func(row Row) (float64, bool) {
		v, ok := row.Values[metric]
		return v, ok
	})
}

// PivotFunc reshapes rows into a time_index × entity frame using value to
// extract the cell for each row. Rows for which value reports false are skipped.
func PivotFunc(rows []Row, value func(Row) (float64, bool)) (*Frame, error) {
	entityPos := make(map[string]int)
	timePos := make(map[int64]int)
	entities := make([]string, 0)
	times := make([]int64, 0)
	for _, row := range rows {
		if _, ok := entityPos[row.Entity]; !ok {
			entityPos[row.Entity] = 0
			entities = append(entities, row.Entity)
		}
		if _, ok := timePos[row.TimeIndex]; !ok {
			timePos[row.TimeIndex] = 0
			times = append(times, row.TimeIndex)
		}
	}
	sort.Strings(entities)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	for j, e := range entities {
		entityPos[e] = j
	}
	for i, ts := range times {
		timePos[ts] = i
	}

	cols := make([][]float64, len(entities))
	for j := range cols {
		col := make([]float64, len(times))
		for i := range col {
			col[i] = math.NaN()
		}
		cols[j] = col
	}
	for _, row := range rows {
		v, ok := value(row)
		if !ok {
			continue
		}
		cols[entityPos[row.Entity]][timePos[row.TimeIndex]] = v
	}
	return NewFrame(times, entities, cols)
}
