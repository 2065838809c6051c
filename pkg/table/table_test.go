package table

import (
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

const longCSV = `time_index,service,timestamp,rate,error_rate,duration
0,checkout,2024-01-01T00:00:00Z,10,0.1,120
0,frontend,2024-01-01T00:00:00Z,20,0.0,80
1,checkout,2024-01-01T00:01:00Z,11,0.2,125
1,frontend,2024-01-01T00:01:00Z,21,0.1,82
`

func TestLoadMetricCSVSkipsNonNumericColumns(t *testing.T) {
	tbl, err := LoadMetricCSV(strings.NewReader(longCSV), "service")
	require.NoError(t, err)
	assert.Equal(t, []string{"rate", "error_rate", "duration"}, tbl.Metrics)
	assert.Len(t, tbl.Rows, 4)
	assert.Equal(t, []string{"checkout", "frontend"}, tbl.Entities())
	require.NoError(t, tbl.Validate([]string{"duration"}))
}

func TestValidateRejectsDuplicateTimeIndex(t *testing.T) {
	tbl := &MetricTable{
		Metrics: []string{"duration"},
		Rows: []Row{
			{TimeIndex: 0, Entity: "a", Values: map[string]float64{"duration": 1}},
			{TimeIndex: 0, Entity: "a", Values: map[string]float64{"duration": 2}},
		},
	}
	assert.ErrorIs(t, tbl.Validate([]string{"duration"}), rcaerr.ErrData)
	assert.ErrorIs(t, tbl.Validate([]string{"latency"}), rcaerr.ErrData)
}

func TestPivotSortsAndFillsMissing(t *testing.T) {
	tbl := &MetricTable{
		Metrics: []string{"duration"},
		Rows: []Row{
			{TimeIndex: 2, Entity: "b", Values: map[string]float64{"duration": 5}},
			{TimeIndex: 1, Entity: "a", Values: map[string]float64{"duration": 1}},
			{TimeIndex: 2, Entity: "a", Values: map[string]float64{"duration": 2}},
		},
	}
	frame, err := Pivot(tbl, "duration")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, frame.Index)
	assert.Equal(t, []string{"a", "b"}, frame.Columns)
	b, _ := frame.Column("b")
	assert.True(t, math.IsNaN(b[0]))
	assert.Equal(t, 5.0, b[1])

	complete := frame.DropIncomplete()
	assert.Equal(t, 1, complete.Len())
	assert.Equal(t, []int64{2}, complete.Index)
}

func TestSampleSizeRules(t *testing.T) {
	size, err := SampleSize(100, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 20, size)

	_, err = SampleSize(4, 0.2)
	assert.ErrorIs(t, err, rcaerr.ErrInsufficientData)

	_, err = SampleSize(10, 0)
	assert.ErrorIs(t, err, rcaerr.ErrConfig)
	_, err = SampleSize(10, 1.5)
	assert.ErrorIs(t, err, rcaerr.ErrConfig)
}

func TestSampleIsDeterministicPerSeed(t *testing.T) {
	values := make([]float64, 50)
	index := make([]int64, 50)
	for i := range values {
		values[i] = float64(i)
		index[i] = int64(i)
	}
	frame, err := NewFrame(index, []string{"x"}, [][]float64{values})
	require.NoError(t, err)

	first, err := frame.Sample(rand.New(rand.NewSource(7)), 0.2)
	require.NoError(t, err)
	second, err := frame.Sample(rand.New(rand.NewSource(7)), 0.2)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Len())
	assert.Equal(t, first.Index, second.Index)
}

func TestFrameCSVRoundTripKeepsIndex(t *testing.T) {
	frame, err := NewFrame([]int64{3, 4}, []string{"a", "b"}, [][]float64{{1, 2}, {3.5, 4}})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteFrameCSV(&buf, frame))

	loaded, err := LoadFrameCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, frame.Index, loaded.Index)
	b, _ := loaded.Column("b")
	assert.Equal(t, []float64{3.5, 4}, b)
}

func TestLoadFrameCSVWithoutTimeIndex(t *testing.T) {
	frame, err := LoadFrameCSV(strings.NewReader("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, frame.Index)

	_, err = LoadFrameCSV(strings.NewReader("a,b\n1,x\n"))
	assert.ErrorIs(t, err, rcaerr.ErrData)
}

func TestProjectDropsOnlySelectedIncompleteRows(t *testing.T) {
	frame, err := NewFrame([]int64{0, 1, 2}, []string{"a", "extra", "b"},
		[][]float64{{1, 2, 3}, {math.NaN(), 5, math.NaN()}, {4, math.NaN(), 6}})
	require.NoError(t, err)

	projected, err := frame.Project([]string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, projected.Columns)
	complete := projected.DropIncomplete()
	assert.Equal(t, []int64{0, 2}, complete.Index)

	_, err = frame.Project([]string{"missing"})
	assert.ErrorIs(t, err, rcaerr.ErrShape)
}
