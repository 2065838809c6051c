package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// LoadMetricCSV reads a long table with a time_index column, an entity column
// and any number of metric columns. Columns whose cells do not all parse as
// numbers are ignored.
func LoadMetricCSV(r io.Reader, entityColumn string) (*MetricTable, error) {
	header, records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	timePos, entityPos := -1, -1
	for j, name := range header {
		switch name {
		case TimeIndexColumn:
			timePos = j
		case entityColumn:
			entityPos = j
		}
	}
	if timePos < 0 {
		return nil, rcaerr.Dataf("csv has no %s column", TimeIndexColumn)
	}
	if entityPos < 0 {
		return nil, rcaerr.Dataf("csv has no %s column", entityColumn)
	}

	metricCols := make([]int, 0, len(header))
	for j := range header {
		if j == timePos || j == entityPos {
			continue
		}
		if numericColumn(records, j) {
			metricCols = append(metricCols, j)
		}
	}

	out := &MetricTable{Metrics: make([]string, 0, len(metricCols))}
	for _, j := range metricCols {
		out.Metrics = append(out.Metrics, header[j])
	}
	for line, record := range records {
		ts, err := parseTimeIndex(record[timePos])
		if err != nil {
			return nil, rcaerr.Dataf("line %d: %v", line+2, err)
		}
		values := make(map[string]float64, len(metricCols))
		for _, j := range metricCols {
			v, _ := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
			values[header[j]] = v
		}
		out.Rows = append(out.Rows, Row{
			TimeIndex: ts,
			Entity:    strings.TrimSpace(record[entityPos]),
			Values:    values,
		})
	}
	return out, nil
}

// LoadMetricCSVFile is LoadMetricCSV over a file path.
func LoadMetricCSVFile(path, entityColumn string) (*MetricTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metric table %s: %w", path, err)
	}
	defer file.Close()
	t, err := LoadMetricCSV(file, entityColumn)
	if err != nil {
		return nil, fmt.Errorf("load metric table %s: %w", path, err)
	}
	return t, nil
}

// WriteMetricCSV writes a long table with columns time_index, entity, metrics...
func WriteMetricCSV(w io.Writer, t *MetricTable, entityColumn string) error {
	writer := csv.NewWriter(w)
	header := append([]string{TimeIndexColumn, entityColumn}, t.Metrics...)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := make([]string, 0, len(header))
		record = append(record, strconv.FormatInt(row.TimeIndex, 10), row.Entity)
		for _, metric := range t.Metrics {
			record = append(record, strconv.FormatFloat(row.Values[metric], 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadFrameCSV reads a wide table with one numeric column per node. When a
// time_index column is present it becomes the frame index, otherwise rows are
// numbered from zero. Every other column must be numeric.
func LoadFrameCSV(r io.Reader) (*Frame, error) {
	header, records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	timePos := -1
	columns := make([]string, 0, len(header))
	colPos := make([]int, 0, len(header))
	for j, name := range header {
		if name == TimeIndexColumn {
			timePos = j
			continue
		}
		columns = append(columns, name)
		colPos = append(colPos, j)
	}

	index := make([]int64, len(records))
	values := make([][]float64, len(columns))
	for k := range values {
		values[k] = make([]float64, len(records))
	}
	for i, record := range records {
		if timePos >= 0 {
			ts, err := parseTimeIndex(record[timePos])
			if err != nil {
				return nil, rcaerr.Dataf("line %d: %v", i+2, err)
			}
			index[i] = ts
		} else {
			index[i] = int64(i)
		}
		for k, j := range colPos {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
			if err != nil {
				return nil, rcaerr.Dataf("line %d column %s: %v", i+2, header[j], err)
			}
			values[k][i] = v
		}
	}
	return NewFrame(index, columns, values)
}

// LoadFrameCSVFile is LoadFrameCSV over a file path.
func LoadFrameCSVFile(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer file.Close()
	f, err := LoadFrameCSV(file)
	if err != nil {
		return nil, fmt.Errorf("load frame %s: %w", path, err)
	}
	return f, nil
}

// WriteFrameCSV writes a frame as time_index followed by its columns.
func WriteFrameCSV(w io.Writer, f *Frame) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(append([]string{TimeIndexColumn}, f.Columns...)); err != nil {
		return err
	}
	for i, ts := range f.Index {
		record := []string{strconv.FormatInt(ts, 10)}
		for _, col := range f.cols {
			record = append(record, strconv.FormatFloat(col[i], 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func readCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, rcaerr.Dataf("parse csv: %v", err)
	}
	if len(rows) == 0 {
		return nil, nil, rcaerr.Dataf("csv is empty")
	}
	header := make([]string, len(rows[0]))
	for j, name := range rows[0] {
		header[j] = strings.TrimSpace(name)
	}
	// A leading unnamed column is a serialized row index.
	if len(header) > 0 && header[0] == "" {
		header = header[1:]
		for i := 1; i < len(rows); i++ {
			rows[i] = rows[i][1:]
		}
	}
	return header, rows[1:], nil
}

func numericColumn(records [][]string, j int) bool {
	for _, record := range records {
		if _, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64); err != nil {
			return false
		}
	}
	return true
}

func parseTimeIndex(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ts, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("time_index %q is not an integer", raw)
	}
	return int64(f), nil
}

// SortRows orders rows by entity then time_index.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Entity == rows[j].Entity {
			return rows[i].TimeIndex < rows[j].TimeIndex
		}
		return rows[i].Entity < rows[j].Entity
	})
}
