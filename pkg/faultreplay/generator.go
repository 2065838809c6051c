// Package faultreplay generates deterministic synthetic incidents: a baseline
// and an anomalous metric table over a small service call graph, with one
// injected fault whose root cause is known.
package faultreplay

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/graph"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/table"
)

// Metrics are the columns of every generated table.
var Metrics = []string{"rate", "error_rate", "duration"}

// Target is the node whose behaviour every scenario degrades.
const Target = "frontend"

// Fault scales the service-local component of one metric of one entity.
type Fault struct {
	Entity string  `json:"entity"`
	Metric string  `json:"metric"`
	Scale  float64 `json:"scale"`
}

var scenarioFaults = map[string]Fault{
	"checkout_latency": {Entity: "checkout", Metric: "duration", Scale: 6},
	"payment_latency":  {Entity: "payment", Metric: "duration", Scale: 6},
	"payment_errors":   {Entity: "payment", Metric: "error_rate", Scale: 8},
}

// component is the service-local part of a metric: base + |N(0, spread)|.
type component struct {
	base   float64
	spread float64
}

var components = map[string]map[string]component{
	"payment": {
		"rate":       {base: 100, spread: 5},
		"error_rate": {base: 0.01, spread: 0.003},
		"duration":   {base: 20, spread: 4},
	},
	"checkout": {
		"rate":       {base: 60, spread: 4},
		"error_rate": {base: 0.005, spread: 0.002},
		"duration":   {base: 30, spread: 5},
	},
	"frontend": {
		"rate":       {base: 80, spread: 6},
		"error_rate": {base: 0.002, spread: 0.001},
		"duration":   {base: 15, spread: 3},
	},
}

// coupling is how much of a callee's value a caller inherits per metric.
var coupling = map[string]float64{
	"rate":       0.3,
	"error_rate": 1,
	"duration":   1,
}

// Edges is the causal graph of every scenario: callee latency and errors
// flow into their callers.
func Edges() []graph.Edge {
	return []graph.Edge{
		{Source: "payment", Target: "checkout"},
		{Source: "checkout", Target: Target},
	}
}

// Scenario is one generated incident.
type Scenario struct {
	Name              string
	Seed              int64
	Fault             Fault
	Graph             *graph.CausalGraph
	Target            string
	ExpectedRootCause string
	ExpectedMetric    string
	Baseline          *table.MetricTable
	Anomalous         *table.MetricTable
}

// Generate builds the named scenario with rows time indices per window.
// The baseline uses seed and the anomalous window seed+1.
func Generate(name string, rows int, seed int64) (*Scenario, error) {
	fault, ok := scenarioFaults[name]
	if !ok {
		return nil, fmt.Errorf("unsupported scenario %q", name)
	}
	if rows < 1 {
		return nil, fmt.Errorf("rows must be >= 1")
	}
	g := graph.FromEdges(Edges())
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	return &Scenario{
		Name:              name,
		Seed:              seed,
		Fault:             fault,
		Graph:             g,
		Target:            Target,
		ExpectedRootCause: fault.Entity,
		ExpectedMetric:    fault.Metric,
		Baseline:          simulate(g, order, rows, seed, nil),
		Anomalous:         simulate(g, order, rows, seed+1, &fault),
	}, nil
}

func simulate(g *graph.CausalGraph, order []string, rows int, seed int64, fault *Fault) *table.MetricTable {
	rng := rand.New(rand.NewSource(seed))
	t := &table.MetricTable{Metrics: append([]string(nil), Metrics...)}
	for ti := 0; ti < rows; ti++ {
		values := make(map[string]map[string]float64, len(order))
		for _, node := range order {
			values[node] = make(map[string]float64, len(Metrics))
			for _, metric := range Metrics {
				c := components[node][metric]
				own := c.base + math.Abs(c.spread*rng.NormFloat64())
				if fault != nil && fault.Entity == node && fault.Metric == metric {
					own *= fault.Scale
				}
				inherited := 0.0
				for _, parent := range g.Predecessors(node) {
					inherited += coupling[metric] * values[parent][metric]
				}
				values[node][metric] = inherited + own
			}
		}
		for _, node := range order {
			t.Rows = append(t.Rows, table.Row{TimeIndex: int64(ti), Entity: node, Values: values[node]})
		}
	}
	table.SortRows(t.Rows)
	return t
}

// SupportedScenarios lists accepted scenario names.
func SupportedScenarios() []string {
	out := make([]string, 0, len(scenarioFaults))
	for name := range scenarioFaults {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Manifest describes a scenario written to disk.
type Manifest struct {
	Name              string   `json:"name"`
	Seed              int64    `json:"seed"`
	Rows              int      `json:"rows"`
	Target            string   `json:"target"`
	Fault             Fault    `json:"fault"`
	ExpectedRootCause string   `json:"expected_root_cause"`
	ExpectedMetric    string   `json:"expected_metric"`
	Metrics           []string `json:"metrics"`
}

// Write stores the scenario under dir: long tables normal.csv and
// outlier.csv, wide tables of the faulted metric, graph.json, target.txt and
// scenario.json.
func Write(dir string, s *Scenario, entityColumn string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create scenario directory: %w", err)
	}
	if err := writeLong(filepath.Join(dir, "normal.csv"), s.Baseline, entityColumn); err != nil {
		return err
	}
	if err := writeLong(filepath.Join(dir, "outlier.csv"), s.Anomalous, entityColumn); err != nil {
		return err
	}
	if err := writeWide(filepath.Join(dir, "normal_"+s.ExpectedMetric+".csv"), s.Baseline, s.ExpectedMetric); err != nil {
		return err
	}
	if err := writeWide(filepath.Join(dir, "outlier_"+s.ExpectedMetric+".csv"), s.Anomalous, s.ExpectedMetric); err != nil {
		return err
	}
	if err := graph.WriteNodeLinkFile(filepath.Join(dir, "graph.json"), s.Graph); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "target.txt"), []byte(s.Target+"\n"), 0o644); err != nil {
		return fmt.Errorf("write target: %w", err)
	}

	rows := 0
	if len(s.Baseline.Rows) > 0 {
		rows = len(s.Baseline.Rows) / len(s.Graph.Nodes())
	}
	manifest, err := json.MarshalIndent(Manifest{
		Name:              s.Name,
		Seed:              s.Seed,
		Rows:              rows,
		Target:            s.Target,
		Fault:             s.Fault,
		ExpectedRootCause: s.ExpectedRootCause,
		ExpectedMetric:    s.ExpectedMetric,
		Metrics:           Metrics,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "scenario.json"), append(manifest, '\n'), 0o644)
}

func writeLong(path string, t *table.MetricTable, entityColumn string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := table.WriteMetricCSV(f, t, entityColumn); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeWide(path string, t *table.MetricTable, metric string) error {
	frame, err := table.Pivot(t, metric)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := table.WriteFrameCSV(f, frame); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
