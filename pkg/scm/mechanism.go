package scm

import (
	"sort"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Mechanism generates a node's value from its parents and an exogenous
// uniform draw u. Mechanisms are cloned unfitted and fitted per data set.
type Mechanism interface {
	Name() string
	IsRoot() bool
	// Fit learns the mechanism; parents is nil for root mechanisms.
	Fit(parents [][]float64, values []float64) error
	// Draw maps parent values and u in (0, 1) to a value of the node.
	Draw(parents []float64, u float64) float64
	// Residuals returns the exogenous part of observed values: the values
	// themselves for roots, value minus prediction otherwise.
	Residuals(parents [][]float64, values []float64) []float64
	Clone() Mechanism
}

// RootMarginal is the mechanism of a node without parents.
type RootMarginal struct {
	Dist Distribution
}

func (m *RootMarginal) Name() string { return "root:" + m.Dist.Name() }
func (m *RootMarginal) IsRoot() bool { return true }

// Fit fits the assigned family. When values fall outside the family's
// support, as a zero does for a log-normal, the node falls back to the
// empirical marginal of values.
func (m *RootMarginal) Fit(_ [][]float64, values []float64) error {
	err := m.Dist.Fit(values)
	if err == nil || len(values) == 0 {
		return err
	}
	empirical := &Empirical{}
	if fallbackErr := empirical.Fit(values); fallbackErr != nil {
		return err
	}
	m.Dist = empirical
	return nil
}

func (m *RootMarginal) Draw(_ []float64, u float64) float64 { return m.Dist.Quantile(u) }

func (m *RootMarginal) Residuals(_ [][]float64, values []float64) []float64 {
	return append([]float64(nil), values...)
}

func (m *RootMarginal) Clone() Mechanism { return &RootMarginal{Dist: m.Dist.Clone()} }

// ConditionalRegression is an additive noise model: value = f(parents) + n,
// where n follows the empirical distribution of the training residuals.
type ConditionalRegression struct {
	Regressor Regressor
	noise     []float64
}

func (m *ConditionalRegression) Name() string { return "additive_noise:" + m.Regressor.Name() }
func (m *ConditionalRegression) IsRoot() bool { return false }

func (m *ConditionalRegression) Fit(parents [][]float64, values []float64) error {
	if len(parents) == 0 {
		return rcaerr.Dataf("conditional mechanism needs parent observations")
	}
	if err := m.Regressor.Fit(parents, values); err != nil {
		return err
	}
	m.noise = m.Residuals(parents, values)
	sort.Float64s(m.noise)
	return nil
}

func (m *ConditionalRegression) Draw(parents []float64, u float64) float64 {
	return m.Regressor.Predict(parents) + empiricalQuantile(m.noise, u)
}

func (m *ConditionalRegression) Residuals(parents [][]float64, values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v - m.Regressor.Predict(parents[i])
	}
	return out
}

func (m *ConditionalRegression) Clone() Mechanism {
	return &ConditionalRegression{Regressor: m.Regressor.Clone()}
}
