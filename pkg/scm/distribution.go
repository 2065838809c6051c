package scm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// Distribution is a univariate marginal that can be fitted to samples and
// sampled by inverse transform.
type Distribution interface {
	Name() string
	Fit(values []float64) error
	// Quantile maps u in (0, 1) to a sample.
	Quantile(u float64) float64
	LogLikelihood(values []float64) float64
	NumParams() int
	Clone() Distribution
}

// HalfNormal is |N(0, scale²)| shifted by loc. Fitting follows the maximum
// likelihood estimate: loc at the sample minimum, scale as the root mean
// square distance from loc.
type HalfNormal struct {
	Loc   float64
	Scale float64
}

func (d *HalfNormal) Name() string { return "half_normal" }

func (d *HalfNormal) Fit(values []float64) error {
	if len(values) == 0 {
		return rcaerr.Dataf("half-normal fit on empty sample")
	}
	loc := minOf(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - loc) * (v - loc)
	}
	d.Loc, d.Scale = loc, math.Sqrt(ss/float64(len(values)))
	return nil
}

func (d *HalfNormal) Quantile(u float64) float64 {
	return d.Loc + d.Scale*distuv.UnitNormal.Quantile((1+u)/2)
}

func (d *HalfNormal) LogLikelihood(values []float64) float64 {
	if d.Scale <= 0 {
		return math.Inf(-1)
	}
	ll := 0.0
	for _, v := range values {
		if v < d.Loc {
			return math.Inf(-1)
		}
		z := (v - d.Loc) / d.Scale
		ll += 0.5*math.Log(2/math.Pi) - math.Log(d.Scale) - z*z/2
	}
	return ll
}

func (d *HalfNormal) NumParams() int       { return 2 }
func (d *HalfNormal) Clone() Distribution { return &HalfNormal{} }

// Normal is a Gaussian marginal.
type Normal struct {
	Mu    float64
	Sigma float64
}

func (d *Normal) Name() string { return "normal" }

func (d *Normal) Fit(values []float64) error {
	if len(values) == 0 {
		return rcaerr.Dataf("normal fit on empty sample")
	}
	d.Mu, d.Sigma = stat.PopMeanStdDev(values, nil)
	return nil
}

func (d *Normal) Quantile(u float64) float64 {
	return d.Mu + d.Sigma*distuv.UnitNormal.Quantile(u)
}

func (d *Normal) LogLikelihood(values []float64) float64 {
	if d.Sigma <= 0 {
		return math.Inf(-1)
	}
	dist := distuv.Normal{Mu: d.Mu, Sigma: d.Sigma}
	ll := 0.0
	for _, v := range values {
		ll += dist.LogProb(v)
	}
	return ll
}

func (d *Normal) NumParams() int       { return 2 }
func (d *Normal) Clone() Distribution { return &Normal{} }

// Exponential is a shifted exponential with loc at the sample minimum.
type Exponential struct {
	Loc   float64
	Scale float64
}

func (d *Exponential) Name() string { return "exponential" }

func (d *Exponential) Fit(values []float64) error {
	if len(values) == 0 {
		return rcaerr.Dataf("exponential fit on empty sample")
	}
	d.Loc = minOf(values)
	d.Scale = stat.Mean(values, nil) - d.Loc
	return nil
}

func (d *Exponential) Quantile(u float64) float64 {
	return d.Loc - d.Scale*math.Log1p(-u)
}

func (d *Exponential) LogLikelihood(values []float64) float64 {
	if d.Scale <= 0 {
		return math.Inf(-1)
	}
	ll := 0.0
	for _, v := range values {
		if v < d.Loc {
			return math.Inf(-1)
		}
		ll += -math.Log(d.Scale) - (v-d.Loc)/d.Scale
	}
	return ll
}

func (d *Exponential) NumParams() int       { return 2 }
func (d *Exponential) Clone() Distribution { return &Exponential{} }

// Uniform spans the sample range.
type Uniform struct {
	Min float64
	Max float64
}

func (d *Uniform) Name() string { return "uniform" }

func (d *Uniform) Fit(values []float64) error {
	if len(values) == 0 {
		return rcaerr.Dataf("uniform fit on empty sample")
	}
	d.Min, d.Max = minOf(values), maxOf(values)
	return nil
}

func (d *Uniform) Quantile(u float64) float64 { return d.Min + u*(d.Max-d.Min) }

func (d *Uniform) LogLikelihood(values []float64) float64 {
	width := d.Max - d.Min
	if width <= 0 {
		return math.Inf(-1)
	}
	for _, v := range values {
		if v < d.Min || v > d.Max {
			return math.Inf(-1)
		}
	}
	return -float64(len(values)) * math.Log(width)
}

func (d *Uniform) NumParams() int       { return 2 }
func (d *Uniform) Clone() Distribution { return &Uniform{} }

// LogNormal models strictly positive samples.
type LogNormal struct {
	Mu    float64
	Sigma float64
}

func (d *LogNormal) Name() string { return "log_normal" }

func (d *LogNormal) Fit(values []float64) error {
	if len(values) == 0 {
		return rcaerr.Dataf("log-normal fit on empty sample")
	}
	logs := make([]float64, len(values))
	for i, v := range values {
		if v <= 0 {
			return rcaerr.Dataf("log-normal fit needs positive samples, got %v", v)
		}
		logs[i] = math.Log(v)
	}
	d.Mu, d.Sigma = stat.PopMeanStdDev(logs, nil)
	return nil
}

func (d *LogNormal) Quantile(u float64) float64 {
	return math.Exp(d.Mu + d.Sigma*distuv.UnitNormal.Quantile(u))
}

func (d *LogNormal) LogLikelihood(values []float64) float64 {
	if d.Sigma <= 0 {
		return math.Inf(-1)
	}
	dist := distuv.LogNormal{Mu: d.Mu, Sigma: d.Sigma}
	ll := 0.0
	for _, v := range values {
		if v <= 0 {
			return math.Inf(-1)
		}
		ll += dist.LogProb(v)
	}
	return ll
}

func (d *LogNormal) NumParams() int       { return 2 }
func (d *LogNormal) Clone() Distribution { return &LogNormal{} }

// Empirical resamples the observed values.
type Empirical struct {
	Sorted []float64
}

func (d *Empirical) Name() string { return "empirical" }

func (d *Empirical) Fit(values []float64) error {
	if len(values) == 0 {
		return rcaerr.Dataf("empirical fit on empty sample")
	}
	d.Sorted = append([]float64(nil), values...)
	sort.Float64s(d.Sorted)
	return nil
}

func (d *Empirical) Quantile(u float64) float64 {
	return empiricalQuantile(d.Sorted, u)
}

// LogLikelihood is undefined for a point-mass mixture; empirical marginals
// never compete in likelihood-based selection.
func (d *Empirical) LogLikelihood([]float64) float64 { return math.NaN() }

func (d *Empirical) NumParams() int       { return len(d.Sorted) }
func (d *Empirical) Clone() Distribution { return &Empirical{} }

func empiricalQuantile(sorted []float64, u float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(u * float64(len(sorted)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func minOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

func maxOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}
