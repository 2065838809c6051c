package scm

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// jitter keeps normal equations factorizable when columns are collinear or
// a subsample has fewer rows than coefficients.
const jitter = 1e-8

// Regressor predicts a node from its parents.
type Regressor interface {
	Name() string
	Fit(x [][]float64, y []float64) error
	Predict(x []float64) float64
	Clone() Regressor
}

// LinearRegressor is ordinary least squares with an intercept.
type LinearRegressor struct {
	Coef []float64
}

func (r *LinearRegressor) Name() string { return "linear" }

func (r *LinearRegressor) Fit(x [][]float64, y []float64) error {
	coef, err := leastSquares(x, y, identity, 0)
	if err != nil {
		return err
	}
	r.Coef = coef
	return nil
}

func (r *LinearRegressor) Predict(x []float64) float64 { return predict(r.Coef, identity(x)) }
func (r *LinearRegressor) Clone() Regressor            { return &LinearRegressor{} }

// RidgeRegressor penalizes standardized coefficients by Lambda.
type RidgeRegressor struct {
	Lambda float64
	Coef   []float64
	mean   []float64
	scale  []float64
}

func (r *RidgeRegressor) Name() string { return "ridge" }

func (r *RidgeRegressor) Fit(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return rcaerr.Dataf("ridge fit on empty sample")
	}
	p := len(x[0])
	r.mean = make([]float64, p)
	r.scale = make([]float64, p)
	col := make([]float64, len(x))
	for j := 0; j < p; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		r.mean[j], r.scale[j] = mean, std
	}
	coef, err := leastSquares(x, y, r.standardize, r.Lambda)
	if err != nil {
		return err
	}
	r.Coef = coef
	return nil
}

func (r *RidgeRegressor) standardize(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - r.mean[j]) / r.scale[j]
	}
	return out
}

func (r *RidgeRegressor) Predict(x []float64) float64 { return predict(r.Coef, r.standardize(x)) }
func (r *RidgeRegressor) Clone() Regressor            { return &RidgeRegressor{Lambda: r.Lambda} }

// QuadraticRegressor fits OLS on each parent and its square.
type QuadraticRegressor struct {
	Coef []float64
}

func (r *QuadraticRegressor) Name() string { return "quadratic" }

func (r *QuadraticRegressor) Fit(x [][]float64, y []float64) error {
	coef, err := leastSquares(x, y, squares, 0)
	if err != nil {
		return err
	}
	r.Coef = coef
	return nil
}

func (r *QuadraticRegressor) Predict(x []float64) float64 { return predict(r.Coef, squares(x)) }
func (r *QuadraticRegressor) Clone() Regressor            { return &QuadraticRegressor{} }

func identity(x []float64) []float64 { return x }

func squares(x []float64) []float64 {
	out := make([]float64, 0, 2*len(x))
	out = append(out, x...)
	for _, v := range x {
		out = append(out, v*v)
	}
	return out
}

// leastSquares solves (AᵀA + λI)β = Aᵀy where A is the expanded design with a
// leading intercept column. The intercept is never penalized.
func leastSquares(x [][]float64, y []float64, expand func([]float64) []float64, lambda float64) ([]float64, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, rcaerr.Dataf("regression needs matching non-empty inputs, got %d rows and %d targets", len(x), len(y))
	}
	p := len(expand(x[0])) + 1
	ata := mat.NewSymDense(p, nil)
	aty := mat.NewVecDense(p, nil)
	row := make([]float64, p)
	for i := range x {
		row[0] = 1
		copy(row[1:], expand(x[i]))
		for a := 0; a < p; a++ {
			aty.SetVec(a, aty.AtVec(a)+row[a]*y[i])
			for b := a; b < p; b++ {
				ata.SetSym(a, b, ata.At(a, b)+row[a]*row[b])
			}
		}
	}
	for a := 1; a < p; a++ {
		ata.SetSym(a, a, ata.At(a, a)*(1+jitter)+lambda+jitter)
	}
	ata.SetSym(0, 0, ata.At(0, 0)*(1+jitter))

	var chol mat.Cholesky
	if ok := chol.Factorize(ata); !ok {
		return nil, rcaerr.Dataf("regression normal equations are singular")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, aty); err != nil {
		// An ill-conditioned system still yields a usable solution.
		if _, ok := err.(mat.Condition); !ok {
			return nil, rcaerr.Dataf("solve regression: %v", err)
		}
	}
	out := make([]float64, p)
	for a := range out {
		out[a] = beta.AtVec(a)
	}
	return out, nil
}

func predict(coef []float64, features []float64) float64 {
	if len(coef) == 0 {
		return 0
	}
	out := coef[0]
	for j, v := range features {
		out += coef[j+1] * v
	}
	return out
}
