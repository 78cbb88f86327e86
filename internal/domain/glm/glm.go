// Package glm implements the log-link count model and the weighted linear
// model used by the posterior pipeline.
package glm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// minMean is the floor applied to exp(η) inside IRLS.
const minMean = 1e-9

// Family is the distributional family of a fitted count model.
type Family string

// Families.
const (
	Poisson Family = "Poisson"
	NegBin  Family = "NegBin"
)

// FamilyFor returns NegBin for a positive over-dispersion α, Poisson otherwise.
func FamilyFor(alpha float64) Family {
	if alpha > 0 {
		return NegBin
	}
	return Poisson
}

// Result is a fitted log-link model. It is never mutated after fitting.
type Result struct {
	Beta       []float64
	Cov        *mat.Dense
	Dispersion float64
	Family     Family
	// Iterations is zero for the closed-form fallback.
	Iterations int
	Fallback   bool
}

// Predict returns μ = exp(offset + X·β) and its delta-method standard error
// sqrt(x'Σx·dispersion)·μ per row. A nil offset means zero.
func (r *Result) Predict(x mat.Matrix, offset []float64) (mu, se []float64) {
	n, p := x.Dims()
	eta := linearPredictor(x, r.Beta, offset)
	mu = make([]float64, n)
	se = make([]float64, n)
	row := make([]float64, p)
	for i := range n {
		mat.Row(row, i, x)
		mu[i] = math.Exp(eta[i])
		se[i] = math.Sqrt(quadForm(row, r.Cov)*r.Dispersion) * mu[i]
	}
	return mu, se
}

// FitIRLS fits a log-link GLM by iteratively re-weighted least squares with
// Var[Y] = μ + α·μ². α = 0 gives a Poisson model.
//
// Starting from β = 0 it iterates until the max-abs change in β falls below
// the tolerance. It returns ErrSingular when the weighted normal equations
// cannot be solved and ErrNotConverged when the iteration budget runs out.
func FitIRLS(x mat.Matrix, y, offset []float64, alpha float64, opts ...Option) (*Result, error) {
	n, p, err := checkDims(x, y, offset)
	if err != nil {
		return nil, err
	}
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}

	beta := make([]float64, p)
	w := make([]float64, n)
	z := make([]float64, n)
	converged := false
	iterations := 0
	for iterations < s.maxIter {
		iterations++
		eta := linearPredictor(x, beta, offset)
		for i := range n {
			mu := math.Max(math.Exp(eta[i]), minMean)
			variance := mu + alpha*mu*mu
			w[i] = mu * mu / variance
			z[i] = eta[i] + (y[i]-mu)/mu
		}
		gram, rhs := weightedGram(x, w, z)
		next, err := solve(gram, rhs)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iterations, err)
		}
		delta := floats.Distance(next, beta, math.Inf(1))
		beta = next
		if delta < s.tolerance {
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d iterations", ErrNotConverged, iterations)
	}

	eta := linearPredictor(x, beta, offset)
	pearson := 0.0
	for i := range n {
		mu := math.Exp(eta[i])
		variance := mu + alpha*mu*mu
		w[i] = mu * mu / variance
		pearson += (y[i] - mu) * (y[i] - mu) / variance
	}
	gram, _ := weightedGram(x, w, nil)

	return &Result{
		Beta:       beta,
		Cov:        invertOrPinv(gram),
		Dispersion: pearson / float64(max(n-p, 1)),
		Family:     FamilyFor(alpha),
		Iterations: iterations,
	}, nil
}

// FitRidge is the closed-form fallback for FitIRLS: a ridge-regularised least
// squares fit of log((y+0.5)/exposure), where log(exposure) = offset.
// The result is tagged Poisson with unit dispersion and covariance pinv(X'X).
func FitRidge(x mat.Matrix, y, offset []float64, ridge float64) (*Result, error) {
	n, p, err := checkDims(x, y, offset)
	if err != nil {
		return nil, err
	}
	// Log-rate target, so Predict's exp(Xβ) is a rate like FitIRLS's.
	target := make([]float64, n)
	for i := range n {
		target[i] = math.Log(y[i] + 0.5)
		if offset != nil {
			target[i] -= offset[i]
		}
	}

	ones := make([]float64, n)
	floats.AddConst(1, ones)
	gram, rhs := weightedGram(x, ones, target)
	penalised := mat.DenseCopyOf(gram)
	for j := range p {
		penalised.Set(j, j, penalised.At(j, j)+ridge)
	}
	beta, err := solve(penalised, rhs)
	if err != nil {
		return nil, fmt.Errorf("ridge fallback: %w", err)
	}

	return &Result{
		Beta:       beta,
		Cov:        pinv(gram),
		Dispersion: 1,
		Family:     Poisson,
		Fallback:   true,
	}, nil
}

func checkDims(x mat.Matrix, y, offset []float64) (n, p int, err error) {
	if x == nil {
		return 0, 0, ErrEmptyDesign
	}
	n, p = x.Dims()
	if n == 0 || p == 0 {
		return 0, 0, ErrEmptyDesign
	}
	if len(y) != n || (offset != nil && len(offset) != n) {
		return 0, 0, fmt.Errorf("%w: %d rows, %d responses, %d offsets", ErrDimensionMismatch, n, len(y), len(offset))
	}
	return n, p, nil
}
