package glm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// minWeight floors observation weights before taking square roots.
const minWeight = 1e-6

// LinearResult is a fitted weighted least-squares model. Cov already carries
// the residual variance, so Dispersion is 1.
type LinearResult struct {
	Beta       []float64
	Cov        *mat.Dense
	Dispersion float64
}

// Predict returns X·β and sqrt(x'Σx·dispersion) per row.
func (r *LinearResult) Predict(x mat.Matrix) (mu, se []float64) {
	n, p := x.Dims()
	mu = linearPredictor(x, r.Beta, nil)
	se = make([]float64, n)
	row := make([]float64, p)
	for i := range n {
		mat.Row(row, i, x)
		se[i] = math.Sqrt(quadForm(row, r.Cov) * r.Dispersion)
	}
	return mu, se
}

// FitWeightedLinear fits y ≈ X·β minimising Σ wᵢ(yᵢ − xᵢβ)². Weights are
// floored at 1e-6; nil weights mean ordinary least squares.
func FitWeightedLinear(x mat.Matrix, y, weights []float64) (*LinearResult, error) {
	n, p, err := checkDims(x, y, nil)
	if err != nil {
		return nil, err
	}
	if weights != nil && len(weights) != n {
		return nil, fmt.Errorf("%w: %d rows, %d weights", ErrDimensionMismatch, n, len(weights))
	}

	root := make([]float64, n)
	for i := range root {
		root[i] = 1
		if weights != nil {
			root[i] = math.Sqrt(math.Max(weights[i], minWeight))
		}
	}
	xw := mat.NewDense(n, p, nil)
	xw.Apply(func(i, _ int, v float64) float64 { return v * root[i] }, x)
	yw := make([]float64, n)
	for i := range yw {
		yw[i] = y[i] * root[i]
	}

	beta, err := lstsq(xw, yw)
	if err != nil {
		return nil, fmt.Errorf("weighted least squares: %w", err)
	}

	fitted := linearPredictor(xw, beta, nil)
	rss := 0.0
	for i := range n {
		r := yw[i] - fitted[i]
		rss += r * r
	}
	residualVariance := rss / float64(max(n-p, 1))

	var gram mat.Dense
	gram.Mul(xw.T(), xw)
	cov := invertOrPinv(&gram)
	cov.Scale(residualVariance, cov)

	return &LinearResult{Beta: beta, Cov: cov, Dispersion: 1}, nil
}
