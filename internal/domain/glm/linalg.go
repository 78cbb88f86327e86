package glm

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// pinvRcond is the relative cutoff for small singular values.
const pinvRcond = 1e-15

// Design builds a row-major design matrix with a leading intercept column.
func Design(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	p := len(rows[0]) + 1
	data := make([]float64, 0, len(rows)*p)
	for _, r := range rows {
		data = append(data, 1)
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), p, data)
}

// linearPredictor returns offset + X·beta. A nil offset means zero.
func linearPredictor(x mat.Matrix, beta, offset []float64) []float64 {
	n, _ := x.Dims()
	var eta mat.VecDense
	eta.MulVec(x, mat.NewVecDense(len(beta), beta))
	out := make([]float64, n)
	for i := range out {
		out[i] = eta.AtVec(i)
		if offset != nil {
			out[i] += offset[i]
		}
	}
	return out
}

// weightedGram returns X'WX and X'Wz for diagonal weights w.
func weightedGram(x mat.Matrix, w, z []float64) (*mat.Dense, *mat.VecDense) {
	n, p := x.Dims()
	xw := mat.NewDense(n, p, nil)
	xw.Apply(func(i, _ int, v float64) float64 { return v * w[i] }, x)

	gram := mat.NewDense(p, p, nil)
	gram.Mul(xw.T(), x)

	var rhs *mat.VecDense
	if z != nil {
		rhs = mat.NewVecDense(p, nil)
		rhs.MulVec(xw.T(), mat.NewVecDense(n, z))
	}
	return gram, rhs
}

// solve returns the solution of a·x = b. Ill-conditioned but solvable systems
// are accepted; an exactly singular system or a non-finite result is ErrSingular.
func solve(a mat.Matrix, b mat.Vector) ([]float64, error) {
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil && !usableCondition(err) {
		return nil, ErrSingular
	}
	out := x.RawVector().Data
	if !allFinite(out) {
		return nil, ErrSingular
	}
	return append([]float64(nil), out...), nil
}

// invertOrPinv returns a⁻¹, or its pseudo-inverse when a is singular.
func invertOrPinv(a mat.Matrix) *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(a); err == nil || usableCondition(err) {
		if allFinite(inv.RawMatrix().Data) {
			return &inv
		}
	}
	return pinv(a)
}

// pinv computes the Moore-Penrose pseudo-inverse through a thin SVD.
func pinv(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return mat.NewDense(c, r, nil)
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := 0.0
	if len(values) > 0 {
		cutoff = pinvRcond * floats.Max(values)
	}
	inverted := make([]float64, len(values))
	for i, s := range values {
		if s > cutoff {
			inverted[i] = 1 / s
		}
	}

	var vs mat.Dense
	vs.Apply(func(_, j int, x float64) float64 { return x * inverted[j] }, &v)
	out := mat.NewDense(c, r, nil)
	out.Mul(&vs, u.T())
	return out
}

// lstsq solves min ||a·x − b|| via SVD, matching a minimum-norm solution
// for rank-deficient a.
func lstsq(a mat.Matrix, b []float64) ([]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, ErrSingular
	}
	rows, cols := a.Dims()
	eps := math.Nextafter(1, 2) - 1
	rank := svd.Rank(eps * float64(max(rows, cols)))
	if rank == 0 {
		return make([]float64, cols), nil
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, mat.NewVecDense(len(b), b), rank)
	return append([]float64(nil), x.RawVector().Data...), nil
}

// quadForm returns max(x'Σx, 0).
func quadForm(x []float64, cov mat.Matrix) float64 {
	v := mat.NewVecDense(len(x), x)
	return math.Max(mat.Inner(v, cov, v), 0)
}

func usableCondition(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond) && !math.IsInf(float64(cond), 1) && !math.IsNaN(float64(cond))
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
