package linalg

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SymmetryTolerance is the absolute tolerance used by IsSymmetric.
const SymmetryTolerance = 1e-9

// Argmax returns the index of the largest element of v. Ties resolve to the
// lowest index. It panics on an empty slice, like floats.MaxIdx.
func Argmax(v []float64) int {
	return floats.MaxIdx(v)
}

// Max returns the largest element of v.
func Max(v []float64) float64 {
	return floats.Max(v)
}

// AllFinite reports whether every element of v is neither NaN nor ±Inf.
func AllFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// MatFinite reports whether every element of m is finite.
func MatFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// Trace returns the sum of the diagonal of a square matrix.
func Trace(m mat.Matrix) float64 {
	r, _ := m.Dims()
	var sum float64
	for i := 0; i < r; i++ {
		sum += m.At(i, i)
	}
	return sum
}

// Symmetrize replaces m with (m + mᵀ)/2 in place. Rounding in the covariance
// update drifts the off-diagonal pairs apart; this pulls them back together.
func Symmetrize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			avg := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, avg)
			m.Set(j, i, avg)
		}
	}
}

// IsSymmetric reports whether m equals its transpose within tol.
func IsSymmetric(m mat.Matrix, tol float64) bool {
	r, c := m.Dims()
	if r != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// Diag returns an n×n diagonal matrix with v on the diagonal.
func Diag(n int, v float64) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, v)
	}
	return d
}
