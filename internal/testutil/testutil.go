// Package testutil provides numeric assertions shared by the estimator,
// planner and pipeline tests.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// AssertVecNear fails the test if got and want differ in length or in any
// component by more than tol.
func AssertVecNear(t testing.TB, want, got []float64, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Errorf("length = %d, want %d", len(got), len(want))
		return
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol || math.IsNaN(got[i]) {
			t.Errorf("[%d] = %v, want %v (tol %g)", i, got[i], want[i], tol)
		}
	}
}

// AssertMatNear fails the test if got and want differ in shape or in any
// element by more than tol.
func AssertMatNear(t testing.TB, want, got mat.Matrix, tol float64) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	if wr != gr || wc != gc {
		t.Errorf("dims = %dx%d, want %dx%d", gr, gc, wr, wc)
		return
	}
	if !mat.EqualApprox(want, got, tol) {
		t.Errorf("matrices differ beyond %g:\ngot\n%v\nwant\n%v", tol, mat.Formatted(got), mat.Formatted(want))
	}
}

// AssertSymmetric fails the test if m is not square or m[i][j] and m[j][i]
// differ by more than tol.
func AssertSymmetric(t testing.TB, m mat.Matrix, tol float64) {
	t.Helper()
	r, c := m.Dims()
	if r != c {
		t.Errorf("matrix is %dx%d, not square", r, c)
		return
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			if d := math.Abs(m.At(i, j) - m.At(j, i)); d > tol {
				t.Errorf("m[%d][%d]=%v, m[%d][%d]=%v", i, j, m.At(i, j), j, i, m.At(j, i))
			}
		}
	}
}

// AssertFinite fails the test if any value is NaN or infinite.
func AssertFinite(t testing.TB, xs []float64) {
	t.Helper()
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Errorf("[%d] = %v is not finite", i, x)
		}
	}
}
