package planner

import (
	"fmt"

	"github.com/banshee-data/onboard/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// Weights is the planner's entire learnable state.
type Weights struct {
	W1 *mat.Dense    // hidden × state
	B1 *mat.VecDense // hidden
	W2 *mat.Dense    // action × hidden
	B2 *mat.VecDense // action
}

// Clone returns a deep copy of w.
func (w Weights) Clone() Weights {
	return Weights{
		W1: mat.DenseCopyOf(w.W1),
		B1: mat.VecDenseCopyOf(w.B1),
		W2: mat.DenseCopyOf(w.W2),
		B2: mat.VecDenseCopyOf(w.B2),
	}
}

// Equal reports whether two weight sets are bit-identical.
func (w Weights) Equal(o Weights) bool {
	return mat.Equal(w.W1, o.W1) && mat.Equal(w.B1, o.B1) &&
		mat.Equal(w.W2, o.W2) && mat.Equal(w.B2, o.B2)
}

// Validate checks that w has the shapes cfg calls for and holds only finite
// values.
func (w Weights) Validate(cfg Config) error {
	if w.W1 == nil || w.B1 == nil || w.W2 == nil || w.B2 == nil {
		return fmt.Errorf("%w: missing weight array", linalg.ErrDimensionMismatch)
	}
	r, c := w.W1.Dims()
	if err := linalg.CheckShape("w1", r, c, cfg.HiddenDim, cfg.StateDim); err != nil {
		return err
	}
	if err := linalg.CheckShape("b1", w.B1.Len(), 1, cfg.HiddenDim, 1); err != nil {
		return err
	}
	r, c = w.W2.Dims()
	if err := linalg.CheckShape("w2", r, c, cfg.ActionDim, cfg.HiddenDim); err != nil {
		return err
	}
	if err := linalg.CheckShape("b2", w.B2.Len(), 1, cfg.ActionDim, 1); err != nil {
		return err
	}
	if !linalg.MatFinite(w.W1) || !linalg.MatFinite(w.B1) || !linalg.MatFinite(w.W2) || !linalg.MatFinite(w.B2) {
		return fmt.Errorf("%w: weights contain NaN/Inf", linalg.ErrNumericalInstability)
	}
	return nil
}

// randomWeights draws W1 and W2 from N(0, scale²) and zeroes the biases.
func randomWeights(cfg Config, rng RandSource) Weights {
	w1 := mat.NewDense(cfg.HiddenDim, cfg.StateDim, nil)
	for i := 0; i < cfg.HiddenDim; i++ {
		for j := 0; j < cfg.StateDim; j++ {
			w1.Set(i, j, rng.NormFloat64()*cfg.InitScale)
		}
	}
	w2 := mat.NewDense(cfg.ActionDim, cfg.HiddenDim, nil)
	for i := 0; i < cfg.ActionDim; i++ {
		for j := 0; j < cfg.HiddenDim; j++ {
			w2.Set(i, j, rng.NormFloat64()*cfg.InitScale)
		}
	}
	return Weights{
		W1: w1,
		B1: mat.NewVecDense(cfg.HiddenDim, nil),
		W2: w2,
		B2: mat.NewVecDense(cfg.ActionDim, nil),
	}
}
