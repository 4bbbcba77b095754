package linalg

import (
	"errors"
	"fmt"
)

var (
	// ErrNumericalInstability reports a singular or ill-conditioned matrix,
	// or a NaN/Inf detected in filter or network state. Continuing past it
	// would corrupt every later estimate, so it is always surfaced.
	ErrNumericalInstability = errors.New("numerical instability")

	// ErrDimensionMismatch reports a vector or matrix whose shape does not
	// match the configured dimensions (measurement, state or checkpoint).
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// CheckLen returns ErrDimensionMismatch, annotated with what, when len(v) != want.
func CheckLen(what string, v []float64, want int) error {
	if len(v) != want {
		return fmt.Errorf("%w: %s has length %d, want %d", ErrDimensionMismatch, what, len(v), want)
	}
	return nil
}

// CheckShape returns ErrDimensionMismatch when a rows×cols shape differs from
// the wanted one.
func CheckShape(what string, rows, cols, wantRows, wantCols int) error {
	if rows != wantRows || cols != wantCols {
		return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrDimensionMismatch, what, rows, cols, wantRows, wantCols)
	}
	return nil
}
