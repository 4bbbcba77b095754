package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/onboard/internal/config"
	"github.com/banshee-data/onboard/internal/linalg"
	"gonum.org/v1/gonum/mat"
)

// StateDim is the size of the state vector [x, y, vx, vy].
const StateDim = 4

// State vector indices
const (
	IdxX = iota
	IdxY
	IdxVX
	IdxVY
)

// MinInnovationDeterminant is the smallest det(S) accepted before the
// innovation covariance is treated as singular.
const MinInnovationDeterminant = 1e-12

var (
	// ErrInvalidTimeStep is returned by Predict for a negative or NaN dt.
	ErrInvalidTimeStep = errors.New("invalid time step")
	// ErrInvalidConfig is returned by New for negative variances.
	ErrInvalidConfig = errors.New("invalid estimator config")
)

// Config holds the noise parameters of the filter. Q and R are built as
// ProcessVar·I and MeasVar·I at construction and never change afterwards.
type Config struct {
	ProcessVar float64 // Process noise variance per state component (Q diagonal)
	MeasVar    float64 // Measurement noise variance per component (R diagonal)
	InitialVar float64 // Initial covariance diagonal (P0 = InitialVar·I)
}

// DefaultConfig returns the production noise parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		ProcessVar: cfg.GetProcessVar(),
		MeasVar:    cfg.GetMeasVar(),
		InitialVar: cfg.GetInitialVar(),
	}
}

// DebugRecorder receives filter internals for instrumentation. It is
// optional; a nil recorder costs nothing.
type DebugRecorder interface {
	RecordPrediction(state []float64, traceP float64)
	RecordInnovation(innovation []float64, traceP float64)
}

// Estimator is a single-object constant-velocity filter. It is not safe for
// concurrent use; the caller serialises Predict and Update.
type Estimator struct {
	x *mat.VecDense // state [x, y, vx, vy]
	p *mat.Dense    // covariance, 4x4
	q *mat.Dense    // process noise, fixed
	r *mat.Dense    // measurement noise, fixed

	// innovation from the most recent Update
	innovation *mat.VecDense

	cfg Config

	// Recorder captures predictions and innovations (optional)
	Recorder DebugRecorder
}

// New creates an Estimator with x = 0 and P = InitialVar·I.
func New(cfg Config) (*Estimator, error) {
	for name, v := range map[string]float64{
		"process variance":     cfg.ProcessVar,
		"measurement variance": cfg.MeasVar,
		"initial variance":     cfg.InitialVar,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s must be finite and non-negative, got %v", ErrInvalidConfig, name, v)
		}
	}

	e := &Estimator{
		q:          linalg.Diag(StateDim, cfg.ProcessVar),
		r:          linalg.Diag(StateDim, cfg.MeasVar),
		innovation: mat.NewVecDense(StateDim, nil),
		cfg:        cfg,
	}
	e.Reset()
	return e, nil
}

// Reset returns the filter to x = 0, P = InitialVar·I. The filter never does
// this on its own.
func (e *Estimator) Reset() {
	e.x = mat.NewVecDense(StateDim, nil)
	e.p = linalg.Diag(StateDim, e.cfg.InitialVar)
	e.innovation.Zero()
}

// transition builds the constant-velocity transition matrix:
//
//	F = [1  0  dt  0 ]
//	    [0  1  0   dt]
//	    [0  0  1   0 ]
//	    [0  0  0   1 ]
func transition(dt float64) *mat.Dense {
	f := linalg.Diag(StateDim, 1)
	f.Set(IdxX, IdxVX, dt)
	f.Set(IdxY, IdxVY, dt)
	return f
}

// Predict advances the state by dt seconds: x ← F x, P ← F P Fᵀ + Q.
// dt = 0 leaves x untouched and adds exactly Q to P. On error the filter is
// left as it was.
func (e *Estimator) Predict(dt float64) error {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: dt=%v", ErrInvalidTimeStep, dt)
	}

	f := transition(dt)

	var x mat.VecDense
	x.MulVec(f, e.x)

	var fp, p mat.Dense
	fp.Mul(f, e.p)
	p.Mul(&fp, f.T())
	p.Add(&p, e.q)
	linalg.Symmetrize(&p)

	if !linalg.AllFinite(x.RawVector().Data) || !linalg.MatFinite(&p) {
		return fmt.Errorf("%w: prediction produced non-finite state (dt=%v)", linalg.ErrNumericalInstability, dt)
	}

	e.x.CopyVec(&x)
	e.p.Copy(&p)

	if e.Recorder != nil {
		e.Recorder.RecordPrediction(e.State(), linalg.Trace(e.p))
	}
	return nil
}

// Update fuses a full-state measurement z = [x, y, vx, vy]:
//
//	y = z − x          (H = I)
//	S = P + R
//	K = P S⁻¹
//	x ← x + K y
//	P ← (I − K) P
//
// A singular or ill-conditioned S returns ErrNumericalInstability and the
// filter is left as it was.
func (e *Estimator) Update(z []float64) error {
	if err := linalg.CheckLen("measurement", z, StateDim); err != nil {
		return err
	}
	if !linalg.AllFinite(z) {
		return fmt.Errorf("%w: measurement contains NaN/Inf", linalg.ErrNumericalInstability)
	}

	zv := mat.NewVecDense(StateDim, append([]float64(nil), z...))

	var y mat.VecDense
	y.SubVec(zv, e.x)

	var s mat.Dense
	s.Add(e.p, e.r)

	det := mat.Det(&s)
	if math.IsNaN(det) || math.IsInf(det, 0) || det < MinInnovationDeterminant {
		return fmt.Errorf("%w: innovation covariance determinant %g below %g",
			linalg.ErrNumericalInstability, det, MinInnovationDeterminant)
	}

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("%w: inverting innovation covariance: %v", linalg.ErrNumericalInstability, err)
	}

	var k mat.Dense
	k.Mul(e.p, &sInv)

	var ky mat.VecDense
	ky.MulVec(&k, &y)

	var x mat.VecDense
	x.AddVec(e.x, &ky)

	ik := linalg.Diag(StateDim, 1)
	ik.Sub(ik, &k)

	var p mat.Dense
	p.Mul(ik, e.p)
	linalg.Symmetrize(&p)

	if !linalg.AllFinite(x.RawVector().Data) || !linalg.MatFinite(&p) {
		return fmt.Errorf("%w: update produced non-finite state", linalg.ErrNumericalInstability)
	}

	e.x.CopyVec(&x)
	e.p.Copy(&p)
	e.innovation.CopyVec(&y)

	if e.Recorder != nil {
		e.Recorder.RecordInnovation(e.Innovation(), linalg.Trace(e.p))
	}
	return nil
}

// State returns a copy of the current state vector.
func (e *Estimator) State() []float64 {
	return append([]float64(nil), e.x.RawVector().Data...)
}

// Covariance returns a copy of the current covariance matrix.
func (e *Estimator) Covariance() *mat.Dense {
	return mat.DenseCopyOf(e.p)
}

// Innovation returns a copy of the innovation from the last successful Update.
func (e *Estimator) Innovation() []float64 {
	return append([]float64(nil), e.innovation.RawVector().Data...)
}

// ProcessNoise returns a copy of Q.
func (e *Estimator) ProcessNoise() *mat.Dense {
	return mat.DenseCopyOf(e.q)
}

// MeasurementNoise returns a copy of R.
func (e *Estimator) MeasurementNoise() *mat.Dense {
	return mat.DenseCopyOf(e.r)
}
