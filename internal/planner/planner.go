package planner

import (
	"fmt"
	"math"

	"github.com/banshee-data/onboard/internal/linalg"
	"github.com/banshee-data/onboard/internal/replay"
	"gonum.org/v1/gonum/mat"
)

// RandSource is the injected randomness behind exploration, batch sampling
// and weight initialisation. *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
	Intn(n int) int
	NormFloat64() float64
}

// TrainStats summarises one TrainStep call.
type TrainStats struct {
	Samples   int     // Transitions applied; 0 when the buffer was too small
	MeanAbsTD float64 // Mean |δ| over the applied transitions
}

// Planner chooses actions and learns from remembered transitions. It is not
// safe for concurrent use.
type Planner struct {
	cfg Config
	w   Weights
	rng RandSource

	memory *replay.Buffer[replay.Transition]
}

// New creates a Planner with random initial weights drawn from rng.
func New(cfg Config, rng RandSource) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	}
	memory, err := replay.New[replay.Transition](cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	return &Planner{
		cfg:    cfg,
		w:      randomWeights(cfg, rng),
		rng:    rng,
		memory: memory,
	}, nil
}

// Config returns the planner configuration.
func (p *Planner) Config() Config { return p.cfg }

// BufferLen returns the number of remembered transitions.
func (p *Planner) BufferLen() int { return p.memory.Len() }

// Weights returns a deep copy of the current weights, for checkpointing.
func (p *Planner) Weights() Weights { return p.w.Clone() }

// SetWeights replaces the weights with a copy of w after checking shapes.
func (p *Planner) SetWeights(w Weights) error {
	if err := w.Validate(p.cfg); err != nil {
		return err
	}
	p.w = w.Clone()
	return nil
}

// forward runs the network on s and returns the pre-activation z1, the
// hidden activation h1 and the action values q.
func (p *Planner) forward(s *mat.VecDense) (z1, h1, q *mat.VecDense) {
	z1 = mat.NewVecDense(p.cfg.HiddenDim, nil)
	z1.MulVec(p.w.W1, s)
	z1.AddVec(z1, p.w.B1)

	h1 = mat.NewVecDense(p.cfg.HiddenDim, nil)
	for i := 0; i < p.cfg.HiddenDim; i++ {
		h1.SetVec(i, math.Tanh(z1.AtVec(i)))
	}

	q = mat.NewVecDense(p.cfg.ActionDim, nil)
	q.MulVec(p.w.W2, h1)
	q.AddVec(q, p.w.B2)
	return z1, h1, q
}

func (p *Planner) stateVec(what string, state []float64) (*mat.VecDense, error) {
	if err := linalg.CheckLen(what, state, p.cfg.StateDim); err != nil {
		return nil, err
	}
	return mat.NewVecDense(p.cfg.StateDim, append([]float64(nil), state...)), nil
}

// QValues returns Q(state, ·) under the current weights.
func (p *Planner) QValues(state []float64) ([]float64, error) {
	s, err := p.stateVec("state", state)
	if err != nil {
		return nil, err
	}
	_, _, q := p.forward(s)
	return append([]float64(nil), q.RawVector().Data...), nil
}

// Act picks an action for state. With probability epsilon it returns a
// uniformly random action; otherwise the greedy action, ties going to the
// lowest index.
func (p *Planner) Act(state []float64, epsilon float64) (int, error) {
	s, err := p.stateVec("state", state)
	if err != nil {
		return 0, err
	}
	if p.rng.Float64() < epsilon {
		return p.rng.Intn(p.cfg.ActionDim), nil
	}
	_, _, q := p.forward(s)
	return linalg.Argmax(q.RawVector().Data), nil
}

// Remember stores a copy of t, evicting the oldest transition when the
// buffer is full.
func (p *Planner) Remember(t replay.Transition) error {
	if err := linalg.CheckLen("state", t.State, p.cfg.StateDim); err != nil {
		return err
	}
	if err := linalg.CheckLen("next state", t.NextState, p.cfg.StateDim); err != nil {
		return err
	}
	if t.Action < 0 || t.Action >= p.cfg.ActionDim {
		return fmt.Errorf("%w: action %d outside [0, %d)", linalg.ErrDimensionMismatch, t.Action, p.cfg.ActionDim)
	}
	p.memory.Push(t.Clone())
	return nil
}

// TrainStep samples BatchSize distinct transitions and applies one TD update
// per transition, in sample order. With fewer than BatchSize transitions
// remembered it does nothing and returns zero stats. If the batch drives any
// weight non-finite, the weights are restored to their pre-batch values and
// ErrNumericalInstability is returned.
func (p *Planner) TrainStep() (TrainStats, error) {
	if p.memory.Len() < p.cfg.BatchSize {
		return TrainStats{}, nil
	}
	batch, err := p.memory.Sample(p.rng, p.cfg.BatchSize)
	if err != nil {
		return TrainStats{}, err
	}

	prev := p.w.Clone()
	var sumAbsTD float64
	for _, t := range batch {
		td := p.learn(t)
		sumAbsTD += math.Abs(td)
	}

	stats := TrainStats{Samples: len(batch), MeanAbsTD: sumAbsTD / float64(len(batch))}
	if math.IsNaN(stats.MeanAbsTD) || math.IsInf(stats.MeanAbsTD, 0) || p.w.Validate(p.cfg) != nil {
		p.w = prev
		return stats, fmt.Errorf("%w: weights diverged during training", linalg.ErrNumericalInstability)
	}
	return stats, nil
}

// learn applies the TD update for a single transition and returns δ.
func (p *Planner) learn(t replay.Transition) float64 {
	target := t.Reward
	if !t.Done {
		next := mat.NewVecDense(p.cfg.StateDim, t.NextState)
		_, _, qNext := p.forward(next)
		target += p.cfg.Gamma * mat.Max(qNext)
	}

	s := mat.NewVecDense(p.cfg.StateDim, t.State)
	z1, h1, q := p.forward(s)
	td := target - q.AtVec(t.Action)

	dout := mat.NewVecDense(p.cfg.ActionDim, nil)
	dout.SetVec(t.Action, td)

	p.backward(s, z1, h1, dout)
	return td
}

// backward applies a gradient-ascent step for output gradient dout:
//
//	dz1 = (W2ᵀ·dout) ⊙ (1 − tanh(z1)²)
//	W2 += lr·dout·h1ᵀ    b2 += lr·dout
//	W1 += lr·dz1·sᵀ      b1 += lr·dz1
//
// dz1 is taken through W2 before W2 moves.
func (p *Planner) backward(s, z1, h1, dout *mat.VecDense) {
	lr := p.cfg.LearningRate

	dz1 := mat.NewVecDense(p.cfg.HiddenDim, nil)
	dz1.MulVec(p.w.W2.T(), dout)
	for i := 0; i < p.cfg.HiddenDim; i++ {
		th := math.Tanh(z1.AtVec(i))
		dz1.SetVec(i, dz1.AtVec(i)*(1-th*th))
	}

	p.w.W2.RankOne(p.w.W2, lr, dout, h1)
	p.w.B2.AddScaledVec(p.w.B2, lr, dout)
	p.w.W1.RankOne(p.w.W1, lr, dz1, s)
	p.w.B1.AddScaledVec(p.w.B1, lr, dz1)
}
