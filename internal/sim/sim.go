// Package sim is a one-dimensional station-keeping environment used to
// train and evaluate the planner. The agent sets its lateral velocity each
// step and is rewarded for staying near the origin.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ActionDim is the number of discrete actions: move left, hold, move right.
const ActionDim = 3

// StateDim matches the estimator state layout (x, y, vx, vy).
const StateDim = 4

// ErrInvalidAction is returned by Step for an action outside [0, ActionDim).
var ErrInvalidAction = errors.New("invalid action")

// EnvConfig parameterises the environment.
type EnvConfig struct {
	Dt       float64 // Seconds per step
	Speed    float64 // |vx| for the left and right actions
	Bound    float64 // x is clamped to [-Bound, Bound]
	StartX   float64 // Reset draws x from U(-StartX, StartX)
	StartY   float64 // Reset draws y from U(-StartY, StartY)
	NoiseStd float64 // Measurement noise on x and y
	MaxSteps int     // Episode length
}

// DefaultEnvConfig returns the environment used by cmd/train and cmd/eval.
func DefaultEnvConfig() EnvConfig {
	return EnvConfig{
		Dt:       0.1,
		Speed:    2,
		Bound:    3,
		StartX:   2,
		StartY:   0.5,
		NoiseStd: 0.02,
		MaxSteps: 50,
	}
}

// Env holds the true agent state.
type Env struct {
	cfg   EnvConfig
	rng   *rand.Rand
	x, y  float64
	vx    float64
	steps int
}

// NewEnv creates an environment seeded with seed and resets it.
func NewEnv(cfg EnvConfig, seed int64) (*Env, error) {
	if !(cfg.Dt > 0) || !(cfg.Speed > 0) || !(cfg.Bound > 0) || cfg.MaxSteps <= 0 ||
		cfg.StartX < 0 || cfg.StartY < 0 || cfg.NoiseStd < 0 {
		return nil, fmt.Errorf("invalid environment config: %+v", cfg)
	}
	e := &Env{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
	e.Reset()
	return e, nil
}

// Config returns the environment parameters.
func (e *Env) Config() EnvConfig { return e.cfg }

// Reset starts a new episode and returns the first observation.
func (e *Env) Reset() []float64 {
	e.x = (2*e.rng.Float64() - 1) * e.cfg.StartX
	e.y = (2*e.rng.Float64() - 1) * e.cfg.StartY
	e.vx = 0
	e.steps = 0
	return e.Observe()
}

// Observe returns the state vector (x, y, vx, vy) with measurement noise on
// the position components.
func (e *Env) Observe() []float64 {
	return []float64{
		e.x + e.rng.NormFloat64()*e.cfg.NoiseStd,
		e.y + e.rng.NormFloat64()*e.cfg.NoiseStd,
		e.vx,
		0,
	}
}

// Step applies action and returns the next observation, the reward and
// whether the episode is over.
func (e *Env) Step(action int) (next []float64, reward float64, done bool, err error) {
	if action < 0 || action >= ActionDim {
		return nil, 0, false, fmt.Errorf("%w: %d", ErrInvalidAction, action)
	}
	e.vx = float64(action-1) * e.cfg.Speed
	e.x = math.Max(-e.cfg.Bound, math.Min(e.cfg.Bound, e.x+e.vx*e.cfg.Dt))
	e.steps++

	reward = -math.Hypot(e.x, e.y)
	return e.Observe(), reward, e.steps >= e.cfg.MaxSteps, nil
}

// Policy maps an observation to an action.
type Policy func(state []float64) int

// Rollout runs policy for steps steps, resetting whenever an episode ends,
// and returns the mean reward per step.
func Rollout(e *Env, policy Policy, steps int) (float64, error) {
	if steps <= 0 {
		return 0, nil
	}
	state := e.Reset()
	var total float64
	for i := 0; i < steps; i++ {
		next, r, done, err := e.Step(policy(state))
		if err != nil {
			return 0, err
		}
		total += r
		state = next
		if done {
			state = e.Reset()
		}
	}
	return total / float64(steps), nil
}

// RandomPolicy returns a policy that picks uniformly among the actions.
func RandomPolicy(rng *rand.Rand) Policy {
	return func([]float64) int { return rng.Intn(ActionDim) }
}
