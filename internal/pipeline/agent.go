// Package pipeline runs the per-tick control loop: filter the measurement,
// choose an action from the filtered state, remember the transition and
// periodically train.
package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/onboard/internal/config"
	"github.com/banshee-data/onboard/internal/estimator"
	"github.com/banshee-data/onboard/internal/planner"
	"github.com/banshee-data/onboard/internal/replay"
)

// ErrInvalidConfig is returned by NewAgent.
var ErrInvalidConfig = errors.New("invalid agent config")

// Config controls exploration and learning inside the loop.
type Config struct {
	Epsilon    float64 // Exploration probability passed to Act
	Learn      bool    // Remember transitions and train
	TrainEvery int     // Ticks between TrainStep calls when learning
}

// ConfigFromTuning builds a learning Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Epsilon:    cfg.GetEpsilon(),
		Learn:      true,
		TrainEvery: cfg.GetTrainEvery(),
	}
}

// RewardFunc scores a filtered state.
type RewardFunc func(state []float64) float64

// DistanceReward is the keep-near-origin reward: minus the distance of
// (x, y) from the origin.
func DistanceReward(state []float64) float64 {
	return -math.Hypot(state[estimator.IdxX], state[estimator.IdxY])
}

// Tick reports what happened during one Step.
type Tick struct {
	Index      int
	Dt         float64
	State      []float64 // Posterior estimate after the update
	Innovation []float64
	Action     int
	Reward     float64 // Reward of the transition completed this tick
	Remembered bool
	Trained    bool
	Stats      planner.TrainStats
}

// Agent owns one estimator and one planner. It is not safe for concurrent
// use.
type Agent struct {
	est    *estimator.Estimator
	pl     *planner.Planner
	cfg    Config
	reward RewardFunc

	prev       []float64
	prevAction int
	hasPrev    bool
	ticks      int
}

// NewAgent joins est and pl. The reward defaults to DistanceReward.
func NewAgent(est *estimator.Estimator, pl *planner.Planner, cfg Config) (*Agent, error) {
	if est == nil || pl == nil {
		return nil, fmt.Errorf("%w: estimator and planner are required", ErrInvalidConfig)
	}
	if cfg.Learn && cfg.TrainEvery < 1 {
		return nil, fmt.Errorf("%w: train every must be at least 1, got %d", ErrInvalidConfig, cfg.TrainEvery)
	}
	if !(cfg.Epsilon >= 0 && cfg.Epsilon <= 1) {
		return nil, fmt.Errorf("%w: epsilon must be in [0, 1], got %v", ErrInvalidConfig, cfg.Epsilon)
	}
	if pl.Config().StateDim != estimator.StateDim {
		return nil, fmt.Errorf("%w: planner state dim %d, estimator state dim %d", ErrInvalidConfig, pl.Config().StateDim, estimator.StateDim)
	}
	return &Agent{est: est, pl: pl, cfg: cfg, reward: DistanceReward}, nil
}

// SetReward replaces the reward function.
func (a *Agent) SetReward(r RewardFunc) { a.reward = r }

// Estimator returns the agent's filter.
func (a *Agent) Estimator() *estimator.Estimator { return a.est }

// Planner returns the agent's planner.
func (a *Agent) Planner() *planner.Planner { return a.pl }

// Ticks returns the number of completed steps.
func (a *Agent) Ticks() int { return a.ticks }

// Step runs one tick: Predict(dt), Update(z), Act, Remember the transition
// from the previous tick, and TrainStep every TrainEvery ticks. done marks
// the end of an episode; the next Step starts a fresh transition chain.
// A filter error aborts the tick before the planner is touched.
func (a *Agent) Step(dt float64, z []float64, done bool) (Tick, error) {
	if err := a.est.Predict(dt); err != nil {
		return Tick{}, fmt.Errorf("tick %d: predict: %w", a.ticks, err)
	}
	if err := a.est.Update(z); err != nil {
		return Tick{}, fmt.Errorf("tick %d: update: %w", a.ticks, err)
	}
	state := a.est.State()
	tick := Tick{Index: a.ticks, Dt: dt, State: state, Innovation: a.est.Innovation()}

	action, err := a.pl.Act(state, a.cfg.Epsilon)
	if err != nil {
		return tick, fmt.Errorf("tick %d: act: %w", a.ticks, err)
	}
	tick.Action = action

	if a.cfg.Learn && a.hasPrev {
		tick.Reward = a.reward(state)
		t := replay.Transition{State: a.prev, Action: a.prevAction, Reward: tick.Reward, NextState: state, Done: done}
		if err := a.pl.Remember(t); err != nil {
			return tick, fmt.Errorf("tick %d: remember: %w", a.ticks, err)
		}
		tick.Remembered = true
	}

	a.ticks++
	if a.cfg.Learn && a.ticks%a.cfg.TrainEvery == 0 {
		stats, err := a.pl.TrainStep()
		if err != nil {
			return tick, fmt.Errorf("tick %d: train: %w", tick.Index, err)
		}
		tick.Stats = stats
		tick.Trained = stats.Samples > 0
	}

	if done {
		a.hasPrev = false
		a.prev = nil
	} else {
		a.prev, a.prevAction, a.hasPrev = state, action, true
	}
	return tick, nil
}
