// Package training runs the episodic training loop of the planner against
// the simulated environment and evaluates the result.
package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/banshee-data/onboard/internal/config"
	"github.com/banshee-data/onboard/internal/linalg"
	"github.com/banshee-data/onboard/internal/planner"
	"github.com/banshee-data/onboard/internal/replay"
	"github.com/banshee-data/onboard/internal/sim"
)

// ErrInvalidOptions is returned when Options cannot drive a run.
var ErrInvalidOptions = errors.New("invalid training options")

// Options controls the episode loop.
type Options struct {
	Episodes        int
	StepsPerEpisode int
	EpsilonStart    float64 // Exploration at episode 0
	EpsilonEnd      float64 // Exploration once the decay is over
	DecayEpisodes   int     // Episodes over which epsilon falls linearly
	TrainEvery      int     // Environment steps between TrainStep calls
}

// OptionsFromTuning starts fully exploratory and decays to the configured
// epsilon over the first half of the run.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	episodes := cfg.GetEpisodes()
	return Options{
		Episodes:        episodes,
		StepsPerEpisode: cfg.GetStepsPerEpisode(),
		EpsilonStart:    1,
		EpsilonEnd:      cfg.GetEpsilon(),
		DecayEpisodes:   max(1, episodes/2),
		TrainEvery:      cfg.GetTrainEvery(),
	}
}

func (o Options) validate() error {
	switch {
	case o.Episodes <= 0:
		return fmt.Errorf("%w: episodes must be positive, got %d", ErrInvalidOptions, o.Episodes)
	case o.StepsPerEpisode <= 0:
		return fmt.Errorf("%w: steps per episode must be positive, got %d", ErrInvalidOptions, o.StepsPerEpisode)
	case o.TrainEvery <= 0:
		return fmt.Errorf("%w: train every must be positive, got %d", ErrInvalidOptions, o.TrainEvery)
	case o.DecayEpisodes <= 0:
		return fmt.Errorf("%w: decay episodes must be positive, got %d", ErrInvalidOptions, o.DecayEpisodes)
	case o.EpsilonStart < 0 || o.EpsilonStart > 1 || o.EpsilonEnd < 0 || o.EpsilonEnd > 1:
		return fmt.Errorf("%w: epsilon must be within [0, 1]", ErrInvalidOptions)
	}
	return nil
}

// EpsilonAt returns the exploration probability for episode ep.
func (o Options) EpsilonAt(ep int) float64 {
	if ep >= o.DecayEpisodes {
		return o.EpsilonEnd
	}
	frac := float64(ep) / float64(o.DecayEpisodes)
	return o.EpsilonStart + (o.EpsilonEnd-o.EpsilonStart)*frac
}

// EpisodeResult is reported once per finished episode.
type EpisodeResult struct {
	Episode     int
	Steps       int
	TotalReward float64
	MeanAbsTD   float64 // Mean over the TrainStep calls that applied samples
	Epsilon     float64
	BufferLen   int
}

func checkDims(pl *planner.Planner) error {
	cfg := pl.Config()
	if cfg.StateDim != sim.StateDim || cfg.ActionDim != sim.ActionDim {
		return fmt.Errorf("%w: planner is %dx%d, environment needs %dx%d",
			linalg.ErrDimensionMismatch, cfg.StateDim, cfg.ActionDim, sim.StateDim, sim.ActionDim)
	}
	return nil
}

// Run trains pl on env for opts.Episodes episodes. The last step of an
// episode is stored as terminal even when the environment would run on.
// onEpisode may be nil; an error from it stops the run.
func Run(ctx context.Context, pl *planner.Planner, env *sim.Env, opts Options, onEpisode func(EpisodeResult) error) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if err := checkDims(pl); err != nil {
		return err
	}

	total := 0
	for ep := 0; ep < opts.Episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := EpisodeResult{Episode: ep, Epsilon: opts.EpsilonAt(ep)}
		var tdSum float64
		var trained int

		state := env.Reset()
		for step := 0; step < opts.StepsPerEpisode; step++ {
			action, err := pl.Act(state, res.Epsilon)
			if err != nil {
				return fmt.Errorf("episode %d step %d: %w", ep, step, err)
			}
			next, reward, done, err := env.Step(action)
			if err != nil {
				return fmt.Errorf("episode %d step %d: %w", ep, step, err)
			}
			done = done || step == opts.StepsPerEpisode-1

			err = pl.Remember(replay.Transition{
				State:     state,
				Action:    action,
				Reward:    reward,
				NextState: next,
				Done:      done,
			})
			if err != nil {
				return fmt.Errorf("episode %d step %d: %w", ep, step, err)
			}
			res.TotalReward += reward
			res.Steps++
			total++

			if total%opts.TrainEvery == 0 {
				stats, err := pl.TrainStep()
				if err != nil {
					return fmt.Errorf("episode %d step %d: %w", ep, step, err)
				}
				if stats.Samples > 0 {
					tdSum += stats.MeanAbsTD
					trained++
				}
			}

			state = next
			if done {
				break
			}
		}

		if trained > 0 {
			res.MeanAbsTD = tdSum / float64(trained)
		}
		res.BufferLen = pl.BufferLen()
		if onEpisode != nil {
			if err := onEpisode(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// GreedyPolicy acts on pl with no exploration. A planner error maps to an
// out-of-range action so the environment reports it.
func GreedyPolicy(pl *planner.Planner) sim.Policy {
	return func(state []float64) int {
		a, err := pl.Act(state, 0)
		if err != nil {
			return -1
		}
		return a
	}
}

// Evaluation compares the greedy planner with a uniform random policy on
// identically seeded environments.
type Evaluation struct {
	Steps  int
	Greedy float64 // Mean reward per step
	Random float64
}

// Beats reports whether the greedy policy earned more than random.
func (e Evaluation) Beats() bool { return e.Greedy > e.Random }

// Evaluate rolls out the greedy policy and a random policy for steps steps
// each. Exploration in pl is not used, so its random source is untouched.
func Evaluate(pl *planner.Planner, envCfg sim.EnvConfig, seed int64, steps int) (Evaluation, error) {
	if err := checkDims(pl); err != nil {
		return Evaluation{}, err
	}
	if steps <= 0 {
		return Evaluation{}, fmt.Errorf("%w: eval steps must be positive, got %d", ErrInvalidOptions, steps)
	}

	greedyEnv, err := sim.NewEnv(envCfg, seed)
	if err != nil {
		return Evaluation{}, err
	}
	randomEnv, err := sim.NewEnv(envCfg, seed)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Steps: steps}
	if ev.Greedy, err = sim.Rollout(greedyEnv, GreedyPolicy(pl), steps); err != nil {
		return Evaluation{}, fmt.Errorf("greedy rollout: %w", err)
	}
	rng := rand.New(rand.NewSource(seed))
	if ev.Random, err = sim.Rollout(randomEnv, sim.RandomPolicy(rng), steps); err != nil {
		return Evaluation{}, fmt.Errorf("random rollout: %w", err)
	}
	return ev, nil
}
