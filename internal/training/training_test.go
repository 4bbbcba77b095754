package training

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/banshee-data/onboard/internal/config"
	"github.com/banshee-data/onboard/internal/linalg"
	"github.com/banshee-data/onboard/internal/planner"
	"github.com/banshee-data/onboard/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallPlanner(t *testing.T, seed int64) *planner.Planner {
	t.Helper()
	p, err := planner.New(planner.Config{
		StateDim:     sim.StateDim,
		ActionDim:    sim.ActionDim,
		HiddenDim:    8,
		LearningRate: 0.01,
		Gamma:        0.9,
		BufferSize:   100,
		BatchSize:    4,
		InitScale:    0.1,
	}, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return p
}

func smallOptions() Options {
	return Options{
		Episodes:        5,
		StepsPerEpisode: 10,
		EpsilonStart:    1,
		EpsilonEnd:      0.1,
		DecayEpisodes:   2,
		TrainEvery:      1,
	}
}

func TestOptionsFromTuning(t *testing.T) {
	t.Parallel()

	opts := OptionsFromTuning(config.EmptyTuningConfig())
	assert.Equal(t, 200, opts.Episodes)
	assert.Equal(t, 30, opts.StepsPerEpisode)
	assert.Equal(t, 1.0, opts.EpsilonStart)
	assert.Equal(t, 0.1, opts.EpsilonEnd)
	assert.Equal(t, 100, opts.DecayEpisodes)
	assert.Equal(t, 1, opts.TrainEvery)
}

func TestEpsilonAt(t *testing.T) {
	t.Parallel()

	opts := Options{EpsilonStart: 1, EpsilonEnd: 0.2, DecayEpisodes: 4}
	assert.InDelta(t, 1.0, opts.EpsilonAt(0), 1e-12)
	assert.InDelta(t, 0.6, opts.EpsilonAt(2), 1e-12)
	assert.InDelta(t, 0.2, opts.EpsilonAt(4), 1e-12)
	assert.InDelta(t, 0.2, opts.EpsilonAt(100), 1e-12)
}

func TestRun(t *testing.T) {
	t.Parallel()

	p := smallPlanner(t, 1)
	env, err := sim.NewEnv(sim.DefaultEnvConfig(), 1)
	require.NoError(t, err)

	var results []EpisodeResult
	err = Run(context.Background(), p, env, smallOptions(), func(r EpisodeResult) error {
		results = append(results, r)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, i, r.Episode)
		assert.Equal(t, 10, r.Steps)
		assert.Equal(t, 10*(i+1), r.BufferLen)
		assert.Less(t, r.TotalReward, 0.0)
		assert.GreaterOrEqual(t, r.MeanAbsTD, 0.0)
	}
	assert.Equal(t, 1.0, results[0].Epsilon)
	assert.Equal(t, 0.1, results[4].Epsilon)
	assert.Greater(t, results[4].MeanAbsTD, 0.0)
}

func TestRunDeterministic(t *testing.T) {
	t.Parallel()

	run := func() ([]EpisodeResult, planner.Weights) {
		p := smallPlanner(t, 7)
		env, err := sim.NewEnv(sim.DefaultEnvConfig(), 7)
		require.NoError(t, err)
		var results []EpisodeResult
		require.NoError(t, Run(context.Background(), p, env, smallOptions(), func(r EpisodeResult) error {
			results = append(results, r)
			return nil
		}))
		return results, p.Weights()
	}

	r1, w1 := run()
	r2, w2 := run()
	assert.Equal(t, r1, r2)
	assert.True(t, w1.Equal(w2))
}

func TestRunStops(t *testing.T) {
	t.Parallel()

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		env, err := sim.NewEnv(sim.DefaultEnvConfig(), 1)
		require.NoError(t, err)
		err = Run(ctx, smallPlanner(t, 1), env, smallOptions(), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("callback error", func(t *testing.T) {
		t.Parallel()
		stop := errors.New("stop")
		env, err := sim.NewEnv(sim.DefaultEnvConfig(), 1)
		require.NoError(t, err)
		calls := 0
		err = Run(context.Background(), smallPlanner(t, 1), env, smallOptions(), func(EpisodeResult) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})
}

func TestRunRejects(t *testing.T) {
	t.Parallel()

	env, err := sim.NewEnv(sim.DefaultEnvConfig(), 1)
	require.NoError(t, err)

	bad := smallOptions()
	bad.TrainEvery = 0
	assert.ErrorIs(t, Run(context.Background(), smallPlanner(t, 1), env, bad, nil), ErrInvalidOptions)

	bad = smallOptions()
	bad.EpsilonEnd = 1.5
	assert.ErrorIs(t, Run(context.Background(), smallPlanner(t, 1), env, bad, nil), ErrInvalidOptions)

	wide, err := planner.New(planner.Config{
		StateDim: 6, ActionDim: sim.ActionDim, HiddenDim: 4,
		LearningRate: 0.01, Gamma: 0.9, BufferSize: 10, BatchSize: 2, InitScale: 0.1,
	}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.ErrorIs(t, Run(context.Background(), wide, env, smallOptions(), nil), linalg.ErrDimensionMismatch)

	_, err = Evaluate(wide, sim.DefaultEnvConfig(), 1, 10)
	assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	p := smallPlanner(t, 3)
	before := p.Weights()

	ev1, err := Evaluate(p, sim.DefaultEnvConfig(), 11, 100)
	require.NoError(t, err)
	ev2, err := Evaluate(p, sim.DefaultEnvConfig(), 11, 100)
	require.NoError(t, err)

	assert.Equal(t, ev1, ev2)
	assert.Equal(t, 100, ev1.Steps)
	assert.Less(t, ev1.Greedy, 0.0)
	assert.Less(t, ev1.Random, 0.0)
	assert.True(t, before.Equal(p.Weights()))

	_, err = Evaluate(p, sim.DefaultEnvConfig(), 11, 0)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestEvaluationBeats(t *testing.T) {
	t.Parallel()

	assert.True(t, Evaluation{Greedy: -0.5, Random: -1}.Beats())
	assert.False(t, Evaluation{Greedy: -1, Random: -1}.Beats())
}
