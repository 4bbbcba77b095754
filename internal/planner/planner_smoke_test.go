package planner

import (
	"math/rand"
	"testing"

	"github.com/banshee-data/onboard/internal/replay"
	"github.com/banshee-data/onboard/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPlannerLearnsStationKeeping trains on the simulated environment and
// checks the greedy policy beats a random one.
func TestPlannerLearnsStationKeeping(t *testing.T) {
	if testing.Short() {
		t.Skip("training loop skipped in short mode")
	}
	t.Parallel()

	cfg := Config{
		StateDim:     sim.StateDim,
		ActionDim:    sim.ActionDim,
		HiddenDim:    8,
		LearningRate: 0.01,
		Gamma:        0.5,
		BufferSize:   2000,
		BatchSize:    16,
		InitScale:    0.1,
	}
	p, err := New(cfg, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	env, err := sim.NewEnv(sim.DefaultEnvConfig(), 42)
	require.NoError(t, err)

	state := env.Reset()
	for i := 0; i < 10000; i++ {
		a, err := p.Act(state, 0.3)
		require.NoError(t, err)
		next, r, done, err := env.Step(a)
		require.NoError(t, err)
		require.NoError(t, p.Remember(replay.Transition{State: state, Action: a, Reward: r, NextState: next, Done: done}))
		_, err = p.TrainStep()
		require.NoError(t, err)

		state = next
		if done {
			state = env.Reset()
		}
	}

	greedy := func(s []float64) int {
		a, err := p.Act(s, 0)
		require.NoError(t, err)
		return a
	}

	evalEnv, err := sim.NewEnv(sim.DefaultEnvConfig(), 99)
	require.NoError(t, err)
	learned, err := sim.Rollout(evalEnv, greedy, 2000)
	require.NoError(t, err)

	evalEnv, err = sim.NewEnv(sim.DefaultEnvConfig(), 99)
	require.NoError(t, err)
	random, err := sim.Rollout(evalEnv, sim.RandomPolicy(rand.New(rand.NewSource(99))), 2000)
	require.NoError(t, err)

	t.Logf("learned %.3f random %.3f", learned, random)
	assert.Greater(t, learned, random)

	assert.Equal(t, 0, greedy([]float64{2.5, 0, 0, 0}), "far right should move left")
	assert.Equal(t, 2, greedy([]float64{-2.5, 0, 0, 0}), "far left should move right")
}
