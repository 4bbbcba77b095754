package planner

import (
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/onboard/internal/linalg"
	"github.com/banshee-data/onboard/internal/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testConfig() Config {
	return Config{
		StateDim:     4,
		ActionDim:    3,
		HiddenDim:    8,
		LearningRate: 0.01,
		Gamma:        0.9,
		BufferSize:   100,
		BatchSize:    8,
		InitScale:    0.1,
	}
}

func newTestPlanner(t *testing.T, cfg Config, seed int64) *Planner {
	t.Helper()
	p, err := New(cfg, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return p
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	mutate := []func(*Config){
		func(c *Config) { c.StateDim = 0 },
		func(c *Config) { c.ActionDim = -1 },
		func(c *Config) { c.HiddenDim = 0 },
		func(c *Config) { c.BufferSize = 0 },
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.BatchSize = c.BufferSize + 1 },
		func(c *Config) { c.LearningRate = 0 },
		func(c *Config) { c.LearningRate = math.NaN() },
		func(c *Config) { c.Gamma = 1.01 },
		func(c *Config) { c.InitScale = -1 },
	}
	for i, m := range mutate {
		cfg := testConfig()
		m(&cfg)
		_, err := New(cfg, rand.New(rand.NewSource(1)))
		assert.ErrorIs(t, err, ErrInvalidConfig, "case %d", i)
	}

	_, err := New(testConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInitialWeights(t *testing.T) {
	t.Parallel()

	a := newTestPlanner(t, testConfig(), 3)
	b := newTestPlanner(t, testConfig(), 3)
	c := newTestPlanner(t, testConfig(), 4)

	wa := a.Weights()
	assert.True(t, wa.Equal(b.Weights()), "same seed must give same weights")
	assert.False(t, wa.Equal(c.Weights()), "different seeds should differ")

	r, cols := wa.W1.Dims()
	assert.Equal(t, [2]int{8, 4}, [2]int{r, cols})
	r, cols = wa.W2.Dims()
	assert.Equal(t, [2]int{3, 8}, [2]int{r, cols})
	assert.Equal(t, 0.0, mat.Norm(wa.B1, 2))
	assert.Equal(t, 0.0, mat.Norm(wa.B2, 2))
	assert.NotZero(t, mat.Norm(wa.W1, 1))
}

func TestActGreedyDeterministic(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testConfig(), 11)
	state := []float64{0.3, -1.2, 0.5, 0.05}

	first, err := p.Act(state, 0)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		got, err := p.Act(state, 0)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}

	q, err := p.QValues(state)
	require.NoError(t, err)
	assert.Equal(t, linalg.Argmax(q), first)
}

func TestActTieBreaksToLowestIndex(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	p := newTestPlanner(t, cfg, 1)
	w := p.Weights()
	w.W2.Zero()
	w.B2 = mat.NewVecDense(cfg.ActionDim, []float64{0.5, 2, 2})
	require.NoError(t, p.SetWeights(w))

	a, err := p.Act([]float64{1, 2, 3, 4}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, a)
}

func TestActRandomIsUniform(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testConfig(), 5)
	state := []float64{0, 0, 0, 0}

	const trials = 30000
	counts := make([]int, 3)
	for i := 0; i < trials; i++ {
		a, err := p.Act(state, 1)
		require.NoError(t, err)
		require.True(t, a >= 0 && a < 3)
		counts[a]++
	}
	for a, c := range counts {
		assert.InDelta(t, 1.0/3, float64(c)/trials, 0.02, "action %d", a)
	}
}

func TestActDimensionMismatch(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testConfig(), 1)
	_, err := p.Act([]float64{1, 2, 3}, 0)
	assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
	_, err = p.QValues(nil)
	assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
}

func TestRemember(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BufferSize = 10
	p := newTestPlanner(t, cfg, 1)

	s := []float64{1, 2, 3, 4}
	for i := 0; i < 15; i++ {
		require.NoError(t, p.Remember(replay.Transition{State: s, Action: i % 3, Reward: float64(i), NextState: s}))
	}
	assert.Equal(t, 10, p.BufferLen())

	// The planner keeps its own copy.
	s[0] = 99
	for _, tr := range p.memory.Items() {
		assert.Equal(t, 1.0, tr.State[0])
	}
	// The five oldest rewards were evicted.
	assert.Equal(t, 5.0, p.memory.At(0).Reward)

	t.Run("rejects bad shapes", func(t *testing.T) {
		err := p.Remember(replay.Transition{State: []float64{1}, NextState: s})
		assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
		err = p.Remember(replay.Transition{State: s, NextState: []float64{1, 2}})
		assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
		err = p.Remember(replay.Transition{State: s, NextState: s, Action: 3})
		assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
		err = p.Remember(replay.Transition{State: s, NextState: s, Action: -1})
		assert.ErrorIs(t, err, linalg.ErrDimensionMismatch)
	})
}

func TestTrainStepNoOpBelowBatchSize(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testConfig(), 2)
	before := p.Weights()

	s := []float64{0.1, 0.2, 0.3, 0.4}
	for i := 0; i < p.Config().BatchSize-1; i++ {
		require.NoError(t, p.Remember(replay.Transition{State: s, Action: 1, Reward: 5, NextState: s}))
		stats, err := p.TrainStep()
		require.NoError(t, err)
		assert.Zero(t, stats.Samples)
	}

	assert.True(t, before.Equal(p.Weights()), "weights must be bit-identical")
}

// refNet is a plain-slice rendition of the network used to check the
// closed-form gradients.
type refNet struct {
	w1 [][]float64
	b1 []float64
	w2 [][]float64
	b2 []float64
}

func refFromWeights(w Weights) *refNet {
	toRows := func(m *mat.Dense) [][]float64 {
		r, c := m.Dims()
		out := make([][]float64, r)
		for i := range out {
			out[i] = make([]float64, c)
			for j := range out[i] {
				out[i][j] = m.At(i, j)
			}
		}
		return out
	}
	return &refNet{
		w1: toRows(w.W1),
		b1: append([]float64(nil), w.B1.RawVector().Data...),
		w2: toRows(w.W2),
		b2: append([]float64(nil), w.B2.RawVector().Data...),
	}
}

func (n *refNet) forward(s []float64) (z1, h1, q []float64) {
	z1 = make([]float64, len(n.b1))
	h1 = make([]float64, len(n.b1))
	for j := range z1 {
		z1[j] = n.b1[j]
		for k := range s {
			z1[j] += n.w1[j][k] * s[k]
		}
		h1[j] = math.Tanh(z1[j])
	}
	q = make([]float64, len(n.b2))
	for i := range q {
		q[i] = n.b2[i]
		for j := range h1 {
			q[i] += n.w2[i][j] * h1[j]
		}
	}
	return z1, h1, q
}

func (n *refNet) step(t replay.Transition, lr, gamma float64) {
	target := t.Reward
	if !t.Done {
		_, _, qn := n.forward(t.NextState)
		best := qn[0]
		for _, v := range qn[1:] {
			best = math.Max(best, v)
		}
		target += gamma * best
	}
	z1, h1, q := n.forward(t.State)
	td := target - q[t.Action]

	dz1 := make([]float64, len(z1))
	for j := range dz1 {
		dz1[j] = n.w2[t.Action][j] * td * (1 - math.Tanh(z1[j])*math.Tanh(z1[j]))
	}
	for j := range h1 {
		n.w2[t.Action][j] += lr * td * h1[j]
	}
	n.b2[t.Action] += lr * td
	for j := range dz1 {
		for k := range t.State {
			n.w1[j][k] += lr * dz1[j] * t.State[k]
		}
		n.b1[j] += lr * dz1[j]
	}
}

func assertMatchesRef(t *testing.T, ref *refNet, w Weights) {
	t.Helper()
	got := refFromWeights(w)
	for i := range ref.w1 {
		assert.InDeltaSlice(t, ref.w1[i], got.w1[i], 1e-12, "w1 row %d", i)
	}
	assert.InDeltaSlice(t, ref.b1, got.b1, 1e-12, "b1")
	for i := range ref.w2 {
		assert.InDeltaSlice(t, ref.w2[i], got.w2[i], 1e-12, "w2 row %d", i)
	}
	assert.InDeltaSlice(t, ref.b2, got.b2, 1e-12, "b2")
}

func TestTrainStepSingleSampleGradient(t *testing.T) {
	t.Parallel()

	cfg := Config{StateDim: 4, ActionDim: 3, HiddenDim: 5, LearningRate: 0.05, Gamma: 0.9, BufferSize: 1, BatchSize: 1, InitScale: 0.5}
	p := newTestPlanner(t, cfg, 21)
	ref := refFromWeights(p.Weights())

	tr := replay.Transition{
		State:     []float64{0.5, -1, 0.25, 2},
		Action:    2,
		Reward:    -0.7,
		NextState: []float64{0.6, -0.9, 0.25, 2},
	}
	require.NoError(t, p.Remember(tr))

	stats, err := p.TrainStep()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Samples)

	ref.step(tr, cfg.LearningRate, cfg.Gamma)
	assertMatchesRef(t, ref, p.Weights())
}

func TestTrainStepIsSequentialPerSample(t *testing.T) {
	t.Parallel()

	cfg := Config{StateDim: 4, ActionDim: 3, HiddenDim: 6, LearningRate: 0.1, Gamma: 0.5, BufferSize: 3, BatchSize: 3, InitScale: 0.5}
	p := newTestPlanner(t, cfg, 8)
	ref := refFromWeights(p.Weights())

	// Identical transitions make the sample order irrelevant, so the
	// expected result is three chained single-sample steps.
	tr := replay.Transition{
		State:     []float64{1, 0.5, -0.5, 0.2},
		Action:    0,
		Reward:    1,
		NextState: []float64{0.9, 0.5, -0.5, 0.2},
		Done:      true,
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Remember(tr))
	}
	_, err := p.TrainStep()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ref.step(tr, cfg.LearningRate, cfg.Gamma)
	}
	assertMatchesRef(t, ref, p.Weights())

	// A single update scaled by the batch size lands somewhere else.
	batched := refFromWeights(newTestPlanner(t, cfg, 8).Weights())
	_, _, q0 := batched.forward(tr.State)
	td := tr.Reward - q0[0]
	batched.b2[0] += 3 * cfg.LearningRate * td
	assert.NotEqual(t, batched.b2[0], refFromWeights(p.Weights()).b2[0])
}

func TestTrainStepConvergesOnTerminalReward(t *testing.T) {
	t.Parallel()

	cfg := Config{StateDim: 4, ActionDim: 3, HiddenDim: 8, LearningRate: 0.05, Gamma: 0.9, BufferSize: 4, BatchSize: 4, InitScale: 0.1}
	p := newTestPlanner(t, cfg, 13)

	s := []float64{0.2, -0.4, 0.1, 0}
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Remember(replay.Transition{State: s, Action: 1, Reward: 1.5, NextState: s, Done: true}))
	}

	var last TrainStats
	for i := 0; i < 200; i++ {
		var err error
		last, err = p.TrainStep()
		require.NoError(t, err)
	}
	q, err := p.QValues(s)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, q[1], 1e-3)
	assert.Less(t, last.MeanAbsTD, 1e-3)

	a, err := p.Act(s, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, a)
}

func TestTrainStepRestoresWeightsOnDivergence(t *testing.T) {
	t.Parallel()

	cfg := Config{StateDim: 4, ActionDim: 3, HiddenDim: 4, LearningRate: 1e300, Gamma: 0.9, BufferSize: 4, BatchSize: 2, InitScale: 0.1}
	p := newTestPlanner(t, cfg, 17)

	s := []float64{1, 0.5, 0, 0}
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Remember(replay.Transition{State: s, Action: i, Reward: 1e300, NextState: s, Done: true}))
	}
	before := p.Weights()

	_, err := p.TrainStep()
	require.ErrorIs(t, err, linalg.ErrNumericalInstability)
	assert.True(t, before.Equal(p.Weights()))
	require.NoError(t, p.Weights().Validate(cfg))

	q, err := p.QValues(s)
	require.NoError(t, err)
	for i, v := range q {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "q[%d] = %v", i, v)
	}
	_, err = p.Act(s, 0)
	assert.NoError(t, err)
}

func TestWeightsRoundTrip(t *testing.T) {
	t.Parallel()

	p := newTestPlanner(t, testConfig(), 1)
	w := p.Weights()

	// The copy is detached from the planner.
	w.W1.Set(0, 0, 42)
	assert.NotEqual(t, 42.0, p.Weights().W1.At(0, 0))

	require.NoError(t, p.SetWeights(w))
	assert.Equal(t, 42.0, p.Weights().W1.At(0, 0))

	t.Run("rejects shape mismatch", func(t *testing.T) {
		bad := p.Weights()
		bad.W1 = mat.NewDense(4, 8, nil)
		assert.ErrorIs(t, p.SetWeights(bad), linalg.ErrDimensionMismatch)

		bad = p.Weights()
		bad.B2 = mat.NewVecDense(4, nil)
		assert.ErrorIs(t, p.SetWeights(bad), linalg.ErrDimensionMismatch)

		bad = p.Weights()
		bad.B1 = nil
		assert.ErrorIs(t, p.SetWeights(bad), linalg.ErrDimensionMismatch)
	})

	t.Run("rejects non-finite values", func(t *testing.T) {
		bad := p.Weights()
		bad.W2.Set(1, 1, math.NaN())
		assert.ErrorIs(t, p.SetWeights(bad), linalg.ErrNumericalInstability)
	})
}

func TestConfigFromTuningDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, Config{
		StateDim:     4,
		ActionDim:    3,
		HiddenDim:    64,
		LearningRate: 1e-3,
		Gamma:        0.95,
		BufferSize:   10000,
		BatchSize:    64,
		InitScale:    0.1,
	}, cfg)
	assert.NoError(t, cfg.Validate())
}
