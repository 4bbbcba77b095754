package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/onboard/internal/monitoring"
	"github.com/banshee-data/onboard/internal/serialmux"
	"github.com/banshee-data/onboard/internal/sim"
	"github.com/banshee-data/onboard/internal/timeutil"
)

// NoAction is passed to Source.Measure before the first action is chosen.
const NoAction = -1

// Source produces one measurement per tick. lastAction is the action chosen
// on the previous tick, or NoAction. Returning io.EOF ends the loop cleanly.
type Source interface {
	Measure(ctx context.Context, lastAction int) (z []float64, done bool, err error)
}

// SimSource measures a simulated environment, applying the agent's actions
// to it.
type SimSource struct {
	Env *sim.Env

	resetNext bool
}

func (s *SimSource) Measure(_ context.Context, lastAction int) ([]float64, bool, error) {
	if lastAction == NoAction || s.resetNext {
		s.resetNext = false
		return s.Env.Reset(), false, nil
	}
	next, _, done, err := s.Env.Step(lastAction)
	if err != nil {
		return nil, false, err
	}
	s.resetNext = done
	return next, done, nil
}

// FeedSource waits for the next measurement from a serial feed. It never
// ends an episode.
type FeedSource struct {
	C <-chan serialmux.Measurement
}

func (f FeedSource) Measure(ctx context.Context, _ int) ([]float64, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case m, ok := <-f.C:
		if !ok {
			return nil, false, io.EOF
		}
		return m.Slice(), false, nil
	}
}

// Runner drives an Agent from a Source on a clock.
type Runner struct {
	Agent    *Agent
	Source   Source
	Clock    timeutil.Clock
	Interval time.Duration // Tick period
	Dt       float64       // Fixed filter step in seconds; 0 uses elapsed clock time
	MaxTicks int           // Stop after this many ticks; 0 runs until ctx or EOF
	OnTick   func(Tick)
}

// Run ticks until ctx is cancelled, the source reports io.EOF or MaxTicks
// is reached. Cancellation and EOF return nil.
func (r *Runner) Run(ctx context.Context) error {
	if r.Agent == nil || r.Source == nil || r.Clock == nil || r.Interval <= 0 {
		return fmt.Errorf("%w: runner needs agent, source, clock and a positive interval", ErrInvalidConfig)
	}
	last := r.Clock.Now()
	ticker := r.Clock.NewTicker(r.Interval)
	defer ticker.Stop()

	lastAction := NoAction
	for n := 0; r.MaxTicks == 0 || n < r.MaxTicks; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		z, done, err := r.Source.Measure(ctx, lastAction)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("measure: %w", err)
		}

		dt := r.Dt
		if dt == 0 {
			now := r.Clock.Now()
			dt = now.Sub(last).Seconds()
			last = now
		}

		tick, err := r.Agent.Step(dt, z, done)
		if err != nil {
			monitoring.Logf("pipeline: %v", err)
			return err
		}
		lastAction = tick.Action
		if done {
			lastAction = NoAction
		}
		if r.OnTick != nil {
			r.OnTick(tick)
		}
	}
	return nil
}
