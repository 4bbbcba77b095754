package planner

import (
	"errors"
	"fmt"

	"github.com/banshee-data/onboard/internal/config"
)

// ErrInvalidConfig is returned by New and Config.Validate.
var ErrInvalidConfig = errors.New("invalid planner config")

// Config holds the network shape and learning parameters.
type Config struct {
	StateDim     int     // Input size
	ActionDim    int     // Number of discrete actions
	HiddenDim    int     // Hidden tanh units
	LearningRate float64 // Step size for every weight update
	Gamma        float64 // Discount factor in [0, 1]
	BufferSize   int     // Replay buffer capacity
	BatchSize    int     // Transitions sampled per TrainStep
	InitScale    float64 // Std-dev of the normal initial weights
}

// DefaultConfig returns the production planner parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		StateDim:     cfg.GetStateDim(),
		ActionDim:    cfg.GetActionDim(),
		HiddenDim:    cfg.GetHiddenDim(),
		LearningRate: cfg.GetLearningRate(),
		Gamma:        cfg.GetGamma(),
		BufferSize:   cfg.GetBufferSize(),
		BatchSize:    cfg.GetBatchSize(),
		InitScale:    cfg.GetInitScale(),
	}
}

// Validate rejects shapes and rates that cannot work. Nothing is clamped.
func (c Config) Validate() error {
	switch {
	case c.StateDim <= 0:
		return fmt.Errorf("%w: state dim must be positive, got %d", ErrInvalidConfig, c.StateDim)
	case c.ActionDim <= 0:
		return fmt.Errorf("%w: action dim must be positive, got %d", ErrInvalidConfig, c.ActionDim)
	case c.HiddenDim <= 0:
		return fmt.Errorf("%w: hidden dim must be positive, got %d", ErrInvalidConfig, c.HiddenDim)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size must be positive, got %d", ErrInvalidConfig, c.BufferSize)
	case c.BatchSize <= 0 || c.BatchSize > c.BufferSize:
		return fmt.Errorf("%w: batch size must be in [1, %d], got %d", ErrInvalidConfig, c.BufferSize, c.BatchSize)
	case !(c.LearningRate > 0):
		return fmt.Errorf("%w: learning rate must be positive, got %v", ErrInvalidConfig, c.LearningRate)
	case !(c.Gamma >= 0 && c.Gamma <= 1):
		return fmt.Errorf("%w: gamma must be in [0, 1], got %v", ErrInvalidConfig, c.Gamma)
	case !(c.InitScale >= 0):
		return fmt.Errorf("%w: init scale must be non-negative, got %v", ErrInvalidConfig, c.InitScale)
	}
	return nil
}
