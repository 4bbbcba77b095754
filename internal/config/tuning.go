package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for estimator, planner and
// training parameters. Every field is optional; the Get* accessors supply a
// default for anything left out, so partial files are safe.
type TuningConfig struct {
	// Estimator params
	ProcessVar *float64 `json:"process_var,omitempty"`
	MeasVar    *float64 `json:"meas_var,omitempty"`
	InitialVar *float64 `json:"initial_var,omitempty"`

	// Planner params
	StateDim     *int     `json:"state_dim,omitempty"`
	ActionDim    *int     `json:"action_dim,omitempty"`
	HiddenDim    *int     `json:"hidden_dim,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
	Gamma        *float64 `json:"gamma,omitempty"`
	BufferSize   *int     `json:"buffer_size,omitempty"`
	BatchSize    *int     `json:"batch_size,omitempty"`
	InitScale    *float64 `json:"init_scale,omitempty"`

	// Training loop params
	Episodes        *int     `json:"episodes,omitempty"`
	StepsPerEpisode *int     `json:"steps_per_episode,omitempty"`
	Epsilon         *float64 `json:"epsilon,omitempty"`
	TrainEvery      *int     `json:"train_every,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`

	// Demo / evaluation params
	TimeStep     *string `json:"time_step,omitempty"`     // duration string like "100ms"
	TickInterval *string `json:"tick_interval,omitempty"` // wall-clock pause between demo ticks
	EvalSteps    *int    `json:"eval_steps,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		ProcessVar:      ptrFloat64(c.GetProcessVar()),
		MeasVar:         ptrFloat64(c.GetMeasVar()),
		InitialVar:      ptrFloat64(c.GetInitialVar()),
		StateDim:        ptrInt(c.GetStateDim()),
		ActionDim:       ptrInt(c.GetActionDim()),
		HiddenDim:       ptrInt(c.GetHiddenDim()),
		LearningRate:    ptrFloat64(c.GetLearningRate()),
		Gamma:           ptrFloat64(c.GetGamma()),
		BufferSize:      ptrInt(c.GetBufferSize()),
		BatchSize:       ptrInt(c.GetBatchSize()),
		InitScale:       ptrFloat64(c.GetInitScale()),
		Episodes:        ptrInt(c.GetEpisodes()),
		StepsPerEpisode: ptrInt(c.GetStepsPerEpisode()),
		Epsilon:         ptrFloat64(c.GetEpsilon()),
		TrainEvery:      ptrInt(c.GetTrainEvery()),
		Seed:            ptrInt64(c.GetSeed()),
		TimeStep:        ptrString(c.GetTimeStep().String()),
		TickInterval:    ptrString(c.GetTickInterval().String()),
		EvalSteps:       ptrInt(c.GetEvalSteps()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // one level down
		"../../" + DefaultConfigPath,    // from cmd/train/ or internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Only fields that
// are set are checked.
func (c *TuningConfig) Validate() error {
	nonNegative := map[string]*float64{
		"process_var": c.ProcessVar,
		"meas_var":    c.MeasVar,
		"initial_var": c.InitialVar,
	}
	for name, v := range nonNegative {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	positive := map[string]*int{
		"state_dim":         c.StateDim,
		"action_dim":        c.ActionDim,
		"hidden_dim":        c.HiddenDim,
		"buffer_size":       c.BufferSize,
		"batch_size":        c.BatchSize,
		"episodes":          c.Episodes,
		"steps_per_episode": c.StepsPerEpisode,
		"train_every":       c.TrainEvery,
		"eval_steps":        c.EvalSteps,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}

	if c.BatchSize != nil && c.BufferSize != nil && *c.BatchSize > *c.BufferSize {
		return fmt.Errorf("batch_size (%d) must not exceed buffer_size (%d)", *c.BatchSize, *c.BufferSize)
	}

	if c.LearningRate != nil && *c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %f", *c.LearningRate)
	}
	if c.Gamma != nil && (*c.Gamma < 0 || *c.Gamma > 1) {
		return fmt.Errorf("gamma must be between 0 and 1, got %f", *c.Gamma)
	}
	if c.Epsilon != nil && (*c.Epsilon < 0 || *c.Epsilon > 1) {
		return fmt.Errorf("epsilon must be between 0 and 1, got %f", *c.Epsilon)
	}
	if c.InitScale != nil && *c.InitScale < 0 {
		return fmt.Errorf("init_scale must be non-negative, got %f", *c.InitScale)
	}

	durations := map[string]*string{
		"time_step":     c.TimeStep,
		"tick_interval": c.TickInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	return nil
}

// GetProcessVar returns the process_var value or the default.
func (c *TuningConfig) GetProcessVar() float64 {
	if c.ProcessVar == nil {
		return 0.05
	}
	return *c.ProcessVar
}

// GetMeasVar returns the meas_var value or the default.
func (c *TuningConfig) GetMeasVar() float64 {
	if c.MeasVar == nil {
		return 0.01
	}
	return *c.MeasVar
}

// GetInitialVar returns the initial_var value or the default.
func (c *TuningConfig) GetInitialVar() float64 {
	if c.InitialVar == nil {
		return 0.1
	}
	return *c.InitialVar
}

// GetStateDim returns the state_dim value or the default.
func (c *TuningConfig) GetStateDim() int {
	if c.StateDim == nil {
		return 4
	}
	return *c.StateDim
}

// GetActionDim returns the action_dim value or the default.
func (c *TuningConfig) GetActionDim() int {
	if c.ActionDim == nil {
		return 3
	}
	return *c.ActionDim
}

// GetHiddenDim returns the hidden_dim value or the default.
func (c *TuningConfig) GetHiddenDim() int {
	if c.HiddenDim == nil {
		return 64
	}
	return *c.HiddenDim
}

// GetLearningRate returns the learning_rate value or the default.
func (c *TuningConfig) GetLearningRate() float64 {
	if c.LearningRate == nil {
		return 1e-3
	}
	return *c.LearningRate
}

// GetGamma returns the gamma value or the default.
func (c *TuningConfig) GetGamma() float64 {
	if c.Gamma == nil {
		return 0.95
	}
	return *c.Gamma
}

// GetBufferSize returns the buffer_size value or the default.
func (c *TuningConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 10000
	}
	return *c.BufferSize
}

// GetBatchSize returns the batch_size value or the default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 64
	}
	return *c.BatchSize
}

// GetInitScale returns the init_scale value or the default.
func (c *TuningConfig) GetInitScale() float64 {
	if c.InitScale == nil {
		return 0.1
	}
	return *c.InitScale
}

// GetEpisodes returns the episodes value or the default.
func (c *TuningConfig) GetEpisodes() int {
	if c.Episodes == nil {
		return 200
	}
	return *c.Episodes
}

// GetStepsPerEpisode returns the steps_per_episode value or the default.
func (c *TuningConfig) GetStepsPerEpisode() int {
	if c.StepsPerEpisode == nil {
		return 30
	}
	return *c.StepsPerEpisode
}

// GetEpsilon returns the epsilon value or the default.
func (c *TuningConfig) GetEpsilon() float64 {
	if c.Epsilon == nil {
		return 0.1
	}
	return *c.Epsilon
}

// GetTrainEvery returns the train_every value or the default.
func (c *TuningConfig) GetTrainEvery() int {
	if c.TrainEvery == nil {
		return 1
	}
	return *c.TrainEvery
}

// GetSeed returns the seed value or the default.
func (c *TuningConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetTimeStep parses and returns the TimeStep as a time.Duration.
func (c *TuningConfig) GetTimeStep() time.Duration {
	if c.TimeStep == nil || *c.TimeStep == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TimeStep)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 50 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return 50 * time.Millisecond // default on parse error
	}
	return d
}

// GetEvalSteps returns the eval_steps value or the default.
func (c *TuningConfig) GetEvalSteps() int {
	if c.EvalSteps == nil {
		return 100
	}
	return *c.EvalSteps
}
