package solver

import (
	"errors"
	"time"
)

// TrainingConfig tunes the scheduler. Constructed once per run; the
// scheduler copies it at Start so a concurrent Configure never tears a
// running loop.
type TrainingConfig struct {
	// BatchSize is how many situations each iteration consumes.
	BatchSize int

	// CheckInterval is the iteration cadence for quality and stop-condition
	// checks.
	CheckInterval int

	// ConvergenceWindow bounds the rolling mean-absolute-regret-delta
	// sample count.
	ConvergenceWindow int

	// ConvergenceThreshold declares convergence when the rolling metric
	// drops below it while quality exceeds QualityThreshold.
	ConvergenceThreshold float64
	QualityThreshold     float64

	// DecayFactor multiplies all regrets every DecayInterval iterations.
	DecayFactor   float64
	DecayInterval int

	// MaxBatchFailures consecutive failed batches degrade the run instead
	// of crashing it.
	MaxBatchFailures int

	// IterationPause is the sleep between iterations that keeps the loop
	// from pinning a core when the corpus always has work. Zero disables
	// pacing.
	IterationPause time.Duration
}

// DefaultTrainingConfig returns the tuning used unless overridden.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		BatchSize:            100,
		CheckInterval:        100,
		ConvergenceWindow:    1000,
		ConvergenceThreshold: 0.01,
		QualityThreshold:     0.85,
		DecayFactor:          0.95,
		DecayInterval:        100,
		MaxBatchFailures:     5,
		IterationPause:       2 * time.Millisecond,
	}
}

// Validate rejects configurations the loop cannot run with.
func (c TrainingConfig) Validate() error {
	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if c.CheckInterval <= 0 {
		return errors.New("check interval must be positive")
	}
	if c.ConvergenceWindow <= 0 {
		return errors.New("convergence window must be positive")
	}
	if c.ConvergenceThreshold <= 0 {
		return errors.New("convergence threshold must be positive")
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return errors.New("quality threshold must be in [0,1]")
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		return errors.New("decay factor must be in (0,1)")
	}
	if c.DecayInterval <= 0 {
		return errors.New("decay interval must be positive")
	}
	if c.MaxBatchFailures <= 0 {
		return errors.New("max batch failures must be positive")
	}
	if c.IterationPause < 0 {
		return errors.New("iteration pause must not be negative")
	}
	return nil
}
