// Package engine wires the solver, generator, and lifecycle manager into
// one facade with an explicit start/stop lifecycle. Construction does no
// work; Start launches the moving parts.
package engine

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/solverlab/rtcfr/generator"
	"github.com/solverlab/rtcfr/internal/randutil"
	"github.com/solverlab/rtcfr/lifecycle"
	"github.com/solverlab/rtcfr/solver"
)

// Engine owns the full training stack behind a push-only ingestion
// surface and read-only status and advice surfaces.
type Engine struct {
	logger zerolog.Logger
	clock  quartz.Clock

	mu      sync.Mutex
	cfg     *Config
	started bool

	store       *solver.StrategyStore
	abs         *solver.Abstraction
	scheduler   *solver.Scheduler
	recommender *solver.Recommender
	gen         *generator.Generator
	storage     *lifecycle.Manager
	source      *corpusSource
}

// New assembles an engine from the configuration. clock may be nil for
// the real clock.
func New(cfg *Config, clock quartz.Clock, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.applyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = quartz.NewReal()
	}

	e := &Engine{cfg: cfg, clock: clock, logger: logger}
	if err := e.build(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) build() error {
	abs, err := solver.NewAbstraction(e.cfg.AbstractionConfig())
	if err != nil {
		return err
	}

	store := solver.NewStrategyStore(solver.DefaultExplorationFloor)

	storage, err := lifecycle.NewManager(e.cfg.StorageSettings(), e.clock, e.logger)
	if err != nil {
		return err
	}

	source := &corpusSource{
		storage: storage,
		rng:     randutil.NewFromTime(),
	}

	scheduler, err := solver.NewScheduler(e.cfg.TrainingConfig(), abs, store, nil, source, e.clock, e.logger)
	if err != nil {
		return err
	}

	gen, err := generator.New(e.cfg.GeneratorSettings(), generator.SinkFunc(func(batch []solver.Situation) {
		if err := storage.Add(batch); err != nil {
			e.logger.Error().Err(err).Msg("generated batch dropped")
		}
	}), nil, e.clock, e.logger)
	if err != nil {
		return err
	}

	e.abs = abs
	e.store = store
	e.storage = storage
	e.source = source
	e.scheduler = scheduler
	e.recommender = solver.NewRecommender(abs, store, solver.NewUpdater(nil), scheduler, e.logger)
	e.gen = gen
	return nil
}

// Start launches storage cleanup, continuous generation, and training.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}

	e.storage.Start()
	if err := e.gen.Start(); err != nil {
		e.storage.Stop()
		return fmt.Errorf("start generator: %w", err)
	}
	if err := e.scheduler.Start(e.cfg.Training.TargetIterations, e.cfg.Training.ConvergenceThreshold); err != nil {
		e.gen.Stop(false)
		e.storage.Stop()
		return fmt.Errorf("start training: %w", err)
	}

	e.started = true
	e.logger.Info().Msg("engine started")
	return nil
}

// Stop halts every component. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	e.scheduler.Stop()
	e.gen.Stop(false)
	e.storage.Stop()
	e.logger.Info().Msg("engine stopped")
}

// SubmitSituations pushes externally observed situations into the
// corpus. Push-only: callers get no result and malformed entries are
// normalized downstream.
func (e *Engine) SubmitSituations(batch []solver.Situation) error {
	return e.storage.Add(batch)
}

// Recommendation computes advice for one situation. Never errors.
func (e *Engine) Recommendation(sit solver.Situation) solver.Recommendation {
	return e.recommender.Recommend(sit)
}

// TrainingStatus reports the scheduler's current view.
func (e *Engine) TrainingStatus() solver.TrainingStatus {
	return e.scheduler.Status()
}

// StorageStatus reports the lifecycle footprint.
func (e *Engine) StorageStatus() lifecycle.StorageStatus {
	return e.storage.Status()
}

// GenerationStats reports generator throughput.
func (e *Engine) GenerationStats() generator.Stats {
	return e.gen.Statistics()
}

// BoostGeneration temporarily focuses synthesis on one scenario.
func (e *Engine) BoostGeneration(scenario generator.Scenario, multiplier float64, duration time.Duration) error {
	return e.gen.Boost(scenario, multiplier, duration)
}

// StopGeneration halts synthesis; userInitiated stops stick until an
// explicit restart.
func (e *Engine) StopGeneration(userInitiated bool) {
	e.gen.Stop(userInitiated)
}

// StartGeneration resumes synthesis after a stop.
func (e *Engine) StartGeneration() error {
	return e.gen.Start()
}

// ConfigPatch is a partial configuration update; nil fields keep their
// current values.
type ConfigPatch struct {
	GenerationIntervalMS *int
	GenerationBatchSize  *int
	CPULimit             *float64
	MaxMemoryItems       *int
	MaxDiskMB            *int
	TargetIterations     *int
	ConvergenceThreshold *float64
}

// Configure merges the patch field by field and rebuilds the affected
// components. A running engine restarts them with the new settings; the
// learned store is preserved.
func (e *Engine) Configure(patch ConfigPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := *e.cfg
	gen := *next.Generation
	sto := *next.Storage
	tr := *next.Training
	next.Generation, next.Storage, next.Training = &gen, &sto, &tr

	if patch.GenerationIntervalMS != nil {
		gen.IntervalMS = *patch.GenerationIntervalMS
	}
	if patch.GenerationBatchSize != nil {
		gen.BatchSize = *patch.GenerationBatchSize
	}
	if patch.CPULimit != nil {
		gen.CPULimit = *patch.CPULimit
	}
	if patch.MaxMemoryItems != nil {
		sto.MaxMemoryItems = *patch.MaxMemoryItems
	}
	if patch.MaxDiskMB != nil {
		sto.MaxDiskMB = *patch.MaxDiskMB
	}
	if patch.TargetIterations != nil {
		tr.TargetIterations = *patch.TargetIterations
	}
	if patch.ConvergenceThreshold != nil {
		tr.ConvergenceThreshold = *patch.ConvergenceThreshold
	}

	if err := next.Validate(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	wasStarted := e.started
	if wasStarted {
		e.scheduler.Stop()
		e.gen.Stop(false)
		e.storage.Stop()
	}

	prevStore := e.store
	e.cfg = &next
	if err := e.build(); err != nil {
		return fmt.Errorf("configure rebuild: %w", err)
	}
	e.store = prevStore

	// Rewire the components that captured the old store.
	scheduler, err := solver.NewScheduler(e.cfg.TrainingConfig(), e.abs, e.store, nil, e.source, e.clock, e.logger)
	if err != nil {
		return err
	}
	e.scheduler = scheduler
	e.recommender = solver.NewRecommender(e.abs, e.store, solver.NewUpdater(nil), scheduler, e.logger)

	if wasStarted {
		e.started = false
		e.mu.Unlock()
		err := e.Start()
		e.mu.Lock()
		return err
	}
	return nil
}

// ExportSnapshot persists the learned state and archive manifest.
func (e *Engine) ExportSnapshot(path string) error {
	snap := solver.BuildSnapshot(e.store, e.cfg.AbstractionConfig(), e.scheduler.Iteration(), e.storage.Manifest(), e.clock.Now())
	if err := solver.WriteSnapshot(path, snap); err != nil {
		return err
	}
	e.logger.Info().Str("path", path).Int("info_sets", len(snap.Tables)).Msg("snapshot exported")
	return nil
}

// ImportSnapshot validates and loads a snapshot, replacing the learned
// state. Training is stopped first so no torn state is observable.
func (e *Engine) ImportSnapshot(path string) error {
	snap, err := solver.ReadSnapshot(path)
	if err != nil {
		return err
	}

	e.scheduler.Stop()
	e.store.Restore(snap.Tables)
	e.logger.Info().Str("path", path).Int("info_sets", len(snap.Tables)).Int("iteration", snap.Iteration).Msg("snapshot imported")
	return nil
}

// corpusSource feeds the scheduler from the lifecycle manager's hot
// buffer, replaying cold archives when memory runs dry.
type corpusSource struct {
	storage *lifecycle.Manager
	rng     *rand.Rand

	mu     sync.Mutex
	replay []solver.Situation
}

func (c *corpusSource) NextBatch(n int) []solver.Situation {
	recent := c.storage.Recent(n * 4)
	if len(recent) >= n {
		batch := make([]solver.Situation, n)
		for i := range batch {
			c.mu.Lock()
			batch[i] = recent[c.rng.IntN(len(recent))]
			c.mu.Unlock()
		}
		return batch
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replay) == 0 {
		archives, err := c.storage.Archives()
		if err != nil || len(archives) == 0 {
			return recent
		}
		sits, err := lifecycle.LoadArchive(archives[c.rng.IntN(len(archives))].Path)
		if err != nil {
			return recent
		}
		c.replay = sits
	}

	take := n - len(recent)
	if take > len(c.replay) {
		take = len(c.replay)
	}
	batch := append(recent, c.replay[:take]...)
	c.replay = c.replay[take:]
	return batch
}
