package solver

import (
	"fmt"
	rand "math/rand/v2"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/solverlab/rtcfr/internal/randutil"
)

// State is the scheduler's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateConverged
	StateStopped
	StateTargetReached
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateStopped:
		return "stopped"
	case StateTargetReached:
		return "target_reached"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// terminal states can be restarted with Start.
func (s State) terminal() bool {
	return s != StateRunning
}

// SituationSource supplies training batches. An empty result means no
// work is available right now; the loop backs off and retries.
type SituationSource interface {
	NextBatch(n int) []Situation
}

// TrainingStatus is a point-in-time view of the run, recomputed on every
// read. Progress percent is monotone within a run.
type TrainingStatus struct {
	State             State
	Iteration         int
	TargetIterations  int
	ConvergenceMetric float64
	Quality           float64
	InfoSets          int
	Elapsed           time.Duration
	EstimatedLeft     time.Duration
	ProgressPercent   float64
}

// Scheduler drives the CFR loop: it pulls situation batches from a
// source, computes regret deltas through the backend, applies them to
// the store, and watches the convergence and quality metrics for stop
// conditions.
type Scheduler struct {
	cfg     TrainingConfig
	abs     *Abstraction
	store   *StrategyStore
	backend RegretBackend
	source  SituationSource
	clock   quartz.Clock
	logger  zerolog.Logger
	rng     *rand.Rand

	mu          sync.Mutex
	state       State
	iteration   int
	target      int
	convThresh  float64
	window      []float64 // rolling |regret delta| samples
	windowNext  int
	windowFull  bool
	quality     float64
	qualHistory []float64
	failures    int
	startedAt   time.Time
	elapsed     time.Duration
	lastProg    float64
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewScheduler wires the loop. clock may be nil for the real clock;
// backend may be nil for the in-process scalar backend.
func NewScheduler(cfg TrainingConfig, abs *Abstraction, store *StrategyStore, backend RegretBackend, source SituationSource, clock quartz.Clock, logger zerolog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("training config: %w", err)
	}
	if backend == nil {
		backend = NewScalarBackend(nil)
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Scheduler{
		cfg:     cfg,
		abs:     abs,
		store:   store,
		backend: backend,
		source:  source,
		clock:   clock,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		rng:     randutil.NewFromTime(),
		state:   StateIdle,
		window:  make([]float64, cfg.ConvergenceWindow),
	}, nil
}

// Start launches the training loop. Returns ErrAlreadyRunning when a
// loop is active; any terminal state is restartable.
func (s *Scheduler) Start(targetIterations int, convergenceThreshold float64) error {
	if targetIterations <= 0 {
		return fmt.Errorf("target iterations must be positive, got %d", targetIterations)
	}
	if convergenceThreshold <= 0 {
		convergenceThreshold = s.cfg.ConvergenceThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return ErrAlreadyRunning
	}

	s.state = StateRunning
	s.target = targetIterations
	s.convThresh = convergenceThreshold
	s.iteration = 0
	s.windowNext = 0
	s.windowFull = false
	s.quality = 0
	s.qualHistory = s.qualHistory[:0]
	s.failures = 0
	s.lastProg = 0
	s.startedAt = s.clock.Now()
	s.elapsed = 0
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(s.stopCh, s.doneCh)
	s.logger.Info().Int("target", targetIterations).Float64("threshold", convergenceThreshold).Msg("training started")
	return nil
}

// Stop requests a cooperative shutdown and waits for the loop with a
// bounded timeout. Safe to call from any state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateDegraded {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	timeout := make(chan struct{})
	timer := s.clock.AfterFunc(2*time.Second, func() { close(timeout) })
	defer timer.Stop()
	select {
	case <-doneCh:
	case <-timeout:
		s.logger.Warn().Msg("training loop did not stop within timeout")
	}
}

func (s *Scheduler) loop(stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			s.finish(StateStopped)
			return
		default:
		}

		batch := s.source.NextBatch(s.cfg.BatchSize)
		if len(batch) == 0 {
			if !s.wait(stopCh, 10*time.Millisecond) {
				s.finish(StateStopped)
				return
			}
			continue
		}

		meanDelta, err := s.runBatch(batch)
		if err != nil {
			s.mu.Lock()
			s.failures++
			failures := s.failures
			s.mu.Unlock()
			s.logger.Error().Err(err).Int("consecutive", failures).Msg("batch failed")
			if failures >= s.cfg.MaxBatchFailures {
				s.logger.Error().Msg("training degraded after repeated batch failures")
				s.finish(StateDegraded)
				return
			}
			continue
		}

		s.mu.Lock()
		s.failures = 0
		s.iteration++
		iter := s.iteration
		s.window[s.windowNext] = meanDelta
		s.windowNext = (s.windowNext + 1) % len(s.window)
		if s.windowNext == 0 {
			s.windowFull = true
		}
		s.mu.Unlock()

		if iter%s.cfg.DecayInterval == 0 {
			s.store.DecayRegrets(s.cfg.DecayFactor)
		}

		if iter%s.cfg.CheckInterval == 0 {
			s.updateQuality(iter)
			if state, done := s.checkStop(iter); done {
				s.finish(state)
				return
			}
		}

		// Yield between iterations so a populated corpus never pins a core.
		if s.cfg.IterationPause > 0 && !s.wait(stopCh, s.cfg.IterationPause) {
			s.finish(StateStopped)
			return
		}
	}
}

// runBatch applies one iteration. A single situation that fails during
// keying or evaluation is logged and skipped; only a panic outside the
// per-situation paths fails the whole batch.
func (s *Scheduler) runBatch(sits []Situation) (meanDelta float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panic: %v", r)
		}
	}()

	items := make([]BatchItem, 0, len(sits))
	keys := make([]InfoSetKey, 0, len(sits))
	for _, sit := range sits {
		item, key, ok := s.prepareItem(sit)
		if !ok {
			continue
		}
		items = append(items, item)
		keys = append(keys, key)
	}
	if len(items) == 0 {
		return 0, nil
	}

	deltas := s.backend.ComputeRegretDeltas(items)

	var total float64
	var count int
	for i, item := range items {
		if deltas[i] == nil {
			s.logger.Warn().Stringer("situation", item.Situation).Msg("evaluation failed, situation skipped")
			continue
		}
		for a, d := range deltas[i] {
			s.store.ApplyRegretDelta(keys[i], a, d)
			if d < 0 {
				total -= d
			} else {
				total += d
			}
			count++
		}
		s.store.AccumulateStrategy(keys[i], item.Strategy)
	}
	if count > 0 {
		meanDelta = total / float64(count)
	}
	return meanDelta, nil
}

// prepareItem keys one situation and derives its current strategy. A
// panic here poisons only this situation, not the batch.
func (s *Scheduler) prepareItem(sit Situation) (item BatchItem, key InfoSetKey, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().Interface("cause", r).Stringer("situation", sit).Msg("keying failed, situation skipped")
			ok = false
		}
	}()
	key = s.abs.Key(sit)
	legal := s.abs.LegalActions(sit)
	if len(legal) == 0 {
		return BatchItem{}, key, false
	}
	item = BatchItem{Situation: sit, Actions: legal, Strategy: s.store.GetStrategy(key, legal)}
	return item, key, true
}

// updateQuality samples learned strategies and scores their average
// decisiveness, damped early in the run and smoothed over the last five
// samples.
func (s *Scheduler) updateQuality(iter int) {
	dists := s.store.SampleDistributions(100, s.rng)
	var raw float64
	if len(dists) > 0 {
		var sum float64
		for _, d := range dists {
			sum += 1 - d.Entropy()
		}
		raw = sum / float64(len(dists))
	}

	ramp := float64(iter) / 10000
	if ramp > 1 {
		ramp = 1
	}
	raw *= ramp

	s.mu.Lock()
	s.qualHistory = append(s.qualHistory, raw)
	if len(s.qualHistory) > 5 {
		s.qualHistory = s.qualHistory[len(s.qualHistory)-5:]
	}
	var sum float64
	for _, q := range s.qualHistory {
		sum += q
	}
	s.quality = sum / float64(len(s.qualHistory))
	s.mu.Unlock()
}

func (s *Scheduler) checkStop(iter int) (State, bool) {
	s.mu.Lock()
	conv := s.convergenceLocked()
	quality := s.quality
	target := s.target
	thresh := s.convThresh
	full := s.windowFull
	s.mu.Unlock()

	if iter >= target {
		return StateTargetReached, true
	}
	if full && conv < thresh && quality > s.cfg.QualityThreshold {
		return StateConverged, true
	}
	return 0, false
}

func (s *Scheduler) convergenceLocked() float64 {
	n := len(s.window)
	if !s.windowFull {
		n = s.windowNext
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += s.window[i]
	}
	return sum / float64(n)
}

func (s *Scheduler) finish(state State) {
	s.mu.Lock()
	s.state = state
	s.elapsed = s.clock.Since(s.startedAt)
	s.mu.Unlock()
	s.logger.Info().Stringer("state", state).Int("iterations", s.iteration).Dur("elapsed", s.elapsed).Msg("training finished")
}

// wait sleeps for d or until stop; reports false when stopped.
func (s *Scheduler) wait(stopCh chan struct{}, d time.Duration) bool {
	fired := make(chan struct{})
	timer := s.clock.AfterFunc(d, func() { close(fired) })
	defer timer.Stop()
	select {
	case <-fired:
		return true
	case <-stopCh:
		return false
	}
}

// Status recomputes the training snapshot. Progress never regresses
// within a run even when the convergence metric fluctuates.
func (s *Scheduler) Status() TrainingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := TrainingStatus{
		State:             s.state,
		Iteration:         s.iteration,
		TargetIterations:  s.target,
		ConvergenceMetric: s.convergenceLocked(),
		Quality:           s.quality,
		InfoSets:          s.store.Len(),
	}

	if s.state == StateRunning {
		st.Elapsed = s.clock.Since(s.startedAt)
	} else {
		st.Elapsed = s.elapsed
	}

	if s.target > 0 {
		prog := float64(s.iteration) / float64(s.target) * 100
		if prog > 100 {
			prog = 100
		}
		if prog < s.lastProg {
			prog = s.lastProg
		}
		s.lastProg = prog
		st.ProgressPercent = prog

		if s.state == StateRunning && s.iteration > 0 {
			perIter := st.Elapsed / time.Duration(s.iteration)
			st.EstimatedLeft = perIter * time.Duration(s.target-s.iteration)
		}
	}
	return st
}

// CurrentState returns the lifecycle phase without recomputing metrics.
func (s *Scheduler) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Iteration returns the completed iteration count.
func (s *Scheduler) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}
