package solver

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/solverlab/rtcfr/internal/randutil"
	"github.com/solverlab/rtcfr/poker"
)

// randomSource deals fresh situations from a seeded deck.
type randomSource struct {
	rng *randSourceRNG
}

type randSourceRNG struct {
	seed int64
	n    int64
}

func (s *randomSource) NextBatch(n int) []Situation {
	batch := make([]Situation, 0, n)
	for i := 0; i < n; i++ {
		s.rng.n++
		rng := randutil.New(s.rng.seed + s.rng.n)
		deck := poker.NewDeck(rng)
		hole := poker.NewHand(deck.Deal(2)...)
		board := poker.NewHand(deck.Deal(3)...)
		batch = append(batch, Situation{
			HoleCards: hole,
			Board:     board,
			PotSize:   60 + float64(rng.IntN(200)),
			Stack:     400 + float64(rng.IntN(1200)),
			Position:  rng.IntN(6),
			Players:   6,
			FacingBet: float64(rng.IntN(3)) * 20,
		})
	}
	return batch
}

type emptySource struct{}

func (emptySource) NextBatch(int) []Situation { return nil }

// panicBackend fails every batch.
type panicBackend struct{}

func (panicBackend) ComputeRegretDeltas([]BatchItem) []map[ActionID]float64 {
	panic("backend unavailable")
}

// poisonPot marks a situation the poison evaluator cannot score.
const poisonPot = 7777

type poisonEvaluator struct{}

func (poisonEvaluator) HeroStrength(sit Situation) float64 {
	if sit.PotSize == poisonPot {
		panic("unevaluable situation")
	}
	return 0.6
}

// poisonedSource taints the first situation of every batch.
type poisonedSource struct {
	inner *randomSource
}

func (s *poisonedSource) NextBatch(n int) []Situation {
	batch := s.inner.NextBatch(n)
	if len(batch) > 0 {
		batch[0].PotSize = poisonPot
	}
	return batch
}

func newTestScheduler(t *testing.T, cfg TrainingConfig, backend RegretBackend, source SituationSource) (*Scheduler, *StrategyStore) {
	t.Helper()
	store := NewStrategyStore(DefaultExplorationFloor)
	sched, err := NewScheduler(cfg, newTestAbstraction(t), store, backend, source, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, store
}

func waitForTerminal(t *testing.T, sched *Scheduler, timeout time.Duration) State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if state := sched.CurrentState(); state.terminal() {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("scheduler did not reach a terminal state within %s (state %s)", timeout, sched.CurrentState())
	return StateIdle
}

func TestSchedulerReachesTarget(t *testing.T) {
	cfg := DefaultTrainingConfig()
	cfg.BatchSize = 10
	source := &randomSource{rng: &randSourceRNG{seed: 99}}
	sched, store := newTestScheduler(t, cfg, nil, source)

	if err := sched.Start(1000, 1e-9); err != nil {
		t.Fatalf("start: %v", err)
	}
	state := waitForTerminal(t, sched, 30*time.Second)
	if state != StateTargetReached && state != StateConverged {
		t.Fatalf("expected target_reached or converged, got %s", state)
	}
	if sched.Iteration() < cfg.CheckInterval {
		t.Fatalf("expected progress, got %d iterations", sched.Iteration())
	}
	if store.Len() == 0 {
		t.Fatal("training should have populated the store")
	}

	status := sched.Status()
	if status.ProgressPercent <= 0 {
		t.Fatalf("expected positive progress, got %v", status.ProgressPercent)
	}
	if status.InfoSets != store.Len() {
		t.Fatalf("status info sets %d != store %d", status.InfoSets, store.Len())
	}
}

func TestTrainingPrefersHighestValueAction(t *testing.T) {
	store := NewStrategyStore(DefaultExplorationFloor)
	abs := newTestAbstraction(t)
	updater := NewUpdater(fixedEvaluator{0.9})

	sit := testSituation(t)
	key := abs.Key(sit)
	legal := abs.LegalActions(sit)

	for i := 0; i < 500; i++ {
		strat := store.GetStrategy(key, legal)
		values := updater.ActionValues(sit, strat)
		for a, d := range RegretDeltas(values, strat) {
			store.ApplyRegretDelta(key, a, d)
		}
		store.AccumulateStrategy(key, store.GetStrategy(key, legal))
	}

	values := updater.ActionValues(sit, store.GetStrategy(key, legal))
	best := legal[0]
	for _, a := range legal {
		if values[a] > values[best] {
			best = a
		}
	}

	avg := store.AverageStrategy(key, legal)
	top := legal[0]
	for _, a := range legal {
		if avg[a] > avg[top] {
			top = a
		}
	}
	if top != best {
		t.Fatalf("average strategy favors %s but best action is %s (avg %v)", top, best, avg)
	}
}

func TestStartWhileRunningFails(t *testing.T) {
	cfg := DefaultTrainingConfig()
	source := &randomSource{rng: &randSourceRNG{seed: 5}}
	sched, _ := newTestScheduler(t, cfg, nil, source)

	if err := sched.Start(1_000_000, 1e-9); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()

	if err := sched.Start(10, 1e-9); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStopTransitionsToStopped(t *testing.T) {
	cfg := DefaultTrainingConfig()
	source := &randomSource{rng: &randSourceRNG{seed: 7}}
	sched, _ := newTestScheduler(t, cfg, nil, source)

	if err := sched.Start(1_000_000, 1e-9); err != nil {
		t.Fatalf("start: %v", err)
	}
	sched.Stop()
	if state := sched.CurrentState(); state != StateStopped {
		t.Fatalf("expected stopped, got %s", state)
	}

	// Stop from a terminal state is a no-op.
	sched.Stop()

	// Terminal states are restartable.
	if err := sched.Start(100, 1e-9); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	waitForTerminal(t, sched, 30*time.Second)
}

func TestStopOnEmptySource(t *testing.T) {
	cfg := DefaultTrainingConfig()
	sched, _ := newTestScheduler(t, cfg, nil, emptySource{})

	if err := sched.Start(100, 1e-9); err != nil {
		t.Fatalf("start: %v", err)
	}
	sched.Stop()
	if state := sched.CurrentState(); state != StateStopped {
		t.Fatalf("expected stopped, got %s", state)
	}
}

func TestThrowingSituationSkippedNotFatal(t *testing.T) {
	cfg := DefaultTrainingConfig()
	cfg.BatchSize = 10
	cfg.IterationPause = 0
	source := &poisonedSource{inner: &randomSource{rng: &randSourceRNG{seed: 13}}}
	sched, store := newTestScheduler(t, cfg, NewScalarBackend(poisonEvaluator{}), source)

	if err := sched.Start(300, 1e-9); err != nil {
		t.Fatalf("start: %v", err)
	}
	state := waitForTerminal(t, sched, 30*time.Second)
	if state != StateTargetReached {
		t.Fatalf("a bad situation per batch must not end the run, got %s", state)
	}
	if got := sched.Iteration(); got != 300 {
		t.Fatalf("expected 300 iterations, got %d", got)
	}
	if store.Len() == 0 {
		t.Fatal("the healthy situations in each batch should have trained the store")
	}
}

func TestLoopPausesBetweenIterations(t *testing.T) {
	cfg := DefaultTrainingConfig()
	cfg.BatchSize = 5
	cfg.IterationPause = time.Hour
	source := &randomSource{rng: &randSourceRNG{seed: 21}}
	sched, _ := newTestScheduler(t, cfg, nil, source)

	if err := sched.Start(1000, 1e-9); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sched.Iteration() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := sched.Iteration(); got != 1 {
		t.Fatalf("loop ran through the pause, got %d iterations", got)
	}

	// Stop interrupts the pause promptly.
	sched.Stop()
	if state := sched.CurrentState(); state != StateStopped {
		t.Fatalf("expected stopped, got %s", state)
	}
}

func TestTrainingConfigRejectsNegativePause(t *testing.T) {
	cfg := DefaultTrainingConfig()
	cfg.IterationPause = -time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative iteration pause should fail validation")
	}
}

func TestRepeatedBatchFailuresDegrade(t *testing.T) {
	cfg := DefaultTrainingConfig()
	cfg.BatchSize = 5
	source := &randomSource{rng: &randSourceRNG{seed: 11}}
	sched, _ := newTestScheduler(t, cfg, panicBackend{}, source)

	if err := sched.Start(1000, 1e-9); err != nil {
		t.Fatalf("start: %v", err)
	}
	state := waitForTerminal(t, sched, 10*time.Second)
	if state != StateDegraded {
		t.Fatalf("expected degraded, got %s", state)
	}
	if sched.Iteration() != 0 {
		t.Fatalf("failed batches must not advance the iteration counter, got %d", sched.Iteration())
	}
}
