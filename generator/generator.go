package generator

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/solverlab/rtcfr/internal/randutil"
	"github.com/solverlab/rtcfr/solver"
)

// Settings tunes the continuous generator. Immutable once the generator
// starts; Boost applies a temporary overlay instead of mutating them.
type Settings struct {
	BatchSize    int
	Interval     time.Duration // base delay between generated batches
	MaxQueueSize int           // bounded queue capacity, in batches
	CPULimit     float64       // fraction of total CPU the generator may use
	Scenarios    []Scenario
	Seed         int64
}

// DefaultSettings mirrors the tuning the engine ships with: 100ms
// cadence, 15% CPU budget, a thousand queued batches at most.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:    10,
		Interval:     100 * time.Millisecond,
		MaxQueueSize: 1000,
		CPULimit:     0.15,
		Scenarios:    DefaultScenarios(),
	}
}

// Validate rejects settings the loops cannot run with.
func (s Settings) Validate() error {
	if s.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if s.Interval <= 0 {
		return errors.New("generation interval must be positive")
	}
	if s.MaxQueueSize <= 0 {
		return errors.New("max queue size must be positive")
	}
	if s.CPULimit <= 0 || s.CPULimit > 1 {
		return errors.New("cpu limit must be in (0,1]")
	}
	for _, sc := range s.Scenarios {
		if !sc.Valid() {
			return fmt.Errorf("unknown scenario %q", sc)
		}
	}
	return nil
}

// Sink receives generated batches from the processing goroutine.
type Sink interface {
	Integrate(batch []solver.Situation)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(batch []solver.Situation)

func (f SinkFunc) Integrate(batch []solver.Situation) { f(batch) }

// Stats is a point-in-time view of generator throughput.
type Stats struct {
	Generated  int64
	Integrated int64
	QueueDepth int
	CPUUsage   float64
	Interval   time.Duration
	Rate       float64 // situations per second since start
	Running    bool
	Paused     bool
}

const (
	maxInterval      = time.Second
	cpuCheckInterval = 5 * time.Second
)

// Generator runs two goroutines: one synthesizes scenario-biased
// situation batches on an adaptive interval, the other drains the
// bounded queue into the sink. A full queue blocks the producer, which
// is the backpressure that keeps memory bounded.
type Generator struct {
	settings Settings
	sink     Sink
	sampler  CPUSampler
	clock    quartz.Clock
	logger   zerolog.Logger
	rng      *rand.Rand

	generated  atomic.Int64
	integrated atomic.Int64

	mu          sync.Mutex
	running     bool
	paused      bool
	userStopped bool
	interval    time.Duration
	scenarios   []Scenario
	cpuUsage    float64
	lastCheck   time.Time
	startedAt   time.Time
	stopCh      chan struct{}
	queue       chan []solver.Situation
	wg          sync.WaitGroup
}

// New wires the generator; sampler and clock may be nil for the system
// defaults.
func New(settings Settings, sink Sink, sampler CPUSampler, clock quartz.Clock, logger zerolog.Logger) (*Generator, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("generator settings: %w", err)
	}
	if sink == nil {
		return nil, errors.New("generator requires a sink")
	}
	if sampler == nil {
		sampler = SystemSampler{}
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	if len(settings.Scenarios) == 0 {
		settings.Scenarios = DefaultScenarios()
	}
	seed := settings.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		settings:  settings,
		sink:      sink,
		sampler:   sampler,
		clock:     clock,
		logger:    logger.With().Str("component", "generator").Logger(),
		rng:       randutil.New(seed),
		interval:  settings.Interval,
		scenarios: append([]Scenario(nil), settings.Scenarios...),
	}, nil
}

// Start launches both goroutines. Starting an already-running generator
// is an error; an explicit Start clears a previous user stop.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return errors.New("generator already running")
	}

	g.running = true
	g.paused = false
	g.userStopped = false
	g.interval = g.settings.Interval
	g.startedAt = g.clock.Now()
	g.lastCheck = g.startedAt
	g.stopCh = make(chan struct{})
	g.queue = make(chan []solver.Situation, g.settings.MaxQueueSize)

	g.wg.Add(2)
	go g.generationLoop(g.stopCh, g.queue)
	go g.processingLoop(g.stopCh, g.queue)
	g.logger.Info().Dur("interval", g.settings.Interval).Int("queue", g.settings.MaxQueueSize).Msg("generation started")
	return nil
}

// Stop halts both goroutines. userInitiated marks the stop as an
// operator decision so automatic supervision will not restart it.
func (g *Generator) Stop(userInitiated bool) {
	g.mu.Lock()
	if !g.running {
		if userInitiated {
			g.userStopped = true
		}
		g.mu.Unlock()
		return
	}
	g.running = false
	g.userStopped = userInitiated
	close(g.stopCh)
	g.mu.Unlock()

	g.wg.Wait()
	g.logger.Info().Bool("user", userInitiated).Msg("generation stopped")
}

// UserStopped reports whether the last stop was an operator decision.
func (g *Generator) UserStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userStopped
}

// Pause suspends synthesis without tearing down the goroutines.
func (g *Generator) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

// Resume reverses a Pause.
func (g *Generator) Resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
}

// Boost narrows generation to one scenario and tightens the interval by
// the multiplier, automatically reverting after the duration.
func (g *Generator) Boost(scenario Scenario, multiplier float64, duration time.Duration) error {
	if !scenario.Valid() {
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	if multiplier <= 1 {
		return errors.New("boost multiplier must exceed 1")
	}

	g.mu.Lock()
	prevScenarios := g.scenarios
	prevInterval := g.interval
	g.scenarios = []Scenario{scenario}
	g.interval = time.Duration(float64(prevInterval) / multiplier)
	g.mu.Unlock()

	g.clock.AfterFunc(duration, func() {
		g.mu.Lock()
		g.scenarios = prevScenarios
		g.interval = prevInterval
		g.mu.Unlock()
		g.logger.Info().Str("scenario", string(scenario)).Msg("boost expired")
	})

	g.logger.Info().Str("scenario", string(scenario)).Float64("multiplier", multiplier).Dur("duration", duration).Msg("boost active")
	return nil
}

func (g *Generator) generationLoop(stopCh chan struct{}, queue chan []solver.Situation) {
	defer g.wg.Done()

	for {
		g.mu.Lock()
		paused := g.paused
		interval := g.interval
		scenario := g.scenarios[g.rng.IntN(len(g.scenarios))]
		g.mu.Unlock()

		if paused {
			if !g.wait(stopCh, interval*2) {
				return
			}
			continue
		}

		g.maybeThrottle()

		batch := Synthesize(g.rng, scenario, g.settings.BatchSize)

		select {
		case queue <- batch:
			g.generated.Add(int64(len(batch)))
		case <-stopCh:
			return
		}

		if !g.wait(stopCh, interval) {
			return
		}
	}
}

func (g *Generator) processingLoop(stopCh chan struct{}, queue chan []solver.Situation) {
	defer g.wg.Done()

	for {
		select {
		case batch := <-queue:
			g.sink.Integrate(batch)
			g.integrated.Add(int64(len(batch)))
		case <-stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case batch := <-queue:
					g.sink.Integrate(batch)
					g.integrated.Add(int64(len(batch)))
				default:
					return
				}
			}
		}
	}
}

// maybeThrottle samples CPU on a five-second cadence and adapts the
// interval: multiplicative backoff above the budget, gradual recovery
// below it.
func (g *Generator) maybeThrottle() {
	g.mu.Lock()
	due := g.clock.Since(g.lastCheck) >= cpuCheckInterval
	if due {
		g.lastCheck = g.clock.Now()
	}
	g.mu.Unlock()
	if !due {
		return
	}

	usage, err := g.sampler.Sample()
	if err != nil {
		g.logger.Warn().Err(err).Msg("cpu sample failed")
		return
	}
	g.adjustInterval(usage)
}

func (g *Generator) adjustInterval(usage float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cpuUsage = usage

	if usage > g.settings.CPULimit {
		next := time.Duration(float64(g.interval) * 1.5)
		if next > maxInterval {
			next = maxInterval
		}
		g.interval = next
		g.logger.Debug().Float64("cpu", usage).Dur("interval", next).Msg("throttling generation")
		return
	}

	next := time.Duration(float64(g.interval) * 0.9)
	if next < g.settings.Interval {
		next = g.settings.Interval
	}
	g.interval = next
}

// Statistics reports current throughput and throttle state.
func (g *Generator) Statistics() Stats {
	g.mu.Lock()
	running := g.running
	paused := g.paused
	interval := g.interval
	cpu := g.cpuUsage
	startedAt := g.startedAt
	var depth int
	if g.queue != nil {
		depth = len(g.queue)
	}
	g.mu.Unlock()

	stats := Stats{
		Generated:  g.generated.Load(),
		Integrated: g.integrated.Load(),
		QueueDepth: depth,
		CPUUsage:   cpu,
		Interval:   interval,
		Running:    running,
		Paused:     paused,
	}
	if running {
		if elapsed := g.clock.Since(startedAt).Seconds(); elapsed > 0 {
			stats.Rate = float64(stats.Generated) / elapsed
		}
	}
	return stats
}

// wait sleeps for d or until stop; reports false when stopped.
func (g *Generator) wait(stopCh chan struct{}, d time.Duration) bool {
	fired := make(chan struct{})
	timer := g.clock.AfterFunc(d, func() { close(fired) })
	defer timer.Stop()
	select {
	case <-fired:
		return true
	case <-stopCh:
		return false
	}
}
