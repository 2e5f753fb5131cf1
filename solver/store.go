package solver

import (
	"math"
	rand "math/rand/v2"
	"sync"
)

// Strategy is a probability distribution over legal actions.
type Strategy map[ActionID]float64

// Entropy returns the normalized Shannon entropy of the distribution in
// [0,1]. Lower entropy means a more decisive strategy.
func (s Strategy) Entropy() float64 {
	if len(s) <= 1 {
		return 0
	}
	var h float64
	for _, p := range s {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h / math.Log2(float64(len(s)))
}

// regretEntry accumulates regrets and strategy sums for one information
// set. All access goes through the entry mutex so read-modify-write
// cycles on a single key are atomic.
type regretEntry struct {
	mu          sync.Mutex
	regrets     map[ActionID]float64
	strategySum map[ActionID]float64
	visits      float64
}

func newRegretEntry() *regretEntry {
	return &regretEntry{
		regrets:     make(map[ActionID]float64),
		strategySum: make(map[ActionID]float64),
	}
}

const (
	storeShardCount = 64
	storeShardMask  = storeShardCount - 1
)

type storeShard struct {
	mu      sync.RWMutex
	entries map[string]*regretEntry
}

// StrategyStore is the single shared mutable resource of the engine: a
// sharded map from info-set key to regret and strategy-sum accumulators.
// Updates to the same key are serialized by a per-entry mutex; different
// keys only contend on their shard's read lock.
type StrategyStore struct {
	epsilon float64
	shards  [storeShardCount]storeShard
}

// DefaultExplorationFloor is blended into every returned strategy so no
// action's probability reaches exactly zero.
const DefaultExplorationFloor = 0.1

// NewStrategyStore returns an empty store. epsilon is the exploration
// floor in [0,1); pass DefaultExplorationFloor unless tuning.
func NewStrategyStore(epsilon float64) *StrategyStore {
	if epsilon < 0 || epsilon >= 1 {
		epsilon = DefaultExplorationFloor
	}
	s := &StrategyStore{epsilon: epsilon}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*regretEntry)
	}
	return s
}

func (s *StrategyStore) shardFor(key string) *storeShard {
	return &s.shards[fnv32(key)&storeShardMask]
}

func fnv32(key string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	hash := uint32(offset32)
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= prime32
	}
	return hash
}

// entry returns the accumulator for key, creating it if missing.
func (s *StrategyStore) entry(key string) *regretEntry {
	shard := s.shardFor(key)

	shard.mu.RLock()
	e, ok := shard.entries[key]
	shard.mu.RUnlock()
	if ok {
		return e
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if e, ok = shard.entries[key]; ok {
		return e
	}
	e = newRegretEntry()
	shard.entries[key] = e
	return e
}

// lookup returns the accumulator for key without creating it.
func (s *StrategyStore) lookup(key string) (*regretEntry, bool) {
	shard := s.shardFor(key)
	shard.mu.RLock()
	e, ok := shard.entries[key]
	shard.mu.RUnlock()
	return e, ok
}

// GetStrategy returns the current regret-matching distribution for the
// key over the given legal actions: positive regrets normalized, uniform
// when no positive regret exists, always blended with the exploration
// floor.
func (s *StrategyStore) GetStrategy(key InfoSetKey, legal []ActionID) Strategy {
	if len(legal) == 0 {
		return Strategy{}
	}

	strat := make(Strategy, len(legal))
	e, ok := s.lookup(key.String())
	if !ok {
		uniform := 1.0 / float64(len(legal))
		for _, a := range legal {
			strat[a] = uniform
		}
		return strat
	}

	e.mu.Lock()
	var total float64
	for _, a := range legal {
		r := e.regrets[a]
		if r > 0 {
			strat[a] = r
			total += r
		} else {
			strat[a] = 0
		}
	}
	e.mu.Unlock()

	n := float64(len(legal))
	if total <= 0 {
		for _, a := range legal {
			strat[a] = 1.0 / n
		}
	} else {
		for _, a := range legal {
			strat[a] /= total
		}
	}

	if s.epsilon > 0 {
		floor := s.epsilon / n
		for _, a := range legal {
			strat[a] = (1-s.epsilon)*strat[a] + floor
		}
	}
	return strat
}

// ApplyRegretDelta adds delta to the stored regret for (key, action) and
// clips the result to >= 0 (CFR+ semantics). Non-finite deltas are
// dropped rather than propagated.
func (s *StrategyStore) ApplyRegretDelta(key InfoSetKey, action ActionID, delta float64) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}
	e := s.entry(key.String())
	e.mu.Lock()
	r := e.regrets[action] + delta
	if r < 0 {
		r = 0
	}
	e.regrets[action] = r
	e.mu.Unlock()
}

// AccumulateStrategy adds the current mixed strategy into the cumulative
// strategy-sum table. The normalized sum is the long-run average
// strategy reported as the equilibrium estimate.
func (s *StrategyStore) AccumulateStrategy(key InfoSetKey, strat Strategy) {
	if len(strat) == 0 {
		return
	}
	e := s.entry(key.String())
	e.mu.Lock()
	for a, p := range strat {
		if p > 0 {
			e.strategySum[a] += p
		}
	}
	e.visits++
	e.mu.Unlock()
}

// AverageStrategy returns the normalized cumulative strategy for the
// key, or a uniform distribution when the key has never been visited.
func (s *StrategyStore) AverageStrategy(key InfoSetKey, legal []ActionID) Strategy {
	strat := make(Strategy, len(legal))
	if len(legal) == 0 {
		return strat
	}

	e, ok := s.lookup(key.String())
	if ok {
		e.mu.Lock()
		var total float64
		for _, a := range legal {
			strat[a] = e.strategySum[a]
			total += e.strategySum[a]
		}
		e.mu.Unlock()
		if total > 0 {
			for _, a := range legal {
				strat[a] /= total
			}
			return strat
		}
	}

	uniform := 1.0 / float64(len(legal))
	for _, a := range legal {
		strat[a] = uniform
	}
	return strat
}

// Visits returns how many strategy accumulations the key has received.
func (s *StrategyStore) Visits(key InfoSetKey) float64 {
	e, ok := s.lookup(key.String())
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visits
}

// DecayRegrets multiplies every stored regret by factor to bound the
// influence of stale evidence. Invoked by the scheduler on a fixed
// iteration cadence, not by external callers.
func (s *StrategyStore) DecayRegrets(factor float64) {
	if factor < 0 || factor >= 1 {
		return
	}
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		for _, e := range shard.entries {
			e.mu.Lock()
			for a, r := range e.regrets {
				e.regrets[a] = r * factor
			}
			e.mu.Unlock()
		}
		shard.mu.RUnlock()
	}
}

// Len returns the number of distinct information sets tracked.
func (s *StrategyStore) Len() int {
	total := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// Regret reads the stored regret for a single (key, action) pair.
func (s *StrategyStore) Regret(key InfoSetKey, action ActionID) float64 {
	e, ok := s.lookup(key.String())
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regrets[action]
}

// SampleDistributions returns the normalized strategy-sum distributions
// of up to n randomly chosen information sets. Used by the scheduler's
// quality metric.
func (s *StrategyStore) SampleDistributions(n int, rng *rand.Rand) []Strategy {
	keys := make([]string, 0, n*2)
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		for k := range shard.entries {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()
	}
	if len(keys) == 0 {
		return nil
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	if len(keys) > n {
		keys = keys[:n]
	}

	out := make([]Strategy, 0, len(keys))
	for _, k := range keys {
		e, ok := s.lookup(k)
		if !ok {
			continue
		}
		e.mu.Lock()
		var total float64
		for _, v := range e.strategySum {
			total += v
		}
		if total > 0 {
			dist := make(Strategy, len(e.strategySum))
			for a, v := range e.strategySum {
				dist[a] = v / total
			}
			out = append(out, dist)
		}
		e.mu.Unlock()
	}
	return out
}
