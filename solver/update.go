package solver

import (
	"math"

	"github.com/solverlab/rtcfr/poker"
)

// Evaluator estimates the hero's showdown strength in [0,1]. The payoff
// model treats it as the probability of winning at showdown, so any
// equity source can be plugged in behind this interface.
type Evaluator interface {
	HeroStrength(sit Situation) float64
}

// HeuristicEvaluator scores hands with the rank-sum heuristic from the
// poker package. Fast enough for per-situation training updates.
type HeuristicEvaluator struct{}

func (HeuristicEvaluator) HeroStrength(sit Situation) float64 {
	return poker.HandStrength(sit.HoleCards, sit.Board)
}

// Updater computes counterfactual action values and regret deltas for a
// single decision point. It is stateless and side-effect free; all
// mutation flows through the StrategyStore.
type Updater struct {
	eval Evaluator
}

// NewUpdater wraps an evaluator; pass nil for the heuristic default.
func NewUpdater(eval Evaluator) *Updater {
	if eval == nil {
		eval = HeuristicEvaluator{}
	}
	return &Updater{eval: eval}
}

// ActionValues estimates the expected payoff of each action in the
// strategy, holding the rest of the policy fixed. Terminal payoffs use a
// one-step model: hand strength stands in for showdown equity, bets fold
// out opponents in proportion to their size.
func (u *Updater) ActionValues(sit Situation, strat Strategy) map[ActionID]float64 {
	sit = sit.Normalized()
	strength := clamp01(u.eval.HeroStrength(sit))

	values := make(map[ActionID]float64, len(strat))
	for a := range strat {
		values[a] = u.actionValue(sit, a, strength)
	}
	return values
}

func (u *Updater) actionValue(sit Situation, a ActionID, strength float64) float64 {
	switch {
	case a == ActionFold:
		// Folding forfeits nothing beyond chips already in the pot.
		return 0

	case a == ActionCheck:
		return strength * sit.PotSize * 0.5

	case a == ActionCall:
		call := sit.FacingBet
		potOdds := call / (sit.PotSize + call)
		return (strength - potOdds) * sit.PotSize

	case a.IsBet():
		frac := a.PotFraction(sit)
		bet := sit.PotSize * frac
		if bet > sit.Stack {
			bet = sit.Stack
		}
		// Larger bets fold out more opponents but risk more chips.
		foldProb := math.Min(0.6*frac, 0.8)
		immediate := foldProb * sit.PotSize
		showdown := (1 - foldProb) * strength * (sit.PotSize + 2*bet)
		return (immediate + showdown - bet) * positionFactor(sit) * sprFactor(sit)

	default:
		return 0
	}
}

// positionFactor nudges aggressive values up in late position and down
// in early position.
func positionFactor(sit Situation) float64 {
	if sit.Players <= 2 {
		return 1.0
	}
	switch {
	case sit.Position >= sit.Players-2: // button and cutoff
		return 1.1
	case sit.Position <= 1: // blinds and under the gun
		return 0.9
	default:
		return 1.0
	}
}

// sprFactor scales bet values by stack depth, clamped so a degenerate
// stack never dominates the payoff.
func sprFactor(sit Situation) float64 {
	f := 0.8 + sit.SPR()*0.02
	if f > 1.2 {
		return 1.2
	}
	if f < 0.8 {
		return 0.8
	}
	return f
}

// RegretDeltas computes v[a] minus the strategy's expected value for
// every action. Pure function; non-finite results become 0 rather than
// poisoning the store.
func RegretDeltas(values map[ActionID]float64, strat Strategy) map[ActionID]float64 {
	var expected float64
	for a, p := range strat {
		expected += p * values[a]
	}

	deltas := make(map[ActionID]float64, len(values))
	for a, v := range values {
		d := v - expected
		if math.IsNaN(d) || math.IsInf(d, 0) {
			d = 0
		}
		deltas[a] = d
	}
	return deltas
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// BatchItem pairs a situation with its derived strategy for backend
// regret computation.
type BatchItem struct {
	Situation Situation
	Actions   []ActionID
	Strategy  Strategy
}

// RegretBackend computes regret deltas for a whole batch. A nil entry in
// the result marks a situation that could not be evaluated; the scheduler
// skips it without failing the batch. The scalar backend runs in-process;
// alternative backends can offload the batch to an accelerator without
// changing the scheduler.
type RegretBackend interface {
	ComputeRegretDeltas(batch []BatchItem) []map[ActionID]float64
}

// ScalarBackend evaluates each batch item sequentially with an Updater.
type ScalarBackend struct {
	updater *Updater
}

// NewScalarBackend returns the in-process backend; eval may be nil.
func NewScalarBackend(eval Evaluator) *ScalarBackend {
	return &ScalarBackend{updater: NewUpdater(eval)}
}

func (b *ScalarBackend) ComputeRegretDeltas(batch []BatchItem) []map[ActionID]float64 {
	out := make([]map[ActionID]float64, len(batch))
	for i, item := range batch {
		out[i] = b.itemDeltas(item)
	}
	return out
}

// itemDeltas evaluates one situation. A panic inside the evaluator
// poisons only this entry, not the batch.
func (b *ScalarBackend) itemDeltas(item BatchItem) (deltas map[ActionID]float64) {
	defer func() {
		if recover() != nil {
			deltas = nil
		}
	}()
	values := b.updater.ActionValues(item.Situation, item.Strategy)
	return RegretDeltas(values, item.Strategy)
}
