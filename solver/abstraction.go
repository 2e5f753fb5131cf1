package solver

import (
	"fmt"
	"math"
	"strings"
)

// ActionID is one entry in the fixed action vocabulary. Bet actions are
// pot-fraction buckets; real bet sizes are mapped onto them by
// nearest-ratio matching.
type ActionID uint8

const (
	ActionFold ActionID = iota
	ActionCheck
	ActionCall
	ActionBet33
	ActionBet50
	ActionBet66
	ActionBet100
	ActionBet150
	ActionAllIn

	actionCount
)

var actionNames = [actionCount]string{
	"fold", "check", "call", "bet_0.33", "bet_0.5", "bet_0.66", "bet_1.0", "bet_1.5", "all_in",
}

var actionCodes = [actionCount]string{"f", "x", "c", "b33", "b50", "b66", "b100", "b150", "ai"}

var betFractions = map[ActionID]float64{
	ActionBet33:  0.33,
	ActionBet50:  0.5,
	ActionBet66:  0.66,
	ActionBet100: 1.0,
	ActionBet150: 1.5,
}

func (a ActionID) String() string {
	if a >= actionCount {
		return "unknown"
	}
	return actionNames[a]
}

// Code is the compact form used inside info-set keys.
func (a ActionID) Code() string {
	if a >= actionCount {
		return "?"
	}
	return actionCodes[a]
}

// ActionFromName maps a vocabulary name back to its ActionID.
func ActionFromName(name string) (ActionID, bool) {
	for i, n := range actionNames {
		if n == name {
			return ActionID(i), true
		}
	}
	return 0, false
}

// IsBet reports whether the action commits new chips beyond a call.
func (a ActionID) IsBet() bool {
	return a >= ActionBet33 && a <= ActionAllIn
}

// PotFraction returns the bet size as a fraction of the pot. All-in is
// the full stack, capped at 3x pot for valuation purposes.
func (a ActionID) PotFraction(sit Situation) float64 {
	if f, ok := betFractions[a]; ok {
		return f
	}
	if a == ActionAllIn {
		return math.Min(sit.Stack/math.Max(sit.PotSize, 1), 3.0)
	}
	return 0
}

// NearestBet maps a continuous pot fraction onto the closest bet bucket.
func NearestBet(fraction float64) ActionID {
	best := ActionBet50
	bestDiff := math.Inf(1)
	for a, f := range betFractions {
		if d := math.Abs(f - fraction); d < bestDiff {
			best, bestDiff = a, d
		}
	}
	if fraction > 2.0 {
		return ActionAllIn
	}
	return best
}

// InfoSetKey identifies the abstraction bucket a situation falls into.
// Two situations with the same key are strategically identical to the
// solver.
type InfoSetKey struct {
	Street     Street
	CardBucket int
	Position   int
	SPRBucket  int
	History    string
}

func (k InfoSetKey) String() string {
	return fmt.Sprintf("%d/%d/%d/%d/%s", k.Street, k.CardBucket, k.Position, k.SPRBucket, k.History)
}

// AbstractionConfig controls the coarseness of the state abstraction.
// The bucket count is fixed at construction; it never changes at runtime
// because stored keys would stop matching.
type AbstractionConfig struct {
	CardBuckets   int // default 64
	SPRBucketCap  int // SPR buckets are whole ratios capped here
	HistoryLength int // abstract actions retained in the key
}

// DefaultAbstraction returns the abstraction used by the engine unless
// configured otherwise.
func DefaultAbstraction() AbstractionConfig {
	return AbstractionConfig{
		CardBuckets:   64,
		SPRBucketCap:  20,
		HistoryLength: 5,
	}
}

// Validate ensures the abstraction is well-formed before training begins.
func (c AbstractionConfig) Validate() error {
	if c.CardBuckets <= 0 {
		return fmt.Errorf("card buckets must be > 0, got %d", c.CardBuckets)
	}
	if c.SPRBucketCap <= 0 {
		return fmt.Errorf("spr bucket cap must be > 0, got %d", c.SPRBucketCap)
	}
	if c.HistoryLength < 0 {
		return fmt.Errorf("history length cannot be negative, got %d", c.HistoryLength)
	}
	return nil
}

// Abstraction maps raw situations to info-set keys and legal action
// sets. Both operations are pure and total: malformed situations are
// normalized rather than rejected.
type Abstraction struct {
	cfg AbstractionConfig
}

// NewAbstraction returns an abstraction backed by the provided config.
func NewAbstraction(cfg AbstractionConfig) (*Abstraction, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Abstraction{cfg: cfg}, nil
}

// Key derives the info-set key for a situation. Identical situations
// always produce identical keys within a process lifetime.
func (a *Abstraction) Key(sit Situation) InfoSetKey {
	sit = sit.Normalized()

	spr := int(sit.SPR())
	if spr > a.cfg.SPRBucketCap {
		spr = a.cfg.SPRBucketCap
	}

	return InfoSetKey{
		Street:     sit.Street,
		CardBucket: a.cardBucket(sit),
		Position:   sit.Position,
		SPRBucket:  spr,
		History:    a.historyTag(sit.History),
	}
}

// cardBucket compresses (hole, board, street) into a stable bucket with
// an FNV-1a hash. Not equity-aware, but deterministic and uniform enough
// for the abstraction to spread information sets.
func (a *Abstraction) cardBucket(sit Situation) int {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	mix := func(v uint64) {
		for i := 0; i < 8; i++ {
			h ^= v & 0xFF
			h *= prime64
			v >>= 8
		}
	}
	mix(uint64(sit.HoleCards))
	mix(uint64(sit.Board))
	mix(uint64(sit.Street))
	return int(h % uint64(a.cfg.CardBuckets))
}

func (a *Abstraction) historyTag(history []ActionID) string {
	if len(history) == 0 || a.cfg.HistoryLength == 0 {
		return ""
	}
	if len(history) > a.cfg.HistoryLength {
		history = history[len(history)-a.cfg.HistoryLength:]
	}
	codes := make([]string, len(history))
	for i, act := range history {
		codes[i] = act.Code()
	}
	return strings.Join(codes, "-")
}

// LegalActions enumerates the actions available in a situation. The
// result is never empty: a degenerate situation still allows a check.
func (a *Abstraction) LegalActions(sit Situation) []ActionID {
	sit = sit.Normalized()
	actions := make([]ActionID, 0, int(actionCount))

	if sit.FacingBet > 0 {
		actions = append(actions, ActionFold, ActionCall)
	} else {
		actions = append(actions, ActionCheck)
	}

	// Raises require covering at least a min-raise over the facing bet
	// or a quarter pot open.
	minBet := math.Max(sit.FacingBet*2, sit.PotSize*0.25)
	if sit.Stack > minBet {
		for _, bet := range []ActionID{ActionBet33, ActionBet50, ActionBet66, ActionBet100, ActionBet150} {
			if sit.PotSize*betFractions[bet] <= sit.Stack {
				actions = append(actions, bet)
			}
		}
		actions = append(actions, ActionAllIn)
	}

	return actions
}
