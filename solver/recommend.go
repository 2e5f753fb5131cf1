package solver

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Alternative is a runner-up action with its estimated value.
type Alternative struct {
	Action        ActionID `json:"action"`
	ExpectedValue float64  `json:"expected_value"`
	Probability   float64  `json:"probability"`
}

// Recommendation is the advice surface for one situation. Values are
// estimates under the current average strategy, not guarantees.
type Recommendation struct {
	Action         ActionID      `json:"action"`
	BetSize        float64       `json:"bet_size"`
	WinProbability float64       `json:"win_probability"`
	ExpectedValue  float64       `json:"expected_value"`
	RiskLevel      float64       `json:"risk_level"` // 0-100
	Confidence     float64       `json:"confidence"` // 0-100
	Reasoning      string        `json:"reasoning"`
	Alternatives   []Alternative `json:"alternatives"`
	Strategy       Strategy      `json:"strategy"`
}

// Recommender turns learned strategies into actionable advice. Recommend
// never returns an error; any internal failure degrades to a safe check
// with low confidence.
type Recommender struct {
	abs       *Abstraction
	store     *StrategyStore
	updater   *Updater
	scheduler *Scheduler
	logger    zerolog.Logger
}

// NewRecommender wires the advice path; scheduler may be nil when no
// training context is available (confidence then omits run metrics).
func NewRecommender(abs *Abstraction, store *StrategyStore, updater *Updater, scheduler *Scheduler, logger zerolog.Logger) *Recommender {
	if updater == nil {
		updater = NewUpdater(nil)
	}
	return &Recommender{
		abs:       abs,
		store:     store,
		updater:   updater,
		scheduler: scheduler,
		logger:    logger.With().Str("component", "recommender").Logger(),
	}
}

// Recommend computes the best action for the situation under the average
// strategy. Total: malformed input is normalized and a failure falls
// back to a neutral check recommendation.
func (r *Recommender) Recommend(sit Situation) (rec Recommendation) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("recommendation failed, returning default")
			rec = defaultRecommendation()
		}
	}()

	sit = sit.Normalized()
	key := r.abs.Key(sit)
	legal := r.abs.LegalActions(sit)
	if len(legal) == 0 {
		return defaultRecommendation()
	}

	strat := r.store.AverageStrategy(key, legal)
	values := r.updater.ActionValues(sit, strat)

	best := legal[0]
	for _, a := range legal {
		if values[a] > values[best] {
			best = a
		}
	}

	rec = Recommendation{
		Action:         best,
		BetSize:        betSize(sit, best),
		WinProbability: r.winProbability(sit),
		ExpectedValue:  values[best],
		RiskLevel:      riskLevel(sit, best),
		Confidence:     r.confidence(key, strat),
		Reasoning:      r.reasoning(sit, best),
		Alternatives:   alternatives(values, strat, best),
		Strategy:       strat,
	}
	return rec
}

func defaultRecommendation() Recommendation {
	return Recommendation{
		Action:         ActionCheck,
		WinProbability: 0.5,
		RiskLevel:      30,
		Confidence:     10,
		Reasoning:      "insufficient data, defaulting to passive line",
		Strategy:       Strategy{ActionCheck: 1},
	}
}

func betSize(sit Situation, a ActionID) float64 {
	switch {
	case a == ActionCall:
		return sit.FacingBet
	case a == ActionAllIn:
		return sit.Stack
	case a.IsBet():
		return sit.PotSize * betFractions[a]
	default:
		return 0
	}
}

// winProbability compares hero strength against a player-count-adjusted
// opponent baseline. More opponents means the best opposing holding is
// stronger on average.
func (r *Recommender) winProbability(sit Situation) float64 {
	strength := clamp01(r.updater.eval.HeroStrength(sit))
	baseline := 0.35 + 0.05*float64(sit.Players)
	edge := strength - baseline
	return clamp01(0.5 + edge)
}

// riskLevel scores how much of the stack the action puts at risk, with
// seat adjustments for a 9-max table.
func riskLevel(sit Situation, a ActionID) float64 {
	var base float64
	switch {
	case a == ActionFold:
		base = 0
	case a == ActionCheck || a == ActionCall:
		base = 30
	case a.IsBet():
		ratio := betSize(sit, a) / math.Max(sit.Stack, 1)
		base = 50 + ratio*50
	}

	if sit.Players > 2 {
		switch {
		case sit.Position <= 2:
			base *= 1.15
		case sit.Position == sit.Players-1:
			base *= 0.9
		}
	}
	return math.Min(base, 100)
}

// confidence blends run-level training metrics with situation-level
// evidence into a 0-100 score.
func (r *Recommender) confidence(key InfoSetKey, strat Strategy) float64 {
	var iterFactor, quality, convFactor float64
	var active bool
	if r.scheduler != nil {
		st := r.scheduler.Status()
		iterFactor = math.Min(1, float64(st.Iteration)/10000)
		quality = st.Quality
		convFactor = math.Max(0, 1-st.ConvergenceMetric)
		active = st.State == StateRunning
	}

	visitFactor := math.Min(1, r.store.Visits(key)/100)
	coherence := 1 - strat.Entropy()

	base := iterFactor*0.3 + quality*0.25 + convFactor*0.25 + visitFactor*0.15 + coherence*0.05
	conf := math.Min(100, math.Max(0, base*100))
	if active {
		conf = math.Min(100, conf+5)
	}
	return conf
}

func (r *Recommender) reasoning(sit Situation, a ActionID) string {
	var parts []string

	strength := clamp01(r.updater.eval.HeroStrength(sit))
	switch {
	case strength > 0.7:
		parts = append(parts, "strong hand")
	case strength > 0.4:
		parts = append(parts, "medium hand")
	default:
		parts = append(parts, "weak hand")
	}

	if sit.Players > 2 {
		switch {
		case sit.Position <= 2:
			parts = append(parts, "early position")
		case sit.Position >= sit.Players-2:
			parts = append(parts, "late position")
		default:
			parts = append(parts, "middle position")
		}
	}

	if sit.FacingBet > 0 {
		parts = append(parts, fmt.Sprintf("facing %.0f into %.0f", sit.FacingBet, sit.PotSize))
	}

	spr := sit.SPR()
	switch {
	case spr < 3:
		parts = append(parts, "shallow stack")
	case spr > 15:
		parts = append(parts, "deep stack")
	}

	return fmt.Sprintf("%s: %s on the %s", a, strings.Join(parts, ", "), sit.Street)
}

// alternatives returns the two highest-value actions other than best.
func alternatives(values map[ActionID]float64, strat Strategy, best ActionID) []Alternative {
	alts := make([]Alternative, 0, len(values)-1)
	for a, v := range values {
		if a == best {
			continue
		}
		alts = append(alts, Alternative{Action: a, ExpectedValue: v, Probability: strat[a]})
	}
	sort.Slice(alts, func(i, j int) bool { return alts[i].ExpectedValue > alts[j].ExpectedValue })
	if len(alts) > 2 {
		alts = alts[:2]
	}
	return alts
}
