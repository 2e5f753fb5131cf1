// Package generator produces a continuous stream of synthetic training
// situations, biased toward priority scenarios and throttled to a CPU
// budget so training never starves the host.
package generator

import (
	rand "math/rand/v2"

	"github.com/solverlab/rtcfr/poker"
	"github.com/solverlab/rtcfr/solver"
)

// Scenario names a table configuration the generator biases toward.
type Scenario string

const (
	ScenarioHeadsUp     Scenario = "heads_up"
	ScenarioDeepStacks  Scenario = "deep_stacks"
	ScenarioShortStacks Scenario = "short_stacks"
	ScenarioBubble      Scenario = "tournament_bubble"
	ScenarioMultiway    Scenario = "multiway_pots"
)

// DefaultScenarios is the rotation used when none is configured.
func DefaultScenarios() []Scenario {
	return []Scenario{
		ScenarioHeadsUp,
		ScenarioDeepStacks,
		ScenarioShortStacks,
		ScenarioBubble,
		ScenarioMultiway,
	}
}

// Valid reports whether the scenario is part of the known set.
func (s Scenario) Valid() bool {
	switch s {
	case ScenarioHeadsUp, ScenarioDeepStacks, ScenarioShortStacks, ScenarioBubble, ScenarioMultiway:
		return true
	}
	return false
}

type scenarioShape struct {
	players     int
	stackLo     float64
	stackHi     float64
	potScale    float64
	holeRedeals int // extra draws toward premium/strong holdings
}

func shapeFor(s Scenario) scenarioShape {
	switch s {
	case ScenarioHeadsUp:
		return scenarioShape{players: 2, stackLo: 800, stackHi: 1200, potScale: 1, holeRedeals: 2}
	case ScenarioDeepStacks:
		return scenarioShape{players: 6, stackLo: 4000, stackHi: 6000, potScale: 1}
	case ScenarioShortStacks:
		return scenarioShape{players: 6, stackLo: 250, stackHi: 450, potScale: 2, holeRedeals: 3}
	case ScenarioBubble:
		return scenarioShape{players: 6, stackLo: 100, stackHi: 400, potScale: 1.5, holeRedeals: 3}
	case ScenarioMultiway:
		return scenarioShape{players: 9, stackLo: 2000, stackHi: 3000, potScale: 1.2}
	default:
		return scenarioShape{players: 6, stackLo: 800, stackHi: 1200, potScale: 1}
	}
}

// streetBoardCards weights synthesis toward earlier streets where more
// decisions happen.
var streetBoardCards = []int{0, 0, 3, 3, 3, 4, 5}

// Synthesize deals n fresh situations shaped by the scenario.
func Synthesize(rng *rand.Rand, scenario Scenario, n int) []solver.Situation {
	shape := shapeFor(scenario)
	out := make([]solver.Situation, 0, n)
	for i := 0; i < n; i++ {
		deck := poker.NewDeck(rng)
		hole := dealHole(deck, shape.holeRedeals)
		boardCount := streetBoardCards[rng.IntN(len(streetBoardCards))]
		board := poker.NewHand(deck.Deal(boardCount)...)

		stack := shape.stackLo + rng.Float64()*(shape.stackHi-shape.stackLo)
		pot := (20 + rng.Float64()*180) * shape.potScale

		var facing float64
		if rng.IntN(2) == 1 {
			facing = pot * (0.3 + rng.Float64()*0.7)
		}

		out = append(out, solver.Situation{
			HoleCards: hole,
			Board:     board,
			PotSize:   pot,
			Stack:     stack,
			Position:  rng.IntN(shape.players),
			Players:   shape.players,
			FacingBet: facing,
			History:   randomHistory(rng, facing > 0),
		})
	}
	return out
}

// dealHole draws hole cards, redrawing up to redeals times until a
// premium or strong holding appears. Scenarios dominated by aggression
// skew toward playable hands; discarded cards stay out of the hand.
func dealHole(deck *poker.Deck, redeals int) poker.Hand {
	cards := deck.Deal(2)
	for i := 0; i < redeals && !playableHole(cards); i++ {
		cards = deck.Deal(2)
	}
	return poker.NewHand(cards...)
}

func playableHole(cards []poker.Card) bool {
	switch poker.CategorizeHole(cards[0], cards[1]) {
	case poker.CategoryPremium, poker.CategoryStrong:
		return true
	}
	return false
}

func randomHistory(rng *rand.Rand, facingBet bool) []solver.ActionID {
	n := rng.IntN(4)
	if n == 0 && !facingBet {
		return nil
	}
	passive := []solver.ActionID{solver.ActionCheck, solver.ActionCall}
	aggressive := []solver.ActionID{solver.ActionBet33, solver.ActionBet50, solver.ActionBet66, solver.ActionBet100}

	history := make([]solver.ActionID, 0, n+1)
	for i := 0; i < n; i++ {
		history = append(history, passive[rng.IntN(len(passive))])
	}
	if facingBet {
		history = append(history, aggressive[rng.IntN(len(aggressive))])
	}
	return history
}
