package solver

import (
	"math"
	"testing"
)

type fixedEvaluator struct{ strength float64 }

func (f fixedEvaluator) HeroStrength(Situation) float64 { return f.strength }

func TestActionValuesOrdering(t *testing.T) {
	sit := testSituation(t)
	sit.FacingBet = 40

	strong := NewUpdater(fixedEvaluator{0.95})
	weak := NewUpdater(fixedEvaluator{0.05})
	strat := Strategy{ActionFold: 0.2, ActionCall: 0.4, ActionBet100: 0.4}

	strongVals := strong.ActionValues(sit, strat)
	weakVals := weak.ActionValues(sit, strat)

	if strongVals[ActionCall] <= weakVals[ActionCall] {
		t.Fatalf("strong hand should value a call higher: %v vs %v", strongVals[ActionCall], weakVals[ActionCall])
	}
	if strongVals[ActionBet100] <= strongVals[ActionFold] {
		t.Fatalf("near-nut hand should prefer betting to folding: %v vs %v", strongVals[ActionBet100], strongVals[ActionFold])
	}
	if weakVals[ActionCall] >= weakVals[ActionFold] {
		t.Fatalf("trash hand facing a bet should prefer folding: call %v fold %v", weakVals[ActionCall], weakVals[ActionFold])
	}
}

func TestActionValuesFinite(t *testing.T) {
	u := NewUpdater(nil)
	degenerate := Situation{PotSize: 0, Stack: 0, FacingBet: -3}
	strat := Strategy{ActionFold: 0.5, ActionCheck: 0.5}

	for a, v := range u.ActionValues(degenerate, strat) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite value for %s: %v", a, v)
		}
	}
}

func TestRegretDeltasSumToZeroUnderStrategy(t *testing.T) {
	values := map[ActionID]float64{ActionFold: 0, ActionCall: 10, ActionBet50: -4}
	strat := Strategy{ActionFold: 0.3, ActionCall: 0.5, ActionBet50: 0.2}

	deltas := RegretDeltas(values, strat)

	// The strategy-weighted sum of regrets is zero by construction.
	var weighted float64
	for a, d := range deltas {
		weighted += strat[a] * d
	}
	if math.Abs(weighted) > 1e-9 {
		t.Fatalf("weighted regret sum should be 0, got %v", weighted)
	}
	if deltas[ActionCall] <= deltas[ActionFold] {
		t.Fatalf("best action must have the largest regret: %v vs %v", deltas[ActionCall], deltas[ActionFold])
	}
}

func TestRegretDeltasCoerceNonFinite(t *testing.T) {
	values := map[ActionID]float64{ActionFold: math.Inf(1), ActionCall: 1}
	strat := Strategy{ActionFold: 0.5, ActionCall: 0.5}

	deltas := RegretDeltas(values, strat)
	for a, d := range deltas {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			t.Fatalf("delta for %s must be finite, got %v", a, d)
		}
	}
}

func TestScalarBackendIsolatesPanickingItems(t *testing.T) {
	backend := NewScalarBackend(poisonEvaluator{})

	good := BatchItem{
		Situation: Situation{PotSize: 100, Stack: 500, Players: 6, Position: 3},
		Actions:   []ActionID{ActionCheck, ActionBet50},
		Strategy:  Strategy{ActionCheck: 0.5, ActionBet50: 0.5},
	}
	bad := good
	bad.Situation.PotSize = poisonPot

	deltas := backend.ComputeRegretDeltas([]BatchItem{good, bad, good})
	if deltas[0] == nil || deltas[2] == nil {
		t.Fatal("healthy items must still be evaluated")
	}
	if deltas[1] != nil {
		t.Fatalf("panicking item must yield a nil entry, got %v", deltas[1])
	}
}

func TestScalarBackendMatchesDirectComputation(t *testing.T) {
	sit := testSituation(t)
	strat := Strategy{ActionFold: 0.5, ActionCall: 0.5}
	item := BatchItem{Situation: sit, Actions: []ActionID{ActionFold, ActionCall}, Strategy: strat}

	backend := NewScalarBackend(fixedEvaluator{0.6})
	direct := NewUpdater(fixedEvaluator{0.6})

	got := backend.ComputeRegretDeltas([]BatchItem{item, item})
	want := RegretDeltas(direct.ActionValues(sit, strat), strat)

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	for a, w := range want {
		if math.Abs(got[0][a]-w) > 1e-12 || math.Abs(got[1][a]-w) > 1e-12 {
			t.Fatalf("backend diverged for %s: %v vs %v", a, got[0][a], w)
		}
	}
}
