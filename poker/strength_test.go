package poker

import "testing"

func mustHand(t *testing.T, s string) Hand {
	t.Helper()
	cards, err := ParseCards(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return NewHand(cards...)
}

func TestCategorizeHole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cards string
		want  HoleCategory
	}{
		{"As Ah", CategoryPremium},
		{"Js Jh", CategoryPremium},
		{"As Kd", CategoryPremium},
		{"Ts Th", CategoryStrong},
		{"As Qd", CategoryStrong},
		{"8s 8h", CategoryMedium},
		{"Ks Qs", CategoryMedium},
		{"3s 3h", CategoryWeak},
		{"7s 8s", CategoryWeak},
		{"2s 9d", CategoryTrash},
	}
	for _, tc := range tests {
		cards, err := ParseCards(tc.cards)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.cards, err)
		}
		if got := CategorizeHole(cards[0], cards[1]); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.cards, got, tc.want)
		}
	}
}

func TestHandStrengthBounds(t *testing.T) {
	t.Parallel()
	holes := []string{"As Ah", "2s 7d", "Ks Qs", "Ts 9s"}
	boards := []string{"", "2h 9c Jd", "Ah Kh Qh Jh Th", "3c 3d 3h 5s"}
	for _, hs := range holes {
		for _, bs := range boards {
			hole := mustHand(t, hs)
			var board Hand
			if bs != "" {
				board = mustHand(t, bs)
			}
			s := HandStrength(hole, board)
			if s < 0 || s > 1 {
				t.Fatalf("strength out of range for %s / %s: %v", hs, bs, s)
			}
		}
	}
}

func TestHandStrengthOrdersHands(t *testing.T) {
	t.Parallel()
	aces := HandStrength(mustHand(t, "As Ah"), 0)
	trash := HandStrength(mustHand(t, "2s 7d"), 0)
	if aces <= trash {
		t.Fatalf("expected AA (%v) > 72o (%v)", aces, trash)
	}

	board := mustHand(t, "Ad 7h 2c")
	set := HandStrength(mustHand(t, "7s 7d"), board)
	air := HandStrength(mustHand(t, "9s 8d"), board)
	if set <= air {
		t.Fatalf("expected set (%v) > air (%v)", set, air)
	}
}

func TestHandStrengthInvalidHole(t *testing.T) {
	t.Parallel()
	if got := HandStrength(0, 0); got != 0 {
		t.Fatalf("expected zero strength for empty hole, got %v", got)
	}
	one := mustHand(t, "As")
	if got := HandStrength(one, 0); got != 0 {
		t.Fatalf("expected zero strength for single card, got %v", got)
	}
}

func TestMadeHandDetection(t *testing.T) {
	t.Parallel()
	if !flushMade(mustHand(t, "As Ks Qs 7s 2s")) {
		t.Fatal("flush not detected")
	}
	if !straightMade(mustHand(t, "4c 5d 6h 7s 8c").RankMask()) {
		t.Fatal("straight not detected")
	}
	if !straightMade(mustHand(t, "As 2c 3d 4h 5s").RankMask()) {
		t.Fatal("wheel not detected")
	}
	if straightMade(mustHand(t, "2c 4d 6h 8s Tc").RankMask()) {
		t.Fatal("false straight")
	}
	if !fullHouseMade(mustHand(t, "2c 2d 2h 5s 5c")) {
		t.Fatal("full house not detected")
	}
	if !ofAKind(mustHand(t, "9c 9d 9h 9s 5c"), 4) {
		t.Fatal("quads not detected")
	}
}
