package poker

import "math/bits"

// HoleCategory is a coarse preflop class used to bias synthetic deals.
type HoleCategory string

const (
	CategoryPremium HoleCategory = "premium"
	CategoryStrong  HoleCategory = "strong"
	CategoryMedium  HoleCategory = "medium"
	CategoryWeak    HoleCategory = "weak"
	CategoryTrash   HoleCategory = "trash"
	CategoryUnknown HoleCategory = "unknown"
)

// CategorizeHole classifies two hole cards: Premium (JJ+, AK), Strong
// (TT, AQ, AJ), Medium (77-99, suited broadway), Weak (small pairs,
// suited connectors), Trash otherwise.
func CategorizeHole(c1, c2 Card) HoleCategory {
	r1, r2 := c1.Rank(), c2.Rank()
	if r1 > 12 || r2 > 12 {
		return CategoryUnknown
	}
	lo, hi := r1, r2
	if lo > hi {
		lo, hi = hi, lo
	}
	pair := lo == hi
	suited := c1.Suit() == c2.Suit()

	switch {
	case pair && lo >= Jack:
		return CategoryPremium
	case hi == Ace && lo == King:
		return CategoryPremium
	case pair && lo == Ten:
		return CategoryStrong
	case hi == Ace && (lo == Queen || lo == Jack):
		return CategoryStrong
	case pair && lo >= Seven:
		return CategoryMedium
	case suited && lo >= Ten:
		return CategoryMedium
	case pair:
		return CategoryWeak
	case suited && hi-lo <= 2:
		return CategoryWeak
	default:
		return CategoryTrash
	}
}

// Pocket pair strengths, indexed by rank. Lower pairs flatten out at 0.55.
var pairStrength = [13]float64{
	0.55, 0.55, 0.55, 0.55, 0.58, 0.60, 0.63, 0.66, 0.70, 0.75, 0.80, 0.85, 0.95,
}

// HandStrength estimates the showdown strength of hole cards against a
// board, in [0,1]. The model is a deliberately cheap heuristic: high-card
// weight plus pair/suited bonuses preflop, made-hand bonuses once a board
// is present. It exists to rank actions inside the CFR update, not to
// compute exact equity.
func HandStrength(hole, board Hand) float64 {
	cards := hole.Cards()
	if len(cards) != 2 {
		return 0.0
	}
	c1, c2 := cards[0], cards[1]
	r1, r2 := c1.Rank(), c2.Rank()

	var strength float64
	if r1 == r2 {
		strength = pairStrength[r1]
	} else {
		// Average normalized rank, weighted toward the high card.
		hi, lo := r1, r2
		if hi < lo {
			hi, lo = lo, hi
		}
		strength = 0.20 + 0.55*(0.65*float64(hi)+0.35*float64(lo))/float64(Ace)
		if c1.Suit() == c2.Suit() {
			strength += 0.05
		}
		gap := int(hi) - int(lo)
		if gap <= 2 {
			strength += 0.02
		}
	}

	if board != 0 {
		strength += madeHandBonus(hole, board)
	}

	if strength < 0 {
		return 0
	}
	if strength > 1 {
		return 1
	}
	return strength
}

// madeHandBonus inspects the combined cards with rank/suit masks and adds
// a bonus for the strongest made category.
func madeHandBonus(hole, board Hand) float64 {
	all := hole | board
	boardMask := board.RankMask()
	holeMask := hole.RankMask()

	switch {
	case flushMade(all):
		return 0.40
	case straightMade(all.RankMask()):
		return 0.35
	case ofAKind(all, 4):
		return 0.45
	case fullHouseMade(all):
		return 0.42
	case ofAKind(all, 3):
		return 0.30
	case pairCount(all) >= 2 && holeMask&boardMask != 0:
		return 0.22
	case holeMask&boardMask != 0:
		return 0.15
	default:
		return 0.0
	}
}

func flushMade(h Hand) bool {
	for suit := uint8(0); suit < 4; suit++ {
		if bits.OnesCount16(h.SuitMask(suit)) >= 5 {
			return true
		}
	}
	return false
}

// straightMade checks for five consecutive ranks, including the wheel.
func straightMade(mask uint16) bool {
	run := 0
	for i := 0; i < 13; i++ {
		if mask&(1<<i) != 0 {
			run++
			if run >= 5 {
				return true
			}
		} else {
			run = 0
		}
	}
	// Wheel: A-2-3-4-5.
	const wheel = 1<<Ace | 1<<Two | 1<<Three | 1<<Four | 1<<Five
	return mask&wheel == wheel
}

func rankCounts(h Hand) [13]int {
	var counts [13]int
	for suit := uint8(0); suit < 4; suit++ {
		m := h.SuitMask(suit)
		for m != 0 {
			r := bits.TrailingZeros16(m)
			counts[r]++
			m &= m - 1
		}
	}
	return counts
}

func ofAKind(h Hand, n int) bool {
	for _, c := range rankCounts(h) {
		if c >= n {
			return true
		}
	}
	return false
}

func fullHouseMade(h Hand) bool {
	counts := rankCounts(h)
	trips, pairs := 0, 0
	for _, c := range counts {
		if c >= 3 {
			trips++
		} else if c >= 2 {
			pairs++
		}
	}
	return trips >= 1 && (pairs >= 1 || trips >= 2)
}

func pairCount(h Hand) int {
	pairs := 0
	for _, c := range rankCounts(h) {
		if c >= 2 {
			pairs++
		}
	}
	return pairs
}
