// Package solver implements the CFR training core: the situation and
// action abstraction, the sharded regret/strategy store, the
// regret-matching update rule, the training scheduler, and the snapshot
// persistence format. The average strategy accumulated across iterations
// is the equilibrium estimate; the instantaneous strategy only drives
// exploration.
package solver

import (
	"fmt"

	"github.com/solverlab/rtcfr/poker"
)

// Street enumerates the betting round within a hand.
type Street uint8

const (
	StreetPreflop Street = iota
	StreetFlop
	StreetTurn
	StreetRiver
)

func (s Street) String() string {
	switch s {
	case StreetPreflop:
		return "preflop"
	case StreetFlop:
		return "flop"
	case StreetTurn:
		return "turn"
	case StreetRiver:
		return "river"
	default:
		return "unknown"
	}
}

// StreetForBoard derives the street from the number of board cards.
func StreetForBoard(board poker.Hand) Street {
	switch board.Count() {
	case 0, 1, 2:
		return StreetPreflop
	case 3:
		return StreetFlop
	case 4:
		return StreetTurn
	default:
		return StreetRiver
	}
}

// Situation is one decision point as seen by the hero. Values are never
// mutated after construction; components copy what they retain.
type Situation struct {
	Street    Street
	HoleCards poker.Hand // exactly two cards once normalized
	Board     poker.Hand // 0-5 cards
	PotSize   float64
	Stack     float64
	Position  int // 0-8 seat index, button-relative
	Players   int
	FacingBet float64
	History   []ActionID // abstract actions so far, oldest first
}

// Defaults substituted for malformed situations so that keying and
// evaluation stay total.
var defaultHole = poker.NewHand(
	poker.NewCard(poker.Ace, poker.Hearts),
	poker.NewCard(poker.King, poker.Hearts),
)

const (
	defaultPot   = 100.0
	defaultStack = 1000.0
)

// Normalized returns a copy with every invalid field replaced by a safe
// default. Input errors never propagate past this boundary: a situation
// with missing cards or a negative pot trains on neutral values instead
// of failing.
func (s Situation) Normalized() Situation {
	out := s
	if out.HoleCards.Count() != 2 {
		out.HoleCards = defaultHole
	}
	if out.Board.Count() > 5 {
		cards := out.Board.Cards()
		out.Board = poker.NewHand(cards[:5]...)
	}
	if out.PotSize <= 0 {
		out.PotSize = defaultPot
	}
	if out.Stack <= 0 {
		out.Stack = defaultStack
	}
	if out.Players < 2 || out.Players > 9 {
		out.Players = 2
	}
	if out.Position < 0 || out.Position >= out.Players {
		out.Position = 0
	}
	if out.FacingBet < 0 {
		out.FacingBet = 0
	}
	out.Street = StreetForBoard(out.Board)
	return out
}

// SPR returns the stack-to-pot ratio, guarding against a zero pot.
func (s Situation) SPR() float64 {
	pot := s.PotSize
	if pot < 1 {
		pot = 1
	}
	return s.Stack / pot
}

func (s Situation) String() string {
	return fmt.Sprintf("%s pos=%d players=%d pot=%.0f stack=%.0f facing=%.0f [%s|%s]",
		s.Street, s.Position, s.Players, s.PotSize, s.Stack, s.FacingBet, s.HoleCards, s.Board)
}
