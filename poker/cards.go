// Package poker provides the card primitives and the hand-strength
// heuristics used by the CFR training engine. Cards are represented as
// single bits in a uint64 so that hands combine and compare with plain
// bitwise operations.
package poker

import (
	"fmt"
	"math/bits"
	"strings"
)

// Card is a single card encoded as one bit in a uint64.
// Layout: [13 spades][13 hearts][13 diamonds][13 clubs], low bits first.
type Card uint64

// Hand is a set of cards: a uint64 with one bit per card present.
type Hand uint64

// Suit constants.
const (
	Clubs    uint8 = 0
	Diamonds uint8 = 1
	Hearts   uint8 = 2
	Spades   uint8 = 3
)

// Rank constants (0-12 for deuce through ace).
const (
	Two uint8 = iota
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

const (
	rankChars = "23456789TJQKA"
	suitChars = "cdhs"
)

// NewCard creates a card from rank (0-12) and suit (0-3).
func NewCard(rank, suit uint8) Card {
	return Card(1) << (suit*13 + rank)
}

// Rank returns the card's rank, or 255 for the zero Card.
func (c Card) Rank() uint8 {
	if c == 0 {
		return 255
	}
	return uint8(bits.TrailingZeros64(uint64(c))) % 13
}

// Suit returns the card's suit, or 255 for the zero Card.
func (c Card) Suit() uint8 {
	if c == 0 {
		return 255
	}
	return uint8(bits.TrailingZeros64(uint64(c))) / 13
}

// String renders the card in the conventional two-character form ("As", "7d").
func (c Card) String() string {
	r, s := c.Rank(), c.Suit()
	if r > 12 || s > 3 {
		return "??"
	}
	return string(rankChars[r]) + string(suitChars[s])
}

// ParseCard parses a two-character card string such as "As" or "td".
func ParseCard(s string) (Card, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("invalid card %q", s)
	}
	rank := strings.IndexByte(rankChars, upperRank(s[0]))
	if rank < 0 {
		return 0, fmt.Errorf("invalid rank %q", s[0])
	}
	suit := strings.IndexByte(suitChars, lowerSuit(s[1]))
	if suit < 0 {
		return 0, fmt.Errorf("invalid suit %q", s[1])
	}
	return NewCard(uint8(rank), uint8(suit)), nil
}

// ParseCards parses a space-separated list of card strings.
func ParseCards(s string) ([]Card, error) {
	fields := strings.Fields(s)
	cards := make([]Card, 0, len(fields))
	for _, f := range fields {
		c, err := ParseCard(f)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

func upperRank(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

func lowerSuit(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// NewHand builds a hand from the given cards.
func NewHand(cards ...Card) Hand {
	var h Hand
	for _, c := range cards {
		h |= Hand(c)
	}
	return h
}

// Add returns the hand with c included.
func (h Hand) Add(c Card) Hand { return h | Hand(c) }

// Has reports whether the hand contains c.
func (h Hand) Has(c Card) bool { return h&Hand(c) != 0 }

// Count returns the number of cards in the hand.
func (h Hand) Count() int { return bits.OnesCount64(uint64(h)) }

// SuitMask returns the 13-bit rank mask for one suit.
func (h Hand) SuitMask(suit uint8) uint16 {
	return uint16((h >> (suit * 13)) & 0x1FFF)
}

// RankMask returns a 13-bit mask of which ranks are present in any suit.
func (h Hand) RankMask() uint16 {
	var mask uint16
	for suit := uint8(0); suit < 4; suit++ {
		mask |= h.SuitMask(suit)
	}
	return mask
}

// Cards expands the hand into its individual cards, lowest bit first.
func (h Hand) Cards() []Card {
	out := make([]Card, 0, h.Count())
	for v := uint64(h); v != 0; v &= v - 1 {
		out = append(out, Card(v&-v))
	}
	return out
}

// String renders the hand as space-separated cards.
func (h Hand) String() string {
	cards := h.Cards()
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
