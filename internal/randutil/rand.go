// Package randutil builds deterministic math/rand/v2 generators from a
// single 64-bit seed.
package randutil

import (
	rand "math/rand/v2"
	"time"
)

// New returns a PCG-backed generator whose full state derives from one
// seed, so a run that records its seed can be replayed exactly.
func New(seed int64) *rand.Rand {
	hi := splitmix(uint64(seed))
	lo := splitmix(hi)
	return rand.New(rand.NewPCG(hi, lo))
}

// NewFromTime seeds from the wall clock for callers that do not need
// reproducibility.
func NewFromTime() *rand.Rand {
	return New(time.Now().UnixNano())
}

// splitmix64 finalizer; spreads low-entropy seeds over the full state space.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
