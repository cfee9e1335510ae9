package wfc

import "math"

// DefaultSeed is the seed used when the caller does not supply one.
const DefaultSeed uint32 = 42

const (
	lcgMultiplier uint32 = 1664525
	lcgIncrement  uint32 = 1013904223
)

// RNG is a linear congruential generator over 32-bit state. Identical seeds
// and call sequences always produce identical draws.
type RNG struct {
	state uint32
	draws uint64
}

// NewRNG creates a generator with the given seed.
func NewRNG(seed uint32) *RNG {
	return &RNG{state: seed}
}

// Next advances the state (mod 2^32) and returns it.
func (r *RNG) Next() uint32 {
	r.state = r.state*lcgMultiplier + lcgIncrement
	r.draws++
	return r.state
}

// Float64 returns a uniform variate in [0, 1]. The upper bound is only reached
// when the state is exactly 2^32-1.
func (r *RNG) Float64() float64 {
	return float64(r.Next()) / float64(math.MaxUint32)
}

// Draws returns the number of values drawn since creation.
func (r *RNG) Draws() uint64 {
	return r.draws
}
