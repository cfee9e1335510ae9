package wfc

import (
	"fmt"
	"math"
)

// Weights holds one normalized selection weight per tile id. The weights sum to 1.
type Weights []float64

// NewWeights normalizes raw weights into a probability distribution over tile ids.
func NewWeights(raw []float64) (Weights, error) {
	if len(raw) == 0 {
		return nil, ErrNoTiles
	}

	sum, largest := 0.0, 0.0
	for i, w := range raw {
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return nil, fmt.Errorf("%w: tile %d has weight %v", ErrInvalidWeight, i, w)
		}
		sum += w
		largest = max(largest, w)
	}

	// Finite weights near MaxFloat64 can overflow the sum; rescale them first
	scale := 1.0
	if math.IsInf(sum, 0) {
		scale = largest
		sum = 0
		for _, w := range raw {
			sum += w / scale
		}
	}

	weights := make(Weights, len(raw))
	for i, w := range raw {
		weights[i] = w / scale / sum
	}
	return weights, nil
}

// Len returns the size of the tile universe.
func (w Weights) Len() int {
	return len(w)
}

// Entropy scores a domain for scheduling. It is -sum(plogp(state_i * weight_i))
// against the global weights, without renormalizing over the remaining tiles,
// so only the relative order of scores is meaningful. Lower is more constrained.
func (w Weights) Entropy(d Domain) float64 {
	total := 0.0
	for i, state := range d {
		total += plogp(state * w[i])
	}
	return -total
}

func plogp(p float64) float64 {
	if p == 0 {
		return 0
	}
	return p * math.Log2(p)
}

// pick performs a weighted draw among candidate tile ids (ascending order).
// Weights are renormalized over the candidates only. The last candidate absorbs
// floating-point rounding at the upper boundary.
func (w Weights) pick(rng *RNG, candidates []int) int {
	u := rng.Float64()

	sum := 0.0
	for _, tile := range candidates {
		sum += w[tile]
	}
	for _, tile := range candidates {
		p := w[tile] / sum
		if u < p {
			return tile
		}
		u -= p
	}
	return candidates[len(candidates)-1]
}
