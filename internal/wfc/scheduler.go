package wfc

import (
	"cmp"
	"slices"
)

// axisKey orders one coordinate of a position: distance from the origin,
// then non-negative before negative, then lower axis first.
type axisKey struct {
	abs      int64
	negative bool
	axis     int // negated axis index
}

func compareAxisKey(a, b axisKey) int {
	if c := cmp.Compare(a.abs, b.abs); c != 0 {
		return c
	}
	if a.negative != b.negative {
		if !a.negative {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.axis, b.axis)
}

// tieBreakKey returns the sorted per-axis keys of p.
func tieBreakKey(p Position) [Dims]axisKey {
	var keys [Dims]axisKey
	for i, c := range p {
		abs := c
		if abs < 0 {
			abs = -abs
		}
		keys[i] = axisKey{abs: abs, negative: c < 0, axis: -i}
	}
	slices.SortFunc(keys[:], compareAxisKey)
	return keys
}

// comparePositions is a total order over positions that prefers cells close to
// the origin. It does not depend on map iteration order.
func comparePositions(a, b Position) int {
	ka, kb := tieBreakKey(a), tieBreakKey(b)
	for i := range ka {
		if c := compareAxisKey(ka[i], kb[i]); c != 0 {
			return c
		}
	}
	return 0
}

// NextCell returns the wavefront cell with minimum entropy, ties broken by
// comparePositions. With an empty wavefront it returns the origin.
func (s *Solver) NextCell() Position {
	var (
		best        Position
		bestEntropy float64
		found       bool
	)

	for pos, d := range s.store.wavefront {
		h := s.weights.Entropy(d)
		if !found || h < bestEntropy || (h == bestEntropy && comparePositions(pos, best) < 0) {
			best, bestEntropy, found = pos, h, true
		}
	}

	if !found {
		return Origin()
	}
	return best
}
