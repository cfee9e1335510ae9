package wfc

import (
	"strconv"
	"strings"
)

// Dims is the dimensionality of the lattice.
const Dims = 4

// Position is a point of the lattice. Positions compare by value and are used
// directly as map keys.
type Position [Dims]int64

// Origin returns the all-zero position.
func Origin() Position {
	return Position{}
}

// Neighbor returns the position one step away along axis in direction dir (-1 or +1).
func (p Position) Neighbor(axis int, dir int) Position {
	p[axis] += int64(dir)
	return p
}

// String returns the coordinates as "(c0, c1, ...)".
func (p Position) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, c := range p {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatInt(c, 10))
	}
	sb.WriteByte(')')
	return sb.String()
}

// Directions lists the two step directions along an axis, in visiting order.
var Directions = [2]int{1, -1}

// Domain is the set of tiles still possible at a lattice point. Entry i is
// strictly positive while tile i is allowed and exactly 0 once excluded.
type Domain []float64

// FullDomain returns the unconstrained domain over n tiles.
func FullDomain(n int) Domain {
	d := make(Domain, n)
	for i := range d {
		d[i] = 1.0
	}
	return d
}

// SingleDomain returns a domain over n tiles where only tile is allowed.
func SingleDomain(n int, tile int) Domain {
	d := make(Domain, n)
	d[tile] = 1.0
	return d
}

// Allowed returns the allowed tile ids in ascending order.
func (d Domain) Allowed() []int {
	allowed := make([]int, 0, len(d))
	for i, v := range d {
		if v > 0 {
			allowed = append(allowed, i)
		}
	}
	return allowed
}

// IsEmpty returns true if no tile is allowed.
func (d Domain) IsEmpty() bool {
	for _, v := range d {
		if v != 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the domain.
func (d Domain) Clone() Domain {
	c := make(Domain, len(d))
	copy(c, d)
	return c
}

// single reports the only allowed tile, if exactly one remains.
func (d Domain) single() (int, bool) {
	tile := -1
	for i, v := range d {
		if v > 0 {
			if tile >= 0 {
				return 0, false
			}
			tile = i
		}
	}
	return tile, tile >= 0
}

// Assignment is a collapsed lattice point and its final tile.
type Assignment struct {
	Pos  Position
	Tile int
}
