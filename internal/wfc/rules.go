package wfc

import (
	"fmt"
	"sort"

	"github.com/zyedidia/generic/mapset"
)

// Constraint states that Neighbor may occupy the lattice point one step from a
// cell holding Tile, along Axis in direction Dir.
type Constraint struct {
	Tile     int
	Axis     int
	Dir      int
	Neighbor int
}

// String returns the constraint as "tile --axis/dir--> neighbor".
func (c Constraint) String() string {
	return fmt.Sprintf("%d --%d/%+d--> %d", c.Tile, c.Axis, c.Dir, c.Neighbor)
}

type ruleKey struct {
	tile int
	axis int
	dir  int
}

// Rules is the adjacency allow-list. For every declared (tile, axis, dir) it
// holds exactly the neighbor tiles permitted one step away. A key with no
// declaration places no constraint on that neighbor.
type Rules struct {
	tiles   int
	allowed map[ruleKey]mapset.Set[int]
	count   int
}

// NewRules builds the rule table for a universe of tiles tile ids.
// Constraints sharing (tile, axis, dir) accumulate into one set.
func NewRules(constraints []Constraint, tiles int) (*Rules, error) {
	if tiles <= 0 {
		return nil, ErrNoTiles
	}

	r := &Rules{
		tiles:   tiles,
		allowed: make(map[ruleKey]mapset.Set[int]),
	}

	for i, c := range constraints {
		if err := r.validate(c); err != nil {
			return nil, fmt.Errorf("constraint %d (%s): %w", i, c, err)
		}
		key := ruleKey{tile: c.Tile, axis: c.Axis, dir: c.Dir}
		set, ok := r.allowed[key]
		if !ok {
			set = mapset.New[int]()
			r.allowed[key] = set
		}
		if !set.Has(c.Neighbor) {
			set.Put(c.Neighbor)
			r.count++
		}
	}

	return r, nil
}

func (r *Rules) validate(c Constraint) error {
	if c.Tile < 0 || c.Tile >= r.tiles {
		return fmt.Errorf("%w: tile %d outside [0,%d)", ErrInvalidConstraint, c.Tile, r.tiles)
	}
	if c.Neighbor < 0 || c.Neighbor >= r.tiles {
		return fmt.Errorf("%w: neighbor %d outside [0,%d)", ErrInvalidConstraint, c.Neighbor, r.tiles)
	}
	if c.Axis < 0 || c.Axis >= Dims {
		return fmt.Errorf("%w: axis %d outside [0,%d)", ErrInvalidConstraint, c.Axis, Dims)
	}
	if c.Dir != 1 && c.Dir != -1 {
		return fmt.Errorf("%w: direction %d is not -1 or +1", ErrInvalidConstraint, c.Dir)
	}
	return nil
}

// Tiles returns the size of the tile universe.
func (r *Rules) Tiles() int {
	return r.tiles
}

// Keys returns the number of declared (tile, axis, dir) entries.
func (r *Rules) Keys() int {
	return len(r.allowed)
}

// Len returns the number of distinct constraints.
func (r *Rules) Len() int {
	return r.count
}

// Allowed returns the neighbor tiles permitted for (tile, axis, dir) in
// ascending order. ok is false if nothing was declared for that key.
func (r *Rules) Allowed(tile, axis, dir int) (neighbors []int, ok bool) {
	set, ok := r.allowed[ruleKey{tile: tile, axis: axis, dir: dir}]
	if !ok {
		return nil, false
	}
	neighbors = make([]int, 0, set.Size())
	set.Each(func(n int) {
		neighbors = append(neighbors, n)
	})
	sort.Ints(neighbors)
	return neighbors, true
}

// forbidden returns the tiles no allowed tile of d permits one step along
// (axis, dir). ok is false when some allowed tile of d has no declaration
// there, in which case the direction is unconstrained.
func (r *Rules) forbidden(d Domain, axis, dir int) (forbidden []int, ok bool) {
	permitted := make([]bool, r.tiles)
	for tile, v := range d {
		if v <= 0 {
			continue
		}
		set, declared := r.allowed[ruleKey{tile: tile, axis: axis, dir: dir}]
		if !declared {
			return nil, false
		}
		set.Each(func(n int) {
			permitted[n] = true
		})
	}

	for tile, p := range permitted {
		if !p {
			forbidden = append(forbidden, tile)
		}
	}
	return forbidden, true
}
