package wfc

import (
	"errors"
	"fmt"
)

var (
	ErrNoTiles           = errors.New("wfc: tile universe is empty")
	ErrInvalidWeight     = errors.New("wfc: tile weight must be positive and finite")
	ErrInvalidConstraint = errors.New("wfc: invalid constraint")
	ErrNoSolution        = errors.New("wfc: failed to find a consistent layout")
)

// Contradiction describes the exclusion that emptied a domain.
type Contradiction struct {
	Source Position // Cell whose neighbors were being narrowed
	At     Position // Cell whose domain would have become empty
}

// Error implements error.
func (c *Contradiction) Error() string {
	return fmt.Sprintf("wfc: contradiction at %s while propagating from %s", c.At, c.Source)
}

// Solver incrementally assigns tiles to an unbounded sparse lattice.
// It is not safe for concurrent use.
type Solver struct {
	rules   *Rules
	weights Weights
	rng     *RNG
	store   *Store

	steps         int
	contradiction *Contradiction
}

// NewSolver creates a solver over rules and weights. Both must describe the
// same tile universe.
func NewSolver(rules *Rules, weights Weights, seed uint32) (*Solver, error) {
	if rules == nil || weights.Len() == 0 {
		return nil, ErrNoTiles
	}
	if rules.Tiles() != weights.Len() {
		return nil, fmt.Errorf("wfc: rules cover %d tiles but %d weights were given", rules.Tiles(), weights.Len())
	}

	return &Solver{
		rules:   rules,
		weights: weights,
		rng:     NewRNG(seed),
		store:   NewStore(weights.Len()),
	}, nil
}

// Tiles returns the size of the tile universe.
func (s *Solver) Tiles() int {
	return s.weights.Len()
}

// Collapse commits a weighted random tile at pos and propagates from it.
// Collapsing an already collapsed position succeeds without side effects.
func (s *Solver) Collapse(pos Position) bool {
	if _, ok := s.store.CollapsedAt(pos); ok {
		return true
	}

	d := s.store.StateAt(pos)
	s.store.forget(pos)

	candidates := d.Allowed()
	if len(candidates) == 0 {
		s.contradiction = &Contradiction{Source: pos, At: pos}
		return false
	}

	s.store.commit(pos, s.weights.pick(s.rng, candidates))
	return s.Propagate(pos)
}

// Step collapses the next scheduled cell. It returns false if a contradiction
// was hit; from then on the solver is stuck and every further Step returns
// false without changing state.
func (s *Solver) Step() bool {
	if s.contradiction != nil {
		return false
	}
	s.steps++
	return s.Collapse(s.NextCell())
}

// Steps returns the number of steps attempted.
func (s *Solver) Steps() int {
	return s.steps
}

// Stuck reports whether a contradiction has been hit.
func (s *Solver) Stuck() bool {
	return s.contradiction != nil
}

// Contradiction returns the last contradiction, or nil.
func (s *Solver) Contradiction() *Contradiction {
	return s.contradiction
}

// Collapsed returns every collapsed cell in commit order.
func (s *Solver) Collapsed() []Assignment {
	return s.store.Collapsed()
}

// CollapsedAt returns the tile committed at pos.
func (s *Solver) CollapsedAt(pos Position) (int, bool) {
	return s.store.CollapsedAt(pos)
}

// DomainAt returns a copy of the current domain at pos.
func (s *Solver) DomainAt(pos Position) Domain {
	return s.store.StateAt(pos)
}

// CollapsedLen returns the number of collapsed cells.
func (s *Solver) CollapsedLen() int {
	return s.store.CollapsedLen()
}

// WavefrontLen returns the number of touched, undecided cells.
func (s *Solver) WavefrontLen() int {
	return s.store.WavefrontLen()
}

// Wavefront returns a copy of the wavefront.
func (s *Solver) Wavefront() map[Position]Domain {
	return s.store.Wavefront()
}
