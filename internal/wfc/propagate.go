package wfc

// UpdateResult is the outcome of narrowing one neighbor.
type UpdateResult int

const (
	NothingToDo     UpdateResult = iota // No tile was cleared
	Updated                             // At least one tile cleared, domain still non-empty
	ImpossibleState                     // Domain would become empty
)

// String returns the string representation of an UpdateResult
func (u UpdateResult) String() string {
	switch u {
	case NothingToDo:
		return "nothing_to_do"
	case Updated:
		return "updated"
	case ImpossibleState:
		return "impossible_state"
	default:
		return "unknown"
	}
}

// worklist holds positions whose neighbors must be re-examined.
type worklist interface {
	push(Position)
	pop() (Position, bool)
}

// stack is the last-in-first-out worklist used by the solver.
type stack []Position

func (s *stack) push(p Position) {
	*s = append(*s, p)
}

func (s *stack) pop() (Position, bool) {
	n := len(*s)
	if n == 0 {
		return Position{}, false
	}
	p := (*s)[n-1]
	*s = (*s)[:n-1]
	return p, true
}

// queue is a first-in-first-out worklist. The fixed point does not depend on
// visiting order, only the amount of intermediate work does.
type queue []Position

func (q *queue) push(p Position) {
	*q = append(*q, p)
}

func (q *queue) pop() (Position, bool) {
	if len(*q) == 0 {
		return Position{}, false
	}
	p := (*q)[0]
	*q = (*q)[1:]
	return p, true
}

// updateNeighbor narrows the neighbor of pos along (axis, dir) to the union of
// tiles that the still-allowed tiles of pos permit there.
func (s *Solver) updateNeighbor(pos Position, axis, dir int) UpdateResult {
	forbidden, ok := s.rules.forbidden(s.store.StateAt(pos), axis, dir)
	if !ok || len(forbidden) == 0 {
		return NothingToDo
	}
	return s.store.exclude(pos.Neighbor(axis, dir), forbidden)
}

// Propagate tightens domains outward from pos until a fixed point is reached.
// It returns false on the first contradiction; exclusions applied before the
// contradiction are kept.
func (s *Solver) Propagate(pos Position) bool {
	return s.propagate(pos, &stack{})
}

func (s *Solver) propagate(pos Position, work worklist) bool {
	work.push(pos)

	for {
		current, ok := work.pop()
		if !ok {
			return true
		}

		for axis := 0; axis < Dims; axis++ {
			for _, dir := range Directions {
				switch s.updateNeighbor(current, axis, dir) {
				case Updated:
					work.push(current.Neighbor(axis, dir))
				case ImpossibleState:
					s.contradiction = &Contradiction{Source: current, At: current.Neighbor(axis, dir)}
					return false
				}
			}
		}
	}
}
