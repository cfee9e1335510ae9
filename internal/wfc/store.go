package wfc

// Store holds the sparse lattice state. A position is in at most one of the
// collapsed and wavefront maps; a position in neither is fully open.
// Memory grows with touched cells only.
type Store struct {
	tiles     int
	collapsed map[Position]int
	wavefront map[Position]Domain
	order     []Position // collapse order, append-only
}

// NewStore creates an empty store over a universe of tiles tile ids.
func NewStore(tiles int) *Store {
	return &Store{
		tiles:     tiles,
		collapsed: make(map[Position]int),
		wavefront: make(map[Position]Domain),
	}
}

// StateAt returns a copy of the domain at pos, materializing unseen cells as
// fully open. Collapsed cells yield a single-tile domain.
func (s *Store) StateAt(pos Position) Domain {
	if tile, ok := s.collapsed[pos]; ok {
		return SingleDomain(s.tiles, tile)
	}
	if d, ok := s.wavefront[pos]; ok {
		return d.Clone()
	}
	return FullDomain(s.tiles)
}

// CollapsedAt returns the tile committed at pos.
func (s *Store) CollapsedAt(pos Position) (int, bool) {
	tile, ok := s.collapsed[pos]
	return tile, ok
}

// InWavefront reports whether pos is a touched, undecided cell.
func (s *Store) InWavefront(pos Position) bool {
	_, ok := s.wavefront[pos]
	return ok
}

// CollapsedLen returns the number of collapsed cells.
func (s *Store) CollapsedLen() int {
	return len(s.collapsed)
}

// WavefrontLen returns the number of wavefront cells.
func (s *Store) WavefrontLen() int {
	return len(s.wavefront)
}

// Collapsed returns every collapsed cell in the order it was committed.
func (s *Store) Collapsed() []Assignment {
	out := make([]Assignment, len(s.order))
	for i, pos := range s.order {
		out[i] = Assignment{Pos: pos, Tile: s.collapsed[pos]}
	}
	return out
}

// Wavefront returns a copy of the wavefront map.
func (s *Store) Wavefront() map[Position]Domain {
	out := make(map[Position]Domain, len(s.wavefront))
	for pos, d := range s.wavefront {
		out[pos] = d.Clone()
	}
	return out
}

// commit records tile at pos and drops any stale wavefront entry.
func (s *Store) commit(pos Position, tile int) {
	if _, ok := s.collapsed[pos]; ok {
		return
	}
	delete(s.wavefront, pos)
	s.collapsed[pos] = tile
	s.order = append(s.order, pos)
}

// setStateAt stores a non-empty domain, promoting it to the collapsed map when
// exactly one tile remains.
func (s *Store) setStateAt(pos Position, d Domain) {
	if tile, ok := d.single(); ok {
		s.commit(pos, tile)
		return
	}
	s.wavefront[pos] = d
}

// forget drops pos from the wavefront without replacement.
func (s *Store) forget(pos Position) {
	delete(s.wavefront, pos)
}

// exclude clears every forbidden tile currently allowed at pos.
// An emptied domain is reported and never written.
func (s *Store) exclude(pos Position, forbidden []int) UpdateResult {
	d := s.StateAt(pos)

	changed := false
	for _, tile := range forbidden {
		if d[tile] > 0 {
			d[tile] = 0
			changed = true
		}
	}
	if !changed {
		return NothingToDo
	}
	if d.IsEmpty() {
		return ImpossibleState
	}

	s.setStateAt(pos, d)
	return Updated
}
