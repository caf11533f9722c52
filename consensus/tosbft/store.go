package tosbft

import (
	"fmt"
	"sort"
	"sync"
)

// UnitStore is the in-memory index of known units and fork tracking. It
// exclusively owns its SignedUnits.
type UnitStore struct {
	mu sync.Mutex

	nodeCount NodeCount

	byCoord map[UnitCoord]*SignedUnit
	byHash  map[Hash]*SignedUnit
	forkers map[NodeIndex]bool

	// byCreator indexes every unit ever stored for a creator, including
	// forker units accepted via alert — needed by mark_forker (to
	// return the commitment set) and newest_unit.
	byCreator map[NodeIndex][]*SignedUnit

	parents map[Hash][]Hash

	// buffer holds units admitted since the last YieldBufferUnits call.
	buffer []SignedUnit
}

// NewUnitStore builds an empty store sized for nodeCount participants.
func NewUnitStore(nodeCount NodeCount) *UnitStore {
	return &UnitStore{
		nodeCount: nodeCount,
		byCoord:   make(map[UnitCoord]*SignedUnit),
		byHash:    make(map[Hash]*SignedUnit),
		forkers:   make(map[NodeIndex]bool),
		byCreator: make(map[NodeIndex][]*SignedUnit),
		parents:   make(map[Hash][]Hash),
	}
}

// IsNewFork reports the sibling unit already at full.Coord() if one
// exists with a different hash; it never mutates the store.
func (s *UnitStore) IsNewFork(full *FullUnit) (SignedUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byCoord[full.Coord()]
	if !ok {
		return SignedUnit{}, false
	}
	if existing.Hash() == full.Hash() {
		// Same hash at the same coord: a syntactic duplicate, not a
		// fork (section 4.B fork-detection edge case).
		return SignedUnit{}, false
	}
	return *existing, true
}

// AddUnit inserts su. If viaAlert is false and the coord already holds
// a different unit from the same creator, the insert is rejected by
// contract: callers must consult IsNewFork first.
func (s *UnitStore) AddUnit(su SignedUnit, viaAlert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coord := su.Coord()
	if existing, ok := s.byCoord[coord]; ok {
		if existing.Hash() == su.Hash() {
			return nil // duplicate, not an error
		}
		if !viaAlert {
			return ErrForkNotAllowed
		}
	}

	h := su.Hash()
	copied := su
	s.byHash[h] = &copied
	s.byCoord[coord] = &copied
	s.byCreator[su.Creator] = append(s.byCreator[su.Creator], &copied)
	s.buffer = append(s.buffer, su)
	return nil
}

// MarkForker irrevocably tags node as a forker and returns every unit
// by node previously stored.
func (s *UnitStore) MarkForker(node NodeIndex) []SignedUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forkers[node] = true
	out := make([]SignedUnit, 0, len(s.byCreator[node]))
	for _, u := range s.byCreator[node] {
		out = append(out, *u)
	}
	return out
}

// IsForker reports whether node has been tagged a forker.
func (s *UnitStore) IsForker(node NodeIndex) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forkers[node]
}

// UnitByCoord returns the unit at coord, if any.
func (s *UnitStore) UnitByCoord(coord UnitCoord) (SignedUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byCoord[coord]
	if !ok {
		return SignedUnit{}, false
	}
	return *u, true
}

// UnitByHash returns the unit with the given hash, if any.
func (s *UnitStore) UnitByHash(h Hash) (SignedUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byHash[h]
	if !ok {
		return SignedUnit{}, false
	}
	return *u, true
}

// ContainsCoord reports whether coord is occupied.
func (s *UnitStore) ContainsCoord(coord UnitCoord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byCoord[coord]
	return ok
}

// GetParents returns the previously-recorded parent hashes of h.
func (s *UnitStore) GetParents(h Hash) ([]Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parents[h]
	return p, ok
}

// AddParents records the parent hash sequence for h. Parents may be
// added exactly once per h; subsequent calls are no-ops (idempotent per
// section 8).
func (s *UnitStore) AddParents(h Hash, hashes []Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parents[h]; ok {
		return
	}
	cp := make([]Hash, len(hashes))
	copy(cp, hashes)
	s.parents[h] = cp
}

// NewestUnit returns the highest-round unit created by requester known
// locally, used by the crash-recovery newest-unit protocol.
func (s *UnitStore) NewestUnit(requester NodeIndex) (SignedUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := s.byCreator[requester]
	if len(units) == 0 {
		return SignedUnit{}, false
	}
	best := units[0]
	for _, u := range units[1:] {
		if u.Round > best.Round {
			best = u
		}
	}
	return *best, true
}

// YieldBufferUnits drains units admitted since the last call. Each
// admitted unit is returned in exactly one yield.
func (s *UnitStore) YieldBufferUnits() []SignedUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buffer
	s.buffer = nil
	return out
}

// GetStatus renders a human-readable summary of store contents, used by
// Runway's status tick: the unit and known-forker totals, and for each
// round how many of the N creators have a unit there. It does not list
// which creators are missing at a round.
func (s *UnitStore) GetStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRound := make(map[Round]int)
	for coord := range s.byCoord {
		byRound[coord.Round]++
	}
	rounds := make([]Round, 0, len(byRound))
	for r := range byRound {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })

	out := fmt.Sprintf("UnitStore: %d units, %d forkers known\n", len(s.byHash), len(s.forkers))
	for _, r := range rounds {
		out += fmt.Sprintf("  round %d: %d/%d creators\n", r, byRound[r], int(s.nodeCount))
	}
	return out
}
