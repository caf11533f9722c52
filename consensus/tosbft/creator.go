package tosbft

// UnitsCollector gathers candidate parent hashes for a single round:
// the first unit seen from each creator wins that creator's slot.
// Equivocation policing happens elsewhere (Store/AlertHandler); the
// collector's job is purely to decide, given arrival history, whether
// a round has enough candidates to build on.
type UnitsCollector struct {
	candidates *NodeMap[Hash]
}

func newUnitsCollector(n NodeCount) *UnitsCollector {
	return &UnitsCollector{candidates: NewNodeMap[Hash](n)}
}

// addUnit inserts h into the creator's slot only if that slot is empty.
func (c *UnitsCollector) addUnit(creator NodeIndex, h Hash) {
	c.candidates.SetIfEmpty(creator, h)
}

// prospectiveParents freezes the current candidate set if it satisfies
// the thresholds a unit at the next round needs: at least T distinct
// candidates, and the given own index must be among them.
func (c *UnitsCollector) prospectiveParents(own NodeIndex, quorum int) (*NodeMap[Hash], error) {
	n := c.candidates.Count()
	if n < quorum {
		return nil, ErrNotEnoughParents
	}
	if !c.candidates.Occupied(own) {
		return nil, ErrMissingOwnParent
	}
	return c.candidates.Clone(), nil
}

// Creator decides when and with which parents a new unit at a given
// round may be produced. round_collectors grows to cover every round
// a unit has been observed at; create_unit is a read-only function
// over collectors, which mutate only via AddUnit.
type Creator struct {
	own             NodeIndex
	nodeCount       NodeCount
	session         SessionId
	roundCollectors []*UnitsCollector
}

// NewCreator builds a Creator for participant own among nodeCount
// participants in session.
func NewCreator(own NodeIndex, nodeCount NodeCount, session SessionId) *Creator {
	c := &Creator{own: own, nodeCount: nodeCount, session: session}
	c.ensureRound(0)
	return c
}

func (c *Creator) ensureRound(r Round) {
	for Round(len(c.roundCollectors)) <= r {
		c.roundCollectors = append(c.roundCollectors, newUnitsCollector(c.nodeCount))
	}
}

// CurrentRound is len(round_collectors) - 1.
func (c *Creator) CurrentRound() Round {
	return Round(len(c.roundCollectors) - 1)
}

// AddUnit records an observed unit's hash in its round's collector,
// auto-extending round_collectors to cover round.
func (c *Creator) AddUnit(creator NodeIndex, round Round, h Hash) {
	c.ensureRound(round)
	c.roundCollectors[round].addUnit(creator, h)
}

// CreateUnit decides parents for a unit at round. Round 0 always
// succeeds with an empty parent map. Otherwise it consults round-1's
// collector for at least T candidates including this participant's
// own, in NodeIndex-ascending order.
func (c *Creator) CreateUnit(round Round) (PreUnit, []Hash, error) {
	if round == 0 {
		empty := NewNodeMap[Hash](c.nodeCount)
		ch := CombineControlHash(c.nodeCount, empty)
		return PreUnit{Creator: c.own, Round: 0, ControlHash: ch}, nil, nil
	}

	prevRound := round - 1
	if Round(len(c.roundCollectors)) <= prevRound {
		return PreUnit{}, nil, ErrNotEnoughParents
	}
	quorum := c.nodeCount.Quorum()
	parents, err := c.roundCollectors[prevRound].prospectiveParents(c.own, quorum)
	if err != nil {
		return PreUnit{}, nil, err
	}

	ch := CombineControlHash(c.nodeCount, parents)
	hashes := make([]Hash, 0, parents.Count())
	parents.Iter(func(_ NodeIndex, h Hash) {
		hashes = append(hashes, h)
	})
	return PreUnit{Creator: c.own, Round: round, ControlHash: ch}, hashes, nil
}
