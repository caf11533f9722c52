package tosbft

import "github.com/ethereum/go-ethereum/rlp"

// ControlHash digests a NodeMap of parent hashes: the presence bitmap
// and the ordered hash sequence. Two ControlHashes are equal iff both
// the bitmap and the hash sequence match — computing it twice from the
// same NodeMap must yield identical output (section 8's "ControlHash
// determinism" round-trip property).
type ControlHash Hash

type controlHashPayload struct {
	Present []bool
	Hashes  []Hash
}

// CombineControlHash derives the ControlHash for a parent NodeMap[Hash]
// sized for n nodes.
func CombineControlHash(n NodeCount, parents *NodeMap[Hash]) ControlHash {
	present := make([]bool, n)
	hashes := make([]Hash, 0, n)
	parents.Iter(func(idx NodeIndex, h Hash) {
		present[idx] = true
		hashes = append(hashes, h)
	})
	payload := controlHashPayload{Present: present, Hashes: hashes}
	b, err := rlp.EncodeToBytes(&payload)
	if err != nil {
		// The payload shape is fixed and always encodable; a failure
		// here means rlp itself is broken.
		panic(err)
	}
	return ControlHash(HashBytes(b))
}

// PreUnit is a declaration of intent to join the DAG: who, at which
// round, committing to which parent set via its ControlHash.
type PreUnit struct {
	Creator     NodeIndex
	Round       Round
	ControlHash ControlHash
}

// FullUnit is a PreUnit plus its opaque payload and session binding.
type FullUnit struct {
	PreUnit
	Data      Data
	SessionId SessionId

	hash Hash
	hashSet bool
}

// Hash returns (and memoizes) the content hash of the unit's full
// signable contents: PreUnit fields, session id, and Data. Two units
// sharing a creator, round and control_hash but differing only in Data
// are exactly the textbook equivocation case (two conflicting payloads
// proposed for the same coord) and must hash differently, or
// ForkProof.Verify's "differ as values" check could never catch them.
func (u *FullUnit) Hash() Hash {
	if u.hashSet {
		return u.hash
	}
	type payload struct {
		Creator     uint32
		Round       Round
		ControlHash Hash
		SessionId   SessionId
		Data        Data
	}
	b, err := rlp.EncodeToBytes(&payload{
		Creator:     uint32(u.Creator),
		Round:       u.Round,
		ControlHash: Hash(u.ControlHash),
		SessionId:   u.SessionId,
		Data:        u.Data,
	})
	if err != nil {
		panic(err)
	}
	u.hash = HashBytes(b)
	u.hashSet = true
	return u.hash
}

// Coord is the unit's logical address.
func (u *FullUnit) Coord() UnitCoord {
	return UnitCoord{Creator: u.Creator, Round: u.Round}
}

// Unit is the stripped structural projection of a FullUnit: hash,
// creator, round and control_hash, with the payload and signature
// dropped. Runway hands Consensus this projection (NotifyNewUnits),
// where the payload is irrelevant.
type Unit struct {
	Hash        Hash
	Creator     NodeIndex
	Round       Round
	ControlHash ControlHash
}

// Projection strips a FullUnit down to its Unit view.
func (u *FullUnit) Projection() Unit {
	return Unit{
		Hash:        u.Hash(),
		Creator:     u.Creator,
		Round:       u.Round,
		ControlHash: u.ControlHash,
	}
}
