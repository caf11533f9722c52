package tosbft

import "sort"

// Rmc is the reliable-multicast collaborator: it accepts a hash plus
// incoming RMC messages and eventually emits a Multisigned(hash) once
// >= T distinct participants have signed it. Its own state machine is
// not part of the core (section 9); this type is the reference
// implementation offered for embedders that don't bring their own,
// adapted from this codebase's quorum-certificate vote pool.
type Rmc struct {
	nodeCount NodeCount
	quorum    int

	sharesByHash map[Hash]map[NodeIndex]RmcShare
	signedHash   map[NodeIndex]Hash
}

// RmcShare is a single participant's signature over a subject hash.
type RmcShare struct {
	Node      NodeIndex
	Hash      Hash
	Signature []byte
}

// Multisigned is a hash accompanied by signatures from >= T distinct
// nodes: the RMC completion certificate.
type Multisigned struct {
	Hash       Hash
	Signatures []RmcShare
}

// RmcMessage is the wire-shaped payload RMC peers exchange: either a
// single share still being collected, or an already-complete
// Multisigned certificate being relayed.
type RmcMessage struct {
	Share       *RmcShare
	Complete    *Multisigned
}

// NewRmc builds an Rmc collector sized for nodeCount participants.
func NewRmc(nodeCount NodeCount) *Rmc {
	return &Rmc{
		nodeCount:    nodeCount,
		quorum:       nodeCount.Quorum(),
		sharesByHash: make(map[Hash]map[NodeIndex]RmcShare),
		signedHash:   make(map[NodeIndex]Hash),
	}
}

// AddShare ingests a single participant's signature over a hash,
// rejecting equivocation: a node signing two distinct hashes for what
// this collector treats as the same subject.
func (r *Rmc) AddShare(s RmcShare) error {
	if len(s.Signature) == 0 {
		return ErrInvalidShare
	}
	if prev, ok := r.signedHash[s.Node]; ok && prev != s.Hash {
		return ErrRmcEquivocation
	}
	r.signedHash[s.Node] = s.Hash
	if r.sharesByHash[s.Hash] == nil {
		r.sharesByHash[s.Hash] = make(map[NodeIndex]RmcShare)
	}
	r.sharesByHash[s.Hash][s.Node] = s
	return nil
}

// TryComplete returns the Multisigned certificate for h once quorum
// has been reached, in NodeIndex order for determinism.
func (r *Rmc) TryComplete(h Hash) (Multisigned, bool) {
	shares := r.sharesByHash[h]
	if len(shares) < r.quorum {
		return Multisigned{}, false
	}
	out := make([]RmcShare, 0, len(shares))
	for _, s := range shares {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return Multisigned{Hash: h, Signatures: out}, true
}

// HandleIncoming ingests an RmcMessage and returns the Multisigned
// certificate if this message completed it.
func (r *Rmc) HandleIncoming(msg RmcMessage) (Multisigned, bool, error) {
	if msg.Complete != nil {
		for _, s := range msg.Complete.Signatures {
			if err := r.AddShare(s); err != nil {
				return Multisigned{}, false, err
			}
		}
		return r.TryComplete(msg.Complete.Hash)
	}
	if msg.Share != nil {
		if err := r.AddShare(*msg.Share); err != nil {
			return Multisigned{}, false, err
		}
		return r.TryComplete(msg.Share.Hash)
	}
	return Multisigned{}, false, ErrInvalidShare
}

// StartRmc signs h with kc and ingests the resulting self-share, the
// first step of propagating RMC for a locally-produced hash.
func (r *Rmc) StartRmc(kc Keychain, h Hash) RmcShare {
	s := RmcShare{Node: kc.Index(), Hash: h, Signature: kc.Sign(h[:])}
	_ = r.AddShare(s)
	return s
}

// Verify performs basic structural validation on a Multisigned value:
// enough distinct signers, and each signature checks out under kc.
func (m *Multisigned) Verify(kc Keychain, quorum int) bool {
	if len(m.Signatures) < quorum {
		return false
	}
	seen := make(map[NodeIndex]bool, len(m.Signatures))
	for _, s := range m.Signatures {
		if seen[s.Node] {
			return false
		}
		seen[s.Node] = true
		if !kc.Verify(s.Node, m.Hash[:], s.Signature) {
			return false
		}
	}
	return true
}
