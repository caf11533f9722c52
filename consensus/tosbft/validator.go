package tosbft

// Validator decides whether an UncheckedSignedUnit may be admitted. It
// never mutates state; on failure it names the first violated rule.
type Validator struct {
	kc        Keychain
	session   SessionId
	maxRound  Round
	nodeCount NodeCount
}

// NewValidator builds a Validator bound to a session, a node count and
// an admission ceiling on round.
func NewValidator(kc Keychain, session SessionId, nodeCount NodeCount, maxRound Round) *Validator {
	return &Validator{kc: kc, session: session, maxRound: maxRound, nodeCount: nodeCount}
}

// ValidateUnit checks signature, session, round bound and creator range
// in that order, returning the SignedUnit on success.
func (v *Validator) ValidateUnit(u UncheckedSignedUnit) (SignedUnit, error) {
	if !u.VerifySignature(v.kc) {
		return SignedUnit{}, ErrBadSignature
	}
	if u.SessionId != v.session {
		return SignedUnit{}, ErrSessionMismatch
	}
	if u.Round > v.maxRound {
		return SignedUnit{}, ErrRoundTooHigh
	}
	if u.Creator < 0 || NodeCount(u.Creator) >= v.nodeCount {
		return SignedUnit{}, ErrCreatorOutOfSet
	}
	return u.Checked(), nil
}
