package tosbft

// ForkProof is an ordered pair of two UncheckedSignedUnits by the same
// creator. Validity is a pure function of the pair: independent of any
// store state.
type ForkProof struct {
	Unit1 UncheckedSignedUnit
	Unit2 UncheckedSignedUnit
}

// Verify checks a ForkProof is well-formed against the current session
// and keychain, returning the creator it proves forked.
//
// A well-formed proof requires both units to (i) share SessionId with
// the verifier, (ii) differ as values, (iii) agree on creator, (iv)
// agree on round, and both signatures to verify.
func (fp *ForkProof) Verify(kc Keychain, session SessionId) (NodeIndex, error) {
	u1, u2 := &fp.Unit1, &fp.Unit2

	if u1.SessionId != session || u2.SessionId != session {
		return 0, ErrForkWrongSession
	}
	if u1.Creator != u2.Creator {
		return 0, ErrForkWrongCreator
	}
	if u1.Round != u2.Round {
		return 0, ErrForkDifferentRounds
	}
	if u1.Hash() == u2.Hash() {
		return 0, ErrForkSingleUnit
	}
	if !u1.VerifySignature(kc) || !u2.VerifySignature(kc) {
		return 0, ErrBadSignature
	}
	return u1.Creator, nil
}
