package tosbft

import "github.com/ethereum/go-ethereum/rlp"

// SignedUnit is a FullUnit signed by its creator, with the signature
// already verified against the creator's key.
type SignedUnit struct {
	FullUnit
	Signature []byte
}

// UncheckedSignedUnit is the wire-shaped counterpart of SignedUnit
// before its signature has been checked. It carries the same fields;
// the type distinction exists so call sites cannot accidentally treat
// unverified data as trusted.
type UncheckedSignedUnit struct {
	FullUnit
	Signature []byte
}

// signingPayload returns the exact bytes a signature covers: the
// unit's identity hash, which already binds creator/round/control_hash,
// session and Data — so a payload cannot be swapped post-signature
// without invalidating it.
func signingPayload(u *FullUnit) []byte {
	h := u.Hash()
	return h[:]
}

// Sign produces a SignedUnit for a FullUnit this Keychain owns.
func Sign(kc Keychain, u FullUnit) SignedUnit {
	sig := kc.Sign(signingPayload(&u))
	return SignedUnit{FullUnit: u, Signature: sig}
}

// Unchecked strips the "verified" guarantee, e.g. before putting a
// locally-produced SignedUnit on the wire.
func (s SignedUnit) Unchecked() UncheckedSignedUnit {
	return UncheckedSignedUnit{FullUnit: s.FullUnit, Signature: s.Signature}
}

// VerifySignature checks u's signature against its creator's key in
// kc, without checking session or round bounds (those are Validator's
// job — see validate_unit).
func (u *UncheckedSignedUnit) VerifySignature(kc Keychain) bool {
	return kc.Verify(u.Creator, signingPayload(&u.FullUnit), u.Signature)
}

// Checked promotes an UncheckedSignedUnit to SignedUnit once its
// signature has been independently verified by the caller.
func (u UncheckedSignedUnit) Checked() SignedUnit {
	return SignedUnit{FullUnit: u.FullUnit, Signature: u.Signature}
}

type signedUnitEncoding struct {
	Creator     uint32
	Round       Round
	ControlHash Hash
	SessionId   SessionId
	Signature   []byte
}

// EncodeRLP writes the persisted/wire form of an UncheckedSignedUnit.
// Data is intentionally omitted: persistence (section 6) is scoped to
// "append-only log of signed units" for replay/backup purposes, where
// only identity and signature need survive a restart; the opaque Data
// payload is re-supplied by DataProvider when the unit is recreated,
// never replayed from backup.
func (u UncheckedSignedUnit) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes(&signedUnitEncoding{
		Creator:     uint32(u.Creator),
		Round:       u.Round,
		ControlHash: Hash(u.ControlHash),
		SessionId:   u.SessionId,
		Signature:   u.Signature,
	})
}

// DecodeUncheckedSignedUnit parses the form written by EncodeRLP.
func DecodeUncheckedSignedUnit(b []byte) (UncheckedSignedUnit, error) {
	var enc signedUnitEncoding
	if err := rlp.DecodeBytes(b, &enc); err != nil {
		return UncheckedSignedUnit{}, err
	}
	return UncheckedSignedUnit{
		FullUnit: FullUnit{
			PreUnit: PreUnit{
				Creator:     NodeIndex(enc.Creator),
				Round:       enc.Round,
				ControlHash: ControlHash(enc.ControlHash),
			},
			SessionId: enc.SessionId,
		},
		Signature: enc.Signature,
	}, nil
}
