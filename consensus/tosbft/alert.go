package tosbft

import "github.com/ethereum/go-ethereum/rlp"

// Alert is a signed accusation: sender is the accuser, proof names the
// forker, and legit_units is the accuser's commitment to which of the
// forker's units it considers canonical.
type Alert struct {
	Sender     NodeIndex
	Proof      ForkProof
	LegitUnits []UncheckedSignedUnit
}

// Forker returns the creator the embedded ForkProof names, assuming the
// proof has already been validated (Verify agrees on creator by
// construction).
func (a *Alert) Forker() NodeIndex {
	return a.Proof.Unit1.Creator
}

type alertEncoding struct {
	Sender     uint32
	Unit1      []byte
	Unit2      []byte
	LegitUnits [][]byte
}

// Hash computes the AlertHash used to index known_alerts and pin
// known_rmcs entries.
func (a *Alert) Hash() Hash {
	enc := alertEncoding{Sender: uint32(a.Sender)}
	enc.Unit1, _ = a.Proof.Unit1.EncodeRLP()
	enc.Unit2, _ = a.Proof.Unit2.EncodeRLP()
	for _, u := range a.LegitUnits {
		b, _ := u.EncodeRLP()
		enc.LegitUnits = append(enc.LegitUnits, b)
	}
	b, err := rlp.EncodeToBytes(&enc)
	if err != nil {
		panic(err)
	}
	return HashBytes(b)
}

// SignedAlert is an Alert signed by its sender.
type SignedAlert struct {
	Alert     Alert
	Signature []byte
}

// UncheckedSignedAlert is the wire-shaped counterpart before its
// signature has been checked.
type UncheckedSignedAlert struct {
	Alert     Alert
	Signature []byte
}

// SignAlert produces a SignedAlert under kc.
func SignAlert(kc Keychain, a Alert) SignedAlert {
	h := a.Hash()
	return SignedAlert{Alert: a, Signature: kc.Sign(h[:])}
}

// VerifySignature checks a.Signature against its sender's key.
func (a *UncheckedSignedAlert) VerifySignature(kc Keychain) bool {
	h := a.Alert.Hash()
	return kc.Verify(a.Alert.Sender, h[:], a.Signature)
}

func (a UncheckedSignedAlert) checked() SignedAlert {
	return SignedAlert{Alert: a.Alert, Signature: a.Signature}
}

func (a SignedAlert) unchecked() UncheckedSignedAlert {
	return UncheckedSignedAlert{Alert: a.Alert, Signature: a.Signature}
}

// ForkingNotification is the downstream signal AlertHandler emits to
// Runway: either announcing a forker (proof) or delivering a forker's
// alert-certified units for consensus ingestion. Modeled as a tagged
// variant with exhaustive case analysis via the Kind discriminant.
type ForkingNotification struct {
	Kind  ForkingNotificationKind
	Proof ForkProof             // valid when Kind == ForkingForker
	Units []UncheckedSignedUnit // valid when Kind == ForkingUnits
}

// ForkingNotificationKind discriminates ForkingNotification's variants.
type ForkingNotificationKind int

const (
	ForkingForker ForkingNotificationKind = iota
	ForkingUnits
)
