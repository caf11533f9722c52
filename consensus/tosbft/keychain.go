package tosbft

import "crypto/ed25519"

// Keychain is the capability set the core is polymorphic over: sign,
// verify, and know your own index and the node count. Embedders may
// back this with any signature scheme; the reference implementation
// below is a thin wrapper over stdlib ed25519, following the same
// "just stdlib, renamed" idiom used for this codebase's own ed25519
// package.
type Keychain interface {
	// Index returns this participant's own NodeIndex.
	Index() NodeIndex
	// NodeCount returns the total participant count N.
	NodeCount() NodeCount
	// Sign returns a signature over msg under this participant's key.
	Sign(msg []byte) []byte
	// Verify checks sig over msg under the public key of node idx.
	Verify(idx NodeIndex, msg, sig []byte) bool
}

// Ed25519Keychain is a reference Keychain backed by stdlib ed25519
// keys, one per participant.
type Ed25519Keychain struct {
	self  NodeIndex
	priv  ed25519.PrivateKey
	peers []ed25519.PublicKey
}

// NewEd25519Keychain builds a Keychain for participant self out of its
// private key and the ordered set of all participants' public keys
// (self's own public key must appear at peers[self]).
func NewEd25519Keychain(self NodeIndex, priv ed25519.PrivateKey, peers []ed25519.PublicKey) *Ed25519Keychain {
	return &Ed25519Keychain{self: self, priv: priv, peers: peers}
}

func (k *Ed25519Keychain) Index() NodeIndex     { return k.self }
func (k *Ed25519Keychain) NodeCount() NodeCount { return NodeCount(len(k.peers)) }

func (k *Ed25519Keychain) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

func (k *Ed25519Keychain) Verify(idx NodeIndex, msg, sig []byte) bool {
	if idx < 0 || int(idx) >= len(k.peers) {
		return false
	}
	return ed25519.Verify(k.peers[idx], msg, sig)
}
