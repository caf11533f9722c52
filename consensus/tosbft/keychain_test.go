package tosbft

import (
	"crypto/ed25519"
	"testing"
)

// testKeychain builds an Ed25519Keychain for node `self` among n
// deterministically-derived participants, for use across this
// package's tests.
func testKeychain(t *testing.T, n int, self NodeIndex) *Ed25519Keychain {
	t.Helper()
	_, peers, privs := testKeyset(t, n)
	return NewEd25519Keychain(self, privs[self], peers)
}

// testKeyset derives n deterministic ed25519 keypairs from fixed seeds
// so tests are reproducible without relying on crypto/rand.
func testKeyset(t *testing.T, n int) (seeds [][]byte, pubs []ed25519.PublicKey, privs []ed25519.PrivateKey) {
	t.Helper()
	for i := 0; i < n; i++ {
		seed := make([]byte, ed25519.SeedSize)
		seed[0] = byte(i + 1)
		priv := ed25519.NewKeyFromSeed(seed)
		privs = append(privs, priv)
		pubs = append(pubs, priv.Public().(ed25519.PublicKey))
		seeds = append(seeds, seed)
	}
	return
}

// testKeychains builds one Keychain per participant sharing the same
// peer set.
func testKeychains(t *testing.T, n int) []*Ed25519Keychain {
	t.Helper()
	_, peers, privs := testKeyset(t, n)
	out := make([]*Ed25519Keychain, n)
	for i := 0; i < n; i++ {
		out[i] = NewEd25519Keychain(NodeIndex(i), privs[i], peers)
	}
	return out
}
