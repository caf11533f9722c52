package tosbft

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashLength is the size in bytes of a content-address digest.
const HashLength = 32

// Hash is a fixed-size content-address digest, the opaque "hash"
// capability referenced throughout section 9.
type Hash [HashLength]byte

// String renders the hash as a 0x-prefixed hex string.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (never a legitimate digest
// of any real payload, used as a sentinel for "absent").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashBytes computes the content hash of an arbitrary byte payload,
// matching the blake3.Sum256-then-digest pattern used for signed
// traffic elsewhere in this codebase.
func HashBytes(b []byte) Hash {
	return Hash(blake3.Sum256(b))
}
