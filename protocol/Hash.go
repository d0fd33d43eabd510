/*
File Name:  Hash.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers
*/

package protocol

import (
	"crypto/sha256"

	"lukechampine.com/blake3"
)

// HashData abstracts the internal hash function. Used for dedup keys and fragment salts.
func HashData(data []byte) (hash []byte) {
	hash32 := blake3.Sum256(data)
	return hash32[:]
}

// HashSize is blake3 hash digest size = 256 bits
const HashSize = 32

// HashDataShort returns the first 16 bytes of the internal hash. Good enough for in-memory keys.
func HashDataShort(data []byte) (hash [16]byte) {
	hash32 := blake3.Sum256(data)
	copy(hash[:], hash32[:16])
	return hash
}

// HashPublic is the public hash function for digests that remote peers must
// reproduce. It is SHA-256, fixed by the wire format. The GCS filter and the
// identity fingerprint compute the same SHA-256 directly, not through this function.
func HashPublic(data []byte) (hash []byte) {
	hash32 := sha256.Sum256(data)
	return hash32[:]
}
