// Package crypto provides the curve and hashing primitives used by the wallet:
// BLAKE3 hashing, Schnorr signatures, Pedersen commitments, two-party
// aggregate signatures for transaction kernels and ECDH.
package crypto

import (
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashAll hashes the concatenation of parts without allocating the joined buffer.
func HashAll(parts ...[]byte) types.Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}
