package crypto

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// ErrZeroKey is returned for a secret that is zero modulo the curve order.
var ErrZeroKey = errors.New("private key is zero mod n")

// PrivateKey is a secp256k1 secret. Wallet addresses, relay logins,
// payment proofs and participant messages all sign with one.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey returns a fresh random key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes loads a 32-byte big-endian scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	if key.Key.IsZero() {
		return nil, ErrZeroKey
	}
	return &PrivateKey{key: key}, nil
}

// Sign produces a 64-byte Schnorr signature over digest.
func (pk *PrivateKey) Sign(digest types.Hash) ([]byte, error) {
	sig, err := schnorr.Sign(pk.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// SignMessage signs the BLAKE3 digest of msg.
func (pk *PrivateKey) SignMessage(msg []byte) ([]byte, error) {
	return pk.Sign(Hash(msg))
}

// PubKey returns the compressed public key.
func (pk *PrivateKey) PubKey() types.PublicKey {
	var out types.PublicKey
	copy(out[:], pk.key.PubKey().SerializeCompressed())
	return out
}

// Serialize returns the 32-byte scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Secret returns the scalar as a blinding factor.
func (pk *PrivateKey) Secret() BlindingFactor {
	return BlindingFactor(pk.key.Key.Bytes())
}

// Zero wipes the scalar.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// Verify reports whether sig is pub's Schnorr signature over digest.
// Malformed keys or signatures verify as false.
func Verify(digest types.Hash, sig []byte, pub types.PublicKey) bool {
	key, err := secp256k1.ParsePubKey(pub[:])
	if err != nil {
		return false
	}
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(digest[:], key)
}

// VerifyMessage checks a signature produced by SignMessage.
func VerifyMessage(msg, sig []byte, pub types.PublicKey) bool {
	return Verify(Hash(msg), sig, pub)
}
