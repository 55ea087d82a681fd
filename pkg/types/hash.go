// Package types defines the primitive value types shared by the wallet.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Sizes of the fixed-width byte types.
const (
	HashSize       = 32
	ScalarSize     = 32
	CommitmentSize = 33
	PublicKeySize  = 33
)

// Hash represents a 256-bit hash value.
type Hash [HashSize]byte

// Scalar is a 256-bit value modulo the curve order: a blinding factor,
// transaction offset or partial signature.
type Scalar [ScalarSize]byte

// Commitment is a compressed Pedersen commitment r*G + v*H.
type Commitment [CommitmentSize]byte

// PublicKey is a compressed secp256k1 point.
type PublicKey [PublicKeySize]byte

// HexBytes is a variable-length byte slice encoded as hex in JSON.
type HexBytes []byte

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	return unmarshalFixedHex(data, h[:], "hash")
}

// HexToHash converts a hex string to a Hash.
// Returns an error if the string is not exactly 64 hex characters.
func HexToHash(s string) (Hash, error) {
	var h Hash
	if err := decodeFixedHex(s, h[:], "hash"); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// IsZero returns true if the scalar is all zeros.
func (s Scalar) IsZero() bool { return s == Scalar{} }

// String returns the hex-encoded scalar.
func (s Scalar) String() string { return hex.EncodeToString(s[:]) }

// MarshalJSON encodes the scalar as a hex string.
func (s Scalar) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON decodes a hex string into a scalar.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	return unmarshalFixedHex(data, s[:], "scalar")
}

// IsZero returns true if the commitment is all zeros.
func (c Commitment) IsZero() bool { return c == Commitment{} }

// String returns the hex-encoded commitment.
func (c Commitment) String() string { return hex.EncodeToString(c[:]) }

// MarshalJSON encodes the commitment as a hex string.
func (c Commitment) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

// UnmarshalJSON decodes a hex string into a commitment.
func (c *Commitment) UnmarshalJSON(data []byte) error {
	return unmarshalFixedHex(data, c[:], "commitment")
}

// HexToCommitment parses a 66-character hex commitment.
func HexToCommitment(s string) (Commitment, error) {
	var c Commitment
	if err := decodeFixedHex(s, c[:], "commitment"); err != nil {
		return Commitment{}, err
	}
	return c, nil
}

// IsZero returns true if the key is all zeros.
func (p PublicKey) IsZero() bool { return p == PublicKey{} }

// String returns the hex-encoded key.
func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

// MarshalJSON encodes the key as a hex string.
func (p PublicKey) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON decodes a hex string into a key.
func (p *PublicKey) UnmarshalJSON(data []byte) error {
	return unmarshalFixedHex(data, p[:], "public key")
}

// HexToPublicKey parses a 66-character hex public key.
func HexToPublicKey(s string) (PublicKey, error) {
	var p PublicKey
	if err := decodeFixedHex(s, p[:], "public key"); err != nil {
		return PublicKey{}, err
	}
	return p, nil
}

// String returns the hex encoding.
func (b HexBytes) String() string { return hex.EncodeToString(b) }

// MarshalJSON encodes the bytes as a hex string.
func (b HexBytes) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }

// UnmarshalJSON decodes a hex string.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*b = decoded
	return nil
}

func unmarshalFixedHex(data []byte, dst []byte, what string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		clear(dst)
		return nil
	}
	return decodeFixedHex(s, dst, what)
}

func decodeFixedHex(s string, dst []byte, what string) error {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("%s must be %d bytes, got %d", what, len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}
