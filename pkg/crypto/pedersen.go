package crypto

import (
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// RandomScalar returns a uniformly random non-zero scalar.
func RandomScalar() (types.Scalar, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return types.Scalar{}, fmt.Errorf("random scalar: %w", err)
	}
	return types.Scalar(key.Key.Bytes()), nil
}

// Commit returns the Pedersen commitment blind*G + value*H.
func Commit(value uint64, blind BlindingFactor) (types.Commitment, error) {
	p := BaseMul(blind).Add(ValueMul(value))
	c, err := p.Commitment()
	if err != nil {
		return types.Commitment{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// BlindSum returns sum(positive) - sum(negative) mod n.
func BlindSum(positive, negative []BlindingFactor) BlindingFactor {
	var acc secp256k1.ModNScalar
	for _, b := range positive {
		k := scalarFromBytes(b)
		acc.Add(&k)
	}
	for _, b := range negative {
		k := scalarFromBytes(b)
		k.Negate()
		acc.Add(&k)
	}
	return types.Scalar(acc.Bytes())
}

// PublicBlind returns blind*G as a public key. A zero blind has no public key.
func PublicBlind(blind BlindingFactor) (types.PublicKey, error) {
	return BaseMul(blind).PublicKey()
}

// SumCommitments returns sum(positive) - sum(negative) as a point.
func SumCommitments(positive, negative []types.Commitment) (Point, error) {
	var acc Point
	for _, c := range positive {
		p, err := ParseCommitment(c)
		if err != nil {
			return Point{}, fmt.Errorf("commitment %s: %w", c, err)
		}
		acc = acc.Add(p)
	}
	for _, c := range negative {
		p, err := ParseCommitment(c)
		if err != nil {
			return Point{}, fmt.Errorf("commitment %s: %w", c, err)
		}
		acc = acc.Sub(p)
	}
	return acc, nil
}

// SumPublicKeys adds public keys together.
func SumPublicKeys(keys ...types.PublicKey) (Point, error) {
	var acc Point
	for _, k := range keys {
		p, err := ParsePublicKey(k)
		if err != nil {
			return Point{}, fmt.Errorf("public key %s: %w", k, err)
		}
		acc = acc.Add(p)
	}
	return acc, nil
}
