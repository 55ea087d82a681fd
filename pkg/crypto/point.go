package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// BlindingFactor is a secret scalar mod the curve order.
type BlindingFactor = types.Scalar

// Point is a secp256k1 point kept in affine form. The zero value is the
// point at infinity.
type Point struct {
	j secp256k1.JacobianPoint
}

// generatorH is the second Pedersen generator. Nobody knows its discrete
// log relative to G: it is found by hashing to an x coordinate.
var generatorH = deriveGeneratorH()

func deriveGeneratorH() Point {
	var ctr [4]byte
	for i := uint32(0); ; i++ {
		binary.BigEndian.PutUint32(ctr[:], i)
		h := HashAll([]byte("slatewallet/pedersen/H"), ctr[:])

		var x, y secp256k1.FieldVal
		if overflow := x.SetByteSlice(h[:]); overflow {
			continue
		}
		if !secp256k1.DecompressY(&x, false, &y) {
			continue
		}
		y.Normalize()
		var one secp256k1.FieldVal
		one.SetInt(1)
		return Point{j: secp256k1.MakeJacobianPoint(&x, &y, &one)}
	}
}

// GeneratorH returns the value generator.
func GeneratorH() Point { return generatorH }

// ParsePoint decodes a 33-byte compressed point.
func ParsePoint(b []byte) (Point, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return Point{}, fmt.Errorf("parse point: %w", err)
	}
	var p Point
	pub.AsJacobian(&p.j)
	return p, nil
}

// ParsePublicKey decodes a fixed-size public key.
func ParsePublicKey(k types.PublicKey) (Point, error) { return ParsePoint(k[:]) }

// ParseCommitment decodes a commitment.
func ParseCommitment(c types.Commitment) (Point, error) { return ParsePoint(c[:]) }

// BaseMul returns s*G.
func BaseMul(s types.Scalar) Point {
	k := scalarFromBytes(s)
	var p Point
	secp256k1.ScalarBaseMultNonConst(&k, &p.j)
	p.j.ToAffine()
	return p
}

// ValueMul returns v*H.
func ValueMul(v uint64) Point {
	k := scalarFromUint64(v)
	var p Point
	secp256k1.ScalarMultNonConst(&k, &generatorH.j, &p.j)
	p.j.ToAffine()
	return p
}

// Mul returns s*p.
func (p Point) Mul(s *secp256k1.ModNScalar) Point {
	var out Point
	secp256k1.ScalarMultNonConst(s, &p.j, &out.j)
	out.j.ToAffine()
	return out
}

// Add returns p+q.
func (p Point) Add(q Point) Point {
	if p.IsInfinity() {
		return q
	}
	if q.IsInfinity() {
		return p
	}
	var out Point
	secp256k1.AddNonConst(&p.j, &q.j, &out.j)
	out.j.ToAffine()
	return out
}

// Neg returns -p.
func (p Point) Neg() Point {
	if p.IsInfinity() {
		return p
	}
	out := p
	out.j.Y.Negate(1)
	out.j.Y.Normalize()
	return out
}

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return p.Add(q.Neg()) }

// IsInfinity reports whether p is the identity.
func (p Point) IsInfinity() bool {
	return (p.j.X.IsZero() && p.j.Y.IsZero()) || p.j.Z.IsZero()
}

// Equal reports whether p and q are the same point.
func (p Point) Equal(q Point) bool {
	if p.IsInfinity() || q.IsInfinity() {
		return p.IsInfinity() && q.IsInfinity()
	}
	return p.j.X.Equals(&q.j.X) && p.j.Y.Equals(&q.j.Y)
}

// Bytes returns the 33-byte compressed encoding. The identity has none.
func (p Point) Bytes() ([33]byte, error) {
	var out [33]byte
	if p.IsInfinity() {
		return out, fmt.Errorf("point at infinity has no encoding")
	}
	x, y := p.j.X, p.j.Y
	copy(out[:], secp256k1.NewPublicKey(&x, &y).SerializeCompressed())
	return out, nil
}

// PublicKey returns p as a public key.
func (p Point) PublicKey() (types.PublicKey, error) {
	b, err := p.Bytes()
	return types.PublicKey(b), err
}

// Commitment returns p as a commitment.
func (p Point) Commitment() (types.Commitment, error) {
	b, err := p.Bytes()
	return types.Commitment(b), err
}

func scalarFromBytes(s types.Scalar) secp256k1.ModNScalar {
	var k secp256k1.ModNScalar
	b := [32]byte(s)
	k.SetBytes(&b)
	return k
}

func scalarFromUint64(v uint64) secp256k1.ModNScalar {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], v)
	var k secp256k1.ModNScalar
	k.SetBytes(&b)
	return k
}
