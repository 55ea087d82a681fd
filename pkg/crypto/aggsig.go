package crypto

import (
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// KernelSigSize is the size of an aggregated kernel signature: the
// compressed nonce sum R followed by the scalar s.
const KernelSigSize = 33 + 32

// challenge computes e = H(R || P || msg) mod n. Compressed points carry
// their parity, so no even-y normalisation is needed.
func challenge(nonceSum, excessSum Point, msg types.Hash) (secp256k1.ModNScalar, error) {
	r, err := nonceSum.Bytes()
	if err != nil {
		return secp256k1.ModNScalar{}, fmt.Errorf("nonce sum: %w", err)
	}
	p, err := excessSum.Bytes()
	if err != nil {
		return secp256k1.ModNScalar{}, fmt.Errorf("excess sum: %w", err)
	}
	h := HashAll(r[:], p[:], msg[:])
	var e secp256k1.ModNScalar
	e.SetByteSlice(h[:])
	return e, nil
}

// PartialSign computes s_i = k_i + e*x_i for one participant.
func PartialSign(excess, nonce BlindingFactor, nonceSum, excessSum Point, msg types.Hash) (types.Scalar, error) {
	e, err := challenge(nonceSum, excessSum, msg)
	if err != nil {
		return types.Scalar{}, err
	}
	x := scalarFromBytes(excess)
	k := scalarFromBytes(nonce)
	s := new(secp256k1.ModNScalar).Mul2(&e, &x).Add(&k)
	return types.Scalar(s.Bytes()), nil
}

// VerifyPartial checks s_i*G == R_i + e*P_i.
func VerifyPartial(sig types.Scalar, pubNonce, pubExcess types.PublicKey, nonceSum, excessSum Point, msg types.Hash) bool {
	r, err := ParsePublicKey(pubNonce)
	if err != nil {
		return false
	}
	p, err := ParsePublicKey(pubExcess)
	if err != nil {
		return false
	}
	e, err := challenge(nonceSum, excessSum, msg)
	if err != nil {
		return false
	}
	return BaseMul(sig).Equal(r.Add(p.Mul(&e)))
}

// AggregateSignatures sums partial signatures into a kernel signature R||s.
func AggregateSignatures(partials []types.Scalar, nonceSum Point) (types.HexBytes, error) {
	r, err := nonceSum.Bytes()
	if err != nil {
		return nil, fmt.Errorf("nonce sum: %w", err)
	}
	var s secp256k1.ModNScalar
	for _, p := range partials {
		k := scalarFromBytes(p)
		s.Add(&k)
	}
	sb := s.Bytes()
	out := make([]byte, 0, KernelSigSize)
	out = append(out, r[:]...)
	out = append(out, sb[:]...)
	return out, nil
}

// VerifyKernelSignature checks s*G == R + e*P for an aggregated signature
// against the kernel excess P.
func VerifyKernelSignature(sig []byte, excess types.PublicKey, msg types.Hash) bool {
	if len(sig) != KernelSigSize {
		return false
	}
	r, err := ParsePoint(sig[:33])
	if err != nil {
		return false
	}
	p, err := ParsePublicKey(excess)
	if err != nil {
		return false
	}
	var sb [32]byte
	copy(sb[:], sig[33:])
	var s secp256k1.ModNScalar
	if overflow := s.SetBytes(&sb); overflow != 0 {
		return false
	}
	e, err := challenge(r, p, msg)
	if err != nil {
		return false
	}
	return BaseMul(types.Scalar(sb)).Equal(r.Add(p.Mul(&e)))
}
