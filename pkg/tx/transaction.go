// Package tx defines the confidential transaction body built by two wallets
// and its validation: kernel signature, commitment balance and fee.
package tx

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"slices"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// KernelFeatures selects the kernel variant.
type KernelFeatures uint8

const (
	// PlainKernel has no extra constraints.
	PlainKernel KernelFeatures = 0
	// HeightLockedKernel may only be included at or after LockHeight.
	HeightLockedKernel KernelFeatures = 2
)

// Kernel is the signed object proving the transaction balances.
type Kernel struct {
	Features   KernelFeatures  `json:"features"`
	Fee        uint64          `json:"fee"`
	LockHeight uint64          `json:"lock_height"`
	Excess     types.PublicKey `json:"excess"`
	ExcessSig  types.HexBytes  `json:"excess_sig,omitempty"`
}

// NewKernel builds a draft kernel for the given fee and lock height.
func NewKernel(fee, lockHeight uint64) Kernel {
	k := Kernel{Fee: fee, LockHeight: lockHeight}
	if lockHeight > 0 {
		k.Features = HeightLockedKernel
	}
	return k
}

// Message returns the digest both participants sign:
// H(features || fee || lock_height), integers big-endian.
func (k Kernel) Message() types.Hash {
	var buf [17]byte
	buf[0] = byte(k.Features)
	binary.BigEndian.PutUint64(buf[1:9], k.Fee)
	binary.BigEndian.PutUint64(buf[9:17], k.LockHeight)
	return crypto.Hash(buf[:])
}

// IsSigned reports whether the kernel carries a final signature.
func (k Kernel) IsSigned() bool {
	return len(k.ExcessSig) == crypto.KernelSigSize && !k.Excess.IsZero()
}

// Input spends a previously created output.
type Input struct {
	Commit types.Commitment `json:"commit"`
}

// Output creates a new commitment.
type Output struct {
	Commit types.Commitment `json:"commit"`
}

// Body holds the inputs, outputs and kernels of a transaction.
type Body struct {
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Kernels []Kernel `json:"kernels"`
}

// Transaction is a complete or partial confidential transaction.
type Transaction struct {
	Offset types.Scalar `json:"offset"`
	Body   Body         `json:"body"`
}

// New returns an empty transaction with a single draft kernel.
func New(fee, lockHeight uint64) *Transaction {
	return &Transaction{Body: Body{Kernels: []Kernel{NewKernel(fee, lockHeight)}}}
}

// Kernel returns the first kernel. Two-party transactions have exactly one.
func (tx *Transaction) Kernel() *Kernel {
	if len(tx.Body.Kernels) == 0 {
		tx.Body.Kernels = append(tx.Body.Kernels, Kernel{})
	}
	return &tx.Body.Kernels[0]
}

// Fee returns the sum of kernel fees.
func (tx *Transaction) Fee() uint64 {
	var fee uint64
	for _, k := range tx.Body.Kernels {
		fee += k.Fee
	}
	return fee
}

// AddInput appends an input.
func (tx *Transaction) AddInput(c types.Commitment) {
	tx.Body.Inputs = append(tx.Body.Inputs, Input{Commit: c})
}

// AddOutput appends an output.
func (tx *Transaction) AddOutput(c types.Commitment) {
	tx.Body.Outputs = append(tx.Body.Outputs, Output{Commit: c})
}

// InputCommits returns the input commitments.
func (tx *Transaction) InputCommits() []types.Commitment {
	out := make([]types.Commitment, len(tx.Body.Inputs))
	for i, in := range tx.Body.Inputs {
		out[i] = in.Commit
	}
	return out
}

// OutputCommits returns the output commitments.
func (tx *Transaction) OutputCommits() []types.Commitment {
	out := make([]types.Commitment, len(tx.Body.Outputs))
	for i, o := range tx.Body.Outputs {
		out[i] = o.Commit
	}
	return out
}

// Sort orders inputs and outputs by commitment so the serialized form does
// not reveal which participant contributed what.
func (tx *Transaction) Sort() {
	slices.SortFunc(tx.Body.Inputs, func(a, b Input) int { return bytes.Compare(a.Commit[:], b.Commit[:]) })
	slices.SortFunc(tx.Body.Outputs, func(a, b Output) int { return bytes.Compare(a.Commit[:], b.Commit[:]) })
}

// Hash returns the BLAKE3 hash of the canonical JSON encoding.
func (tx *Transaction) Hash() types.Hash {
	data, _ := json.Marshal(tx)
	return crypto.Hash(data)
}

// Clone returns a deep copy.
func (tx *Transaction) Clone() *Transaction {
	c := &Transaction{Offset: tx.Offset}
	c.Body.Inputs = slices.Clone(tx.Body.Inputs)
	c.Body.Outputs = slices.Clone(tx.Body.Outputs)
	c.Body.Kernels = make([]Kernel, len(tx.Body.Kernels))
	for i, k := range tx.Body.Kernels {
		k.ExcessSig = slices.Clone(k.ExcessSig)
		c.Body.Kernels[i] = k
	}
	return c
}
