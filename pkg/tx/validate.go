package tx

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// Validation errors.
var (
	ErrNoOutputs       = errors.New("transaction has no outputs")
	ErrNoKernels       = errors.New("transaction has no kernels")
	ErrDuplicateInput  = errors.New("duplicate input")
	ErrDuplicateOutput = errors.New("duplicate output")
	ErrCutThrough      = errors.New("output spent in the same transaction")
	ErrFeeTooLow       = errors.New("fee below minimum")
	ErrUnsigned        = errors.New("kernel not signed")
)

// ValidateStructure checks everything that does not involve curve math.
func (tx *Transaction) ValidateStructure(params FeeParams) error {
	if len(tx.Body.Kernels) == 0 {
		return fmt.Errorf("%w: %w", werr.ErrInvalidSlate, ErrNoKernels)
	}
	if len(tx.Body.Outputs) == 0 {
		return fmt.Errorf("%w: %w", werr.ErrInvalidSlate, ErrNoOutputs)
	}

	seen := make(map[types.Commitment]struct{}, len(tx.Body.Inputs))
	for i, in := range tx.Body.Inputs {
		if _, dup := seen[in.Commit]; dup {
			return fmt.Errorf("%w: input %d: %w", werr.ErrInvalidSlate, i, ErrDuplicateInput)
		}
		seen[in.Commit] = struct{}{}
	}
	outs := make(map[types.Commitment]struct{}, len(tx.Body.Outputs))
	for i, out := range tx.Body.Outputs {
		if _, spent := seen[out.Commit]; spent {
			return fmt.Errorf("%w: output %d: %w", werr.ErrInvalidSlate, i, ErrCutThrough)
		}
		if _, dup := outs[out.Commit]; dup {
			return fmt.Errorf("%w: output %d: %w", werr.ErrInvalidSlate, i, ErrDuplicateOutput)
		}
		outs[out.Commit] = struct{}{}
	}

	if fee, required := tx.Fee(), params.RequiredFee(tx); fee < required {
		return fmt.Errorf("%w: %w: %d < %d", werr.ErrInvalidSlate, ErrFeeTooLow, fee, required)
	}
	return nil
}

// Validate checks structure, every kernel signature and the commitment
// balance of a finalized transaction.
func (tx *Transaction) Validate(params FeeParams) error {
	if err := tx.ValidateStructure(params); err != nil {
		return err
	}
	excesses := make([]types.PublicKey, 0, len(tx.Body.Kernels))
	for i, k := range tx.Body.Kernels {
		if !k.IsSigned() {
			return fmt.Errorf("%w: kernel %d: %w", werr.ErrSignatureAggregationFailed, i, ErrUnsigned)
		}
		if !crypto.VerifyKernelSignature(k.ExcessSig, k.Excess, k.Message()) {
			return fmt.Errorf("%w: kernel %d", werr.ErrSignatureAggregationFailed, i)
		}
		excesses = append(excesses, k.Excess)
	}
	total, err := crypto.SumPublicKeys(excesses...)
	if err != nil {
		return fmt.Errorf("%w: %v", werr.ErrCommitmentImbalance, err)
	}
	return VerifyBalance(tx.InputCommits(), tx.OutputCommits(), tx.Fee(), tx.Offset, total)
}

// VerifyBalance checks sum(outputs) - sum(inputs) + fee*H - offset*G == excess.
func VerifyBalance(inputs, outputs []types.Commitment, fee uint64, offset types.Scalar, excess crypto.Point) error {
	sum, err := crypto.SumCommitments(outputs, inputs)
	if err != nil {
		return fmt.Errorf("%w: %v", werr.ErrCommitmentImbalance, err)
	}
	sum = sum.Add(crypto.ValueMul(fee))
	if !offset.IsZero() {
		sum = sum.Sub(crypto.BaseMul(offset))
	}
	if !sum.Equal(excess) {
		return werr.ErrCommitmentImbalance
	}
	return nil
}
