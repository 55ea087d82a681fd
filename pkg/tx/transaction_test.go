package tx

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

var testParams = FeeParams{InputWeight: 1, OutputWeight: 1, KernelWeight: 1, Rate: 1}

func rnd(t *testing.T) types.Scalar {
	t.Helper()
	s, err := crypto.RandomScalar()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func commit(t *testing.T, v uint64, r types.Scalar) types.Commitment {
	t.Helper()
	c, err := crypto.Commit(v, r)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func pub(t *testing.T, s types.Scalar) types.PublicKey {
	t.Helper()
	p, err := crypto.PublicBlind(s)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// buildSigned spends a 30 output into 11 (receiver) + 17 (change) with fee 2.
func buildSigned(t *testing.T) *Transaction {
	t.Helper()
	in, change, recv, offset := rnd(t), rnd(t), rnd(t), rnd(t)
	k0, k1 := rnd(t), rnd(t)

	transaction := New(2, 0)
	transaction.Offset = offset
	transaction.AddInput(commit(t, 30, in))
	transaction.AddOutput(commit(t, 17, change))
	transaction.AddOutput(commit(t, 11, recv))

	x0 := crypto.BlindSum([]crypto.BlindingFactor{change}, []crypto.BlindingFactor{in, offset})
	x1 := recv

	nonceSum, _ := crypto.SumPublicKeys(pub(t, k0), pub(t, k1))
	excessSum, _ := crypto.SumPublicKeys(pub(t, x0), pub(t, x1))
	msg := transaction.Kernel().Message()

	s0, err := crypto.PartialSign(x0, k0, nonceSum, excessSum, msg)
	if err != nil {
		t.Fatal(err)
	}
	s1, err := crypto.PartialSign(x1, k1, nonceSum, excessSum, msg)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.AggregateSignatures([]types.Scalar{s0, s1}, nonceSum)
	if err != nil {
		t.Fatal(err)
	}
	k := transaction.Kernel()
	k.Excess, _ = excessSum.PublicKey()
	k.ExcessSig = sig
	transaction.Sort()
	return transaction
}

func TestValidate_Balanced(t *testing.T) {
	transaction := buildSigned(t)
	if err := transaction.Validate(testParams); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestValidate_WrongFeeImbalance(t *testing.T) {
	transaction := buildSigned(t)
	// Changing the fee changes the kernel message too, so the signature fails first.
	transaction.Kernel().Fee = 3
	err := transaction.Validate(testParams)
	if !errors.Is(err, werr.ErrSignatureAggregationFailed) {
		t.Fatalf("Validate() error = %v, want ErrSignatureAggregationFailed", err)
	}
}

func TestValidate_ExtraOutputImbalance(t *testing.T) {
	transaction := buildSigned(t)
	transaction.AddOutput(commit(t, 1, rnd(t)))
	err := transaction.Validate(FeeParams{Rate: 0})
	if !errors.Is(err, werr.ErrCommitmentImbalance) {
		t.Fatalf("Validate() error = %v, want ErrCommitmentImbalance", err)
	}
	if werr.KindOf(err) != werr.KindCrypto {
		t.Errorf("KindOf() = %v, want CryptoError", werr.KindOf(err))
	}
}

func TestValidateStructure(t *testing.T) {
	c := commit(t, 5, rnd(t))
	tests := []struct {
		name  string
		build func() *Transaction
		want  error
	}{
		{"no outputs", func() *Transaction { return New(10, 0) }, ErrNoOutputs},
		{"duplicate input", func() *Transaction {
			x := New(10, 0)
			x.AddInput(c)
			x.AddInput(c)
			x.AddOutput(commit(t, 1, rnd(t)))
			return x
		}, ErrDuplicateInput},
		{"cut-through", func() *Transaction {
			x := New(10, 0)
			x.AddInput(c)
			x.AddOutput(c)
			return x
		}, ErrCutThrough},
		{"fee too low", func() *Transaction {
			x := New(0, 0)
			x.AddOutput(c)
			return x
		}, ErrFeeTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().ValidateStructure(testParams)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateStructure() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, werr.ErrInvalidSlate) {
				t.Error("structural errors should be validation errors")
			}
		})
	}
}

func TestKernel_MessageBindsFields(t *testing.T) {
	a := NewKernel(10, 0).Message()
	if a == NewKernel(11, 0).Message() {
		t.Error("message must bind the fee")
	}
	if a == NewKernel(10, 5).Message() {
		t.Error("message must bind the lock height")
	}
}

func TestClone_Independent(t *testing.T) {
	orig := buildSigned(t)
	c := orig.Clone()
	c.Kernel().ExcessSig[0] ^= 1
	c.Body.Outputs[0].Commit[1] ^= 1
	if orig.Kernel().ExcessSig[0] == c.Kernel().ExcessSig[0] {
		t.Error("Clone shares the kernel signature")
	}
	if orig.Body.Outputs[0].Commit == c.Body.Outputs[0].Commit {
		t.Error("Clone shares outputs")
	}
}
