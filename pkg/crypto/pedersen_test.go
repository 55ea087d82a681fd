package crypto

import (
	"testing"

	"github.com/Klingon-tech/slatewallet/pkg/types"
)

func mustScalar(t *testing.T) types.Scalar {
	t.Helper()
	s, err := RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar() error: %v", err)
	}
	return s
}

func TestGeneratorH_OnCurveAndDistinct(t *testing.T) {
	h := GeneratorH()
	b, err := h.Bytes()
	if err != nil {
		t.Fatalf("H.Bytes() error: %v", err)
	}
	if _, err := ParsePoint(b[:]); err != nil {
		t.Fatalf("H does not parse: %v", err)
	}
	var one types.Scalar
	one[31] = 1
	if h.Equal(BaseMul(one)) {
		t.Error("H must differ from G")
	}
}

func TestCommit_Homomorphic(t *testing.T) {
	r1, r2 := mustScalar(t), mustScalar(t)
	c1, err := Commit(30, r1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := Commit(12, r2)
	if err != nil {
		t.Fatal(err)
	}

	// C1 - C2 == (r1-r2)*G + 18*H
	diff, err := SumCommitments([]types.Commitment{c1}, []types.Commitment{c2})
	if err != nil {
		t.Fatal(err)
	}
	want, err := Commit(18, BlindSum([]BlindingFactor{r1}, []BlindingFactor{r2}))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := diff.Commitment()
	if got != want {
		t.Errorf("commitment difference mismatch: %s != %s", got, want)
	}
}

func TestBlindSum_Cancels(t *testing.T) {
	r := mustScalar(t)
	if !BlindSum([]BlindingFactor{r}, []BlindingFactor{r}).IsZero() {
		t.Error("r - r should be zero")
	}
	if _, err := PublicBlind(types.Scalar{}); err == nil {
		t.Error("zero blind should have no public key")
	}
}

func TestPoint_NegAddIsInfinity(t *testing.T) {
	p := BaseMul(mustScalar(t))
	if !p.Add(p.Neg()).IsInfinity() {
		t.Error("p + (-p) should be infinity")
	}
	var inf Point
	if !inf.Add(p).Equal(p) {
		t.Error("infinity should be the identity")
	}
}
