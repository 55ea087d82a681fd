package wallet

import (
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

var unitFees = tx.FeeParams{InputWeight: 1, OutputWeight: 1, KernelWeight: 1, Rate: 1}

func testOutputs(values ...uint64) []*walletdb.Output {
	out := make([]*walletdb.Output, len(values))
	for i, v := range values {
		var c types.Commitment
		c[0] = 0x08
		c[31] = byte(i >> 8)
		c[32] = byte(i)
		out[i] = &walletdb.Output{Commit: c, Value: v, Status: walletdb.OutputUnspent, Height: 1}
	}
	return out
}

func values(outs []*walletdb.Output) []uint64 {
	v := make([]uint64, len(outs))
	for i, o := range outs {
		v[i] = o.Value
	}
	return v
}

func TestSelect_SmallestScenario(t *testing.T) {
	cands := Eligible(testOutputs(30, 5, 10), 10, 1)
	sel, err := Select(cands, SelectionParams{Amount: 12, Strategy: StrategySmallest, ChangeOutputs: 1, Fees: unitFees})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	got := values(sel.Inputs)
	if len(got) != 2 || got[0] != 5 || got[1] != 10 {
		t.Fatalf("selected %v, want [5 10]", got)
	}
	if sel.Fee != 1 || sel.Change != 2 {
		t.Errorf("fee=%d change=%d, want fee=1 change=2", sel.Fee, sel.Change)
	}
}

func TestSelect_All(t *testing.T) {
	cands := Eligible(testOutputs(30, 5, 10), 10, 1)
	sel, err := Select(cands, SelectionParams{Amount: 12, Strategy: StrategyAll, Fees: unitFees})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(sel.Inputs) != 3 || sel.Total != 45 {
		t.Errorf("selected %v total %d, want all three", values(sel.Inputs), sel.Total)
	}
}

func TestSelect_Insufficient(t *testing.T) {
	tests := []struct {
		name   string
		values []uint64
		amount uint64
	}{
		{"empty", nil, 1},
		{"short by fee", []uint64{12}, 12},
		{"short", []uint64{1, 2, 3}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Select(Eligible(testOutputs(tt.values...), 10, 1), SelectionParams{Amount: tt.amount, Fees: unitFees})
			if !errors.Is(err, werr.ErrInsufficientFunds) {
				t.Errorf("error = %v, want ErrInsufficientFunds", err)
			}
		})
	}
}

func TestSelect_ZeroAmount(t *testing.T) {
	_, err := Select(testOutputs(5), SelectionParams{Amount: 0, Fees: unitFees})
	if !errors.Is(err, werr.ErrInvalidAmount) {
		t.Errorf("error = %v, want ErrInvalidAmount", err)
	}
}

func TestEligible(t *testing.T) {
	outs := testOutputs(1, 2, 3, 4, 5)
	outs[0].Status = walletdb.OutputLocked
	outs[1].Height = 9 // 2 confirmations at tip 10
	outs[2].LockHeight = 11
	outs[3].Height = 0 // never seen on chain

	got := values(Eligible(outs, 10, 3))
	if len(got) != 1 || got[0] != 5 {
		t.Errorf("Eligible() = %v, want [5]", got)
	}
}

func TestEligible_TieBreak(t *testing.T) {
	outs := testOutputs(7, 7, 7)
	outs[0].Commit[32], outs[2].Commit[32] = 9, 0
	got := Eligible(outs, 10, 1)
	for i := 1; i < len(got); i++ {
		if got[i-1].Commit.String() > got[i].Commit.String() {
			t.Fatalf("equal values not ordered by commitment")
		}
	}
}

func TestSelect_SmallestMinimal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		vals := rapid.SliceOfN(rapid.Uint64Range(1, 100), 0, 10).Draw(rt, "values")
		amount := rapid.Uint64Range(1, 400).Draw(rt, "amount")
		change := rapid.IntRange(1, 3).Draw(rt, "change")
		fees := tx.FeeParams{
			InputWeight:  rapid.Uint64Range(0, 2).Draw(rt, "iw"),
			OutputWeight: rapid.Uint64Range(0, 4).Draw(rt, "ow"),
			KernelWeight: 1,
			Rate:         rapid.Uint64Range(1, 3).Draw(rt, "rate"),
		}
		p := SelectionParams{Amount: amount, Strategy: StrategySmallest, ChangeOutputs: change, Fees: fees}

		cands := Eligible(testOutputs(vals...), 10, 1)
		sel, err := Select(cands, p)
		if err != nil {
			if !errors.Is(err, werr.ErrInsufficientFunds) {
				rt.Fatalf("unexpected error: %v", err)
			}
			var total uint64
			for _, v := range vals {
				total += v
			}
			if len(vals) > 0 && total >= amount+p.fee(len(vals)) {
				rt.Fatalf("reported insufficient but all outputs (%d) cover %d+%d", total, amount, p.fee(len(vals)))
			}
			return
		}

		if sel.Total < amount+p.fee(len(sel.Inputs)) {
			rt.Fatalf("total %d below amount %d + fee %d", sel.Total, amount, p.fee(len(sel.Inputs)))
		}
		n := len(sel.Inputs)
		for mask := 0; mask < (1<<n)-1; mask++ {
			var sum uint64
			count := 0
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					sum += sel.Inputs[i].Value
					count++
				}
			}
			if count > 0 && sum >= amount+p.fee(count) {
				rt.Fatalf("proper subset %b of %v also covers %d", mask, values(sel.Inputs), amount)
			}
		}
	})
}

func TestSplitChange(t *testing.T) {
	parts := splitChange(10, 3)
	if len(parts) != 3 || parts[0] != 4 || parts[1] != 3 || parts[2] != 3 {
		t.Errorf("splitChange(10, 3) = %v", parts)
	}
	if parts := splitChange(5, 0); len(parts) != 1 || parts[0] != 5 {
		t.Errorf("splitChange(5, 0) = %v", parts)
	}
	if parts := splitChange(0, 2); len(parts) != 0 {
		t.Errorf("splitChange(0, 2) = %v, want none", parts)
	}
	if parts := splitChange(2, 3); len(parts) != 2 || parts[0] != 1 || parts[1] != 1 {
		t.Errorf("splitChange(2, 3) = %v", parts)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategySmallest {
		t.Errorf(`ParseStrategy("") = %q, %v`, s, err)
	}
	if _, err := ParseStrategy("largest"); err == nil {
		t.Error("ParseStrategy(largest) succeeded")
	}
}
