package wallet

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// Strategy names an input selection strategy.
type Strategy string

const (
	// StrategySmallest spends the fewest, smallest outputs that cover the
	// amount plus fee.
	StrategySmallest Strategy = "smallest"
	// StrategyAll spends every eligible output, consolidating the wallet.
	StrategyAll Strategy = "all"
)

// ParseStrategy validates a strategy name. The empty string means smallest.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategySmallest:
		return StrategySmallest, nil
	case StrategyAll:
		return StrategyAll, nil
	default:
		return "", werr.Wrap(werr.ErrInvalidAmount, "unknown selection strategy %q", s)
	}
}

// Selection is the result of choosing inputs for a send.
type Selection struct {
	Inputs []*walletdb.Output
	Total  uint64
	Fee    uint64
	Change uint64
}

// SelectionParams describes the outputs a send will create.
type SelectionParams struct {
	Amount           uint64
	Strategy         Strategy
	MinConfirmations uint64
	// ChangeOutputs is the number of change outputs the sender creates.
	// The recipient always adds one more.
	ChangeOutputs int
	Fees          tx.FeeParams
}

func (p SelectionParams) fee(numInputs int) uint64 {
	return p.Fees.Fee(numInputs, 1+p.ChangeOutputs, 1)
}

// Eligible filters outputs spendable at the given tip and orders them by
// value, breaking ties by commitment bytes so the order is total.
func Eligible(outputs []*walletdb.Output, tip, minConfirmations uint64) []*walletdb.Output {
	var out []*walletdb.Output
	for _, o := range outputs {
		if o.IsEligible(tip, minConfirmations) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b *walletdb.Output) int {
		switch {
		case a.Value < b.Value:
			return -1
		case a.Value > b.Value:
			return 1
		}
		return bytes.Compare(a.Commit[:], b.Commit[:])
	})
	return out
}

// Select chooses inputs from already eligible, sorted outputs.
//
// The smallest strategy adds outputs in ascending order, recomputing the
// fee for the current input count after every addition, until the total
// covers amount+fee. It then drops the smallest selected output while the
// rest still cover amount+fee. Fees never fall when inputs are removed, so
// when dropping the smallest output fails no proper subset can succeed.
func Select(candidates []*walletdb.Output, p SelectionParams) (*Selection, error) {
	if p.Amount == 0 {
		return nil, werr.Wrap(werr.ErrInvalidAmount, "amount must be positive")
	}
	if p.ChangeOutputs < 1 {
		p.ChangeOutputs = 1
	}

	var (
		selected []*walletdb.Output
		total    uint64
	)
	covered := func(n int, sum uint64) bool {
		need := p.Amount + p.fee(n)
		return need >= p.Amount && sum >= need
	}

	switch p.Strategy {
	case StrategyAll:
		selected = candidates
		for _, o := range selected {
			total += o.Value
		}
		if len(selected) == 0 || !covered(len(selected), total) {
			return nil, insufficient(p, total, len(selected))
		}

	case StrategySmallest, "":
		for _, o := range candidates {
			selected = append(selected, o)
			total += o.Value
			if covered(len(selected), total) {
				break
			}
		}
		if len(selected) == 0 || !covered(len(selected), total) {
			return nil, insufficient(p, total, len(selected))
		}
		for len(selected) > 1 && covered(len(selected)-1, total-selected[0].Value) {
			total -= selected[0].Value
			selected = selected[1:]
		}

	default:
		return nil, werr.Wrap(werr.ErrInvalidAmount, "unknown selection strategy %q", p.Strategy)
	}

	fee := p.fee(len(selected))
	return &Selection{
		Inputs: slices.Clone(selected),
		Total:  total,
		Fee:    fee,
		Change: total - p.Amount - fee,
	}, nil
}

func insufficient(p SelectionParams, total uint64, n int) error {
	return werr.Wrap(werr.ErrInsufficientFunds, "need %d + fee %d, eligible total %d",
		p.Amount, p.fee(max(n, 1)), total)
}

// splitChange divides change across up to n outputs, the remainder going
// to the first one. No output is ever worth zero, so zero change yields no
// outputs at all.
func splitChange(change uint64, n int) []uint64 {
	if change == 0 {
		return nil
	}
	n = int(min(uint64(max(n, 1)), change))
	parts := make([]uint64, n)
	each := change / uint64(n)
	for i := range parts {
		parts[i] = each
	}
	parts[0] += change - each*uint64(n)
	return parts
}

func (s *Selection) String() string {
	return fmt.Sprintf("%d inputs, total %d, fee %d, change %d", len(s.Inputs), s.Total, s.Fee, s.Change)
}
