package tx

// FeeParams define the weight-based fee formula:
//
//	weight = max(1, OutputWeight*outputs + KernelWeight*kernels - InputWeight*inputs)
//	fee    = weight * Rate
//
// Inputs carry negative weight because spending them shrinks the UTXO set,
// so adding an input never raises the fee.
type FeeParams struct {
	InputWeight  uint64 `json:"input_weight"`
	OutputWeight uint64 `json:"output_weight"`
	KernelWeight uint64 `json:"kernel_weight"`
	Rate         uint64 `json:"rate"`
}

// DefaultFeeParams returns the network fee parameters.
func DefaultFeeParams() FeeParams {
	return FeeParams{
		InputWeight:  1,
		OutputWeight: 4,
		KernelWeight: 1,
		Rate:         1_000_000,
	}
}

// Weight returns the transaction weight for the given counts.
func (p FeeParams) Weight(numInputs, numOutputs, numKernels int) uint64 {
	positive := p.OutputWeight*uint64(numOutputs) + p.KernelWeight*uint64(numKernels)
	negative := p.InputWeight * uint64(numInputs)
	if negative >= positive {
		return 1
	}
	return max(1, positive-negative)
}

// Fee returns the minimum fee for the given counts.
func (p FeeParams) Fee(numInputs, numOutputs, numKernels int) uint64 {
	return p.Weight(numInputs, numOutputs, numKernels) * p.Rate
}

// RequiredFee returns the minimum fee for a built transaction.
func (p FeeParams) RequiredFee(transaction *Transaction) uint64 {
	return p.Fee(len(transaction.Body.Inputs), len(transaction.Body.Outputs), len(transaction.Body.Kernels))
}
