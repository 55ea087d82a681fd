package rpcclient

import (
	"context"

	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// Node method names.
const (
	MethodGetTip          = "node_getTip"
	MethodGetOutput       = "node_getOutput"
	MethodGetKernel       = "node_getKernel"
	MethodPostTransaction = "node_postTransaction"
)

// OutputInfo is the node's view of a commitment.
type OutputInfo struct {
	Commit types.Commitment `json:"commit"`
	Height uint64           `json:"height"`
	Spent  bool             `json:"spent"`
}

// KernelInfo locates a kernel on chain.
type KernelInfo struct {
	Excess types.PublicKey `json:"excess"`
	Height uint64          `json:"height"`
}

// TipResult is the result of node_getTip.
type TipResult struct {
	Height uint64 `json:"height"`
}

// CommitParam is the parameter for node_getOutput.
type CommitParam struct {
	Commit types.Commitment `json:"commit"`
}

// ExcessParam is the parameter for node_getKernel.
type ExcessParam struct {
	Excess types.PublicKey `json:"excess"`
}

// PostParam is the parameter for node_postTransaction.
type PostParam struct {
	Tx *tx.Transaction `json:"tx"`
}

// Node queries a chain node.
type Node struct {
	c *Client
}

// NewNode returns a node client for endpoint.
func NewNode(c *Client) *Node {
	return &Node{c: c}
}

// GetTip returns the current chain height.
func (n *Node) GetTip(ctx context.Context) (uint64, error) {
	var res TipResult
	if err := n.c.Call(ctx, MethodGetTip, nil, &res); err != nil {
		return 0, err
	}
	return res.Height, nil
}

// GetOutput returns the chain state of a commitment, or nil when the node
// does not know it.
func (n *Node) GetOutput(ctx context.Context, commit types.Commitment) (*OutputInfo, error) {
	var res *OutputInfo
	if err := n.c.Call(ctx, MethodGetOutput, CommitParam{Commit: commit}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetKernel returns the inclusion height of a kernel, or nil when it is not
// on chain.
func (n *Node) GetKernel(ctx context.Context, excess types.PublicKey) (*KernelInfo, error) {
	var res *KernelInfo
	if err := n.c.Call(ctx, MethodGetKernel, ExcessParam{Excess: excess}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// PostTransaction submits a finalized transaction.
func (n *Node) PostTransaction(ctx context.Context, t *tx.Transaction) error {
	return n.c.Call(ctx, MethodPostTransaction, PostParam{Tx: t}, nil)
}
