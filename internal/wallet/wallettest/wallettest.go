// Package wallettest builds in-memory wallets for tests of packages that
// sit on top of the wallet.
package wallettest

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/internal/rpcclient"
	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// Tip is the chain height new test wallets start at.
const Tip = 100

// UnitFees makes every input, output and kernel cost one unit.
var UnitFees = tx.FeeParams{InputWeight: 1, OutputWeight: 1, KernelWeight: 1, Rate: 1}

// Wallet is a test wallet together with its keychain.
type Wallet struct {
	*wallet.Wallet
	Keys *keychain.Keychain
}

// New creates a testnet wallet over a memory store whose seed is seedByte
// repeated.
func New(t testing.TB, seedByte byte, node wallet.NodeClient) *Wallet {
	t.Helper()
	kc, err := keychain.New(bytes.Repeat([]byte{seedByte}, keychain.SeedSize), types.Testnet)
	if err != nil {
		t.Fatalf("keychain: %v", err)
	}
	store := walletdb.New(storage.NewMemory())
	t.Cleanup(func() { store.Close() })
	store.Update(func(t *walletdb.Txn) error {
		t.SetTip(Tip)
		return nil
	})
	w := wallet.New(store, kc, node, wallet.Config{
		Fees:             UnitFees,
		MinConfirmations: 1,
		ChangeOutputs:    1,
		AddressScan:      10,
		Clock:            clock.NewTestClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
	return &Wallet{Wallet: w, Keys: kc}
}

// Fund adds confirmed outputs of the given values to the default account.
func (w *Wallet) Fund(t testing.TB, values ...uint64) []types.Commitment {
	t.Helper()
	var commits []types.Commitment
	err := w.Store().Update(func(txn *walletdb.Txn) error {
		for _, v := range values {
			a, idx, err := txn.NextBlindIndex(walletdb.DefaultAccount)
			if err != nil {
				return err
			}
			id := keychain.KeyID{Account: a.Index, Branch: keychain.BranchBlind, Index: idx}
			commit, _, err := w.Keys.Commit(v, id)
			if err != nil {
				return err
			}
			o := &walletdb.Output{Commit: commit, Value: v, KeyID: id, Status: walletdb.OutputUnspent, Height: 1}
			if err := txn.AddOutput(o); err != nil {
				return err
			}
			commits = append(commits, commit)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	return commits
}

// Node is an in-memory chain node. Posted transactions are validated and
// mined one block each.
type Node struct {
	mu      sync.Mutex
	tip     uint64
	kernels map[types.PublicKey]uint64
	posted  []*tx.Transaction
	fail    error
}

// NewNode creates a node at Tip.
func NewNode() *Node {
	return &Node{tip: Tip, kernels: make(map[types.PublicKey]uint64)}
}

func (n *Node) GetTip(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tip, nil
}

// GetOutput reports no outputs; tests using Node do not refresh.
func (n *Node) GetOutput(context.Context, types.Commitment) (*rpcclient.OutputInfo, error) {
	return nil, nil
}

func (n *Node) GetKernel(_ context.Context, excess types.PublicKey) (*rpcclient.KernelInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.kernels[excess]
	if !ok {
		return nil, nil
	}
	return &rpcclient.KernelInfo{Excess: excess, Height: h}, nil
}

func (n *Node) PostTransaction(_ context.Context, t *tx.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	if err := t.Validate(UnitFees); err != nil {
		return err
	}
	n.tip++
	for _, k := range t.Body.Kernels {
		n.kernels[k.Excess] = n.tip
	}
	n.posted = append(n.posted, t)
	return nil
}

// Posted returns the transactions accepted so far.
func (n *Node) Posted() []*tx.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*tx.Transaction(nil), n.posted...)
}

// SetFail makes PostTransaction return err until cleared with nil.
func (n *Node) SetFail(err error) {
	n.mu.Lock()
	n.fail = err
	n.mu.Unlock()
}
