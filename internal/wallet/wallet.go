// Package wallet implements the slate protocol on top of the wallet store:
// building, responding to and finalizing two-party transactions, input
// selection and locking, cancellation, payment proofs and the chain
// updater.
//
// Every operation that changes outputs or the transaction log runs inside a
// single walletdb.Store.Update call, so a failed operation leaves nothing
// behind and concurrent operations never lock the same output.
package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/internal/rpcclient"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// NodeClient is the chain node interface the wallet consumes.
type NodeClient interface {
	GetTip(ctx context.Context) (uint64, error)
	GetOutput(ctx context.Context, commit types.Commitment) (*rpcclient.OutputInfo, error)
	GetKernel(ctx context.Context, excess types.PublicKey) (*rpcclient.KernelInfo, error)
	PostTransaction(ctx context.Context, t *tx.Transaction) error
}

// Config holds wallet policy.
type Config struct {
	Fees             tx.FeeParams
	MinConfirmations uint64
	ChangeOutputs    int
	// Strategy is used when a send names none.
	Strategy Strategy
	// AddressScan is how many address indices below the current one are
	// still accepted as ours when a payment proof names them.
	AddressScan uint32
	Clock       clock.Clock
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		Fees:             tx.DefaultFeeParams(),
		MinConfirmations: 10,
		ChangeOutputs:    1,
		Strategy:         StrategySmallest,
		AddressScan:      100,
		Clock:            clock.NewDefaultClock(),
	}
}

// Wallet is a non-custodial slate wallet.
type Wallet struct {
	store *walletdb.Store
	keys  *keychain.Keychain
	node  NodeClient
	cfg   Config

	// addrMu orders address switches against relay leases; relayLeases
	// counts running relay listeners bound to the current address.
	addrMu      sync.Mutex
	relayLeases int
}

// New creates a wallet. node may be nil, in which case posting,
// refreshing and on-chain proof checks are unavailable.
func New(store *walletdb.Store, keys *keychain.Keychain, node NodeClient, cfg Config) *Wallet {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.ChangeOutputs < 1 {
		cfg.ChangeOutputs = 1
	}
	return &Wallet{store: store, keys: keys, node: node, cfg: cfg}
}

// Store returns the wallet store.
func (w *Wallet) Store() *walletdb.Store { return w.store }

// Network returns the network addresses are encoded for.
func (w *Wallet) Network() types.Network { return w.keys.Network() }

// FeeParams returns the fee formula in use.
func (w *Wallet) FeeParams() tx.FeeParams { return w.cfg.Fees }

// Address returns the current relay address.
func (w *Wallet) Address() (types.Address, error) {
	_, addr, err := w.AddressKey()
	return addr, err
}

// AddressKey returns the signing key of the current relay address.
func (w *Wallet) AddressKey() (key *crypto.PrivateKey, addr types.Address, err error) {
	err = w.store.View(func(r *walletdb.Reader) error {
		key, addr, err = w.addressKeyIn(r)
		return err
	})
	return key, addr, err
}

func (w *Wallet) addressKeyIn(r *walletdb.Reader) (*crypto.PrivateKey, types.Address, error) {
	idx, err := r.AddressIndex()
	if err != nil {
		return nil, types.Address{}, err
	}
	key, err := w.keys.AddressKey(0, idx)
	if err != nil {
		return nil, types.Address{}, err
	}
	return key, types.Address{Network: w.keys.Network(), PublicKey: key.PubKey()}, nil
}

// SwitchAddress makes index the current relay address. It fails with
// ErrAddressInUse while a relay listener is bound to the current address.
func (w *Wallet) SwitchAddress(index uint32) (types.Address, error) {
	w.addrMu.Lock()
	defer w.addrMu.Unlock()
	if w.relayLeases > 0 {
		return types.Address{}, werr.Entity(werr.ErrAddressInUse, "address", w.currentAddressString())
	}
	addr, err := w.keys.Address(0, index)
	if err != nil {
		return types.Address{}, err
	}
	err = w.store.Update(func(t *walletdb.Txn) error {
		t.SetAddressIndex(index)
		return nil
	})
	return addr, err
}

// LeaseAddressKey returns the current address and its key, leased to a
// relay listener until release is called. No switch can happen between
// reading the key and taking the lease.
func (w *Wallet) LeaseAddressKey() (key *crypto.PrivateKey, addr types.Address, release func(), err error) {
	w.addrMu.Lock()
	defer w.addrMu.Unlock()
	key, addr, err = w.AddressKey()
	if err != nil {
		return nil, types.Address{}, nil, err
	}
	w.relayLeases++
	var once sync.Once
	release = func() {
		once.Do(func() {
			w.addrMu.Lock()
			w.relayLeases--
			w.addrMu.Unlock()
		})
	}
	return key, addr, release, nil
}

func (w *Wallet) currentAddressString() string {
	addr, err := w.Address()
	if err != nil {
		return ""
	}
	return addr.Stripped()
}

// ownedAddressKey returns the key behind addr when it is one of ours.
func (w *Wallet) ownedAddressKey(r *walletdb.Reader, addr types.Address) (*crypto.PrivateKey, error) {
	if addr.Network != w.keys.Network() {
		return nil, werr.Entity(werr.Wrap(werr.ErrInvalidAddress, "wrong network %s", addr.Network), "address", addr.Stripped())
	}
	current, err := r.AddressIndex()
	if err != nil {
		return nil, err
	}
	low := uint32(0)
	if current > w.cfg.AddressScan {
		low = current - w.cfg.AddressScan
	}
	for idx := current + 1; idx > low; idx-- {
		key, err := w.keys.AddressKey(0, idx-1)
		if err != nil {
			return nil, err
		}
		if key.PubKey() == addr.PublicKey {
			return key, nil
		}
	}
	return nil, werr.Entity(werr.Wrap(werr.ErrInvalidAddress, "not an address of this wallet"), "address", addr.Stripped())
}

// ParseAddress decodes an address into the wallet's error taxonomy.
func ParseAddress(s string) (types.Address, error) {
	a, err := types.DecodeAddress(s)
	if err != nil {
		return types.Address{}, werr.Entity(werr.Wrap(werr.ErrInvalidAddress, "%v", err), "address", s)
	}
	return a, nil
}

func (w *Wallet) requireNode() error {
	if w.node == nil {
		return werr.Wrap(werr.ErrTransport, "no node configured")
	}
	return nil
}

// Balance summarises an account's outputs.
type Balance struct {
	Account              string `json:"account"`
	Tip                  uint64 `json:"tip"`
	Total                uint64 `json:"total"`
	Spendable            uint64 `json:"spendable"`
	AwaitingConfirmation uint64 `json:"awaiting_confirmation"`
	Locked               uint64 `json:"locked"`
	MinConfirmations     uint64 `json:"min_confirmations"`
}

// Info returns the balance of an account. The empty name is the default
// account.
func (w *Wallet) Info(account string) (*Balance, error) {
	b := &Balance{MinConfirmations: w.cfg.MinConfirmations}
	err := w.store.View(func(r *walletdb.Reader) error {
		acct, err := r.Account(accountName(account))
		if err != nil {
			return err
		}
		b.Account = acct.Name
		if b.Tip, err = r.Tip(); err != nil {
			return err
		}
		outs, err := r.Outputs(func(o *walletdb.Output) bool { return o.KeyID.Account == acct.Index })
		if err != nil {
			return err
		}
		for _, o := range outs {
			switch {
			case o.IsEligible(b.Tip, w.cfg.MinConfirmations):
				b.Spendable += o.Value
			case o.Status == walletdb.OutputUnspent, o.Status == walletdb.OutputUnconfirmed:
				b.AwaitingConfirmation += o.Value
			case o.Status == walletdb.OutputLocked:
				b.Locked += o.Value
			}
		}
		b.Total = b.Spendable + b.AwaitingConfirmation
		return nil
	})
	return b, err
}

// Outputs lists outputs, optionally only those in status.
func (w *Wallet) Outputs(status walletdb.OutputStatus) ([]*walletdb.Output, error) {
	var out []*walletdb.Output
	err := w.store.View(func(r *walletdb.Reader) error {
		var err error
		out, err = r.Outputs(func(o *walletdb.Output) bool { return status == "" || o.Status == status })
		return err
	})
	return out, err
}

// Txs lists the transaction log.
func (w *Wallet) Txs() ([]*walletdb.TxLogEntry, error) {
	var out []*walletdb.TxLogEntry
	err := w.store.View(func(r *walletdb.Reader) error {
		var err error
		out, err = r.Txs()
		return err
	})
	return out, err
}

// Tx returns one log entry.
func (w *Wallet) Tx(id uint64) (*walletdb.TxLogEntry, error) {
	var e *walletdb.TxLogEntry
	err := w.store.View(func(r *walletdb.Reader) error {
		var err error
		e, err = r.Tx(id)
		return err
	})
	return e, err
}

// CreateAccount adds a named account.
func (w *Wallet) CreateAccount(name string) (*walletdb.Account, error) {
	if name == "" {
		return nil, werr.Wrap(werr.ErrInvalidState, "account name required")
	}
	var a *walletdb.Account
	err := w.store.Update(func(t *walletdb.Txn) error {
		var err error
		a, err = t.CreateAccount(name)
		return err
	})
	return a, err
}

// Accounts lists accounts.
func (w *Wallet) Accounts() ([]walletdb.Account, error) {
	var out []walletdb.Account
	err := w.store.View(func(r *walletdb.Reader) error {
		var err error
		out, err = r.Accounts()
		return err
	})
	return out, err
}

// AddContact stores a nickname for an address.
func (w *Wallet) AddContact(name, address string) error {
	if _, err := ParseAddress(address); err != nil {
		return err
	}
	return w.store.Update(func(t *walletdb.Txn) error {
		return t.PutContact(walletdb.Contact{Name: name, Address: address})
	})
}

// RemoveContact deletes a contact.
func (w *Wallet) RemoveContact(name string) error {
	return w.store.Update(func(t *walletdb.Txn) error { return t.DeleteContact(name) })
}

// Contacts lists contacts.
func (w *Wallet) Contacts() ([]walletdb.Contact, error) {
	var out []walletdb.Contact
	err := w.store.View(func(r *walletdb.Reader) error {
		var err error
		out, err = r.Contacts()
		return err
	})
	return out, err
}

// ResolveRecipient accepts a contact name or an address.
func (w *Wallet) ResolveRecipient(s string) (types.Address, error) {
	var contact *walletdb.Contact
	err := w.store.View(func(r *walletdb.Reader) error {
		c, err := r.Contact(s)
		if errors.Is(err, werr.ErrNotFound) {
			return nil
		}
		contact = c
		return err
	})
	if err != nil {
		return types.Address{}, err
	}
	if contact != nil {
		return ParseAddress(contact.Address)
	}
	return ParseAddress(s)
}

func accountName(name string) string {
	if name == "" {
		return walletdb.DefaultAccount
	}
	return name
}
