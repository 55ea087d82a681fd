package walletdb

import (
	"encoding/binary"
	"encoding/json"

	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

var (
	metaTip          = key(prefixMeta, []byte("tip"))
	metaAddressIndex = key(prefixMeta, []byte("address_index"))
)

// DefaultAccount is created on first use.
const DefaultAccount = "default"

func (r *Reader) getUint64(k []byte) (uint64, error) {
	data, ok, err := r.kv.get(k)
	if err != nil {
		return 0, werr.Persistence("get", err)
	}
	if !ok || len(data) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}

func (t *Txn) putUint64(k []byte, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	t.ov.put(k, buf[:])
}

// Tip returns the last chain height observed by the updater.
func (r *Reader) Tip() (uint64, error) { return r.getUint64(metaTip) }

// SetTip records the chain height.
func (t *Txn) SetTip(height uint64) { t.putUint64(metaTip, height) }

// AddressIndex returns the current relay address index.
func (r *Reader) AddressIndex() (uint32, error) {
	v, err := r.getUint64(metaAddressIndex)
	return uint32(v), err
}

// SetAddressIndex persists the current relay address index.
func (t *Txn) SetAddressIndex(index uint32) { t.putUint64(metaAddressIndex, uint64(index)) }

// Context returns the private slate context.
func (r *Reader) Context(slateID string) (*Context, error) {
	var c Context
	ok, err := r.getJSON(key(prefixContext, []byte(slateID)), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.Entity(werr.Wrap(werr.ErrInvalidState, "no context"), "slate", slateID)
	}
	return &c, nil
}

// PutContext stores a private slate context.
func (t *Txn) PutContext(c *Context) error {
	return t.putJSON(key(prefixContext, []byte(c.SlateID)), c)
}

// DeleteContext removes a private slate context.
func (t *Txn) DeleteContext(slateID string) {
	t.ov.del(key(prefixContext, []byte(slateID)))
}

// FinalTx returns the stored finalized transaction for a slate.
func (r *Reader) FinalTx(slateID string) (*tx.Transaction, error) {
	var stored tx.Transaction
	ok, err := r.getJSON(key(prefixFinal, []byte(slateID)), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.Entity(werr.Wrap(werr.ErrInvalidState, "no stored transaction"), "slate", slateID)
	}
	return &stored, nil
}

// PutFinalTx stores a finalized transaction for later repost.
func (t *Txn) PutFinalTx(slateID string, transaction *tx.Transaction) error {
	return t.putJSON(key(prefixFinal, []byte(slateID)), transaction)
}

// Contact returns a contact by name.
func (r *Reader) Contact(name string) (*Contact, error) {
	var c Contact
	ok, err := r.getJSON(key(prefixContact, []byte(name)), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.Entity(werr.ErrNotFound, "contact", name)
	}
	return &c, nil
}

// Contacts lists contacts by name.
func (r *Reader) Contacts() ([]Contact, error) {
	var out []Contact
	err := scanJSON(r, prefixContact, func(c Contact) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// PutContact adds or replaces a contact.
func (t *Txn) PutContact(c Contact) error {
	return t.putJSON(key(prefixContact, []byte(c.Name)), c)
}

// DeleteContact removes a contact.
func (t *Txn) DeleteContact(name string) error {
	if _, err := t.Contact(name); err != nil {
		return err
	}
	t.ov.del(key(prefixContact, []byte(name)))
	return nil
}

// Account returns an account by name.
func (r *Reader) Account(name string) (*Account, error) {
	var a Account
	ok, err := r.getJSON(key(prefixAccount, []byte(name)), &a)
	if err != nil {
		return nil, err
	}
	if !ok {
		if name == DefaultAccount {
			return &Account{Name: DefaultAccount}, nil
		}
		return nil, werr.Entity(werr.ErrNotFound, "account", name)
	}
	return &a, nil
}

// Accounts lists accounts, including the implicit default account.
func (r *Reader) Accounts() ([]Account, error) {
	var out []Account
	hasDefault := false
	err := scanJSON(r, prefixAccount, func(a Account) error {
		hasDefault = hasDefault || a.Name == DefaultAccount
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !hasDefault {
		out = append([]Account{{Name: DefaultAccount}}, out...)
	}
	return out, nil
}

// CreateAccount adds a named account at the next free BIP-44 index.
func (t *Txn) CreateAccount(name string) (*Account, error) {
	accounts, err := t.Accounts()
	if err != nil {
		return nil, err
	}
	var next uint32
	for _, a := range accounts {
		if a.Name == name {
			return nil, werr.Entity(werr.Wrap(werr.ErrInvalidState, "account exists"), "account", name)
		}
		next = max(next, a.Index+1)
	}
	a := &Account{Name: name, Index: next}
	return a, t.putJSON(key(prefixAccount, []byte(name)), a)
}

// NextBlindIndex reserves the next output derivation index for an account.
func (t *Txn) NextBlindIndex(name string) (*Account, uint32, error) {
	a, err := t.Account(name)
	if err != nil {
		return nil, 0, err
	}
	idx := a.NextBlindIndex
	a.NextBlindIndex++
	return a, idx, t.putJSON(key(prefixAccount, []byte(name)), a)
}

// Export serializes outputs and the transaction log for backup.
func (r *Reader) Export() ([]byte, error) {
	outputs, err := r.Outputs(nil)
	if err != nil {
		return nil, err
	}
	txs, err := r.Txs()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(struct {
		Outputs []*Output     `json:"outputs"`
		Txs     []*TxLogEntry `json:"txs"`
	}{outputs, txs}, "", "  ")
}
