// Package keychain derives every secret the wallet uses from its seed:
// relay address keys and output blinding factors. A Keychain is passed
// explicitly to the operations that need it; there is no package-level
// key state.
package keychain

import (
	"fmt"
	"sync"

	"github.com/tyler-smith/go-bip32"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// KeyID locates a derived key.
type KeyID struct {
	Account uint32 `json:"account"`
	Branch  uint32 `json:"branch"`
	Index   uint32 `json:"index"`
}

func (id KeyID) String() string {
	return fmt.Sprintf("m/44'/8888'/%d'/%d/%d", id.Account, id.Branch, id.Index)
}

// Keychain is the secret-key context for one wallet seed.
type Keychain struct {
	master  *bip32.Key
	network types.Network

	mu       sync.Mutex
	accounts map[uint32]*bip32.Key
}

// New builds a keychain from a 64-byte seed.
func New(seed []byte, network types.Network) (*Keychain, error) {
	if _, err := network.Version(); err != nil {
		return nil, err
	}
	master, err := masterKey(seed)
	if err != nil {
		return nil, err
	}
	return &Keychain{master: master, network: network, accounts: make(map[uint32]*bip32.Key)}, nil
}

// FromMnemonic builds a keychain from a BIP-39 mnemonic.
func FromMnemonic(mnemonic, passphrase string, network types.Network) (*Keychain, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return New(seed, network)
}

// Network returns the network addresses are encoded for.
func (kc *Keychain) Network() types.Network { return kc.network }

func (kc *Keychain) account(account uint32) (*bip32.Key, error) {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	if k, ok := kc.accounts[account]; ok {
		return k, nil
	}
	k, err := accountKey(kc.master, account)
	if err != nil {
		return nil, err
	}
	kc.accounts[account] = k
	return k, nil
}

// Derive returns the private key at id.
func (kc *Keychain) Derive(id KeyID) (*crypto.PrivateKey, error) {
	acct, err := kc.account(id.Account)
	if err != nil {
		return nil, err
	}
	node, err := derivePath(acct, id.Branch, id.Index)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", id, err)
	}
	return signingKey(node)
}

// AddressKey returns the key behind the relay address at index.
func (kc *Keychain) AddressKey(account, index uint32) (*crypto.PrivateKey, error) {
	return kc.Derive(KeyID{Account: account, Branch: BranchAddress, Index: index})
}

// Address returns the encoded address at index.
func (kc *Keychain) Address(account, index uint32) (types.Address, error) {
	key, err := kc.AddressKey(account, index)
	if err != nil {
		return types.Address{}, err
	}
	return types.Address{Network: kc.network, PublicKey: key.PubKey()}, nil
}

// Blind returns the blinding factor for an output key.
func (kc *Keychain) Blind(id KeyID) (crypto.BlindingFactor, error) {
	key, err := kc.Derive(id)
	if err != nil {
		return crypto.BlindingFactor{}, err
	}
	return key.Secret(), nil
}

// Commit derives the blinding factor for id and commits to value.
func (kc *Keychain) Commit(value uint64, id KeyID) (types.Commitment, crypto.BlindingFactor, error) {
	blind, err := kc.Blind(id)
	if err != nil {
		return types.Commitment{}, crypto.BlindingFactor{}, err
	}
	c, err := crypto.Commit(value, blind)
	if err != nil {
		return types.Commitment{}, crypto.BlindingFactor{}, err
	}
	return c, blind, nil
}
