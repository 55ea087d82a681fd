package keychain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
)

// SeedSize is the length of a BIP-39 seed.
const SeedSize = 64

// mnemonicEntropy gives 24 words.
const mnemonicEntropy = 256

// Key tree: m/44'/8888'/account'/branch/index.
const (
	purpose  = bip32.FirstHardenedChild + 44
	coinType = bip32.FirstHardenedChild + 8888

	// BranchAddress holds the keys behind relay addresses.
	BranchAddress = 0
	// BranchBlind holds output blinding factors.
	BranchBlind = 1
)

// ErrInvalidMnemonic is returned for a phrase that fails the BIP-39
// wordlist or checksum check.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenerateMnemonic returns a fresh 24-word phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropy)
	if err != nil {
		return "", fmt.Errorf("mnemonic entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic lowercases a typed phrase and collapses its whitespace.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic runs the BIP-39 PBKDF2 stretch over mnemonic and the
// optional passphrase.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

func masterKey(seed []byte) (*bip32.Key, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	return bip32.NewMasterKey(seed)
}

// derivePath walks path below k.
func derivePath(k *bip32.Key, path ...uint32) (*bip32.Key, error) {
	for _, i := range path {
		child, err := k.NewChildKey(i)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		k = child
	}
	return k, nil
}

func accountKey(master *bip32.Key, account uint32) (*bip32.Key, error) {
	return derivePath(master, purpose, coinType, bip32.FirstHardenedChild+account)
}

// signingKey turns a private BIP-32 node into a secp256k1 key. bip32
// stores private keys with a leading zero byte.
func signingKey(k *bip32.Key) (*crypto.PrivateKey, error) {
	if !k.IsPrivate {
		return nil, errors.New("public derivation node has no private key")
	}
	raw := k.Key
	if len(raw) == 33 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}
