package keychain

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// Test vector mnemonic, never use with real funds.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

func testKeychain(t *testing.T) *Keychain {
	t.Helper()
	kc, err := FromMnemonic(testMnemonic, "", types.Testnet)
	if err != nil {
		t.Fatalf("FromMnemonic() error: %v", err)
	}
	return kc
}

func TestDerive_Deterministic(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatal(err)
	}

	rapid.Check(t, func(rt *rapid.T) {
		account := rapid.Uint32Range(0, 4).Draw(rt, "account")
		index := rapid.Uint32Range(0, 1<<20).Draw(rt, "index")

		kc1, _ := New(seed, types.Testnet)
		kc2, _ := New(seed, types.Testnet)

		k1, err := kc1.AddressKey(account, index)
		if err != nil {
			rt.Fatal(err)
		}
		k2, err := kc2.AddressKey(account, index)
		if err != nil {
			rt.Fatal(err)
		}
		if !bytes.Equal(k1.Serialize(), k2.Serialize()) {
			rt.Fatalf("key at %d/%d differs between calls", account, index)
		}

		a1, _ := kc1.Address(account, index)
		a2, _ := kc2.Address(account, index)
		if a1.String() != a2.String() {
			rt.Fatalf("address differs: %s vs %s", a1, a2)
		}
	})
}

func TestAddress_DecodesToKey(t *testing.T) {
	kc := testKeychain(t)
	addr, err := kc.Address(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := types.DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("DecodeAddress() error: %v", err)
	}
	key, _ := kc.AddressKey(0, 3)
	if decoded.PublicKey != key.PubKey() {
		t.Error("decoded address does not match the derived key")
	}
	if decoded.Network != types.Testnet {
		t.Errorf("Network = %s", decoded.Network)
	}
}

func TestBranchesAndAccountsDiffer(t *testing.T) {
	kc := testKeychain(t)
	a, _ := kc.Blind(KeyID{Account: 0, Branch: BranchAddress, Index: 0})
	b, _ := kc.Blind(KeyID{Account: 0, Branch: BranchBlind, Index: 0})
	c, _ := kc.Blind(KeyID{Account: 1, Branch: BranchBlind, Index: 0})
	if a == b || b == c {
		t.Error("distinct key ids must derive distinct blinds")
	}
}

func TestCommit_MatchesBlind(t *testing.T) {
	kc := testKeychain(t)
	id := KeyID{Branch: BranchBlind, Index: 9}
	c, blind, err := kc.Commit(42, id)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := crypto.Commit(42, blind)
	if c != want {
		t.Error("Commit() disagrees with crypto.Commit over the derived blind")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(make([]byte, 32), types.Mainnet); err == nil {
		t.Error("short seed should fail")
	}
	if _, err := New(make([]byte, SeedSize), types.Network("regtest")); err == nil {
		t.Error("unknown network should fail")
	}
	if _, err := FromMnemonic("not a mnemonic", "", types.Mainnet); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("bad mnemonic: err = %v, want ErrInvalidMnemonic", err)
	}
}

func TestGenerateMnemonic(t *testing.T) {
	m, err := GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidateMnemonic(m) {
		t.Error("generated mnemonic does not validate")
	}
	if n := len(strings.Fields(m)); n != 24 {
		t.Errorf("mnemonic has %d words, want 24", n)
	}
}

func TestNormalizeMnemonic(t *testing.T) {
	typed := "  Abandon abandon\tabandon abandon abandon abandon abandon abandon\nabandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon ART \n"
	if got := NormalizeMnemonic(typed); got != testMnemonic {
		t.Errorf("NormalizeMnemonic = %q", got)
	}
}

func TestSeedFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), SeedFileName)
	seed, _ := SeedFromMnemonic(testMnemonic, "")
	params := KDFParams{Memory: 1024, Iterations: 1, Parallelism: 1}

	if err := SaveSeed(path, seed, []byte("hunter2"), params); err != nil {
		t.Fatalf("SaveSeed() error: %v", err)
	}
	got, err := LoadSeed(path, []byte("hunter2"))
	if err != nil {
		t.Fatalf("LoadSeed() error: %v", err)
	}
	if !bytes.Equal(got, seed) {
		t.Error("seed mismatch after round trip")
	}
	if _, err := LoadSeed(path, []byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password error = %v", err)
	}
	if err := SaveSeed(path, seed, []byte("x"), params); err == nil {
		t.Error("SaveSeed() must not overwrite an existing file")
	}
}
