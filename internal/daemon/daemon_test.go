package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/slatewallet/config"
	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/internal/listener"
	"github.com/Klingon-tech/slatewallet/internal/rpc"
	"github.com/Klingon-tech/slatewallet/internal/rpcclient"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.slatewallet/owner.secret", filepath.Join(home, ".slatewallet/owner.secret")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api", "owner.secret")

	first, err := loadSecret(path)
	if err != nil {
		t.Fatalf("loadSecret: %v", err)
	}
	if len(first) < 20 {
		t.Errorf("generated secret %q is too short", first)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("secret mode = %v", info.Mode().Perm())
	}

	again, err := loadSecret(path)
	if err != nil || again != first {
		t.Errorf("second load = %q, %v; want %q", again, err, first)
	}
	if read, err := LoadSecret(path); err != nil || read != first {
		t.Errorf("LoadSecret = %q, %v", read, err)
	}

	if s, err := loadSecret(""); err != nil || s != "" {
		t.Errorf("empty path = %q, %v", s, err)
	}
	empty := filepath.Join(t.TempDir(), "empty")
	os.WriteFile(empty, []byte("\n"), 0600)
	if _, err := loadSecret(empty); err == nil {
		t.Error("empty secret file accepted")
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultTestnet()
	cfg.DataDir = t.TempDir()
	cfg.Wallet.Backend = config.BackendBolt
	cfg.Node.URL = ""
	cfg.Relay.Listen = false
	cfg.P2P.Enabled = false
	cfg.OwnerAPI.Addr = "127.0.0.1"
	cfg.OwnerAPI.Port = 0
	cfg.Log.Level = "error"
	cfg.Log.File = filepath.Join(cfg.DataDir, "test.log")
	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestCreateAndOpenSeed(t *testing.T) {
	cfg := testConfig(t)
	mnemonic, err := keychain.GenerateMnemonic()
	if err != nil {
		t.Fatal(err)
	}
	if HasSeed(cfg) {
		t.Fatal("fresh data dir has a seed")
	}

	if _, err := CreateSeed(cfg, "not a mnemonic", "", []byte("pw")); err == nil {
		t.Error("invalid mnemonic accepted")
	}
	created, err := CreateSeed(cfg, mnemonic, "", []byte("pw"))
	if err != nil {
		t.Fatalf("CreateSeed: %v", err)
	}
	if _, err := CreateSeed(cfg, mnemonic, "", []byte("pw")); err == nil {
		t.Error("existing seed overwritten")
	}

	opened, err := OpenKeychain(cfg, []byte("pw"))
	if err != nil {
		t.Fatalf("OpenKeychain: %v", err)
	}
	a1, _ := created.Address(0, 0)
	a2, _ := opened.Address(0, 0)
	if a1 != a2 {
		t.Errorf("reopened keychain derives %s, want %s", a2, a1)
	}

	if _, err := OpenKeychain(cfg, []byte("wrong")); !errors.Is(err, keychain.ErrWrongPassword) {
		t.Errorf("wrong password err = %v", err)
	}
}

func TestDaemon_StartStop(t *testing.T) {
	cfg := testConfig(t)
	mnemonic, _ := keychain.GenerateMnemonic()
	keys, err := keychain.FromMnemonic(mnemonic, "", cfg.Network)
	if err != nil {
		t.Fatal(err)
	}

	d, err := New(cfg, keys)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err != nil {
		d.Stop()
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.Listeners().Running(listener.Kind{Type: listener.OwnerAPI}) {
		t.Fatal("owner API listener not running")
	}

	client := rpcclient.New("http://" + d.OwnerAddr() + "/")
	var res rpc.AddressResult
	err = client.Call(context.Background(), "address", nil, &res)
	if !errors.Is(err, werr.ErrAuth) {
		t.Fatalf("call without secret err = %v, want ErrAuth", err)
	}

	secret, err := LoadSecret(cfg.SecretPath(cfg.OwnerAPI.SecretFile))
	if err != nil {
		t.Fatal(err)
	}
	client.SetBasicAuth(rpc.BasicAuthUser, secret)
	if err := client.Call(context.Background(), "address", nil, &res); err != nil {
		t.Fatalf("address: %v", err)
	}
	want, _ := keys.Address(0, 0)
	if res.Address != want.String() {
		t.Errorf("address = %s, want %s", res.Address, want)
	}

	var statuses []listener.Status
	if err := client.Call(context.Background(), "listeners", nil, &statuses); err != nil {
		t.Fatalf("listeners: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Kind.Type != listener.OwnerAPI || !statuses[0].Running {
		t.Errorf("listeners = %+v, want only the owner API", statuses)
	}
}

func TestDaemon_NetworkMismatch(t *testing.T) {
	cfg := testConfig(t)
	mnemonic, _ := keychain.GenerateMnemonic()
	keys, _ := keychain.FromMnemonic(mnemonic, "", config.Mainnet)
	if _, err := New(cfg, keys); err == nil {
		t.Fatal("mainnet keychain accepted by testnet daemon")
	}
}
