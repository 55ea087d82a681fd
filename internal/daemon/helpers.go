package daemon

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/Klingon-tech/slatewallet/config"
	"github.com/Klingon-tech/slatewallet/internal/keychain"
)

// secretSize is the entropy of a generated API secret.
const secretSize = 20

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadSecret reads an API secret, generating one on first use. An empty
// path disables auth.
func loadSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	path = expandHome(path)

	data, err := os.ReadFile(path)
	if err == nil {
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", path)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read secret file: %w", err)
	}

	buf := make([]byte, secretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	secret := base58.Encode(buf)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write secret file: %w", err)
	}
	return secret, nil
}

// LoadSecret is loadSecret for clients that read the daemon's secret.
func LoadSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// HasSeed reports whether the configured network already has a wallet.
func HasSeed(cfg *config.Config) bool {
	_, err := os.Stat(cfg.SeedFile())
	return err == nil
}

// CreateSeed derives the seed of mnemonic and stores it encrypted under
// password. It refuses to replace an existing seed file.
func CreateSeed(cfg *config.Config, mnemonic, passphrase string, password []byte) (*keychain.Keychain, error) {
	if !keychain.ValidateMnemonic(mnemonic) {
		return nil, keychain.ErrInvalidMnemonic
	}
	seed, err := keychain.SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	defer clear(seed)
	if err := os.MkdirAll(cfg.NetworkDir(), 0700); err != nil {
		return nil, fmt.Errorf("create network dir: %w", err)
	}
	if err := keychain.SaveSeed(cfg.SeedFile(), seed, password, keychain.DefaultKDFParams()); err != nil {
		return nil, err
	}
	return keychain.New(seed, cfg.Network)
}

// OpenKeychain decrypts the stored seed.
func OpenKeychain(cfg *config.Config, password []byte) (*keychain.Keychain, error) {
	seed, err := keychain.LoadSeed(cfg.SeedFile(), password)
	if err != nil {
		return nil, err
	}
	defer clear(seed)
	return keychain.New(seed, cfg.Network)
}
