package keychain

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SeedFileName is the name of the encrypted seed inside the data directory.
const SeedFileName = "wallet.seed"

// ErrWrongPassword is returned when the seed cannot be decrypted.
var ErrWrongPassword = errors.New("wrong password or corrupted seed file")

// KDFParams holds Argon2id parameters.
type KDFParams struct {
	Memory      uint32 `json:"memory"` // KiB
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultKDFParams returns recommended Argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

// seedFile is the on-disk JSON layout. The seed is sealed with
// XChaCha20-Poly1305 under an Argon2id key.
type seedFile struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	KDF        KDFParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

func (p KDFParams) key(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

// SaveSeed encrypts seed with password and writes it to path. An existing
// file is never overwritten.
func SaveSeed(path string, seed, password []byte, params KDFParams) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("seed file %s already exists", path)
	}

	sf := seedFile{Version: 1, CreatedAt: time.Now().UTC(), KDF: params, Salt: make([]byte, 32)}
	if _, err := rand.Read(sf.Salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key := params.key(password, sf.Salt)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	sf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(sf.Nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sf.Ciphertext = aead.Seal(nil, sf.Nonce, seed, nil)

	data, err := json.MarshalIndent(&sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seed file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}
	return nil
}

// LoadSeed reads and decrypts the seed at path.
func LoadSeed(path string, password []byte) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sf seedFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if sf.Version != 1 {
		return nil, fmt.Errorf("unsupported seed file version: %d", sf.Version)
	}

	key := sf.KDF.key(password, sf.Salt)
	defer clear(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(sf.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassword
	}
	seed, err := aead.Open(nil, sf.Nonce, sf.Ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return seed, nil
}
