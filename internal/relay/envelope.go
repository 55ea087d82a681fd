package relay

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopeInfo = "slatewallet/relay/v1"
	saltSize     = 16
)

// Envelope is an encrypted slate addressed to one public key. Only the
// holder of the destination key can open it; the optional sender key is
// authenticated but not secret.
type Envelope struct {
	Destination  types.PublicKey  `json:"destination"`
	Sender       *types.PublicKey `json:"sender,omitempty"`
	EphemeralKey types.PublicKey  `json:"ephemeral_key"`
	Salt         types.HexBytes   `json:"salt"`
	Nonce        types.HexBytes   `json:"nonce"`
	Ciphertext   types.HexBytes   `json:"ciphertext"`
}

func (e *Envelope) aad() []byte {
	aad := make([]byte, 0, 2*types.PublicKeySize)
	aad = append(aad, e.Destination[:]...)
	if e.Sender != nil {
		aad = append(aad, e.Sender[:]...)
	}
	return aad
}

func envelopeKey(shared [32]byte, salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared[:], salt, []byte(envelopeInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Seal encrypts payload for dest under a fresh ephemeral key.
func Seal(payload []byte, dest types.PublicKey, sender *types.PublicKey) (*Envelope, error) {
	eph, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer eph.Zero()

	shared, err := crypto.SharedSecret(eph, dest)
	if err != nil {
		return nil, werr.Wrap(werr.ErrInvalidAddress, "destination key: %v", err)
	}
	env := &Envelope{
		Destination:  dest,
		Sender:       sender,
		EphemeralKey: eph.PubKey(),
		Salt:         make([]byte, saltSize),
		Nonce:        make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, err
	}
	key, err := envelopeKey(shared, env.Salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, payload, env.aad())
	return env, nil
}

// Open decrypts an envelope with the destination's private key. Any
// mismatch or authentication failure is ErrDecrypt.
func Open(env *Envelope, key *crypto.PrivateKey) ([]byte, error) {
	if env.Destination != key.PubKey() {
		return nil, werr.Wrap(werr.ErrDecrypt, "envelope not addressed to this key")
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, werr.Wrap(werr.ErrDecrypt, "bad nonce length %d", len(env.Nonce))
	}
	shared, err := crypto.SharedSecret(key, env.EphemeralKey)
	if err != nil {
		return nil, werr.Wrap(werr.ErrDecrypt, "ephemeral key: %v", err)
	}
	k, err := envelopeKey(shared, env.Salt)
	if err != nil {
		return nil, werr.Wrap(werr.ErrDecrypt, "%v", err)
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return nil, werr.Wrap(werr.ErrDecrypt, "%v", err)
	}
	plain, err := aead.Open(nil, env.Nonce, env.Ciphertext, env.aad())
	if err != nil {
		return nil, werr.Wrap(werr.ErrDecrypt, "%v", err)
	}
	return plain, nil
}

// Marshal encodes the envelope as the relay's slate string.
func (e *Envelope) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseEnvelope decodes a relay slate string.
func ParseEnvelope(s string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, werr.Wrap(werr.ErrDecrypt, "decode envelope: %v", err)
	}
	return &e, nil
}
