package crypto

import (
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// SharedSecret performs ECDH between priv and a remote public key and
// returns the x coordinate of the shared point.
func SharedSecret(priv *PrivateKey, remote types.PublicKey) ([32]byte, error) {
	var out [32]byte
	pub, err := secp256k1.ParsePubKey(remote[:])
	if err != nil {
		return out, fmt.Errorf("ecdh: parse remote key: %w", err)
	}
	copy(out[:], secp256k1.GenerateSharedSecret(priv.key, pub))
	return out, nil
}
