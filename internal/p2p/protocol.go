package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// Handshake protocol constants.
const (
	// HandshakeProtocol is the stream protocol ID for peer compatibility checking.
	HandshakeProtocol = protocol.ID("/slatewallet/handshake/1.0.0")

	// ProtocolVersion is the current protocol version advertised during handshake.
	ProtocolVersion uint32 = 1

	// MinProtocolVersion is the minimum protocol version we accept from peers.
	MinProtocolVersion uint32 = 1
)

// maxSlateMessageSize bounds a gossiped slate.
const maxSlateMessageSize = 256 * 1024

// SlateTopic returns the GossipSub topic that carries slates for addr.
// Only the stripped address is used, so relay suffixes do not split topics.
func SlateTopic(addr types.Address) string {
	return fmt.Sprintf("/slatewallet/%s/slate/%s/1.0.0", addr.Network, addr.Stripped())
}

// SlateMessage is the gossip payload: an encrypted envelope plus the
// sender's signature binding it to the topic it was published on.
type SlateMessage struct {
	From      string         `json:"from"`
	Envelope  string         `json:"envelope"`
	Signature types.HexBytes `json:"signature"`
}

func signingBytes(envelope, topic string) []byte {
	return []byte(envelope + "\x00" + topic)
}

func newSlateMessage(key *crypto.PrivateKey, from types.Address, envelope, topic string) (*SlateMessage, error) {
	sig, err := key.SignMessage(signingBytes(envelope, topic))
	if err != nil {
		return nil, err
	}
	return &SlateMessage{From: from.String(), Envelope: envelope, Signature: sig}, nil
}

// decodeSlateMessage parses data and checks the sender signature against
// topic. It returns the authenticated sender address.
func decodeSlateMessage(data []byte, topic string) (*SlateMessage, types.Address, error) {
	if len(data) > maxSlateMessageSize {
		return nil, types.Address{}, fmt.Errorf("message too large: %d bytes", len(data))
	}
	var m SlateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, types.Address{}, fmt.Errorf("decode slate message: %w", err)
	}
	from, err := types.DecodeAddress(m.From)
	if err != nil {
		return nil, types.Address{}, fmt.Errorf("sender address: %w", err)
	}
	if !crypto.VerifyMessage(signingBytes(m.Envelope, topic), m.Signature, from.PublicKey) {
		return nil, types.Address{}, fmt.Errorf("bad sender signature")
	}
	return &m, from, nil
}
