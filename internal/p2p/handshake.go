package p2p

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	handshakeTimeout  = 10 * time.Second
	maxHandshakeBytes = 4096
)

// HandshakeMessage is exchanged between peers to verify compatibility.
type HandshakeMessage struct {
	ProtocolVersion uint32        `json:"protocol_version"`
	Network         types.Network `json:"network"`
	Agent           string        `json:"agent,omitempty"`
}

// Agent identifies this implementation in handshakes.
const Agent = "slatewallet/1"

// registerHandshakeHandler answers handshakes opened by dialing peers.
func (n *Node) registerHandshakeHandler() {
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()
		remote := stream.Conn().RemotePeer()
		_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))

		var theirs HandshakeMessage
		if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&theirs); err != nil {
			log.P2P.Debug().Err(err).Str("peer", shortID(remote)).Msg("Handshake read failed")
			return
		}
		ours := n.buildHandshakeMessage()
		if err := json.NewEncoder(stream).Encode(&ours); err != nil {
			log.P2P.Debug().Err(err).Str("peer", shortID(remote)).Msg("Handshake write failed")
			return
		}
		n.checkHandshake(remote, theirs)
	})
}

// doHandshake runs the dialer side of the handshake.
func (n *Node) doHandshake(id peer.ID) {
	stream, err := n.host.NewStream(n.ctx, id, HandshakeProtocol)
	if err != nil {
		// Peers without the protocol are tolerated; they cannot carry slates anyway.
		log.P2P.Debug().Str("peer", shortID(id)).Msg("Peer does not speak the handshake protocol")
		return
	}
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	ours := n.buildHandshakeMessage()
	if err := json.NewEncoder(stream).Encode(&ours); err != nil {
		log.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake send failed")
		return
	}
	stream.CloseWrite()

	var theirs HandshakeMessage
	if err := json.NewDecoder(io.LimitReader(stream, maxHandshakeBytes)).Decode(&theirs); err != nil {
		log.P2P.Debug().Err(err).Str("peer", shortID(id)).Msg("Handshake response read failed")
		return
	}
	n.checkHandshake(id, theirs)
}

func (n *Node) checkHandshake(id peer.ID, msg HandshakeMessage) {
	reason := n.validateHandshake(msg)
	if reason == "" {
		return
	}
	log.P2P.Warn().Str("peer", shortID(id)).Str("reason", reason).Msg("Handshake rejected, banning peer")
	if n.BanManager != nil {
		n.BanManager.RecordOffense(id, PenaltyHandshakeFail, reason)
	}
	n.DisconnectPeer(id)
}

// validateHandshake returns an empty string when the peer is compatible,
// otherwise the reason it is not.
func (n *Node) validateHandshake(msg HandshakeMessage) string {
	if msg.Network != n.config.Network {
		return fmt.Sprintf("network mismatch: peer=%q local=%q", msg.Network, n.config.Network)
	}
	if msg.ProtocolVersion < MinProtocolVersion {
		return fmt.Sprintf("protocol version too low: peer=%d min=%d", msg.ProtocolVersion, MinProtocolVersion)
	}
	return ""
}

func (n *Node) buildHandshakeMessage() HandshakeMessage {
	return HandshakeMessage{
		ProtocolVersion: ProtocolVersion,
		Network:         n.config.Network,
		Agent:           Agent,
	}
}
