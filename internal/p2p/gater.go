package p2p

import (
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/slatewallet/internal/log"
)

// connGater screens connections for the host. Banned peers are refused
// in both directions. Inbound peers beyond maxPeers are refused once
// their identity is known; peers already tracked may always reconnect.
type connGater struct {
	bans     *BanManager
	peers    func() int
	known    func(peer.ID) bool
	maxPeers int
}

func newConnGater(n *Node) *connGater {
	return &connGater{
		bans:     n.BanManager,
		peers:    n.PeerCount,
		known:    n.hasPeer,
		maxPeers: n.config.MaxPeers,
	}
}

func (g *connGater) InterceptPeerDial(p peer.ID) bool {
	return !g.bans.IsBanned(p)
}

func (g *connGater) InterceptAddrDial(peer.ID, ma.Multiaddr) bool { return true }

func (g *connGater) InterceptAccept(network.ConnMultiaddrs) bool { return true }

func (g *connGater) InterceptSecured(dir network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	if g.bans.IsBanned(p) {
		log.P2P.Debug().Str("peer", shortID(p)).Msg("Refused banned peer")
		return false
	}
	if dir != network.DirInbound || g.maxPeers <= 0 || g.known == nil {
		return true
	}
	if !g.known(p) && g.peers() >= g.maxPeers {
		log.P2P.Debug().Str("peer", shortID(p)).Int("max", g.maxPeers).Msg("Refused inbound peer, at capacity")
		return false
	}
	return true
}

func (g *connGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
