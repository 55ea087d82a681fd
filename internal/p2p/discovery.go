package p2p

import (
	"context"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/Klingon-tech/slatewallet/internal/log"
)

const (
	dhtLookupInterval  = 30 * time.Second
	dhtLookupTimeout   = 20 * time.Second
	seedRetryInterval  = 10 * time.Second
	peerConnectTimeout = 5 * time.Second
)

// rendezvous is the discovery namespace. Wallets on different networks
// never find each other.
func (n *Node) rendezvous() string {
	if n.config.Network == "" {
		return "slatewallet"
	}
	return "slatewallet/" + string(n.config.Network)
}

// parseSeeds reads the configured seed multiaddrs, skipping bad ones.
func parseSeeds(seeds []string) []peer.AddrInfo {
	var out []peer.AddrInfo
	for _, s := range seeds {
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			log.P2P.Warn().Str("addr", s).Err(err).Msg("Bad seed address")
			continue
		}
		out = append(out, *info)
	}
	return out
}

// atCapacity reports whether discovery should stop adding peers.
func (n *Node) atCapacity() bool {
	return n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers
}

// dial connects to info unless it is us, banned or already connected,
// and records where it came from.
func (n *Node) dial(info peer.AddrInfo, source string, timeout time.Duration) bool {
	if info.ID == n.host.ID() || len(info.Addrs) == 0 {
		return false
	}
	if n.BanManager.IsBanned(info.ID) || n.hasPeer(info.ID) {
		return false
	}
	ctx, cancel := context.WithTimeout(n.ctx, timeout)
	defer cancel()
	if err := n.host.Connect(ctx, info); err != nil {
		log.P2P.Debug().Str("peer", shortID(info.ID)).Str("source", source).Err(err).Msg("Dial failed")
		return false
	}
	n.addPeerFrom(info.ID, source)
	return true
}

// dialSeeds tries every seed once and reports how many answered.
func (n *Node) dialSeeds() int {
	ok := 0
	for _, s := range n.seeds {
		if n.dial(s, "seed", 2*peerConnectTimeout) {
			log.P2P.Info().Str("peer", shortID(s.ID)).Msg("Seed connected")
			ok++
		}
	}
	return ok
}

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kad, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return err
	}
	n.dht = kad
	return kad.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

// mdnsNotifee dials peers announced on the local network.
type mdnsNotifee struct{ node *Node }

func (m mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if !m.node.atCapacity() {
		m.node.dial(info, "mdns", peerConnectTimeout)
	}
}

func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), mdnsNotifee{node: n})
	if err := svc.Start(); err != nil {
		log.P2P.Warn().Err(err).Msg("mDNS unavailable")
	}
}

// discoveryLoop redials seeds while the node is isolated and, with the
// DHT on, advertises the rendezvous and looks up other wallets.
func (n *Node) discoveryLoop() {
	seedTick := ticker.New(seedRetryInterval)
	seedTick.Resume()
	defer seedTick.Stop()

	var (
		lookups <-chan time.Time
		routing *drouting.RoutingDiscovery
	)
	if n.dht != nil {
		routing = drouting.NewRoutingDiscovery(n.dht)
		dutil.Advertise(n.ctx, routing, n.rendezvous())
		dhtTick := ticker.New(dhtLookupInterval)
		dhtTick.Resume()
		defer dhtTick.Stop()
		lookups = dhtTick.Ticks()
	}

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-seedTick.Ticks():
			if len(n.seeds) > 0 && n.PeerCount() == 0 {
				log.P2P.Info().Int("seeds", len(n.seeds)).Msg("No peers, retrying seeds")
				n.dialSeeds()
			}
		case <-lookups:
			n.lookupDHT(routing)
		}
	}
}

func (n *Node) lookupDHT(routing *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, dhtLookupTimeout)
	defer cancel()
	found, err := routing.FindPeers(ctx, n.rendezvous())
	if err != nil {
		log.P2P.Debug().Err(err).Msg("DHT lookup failed")
		return
	}
	for info := range found {
		if n.atCapacity() {
			return
		}
		n.dial(info, "dht", peerConnectTimeout)
	}
}
