// Package p2p is the peer-to-peer slate channel. Wallets join a GossipSub
// topic per address; peers find each other through seeds, mDNS and the
// Kademlia DHT. Slates travel inside the relay's encrypted envelope.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// errNotStarted is returned by operations that need the host.
var errNotStarted = errors.New("p2p node not started")

// storePrefix namespaces peer and ban records inside the wallet database.
var storePrefix = []byte("p2p/")

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string // multiaddrs with /p2p/<id>
	MaxPeers   int
	NoDiscover bool
	DB         storage.DB // nil disables peer and ban persistence
	DHTServer  bool
	Network    types.Network
	DataDir    string // holds identity.key; empty gives an ephemeral identity
}

// Node is a libp2p host carrying slate topics.
type Node struct {
	config Config
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	slateMu   sync.Mutex
	topics    map[string]*pubsub.Topic  // topic name → joined topic
	listeners map[string]*slateListener // topic name → our subscription

	mu    sync.RWMutex
	peers map[peer.ID]*Peer

	seeds []peer.AddrInfo

	BanManager      *BanManager   // never nil after Start
	peerStore       *PeerStore    // nil if Config.DB is nil
	banStore        *BanStore     // nil if Config.DB is nil
	store           *storage.PrefixDB
	dht             *dht.IpfsDHT  // nil if NoDiscover
	connNotify      *connNotifier // connection lifecycle tracker
	onPeerConnected func()        // optional callback when a peer connects
}

// New creates a new P2P node with the given config.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		peers:     make(map[peer.ID]*Peer),
		topics:    make(map[string]*pubsub.Topic),
		listeners: make(map[string]*slateListener),
		seeds:     parseSeeds(cfg.Seeds),
	}
	if cfg.DB != nil {
		n.store = storage.NewPrefixDB(cfg.DB, storePrefix)
		n.peerStore = NewPeerStore(n.store)
		n.banStore = NewBanStore(n.store)
	}
	return n
}

// hostOptions assembles the libp2p options: listen address, gater and,
// when a data directory is set, the persistent identity.
func (n *Node) hostOptions() ([]libp2p.Option, error) {
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)),
		libp2p.ConnectionGater(newConnGater(n)),
	}
	if n.config.DataDir == "" {
		return opts, nil
	}
	key, err := loadOrCreateIdentity(n.config.DataDir)
	if err != nil {
		return nil, err
	}
	return append(opts, libp2p.Identity(key)), nil
}

// Start brings up the host, the DHT and GossipSub, then dials seeds and
// remembered peers.
func (n *Node) Start() error {
	// The gater consults the ban manager, so it comes first.
	n.BanManager = NewBanManager(n.banStore, n)
	n.BanManager.LoadBans()

	opts, err := n.hostOptions()
	if err != nil {
		return fmt.Errorf("p2p identity: %w", err)
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h
	n.connNotify = &connNotifier{node: n}
	h.Network().Notify(n.connNotify)

	fail := func(step string, err error) error {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("%s: %w", step, err)
	}
	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			return fail("init dht", err)
		}
	}
	n.pubsub, err = pubsub.NewGossipSub(n.ctx, h,
		pubsub.WithMaxMessageSize(maxSlateMessageSize+16*1024),
		pubsub.WithMessageSigning(true),
		pubsub.WithStrictSignatureVerification(true),
	)
	if err != nil {
		return fail("create pubsub", err)
	}

	n.registerHandshakeHandler()

	if len(n.seeds) > 0 {
		log.P2P.Info().Int("seeds", n.dialSeeds()).Int("of", len(n.seeds)).Msg("Seeds dialed")
	}
	go n.loadPersistedPeers()
	if !n.config.NoDiscover {
		n.startMDNS()
	}
	go n.discoveryLoop()

	if n.peerStore != nil {
		go n.runPersistLoop()
	}
	go n.BanManager.RunPruneLoop(n.ctx.Done())

	log.P2P.Info().Str("id", h.ID().String()).Strs("addrs", n.Addrs()).Msg("P2P node started")
	return nil
}

// Stop saves the peer book, leaves every slate topic and closes the host.
func (n *Node) Stop() error {
	n.persistPeers()
	n.cancel()

	n.slateMu.Lock()
	for _, l := range n.listeners {
		l.sub.Cancel()
	}
	for _, t := range n.topics {
		t.Close()
	}
	clear(n.listeners)
	clear(n.topics)
	n.slateMu.Unlock()

	n.closeDHT()
	if n.host == nil {
		return nil
	}
	return n.host.Close()
}

// Host returns the libp2p host, nil before Start.
func (n *Node) Host() host.Host { return n.host }

// SetPeerConnectedHandler sets a callback run on every new connection.
func (n *Node) SetPeerConnectedHandler(fn func()) { n.onPeerConnected = fn }

// DisconnectPeer drops every connection to id.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return errNotStarted
	}
	n.removePeer(id)
	return n.host.Network().ClosePeer(id)
}

// ID returns our peer ID, empty before Start.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns our dialable addresses with the /p2p suffix, the form
// other wallets put in their seed lists.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	self := "/p2p/" + n.host.ID().String()
	out := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		out = append(out, a.String()+self)
	}
	return out
}

func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns the connected peers, longest connected first.
func (n *Node) PeerList() []*Peer {
	n.mu.RLock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	n.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Peer) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return out
}

// ResetPeerData forgets every persisted peer and ban.
func (n *Node) ResetPeerData() error {
	if n.store == nil {
		return nil
	}
	if err := n.store.DeleteAll(); err != nil {
		return fmt.Errorf("reset p2p store: %w", err)
	}
	return nil
}

func (n *Node) addPeer(id peer.ID) {
	n.addPeerFrom(id, "")
}

func (n *Node) addPeerFrom(id peer.ID, source string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, exists := n.peers[id]; exists {
		if p.Source == "" {
			p.Source = source
		}
		return
	}
	n.peers[id] = &Peer{ID: id, ConnectedAt: time.Now(), Source: source}
}

func (n *Node) hasPeer(id peer.ID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.peers[id]
	return ok
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
