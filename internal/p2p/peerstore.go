package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lightningnetwork/lnd/clock"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	peerMaxAge        = 7 * 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 200
)

var peerNamespace = []byte("peer/")

// PeerRecord is a remembered peer. A restarted wallet redials these to
// rejoin the slate mesh without seeds.
type PeerRecord struct {
	ID       peer.ID  `json:"id"`
	Addrs    []string `json:"addrs"`
	LastSeen int64    `json:"last_seen"`
	Source   string   `json:"source,omitempty"`
}

// AddrInfo parses the record for dialing. Unparseable addresses are dropped.
func (r *PeerRecord) AddrInfo() peer.AddrInfo {
	info := peer.AddrInfo{ID: r.ID}
	for _, s := range r.Addrs {
		if a, err := ma.NewMultiaddr(s); err == nil {
			info.Addrs = append(info.Addrs, a)
		}
	}
	return info
}

// PeerStore keeps at most maxPersistedPeers records. When full, a new
// peer replaces the one seen longest ago.
type PeerStore struct {
	db    *storage.PrefixDB
	clock clock.Clock
}

// NewPeerStore keeps records in the "peer/" namespace of db.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{
		db:    storage.NewPrefixDB(db, peerNamespace),
		clock: clock.NewDefaultClock(),
	}
}

// Save records that id was reachable at addrs just now.
func (ps *PeerStore) Save(id peer.ID, addrs []ma.Multiaddr, source string) error {
	rec := PeerRecord{ID: id, LastSeen: ps.clock.Now().Unix(), Source: source}
	for _, a := range addrs {
		rec.Addrs = append(rec.Addrs, a.String())
	}
	return ps.put(&rec)
}

func (ps *PeerStore) put(rec *PeerRecord) error {
	key := []byte(rec.ID)
	known, err := ps.db.Has(key)
	if err != nil {
		return fmt.Errorf("look up peer: %w", err)
	}
	if !known {
		if err := ps.makeRoom(); err != nil {
			return err
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode peer record: %w", err)
	}
	return ps.db.Put(key, data)
}

// makeRoom evicts the stalest record if the store is full.
func (ps *PeerStore) makeRoom() error {
	all, err := ps.All()
	if err != nil || len(all) < maxPersistedPeers {
		return err
	}
	oldest := all[0]
	for _, r := range all[1:] {
		if r.LastSeen < oldest.LastSeen {
			oldest = r
		}
	}
	return ps.db.Delete([]byte(oldest.ID))
}

// Load returns the record for id.
func (ps *PeerStore) Load(id peer.ID) (*PeerRecord, error) {
	data, err := ps.db.Get([]byte(id))
	if err != nil {
		return nil, fmt.Errorf("load peer %s: %w", shortID(id), err)
	}
	var rec PeerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode peer record: %w", err)
	}
	return &rec, nil
}

// All returns every readable record.
func (ps *PeerStore) All() ([]PeerRecord, error) {
	var out []PeerRecord
	err := ps.db.ForEach(nil, func(_, v []byte) error {
		var rec PeerRecord
		if json.Unmarshal(v, &rec) == nil {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Delete forgets id.
func (ps *PeerStore) Delete(id peer.ID) error {
	return ps.db.Delete([]byte(id))
}

// Prune drops records older than maxAge and records that fail to decode.
func (ps *PeerStore) Prune(maxAge time.Duration) (int, error) {
	cutoff := ps.clock.Now().Add(-maxAge).Unix()
	batch := ps.db.NewBatch()
	n := 0
	err := ps.db.ForEach(nil, func(k, v []byte) error {
		var rec PeerRecord
		if json.Unmarshal(v, &rec) != nil || rec.LastSeen < cutoff {
			n++
			return batch.Delete(k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan peers: %w", err)
	}
	return n, batch.Commit()
}

// Count returns the number of stored records.
func (ps *PeerStore) Count() (int, error) {
	n := 0
	err := ps.db.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// --- node persistence loop ---

func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}
	for _, p := range n.PeerList() {
		addrs := n.host.Peerstore().Addrs(p.ID)
		if len(addrs) == 0 {
			continue
		}
		if err := n.peerStore.Save(p.ID, addrs, p.Source); err != nil {
			log.P2P.Debug().Err(err).Str("peer", shortID(p.ID)).Msg("Persist peer failed")
		}
	}
}

func (n *Node) loadPersistedPeers() {
	if n.peerStore == nil {
		return
	}
	n.peerStore.Prune(peerMaxAge)

	records, err := n.peerStore.All()
	if err != nil {
		return
	}
	for _, rec := range records {
		if n.atCapacity() {
			return
		}
		n.dial(rec.AddrInfo(), "stored", peerConnectTimeout)
	}
}

func (n *Node) runPersistLoop() {
	t := time.NewTicker(persistInterval)
	defer t.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-t.C:
			n.persistPeers()
			n.peerStore.Prune(peerMaxAge)
		}
	}
}
