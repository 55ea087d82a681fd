package p2p

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lightningnetwork/lnd/clock"
)

// Ban thresholds and durations.
const (
	BanThreshold = 100
	BanDuration  = 24 * time.Hour

	banPruneInterval = 10 * time.Minute
)

// Penalty values for different offenses.
const (
	PenaltyInvalidSlate  = 25  // forged or malformed slate message
	PenaltyHandshakeFail = 100 // wrong network or protocol: instant ban
)

var banNamespace = []byte("ban/")

// BanRecord is a persisted ban entry.
type BanRecord struct {
	ID        string `json:"id"` // base58 peer ID
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"` // 0 = permanent
}

// ExpiredAt reports whether the ban has lapsed at now.
func (r *BanRecord) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}

// BanStore keeps ban records in the "ban/" namespace, keyed by the
// base58 peer ID.
type BanStore struct {
	db *storage.PrefixDB
}

func NewBanStore(db storage.DB) *BanStore {
	return &BanStore{db: storage.NewPrefixDB(db, banNamespace)}
}

func (bs *BanStore) Get(id peer.ID) (*BanRecord, error) {
	data, err := bs.db.Get([]byte(id.String()))
	if err != nil {
		return nil, err
	}
	rec := new(BanRecord)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode ban record: %w", err)
	}
	return rec, nil
}

func (bs *BanStore) Put(rec *BanRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ban record: %w", err)
	}
	return bs.db.Put([]byte(rec.ID), data)
}

func (bs *BanStore) Delete(id peer.ID) error {
	return bs.db.Delete([]byte(id.String()))
}

// ForEach visits every readable record.
func (bs *BanStore) ForEach(fn func(*BanRecord) error) error {
	return bs.db.ForEach(nil, func(_, v []byte) error {
		rec := new(BanRecord)
		if json.Unmarshal(v, rec) != nil {
			return nil
		}
		return fn(rec)
	})
}

// PruneExpired drops bans lapsed at now together with unreadable records,
// in one batch.
func (bs *BanStore) PruneExpired(now time.Time) (int, error) {
	batch := bs.db.NewBatch()
	n := 0
	err := bs.db.ForEach(nil, func(k, v []byte) error {
		var rec BanRecord
		if json.Unmarshal(v, &rec) == nil && !rec.ExpiredAt(now) {
			return nil
		}
		n++
		return batch.Delete(k)
	})
	if err != nil {
		return 0, fmt.Errorf("scan bans: %w", err)
	}
	return n, batch.Commit()
}

// BanManager scores peer offenses and bans peers that reach BanThreshold.
type BanManager struct {
	mu     sync.RWMutex
	scores map[peer.ID]int
	bans   map[peer.ID]*BanRecord
	store  *BanStore // nil disables persistence
	node   *Node     // nil skips disconnect-on-ban
	clock  clock.Clock
}

// NewBanManager creates a BanManager. Either argument may be nil.
func NewBanManager(store *BanStore, node *Node) *BanManager {
	return &BanManager{
		scores: make(map[peer.ID]int),
		bans:   make(map[peer.ID]*BanRecord),
		store:  store,
		node:   node,
		clock:  clock.NewDefaultClock(),
	}
}

// LoadBans restores unexpired persisted bans.
func (bm *BanManager) LoadBans() {
	if bm.store == nil {
		return
	}
	now := bm.clock.Now()
	bm.store.PruneExpired(now)

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.store.ForEach(func(rec *BanRecord) error {
		if rec.ExpiredAt(now) {
			return nil
		}
		if id, err := peer.Decode(rec.ID); err == nil {
			bm.bans[id] = rec
		}
		return nil
	})
}

// RecordOffense adds penalty to the peer's score and bans it once the
// score reaches BanThreshold.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) {
	now := bm.clock.Now()

	bm.mu.Lock()
	if rec, ok := bm.bans[id]; ok && !rec.ExpiredAt(now) {
		bm.mu.Unlock()
		return
	}
	bm.scores[id] += penalty
	if bm.scores[id] < BanThreshold {
		bm.mu.Unlock()
		return
	}
	rec := &BanRecord{
		ID:        id.String(),
		Reason:    reason,
		Score:     bm.scores[id],
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[id] = rec
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.store != nil {
		bm.store.Put(rec)
	}
	log.P2P.Warn().Str("peer", shortID(id)).Str("reason", reason).Int("score", rec.Score).Msg("Peer banned")

	if bm.node != nil {
		go bm.node.DisconnectPeer(id)
	}
}

// Score returns the peer's accumulated penalty below the ban threshold.
func (bm *BanManager) Score(id peer.ID) int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.scores[id]
}

// IsBanned reports whether the peer is currently banned. Lapsed bans are
// removed on the way.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.RLock()
	rec, ok := bm.bans[id]
	bm.mu.RUnlock()
	if !ok {
		return false
	}
	if !rec.ExpiredAt(bm.clock.Now()) {
		return true
	}
	bm.Unban(id)
	return false
}

// Unban removes a ban and any accumulated score.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	delete(bm.bans, id)
	delete(bm.scores, id)
	bm.mu.Unlock()
	if bm.store != nil {
		bm.store.Delete(id)
	}
}

// BanList returns a snapshot of active bans.
func (bm *BanManager) BanList() []BanRecord {
	now := bm.clock.Now()
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	var list []BanRecord
	for _, rec := range bm.bans {
		if !rec.ExpiredAt(now) {
			list = append(list, *rec)
		}
	}
	return list
}

// RunPruneLoop periodically drops lapsed bans until done is closed.
func (bm *BanManager) RunPruneLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-bm.clock.TickAfter(banPruneInterval):
			bm.pruneExpired()
		}
	}
}

func (bm *BanManager) pruneExpired() {
	now := bm.clock.Now()
	bm.mu.Lock()
	for id, rec := range bm.bans {
		if rec.ExpiredAt(now) {
			delete(bm.bans, id)
		}
	}
	bm.mu.Unlock()
	if bm.store != nil {
		bm.store.PruneExpired(now)
	}
}
