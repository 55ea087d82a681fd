package p2p

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/storage"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lightningnetwork/lnd/clock"
)

func generateTestPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("peer id from key: %v", err)
	}
	return id
}

func newTestBanManager(store *BanStore) (*BanManager, *clock.TestClock) {
	bm := NewBanManager(store, nil)
	tc := clock.NewTestClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	bm.clock = tc
	return bm, tc
}

func TestBanManager_ScoreAccumulation(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	id := peer.ID("forger")

	for i := 1; i < BanThreshold/PenaltyInvalidSlate; i++ {
		bm.RecordOffense(id, PenaltyInvalidSlate, "forged slate")
		if bm.IsBanned(id) {
			t.Fatalf("banned after %d offenses", i)
		}
		if got := bm.Score(id); got != i*PenaltyInvalidSlate {
			t.Fatalf("score = %d, want %d", got, i*PenaltyInvalidSlate)
		}
	}
	bm.RecordOffense(id, PenaltyInvalidSlate, "forged slate")
	if !bm.IsBanned(id) {
		t.Fatal("not banned at threshold")
	}
	if bm.Score(id) != 0 {
		t.Error("score kept after ban")
	}
}

func TestBanManager_HandshakeFailIsInstant(t *testing.T) {
	bm, _ := newTestBanManager(nil)
	id := peer.ID("other-network")
	bm.RecordOffense(id, PenaltyHandshakeFail, "network mismatch")
	if !bm.IsBanned(id) {
		t.Fatal("handshake failure should ban immediately")
	}
	list := bm.BanList()
	if len(list) != 1 || list[0].Reason != "network mismatch" {
		t.Errorf("BanList = %+v", list)
	}
}

func TestBanManager_Expiry(t *testing.T) {
	bm, tc := newTestBanManager(nil)
	id := peer.ID("temp")
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad")

	tc.SetTime(tc.Now().Add(BanDuration - time.Second))
	if !bm.IsBanned(id) {
		t.Fatal("ban lapsed early")
	}
	tc.SetTime(tc.Now().Add(2 * time.Second))
	if bm.IsBanned(id) {
		t.Fatal("ban outlived its duration")
	}
	if len(bm.BanList()) != 0 {
		t.Error("expired ban still listed")
	}
}

func TestBanManager_Persistence(t *testing.T) {
	store := NewBanStore(storage.NewMemory())
	bm, tc := newTestBanManager(store)
	id := generateTestPeerID(t)
	bm.RecordOffense(id, PenaltyHandshakeFail, "network mismatch")

	bm2, tc2 := newTestBanManager(store)
	tc2.SetTime(tc.Now())
	bm2.LoadBans()
	if !bm2.IsBanned(id) {
		t.Fatal("ban did not survive reload")
	}

	bm3, tc3 := newTestBanManager(store)
	tc3.SetTime(tc.Now().Add(BanDuration + time.Minute))
	bm3.LoadBans()
	if bm3.IsBanned(id) {
		t.Fatal("expired ban reloaded")
	}
	if _, err := store.Get(id); err == nil {
		t.Error("expired ban not pruned from store")
	}
}

func TestBanManager_Unban(t *testing.T) {
	store := NewBanStore(storage.NewMemory())
	bm, _ := newTestBanManager(store)
	id := generateTestPeerID(t)
	bm.RecordOffense(id, PenaltyHandshakeFail, "bad")
	bm.Unban(id)
	if bm.IsBanned(id) {
		t.Fatal("still banned after Unban")
	}
	if _, err := store.Get(id); err == nil {
		t.Error("ban record left in store")
	}
}
