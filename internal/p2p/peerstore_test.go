package p2p

import (
	"testing"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/lightningnetwork/lnd/clock"
	ma "github.com/multiformats/go-multiaddr"
)

func newTestPeerStore(db storage.DB) (*PeerStore, *clock.TestClock) {
	ps := NewPeerStore(db)
	tc := clock.NewTestClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ps.clock = tc
	return ps, tc
}

func addrs(t *testing.T, ss ...string) []ma.Multiaddr {
	t.Helper()
	var out []ma.Multiaddr
	for _, s := range ss {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, a)
	}
	return out
}

func TestPeerStore_SaveLoad(t *testing.T) {
	ps, tc := newTestPeerStore(storage.NewMemory())
	id := generateTestPeerID(t)

	if err := ps.Save(id, addrs(t, "/ip4/10.0.0.1/tcp/4001"), "mdns"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tc.SetTime(tc.Now().Add(time.Minute))
	if err := ps.Save(id, addrs(t, "/ip4/10.0.0.2/tcp/4001", "/ip4/10.0.0.3/tcp/4001"), "dht"); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	rec, err := ps.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.ID != id || rec.Source != "dht" || rec.LastSeen != tc.Now().Unix() {
		t.Errorf("record = %+v", rec)
	}
	if info := rec.AddrInfo(); len(info.Addrs) != 2 {
		t.Errorf("AddrInfo has %d addrs, want 2", len(info.Addrs))
	}
	if n, _ := ps.Count(); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	if err := ps.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, err := ps.Load(id); err == nil {
		t.Error("Load after Delete succeeded")
	}
}

func TestPeerStore_Prune(t *testing.T) {
	db := storage.NewMemory()
	ps, tc := newTestPeerStore(db)
	stale, fresh := generateTestPeerID(t), generateTestPeerID(t)

	ps.Save(stale, nil, "seed")
	tc.SetTime(tc.Now().Add(47 * time.Hour))
	ps.Save(fresh, nil, "seed")
	db.Put(append([]byte("peer/"), "garbage"...), []byte("{"))
	tc.SetTime(tc.Now().Add(time.Hour))

	n, err := ps.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want the stale and the corrupt record", n)
	}
	all, _ := ps.All()
	if len(all) != 1 || all[0].ID != fresh {
		t.Errorf("survivors = %+v", all)
	}
}

func TestPeerStore_EvictsStalest(t *testing.T) {
	ps, tc := newTestPeerStore(storage.NewMemory())
	first := generateTestPeerID(t)
	ps.Save(first, nil, "")
	for i := 1; i < maxPersistedPeers; i++ {
		tc.SetTime(tc.Now().Add(time.Second))
		if err := ps.Save(generateTestPeerID(t), nil, ""); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	tc.SetTime(tc.Now().Add(time.Second))
	newcomer := generateTestPeerID(t)
	if err := ps.Save(newcomer, nil, "dht"); err != nil {
		t.Fatal(err)
	}
	if n, _ := ps.Count(); n != maxPersistedPeers {
		t.Errorf("Count = %d, want %d", n, maxPersistedPeers)
	}
	if _, err := ps.Load(first); err == nil {
		t.Error("stalest peer kept")
	}
	if _, err := ps.Load(newcomer); err != nil {
		t.Errorf("newcomer not stored: %v", err)
	}
}

func TestNode_ResetPeerData(t *testing.T) {
	db := storage.NewMemory()
	db.Put([]byte("o/unrelated"), []byte("wallet data"))

	n := New(Config{ListenAddr: "127.0.0.1", DB: db, Network: "testnet"})
	n.peerStore.Save(generateTestPeerID(t), nil, "seed")
	n.banStore.Put(&BanRecord{ID: "b", ExpiresAt: 0})

	if err := n.ResetPeerData(); err != nil {
		t.Fatalf("ResetPeerData: %v", err)
	}
	if c, _ := n.peerStore.Count(); c != 0 {
		t.Errorf("%d peers left", c)
	}
	if ok, _ := db.Has([]byte("p2p/ban/b")); ok {
		t.Error("ban record left")
	}
	if ok, _ := db.Has([]byte("o/unrelated")); !ok {
		t.Error("reset touched keys outside the p2p namespace")
	}
}
