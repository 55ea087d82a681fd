package p2p

import "testing"

func TestParseSeeds(t *testing.T) {
	id := generateTestPeerID(t)
	seeds := parseSeeds([]string{
		"/ip4/10.0.0.1/tcp/31303/p2p/" + id.String(),
		"/ip4/10.0.0.2/tcp/31303",
		"not-a-multiaddr",
	})
	if len(seeds) != 1 {
		t.Fatalf("parsed %d seeds, want 1", len(seeds))
	}
	if seeds[0].ID != id || len(seeds[0].Addrs) != 1 {
		t.Errorf("seed = %+v", seeds[0])
	}
}

func TestNode_AtCapacity(t *testing.T) {
	n := New(Config{MaxPeers: 1})
	if n.atCapacity() {
		t.Fatal("empty node at capacity")
	}
	n.addPeerFrom(generateTestPeerID(t), "seed")
	if !n.atCapacity() {
		t.Error("node with MaxPeers peers not at capacity")
	}

	unlimited := New(Config{})
	unlimited.addPeerFrom(generateTestPeerID(t), "seed")
	if unlimited.atCapacity() {
		t.Error("MaxPeers 0 should mean no limit")
	}
}
