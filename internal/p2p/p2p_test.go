package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

type received struct {
	from    types.Address
	payload []byte
}

// startTestNode creates, starts, and returns a P2P node on a random port.
func startTestNode(t *testing.T, network types.Network) *Node {
	t.Helper()
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, Network: network})
	if err := n.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

// connectNodes connects node B to node A via direct libp2p connect.
func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	aInfo := peer.AddrInfo{ID: a.host.ID(), Addrs: a.host.Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.host.Connect(ctx, aInfo); err != nil {
		t.Fatalf("connect nodes: %v", err)
	}
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func listen(t *testing.T, n *Node, key *crypto.PrivateKey) (types.Address, <-chan received) {
	t.Helper()
	ch := make(chan received, 4)
	addr, err := n.Listen(key, func(_ context.Context, from types.Address, payload []byte) {
		ch <- received{from, payload}
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return addr, ch
}

func TestNode_Lifecycle(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, Network: types.Testnet})
	if n.ID() != "" || n.Addrs() != nil {
		t.Error("identity before Start")
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	n = New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, Network: types.Testnet})
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.ID() == "" || len(n.Addrs()) == 0 {
		t.Error("no identity after Start")
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNode_IdentityPersists(t *testing.T) {
	dir := t.TempDir()
	first, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := loadOrCreateIdentity(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equals(second) {
		t.Error("identity changed across loads")
	}
}

func TestNode_NotStarted(t *testing.T) {
	n := New(Config{Network: types.Testnet})
	if _, err := n.Listen(mustKey(t), nil); err == nil {
		t.Error("Listen before Start succeeded")
	}
	to := types.Address{Network: types.Testnet, PublicKey: mustKey(t).PubKey()}
	err := n.Send(context.Background(), mustKey(t), to, []byte("x"))
	if !errors.Is(err, werr.ErrTransport) {
		t.Errorf("Send before Start = %v, want ErrTransport", err)
	}
}

func TestRendezvousAndTopic(t *testing.T) {
	n := New(Config{Network: types.Testnet})
	if got := n.rendezvous(); got != "slatewallet/testnet" {
		t.Errorf("rendezvous = %q", got)
	}
	key := mustKey(t)
	plain := types.Address{Network: types.Testnet, PublicKey: key.PubKey()}
	suffixed := plain
	suffixed.Host = "relay.example"
	if SlateTopic(plain) != SlateTopic(suffixed) {
		t.Error("relay suffix changed the topic")
	}
	other := types.Address{Network: types.Mainnet, PublicKey: key.PubKey()}
	if SlateTopic(plain) == SlateTopic(other) {
		t.Error("networks share a topic")
	}
}

func TestTwoNodes_SlateDelivery(t *testing.T) {
	alice := startTestNode(t, types.Testnet)
	bob := startTestNode(t, types.Testnet)
	connectNodes(t, alice, bob)

	aliceKey, bobKey := mustKey(t), mustKey(t)
	bobAddr, bobGot := listen(t, bob, bobKey)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := alice.Send(ctx, aliceKey, bobAddr, []byte(`{"slate":1}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case r := <-bobGot:
		if string(r.payload) != `{"slate":1}` {
			t.Errorf("payload = %q", r.payload)
		}
		if r.from.PublicKey != aliceKey.PubKey() {
			t.Error("sender not authenticated as alice")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for slate")
	}
}

func TestTwoNodes_ForgedSlateRejected(t *testing.T) {
	alice := startTestNode(t, types.Testnet)
	bob := startTestNode(t, types.Testnet)
	connectNodes(t, alice, bob)

	bobAddr, bobGot := listen(t, bob, mustKey(t))
	topic := SlateTopic(bobAddr)

	// Alice signs as one key but claims to be another.
	signer := mustKey(t)
	claimed := types.Address{Network: types.Testnet, PublicKey: mustKey(t).PubKey()}
	msg, err := newSlateMessage(signer, claimed, "envelope", topic)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(msg)

	alice.slateMu.Lock()
	tp, err := alice.joinTopic(topic)
	alice.slateMu.Unlock()
	if err != nil {
		t.Fatalf("joinTopic: %v", err)
	}
	// Alice's own validator accepts locally published messages; bob's rejects.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Publish(ctx, data, pubsub.WithReadiness(pubsub.MinTopicSize(1))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for bob.BanManager.Score(alice.ID()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("forging peer was not penalized")
		}
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case r := <-bobGot:
		t.Fatalf("forged slate delivered: %+v", r)
	default:
	}
}

func TestSend_WrongNetwork(t *testing.T) {
	n := startTestNode(t, types.Testnet)
	to := types.Address{Network: types.Mainnet, PublicKey: mustKey(t).PubKey()}
	err := n.Send(context.Background(), mustKey(t), to, []byte("x"))
	if !errors.Is(err, werr.ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestTwoNodes_HandshakeNetworkMismatch(t *testing.T) {
	a := startTestNode(t, types.Testnet)
	b := startTestNode(t, types.Mainnet)
	connectNodes(t, a, b)

	deadline := time.Now().Add(5 * time.Second)
	for !a.BanManager.IsBanned(b.ID()) && !b.BanManager.IsBanned(a.ID()) {
		if time.Now().After(deadline) {
			t.Fatal("mismatched network not banned")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestValidateHandshake(t *testing.T) {
	n := New(Config{Network: types.Testnet})
	if r := n.validateHandshake(n.buildHandshakeMessage()); r != "" {
		t.Errorf("own handshake rejected: %s", r)
	}
	if r := n.validateHandshake(HandshakeMessage{ProtocolVersion: ProtocolVersion, Network: types.Mainnet}); r == "" {
		t.Error("network mismatch accepted")
	}
	if r := n.validateHandshake(HandshakeMessage{ProtocolVersion: 0, Network: types.Testnet}); r == "" {
		t.Error("old protocol accepted")
	}
}

func TestNode_PeerPersistence(t *testing.T) {
	db := storage.NewMemory()
	a := New(Config{ListenAddr: "127.0.0.1", NoDiscover: true, DB: db, Network: types.Testnet})
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	b := startTestNode(t, types.Testnet)
	connectNodes(t, a, b)

	deadline := time.Now().Add(5 * time.Second)
	for a.PeerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no peer")
		}
		time.Sleep(20 * time.Millisecond)
	}
	a.persistPeers()

	rec, err := NewPeerStore(storage.NewPrefixDB(db, storePrefix)).Load(b.ID())
	if err != nil {
		t.Fatalf("peer not persisted: %v", err)
	}
	if len(rec.Addrs) == 0 {
		t.Error("persisted peer has no addresses")
	}
}

func TestDecodeSlateMessage(t *testing.T) {
	key := mustKey(t)
	from := types.Address{Network: types.Testnet, PublicKey: key.PubKey()}
	msg, err := newSlateMessage(key, from, "env", "topic-a")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(msg)

	if _, got, err := decodeSlateMessage(data, "topic-a"); err != nil || got.PublicKey != from.PublicKey {
		t.Fatalf("decode = %v, %v", got, err)
	}
	// The signature binds the topic, so a replay onto another address fails.
	if _, _, err := decodeSlateMessage(data, "topic-b"); err == nil {
		t.Error("message replayed onto another topic")
	}
	if _, _, err := decodeSlateMessage([]byte("{"), "topic-a"); err == nil {
		t.Error("garbage accepted")
	}
}

func FuzzDecodeSlateMessage(f *testing.F) {
	f.Add([]byte(`{"from":"x","envelope":"e","signature":"00"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Fuzz(func(t *testing.T, data []byte) {
		decodeSlateMessage(data, "topic")
	})
}
