package listener

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/relay"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/internal/wallet/wallettest"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

func startHub(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	hub := relay.NewHub(relay.HubConfig{})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.DropAll()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type party struct {
	w    *wallettest.Wallet
	tr   *Transports
	m    *Manager
	addr types.Address
}

func newParty(t *testing.T, seed byte, url string) *party {
	t.Helper()
	w := wallettest.New(t, seed, nil)
	tr := NewTransports(TransportConfig{
		RelayURL:     url,
		ReplyTimeout: 5 * time.Second,
		Client: relay.ClientConfig{
			DialTimeout: 2 * time.Second,
			AuthTimeout: 2 * time.Second,
			BackoffBase: 10 * time.Millisecond,
			BackoffMax:  50 * time.Millisecond,
		},
	}, &Processor{Wallet: w.Wallet})
	m := NewManager(context.Background())
	t.Cleanup(m.Close)
	tr.Register(m)
	addr, err := w.Address()
	if err != nil {
		t.Fatal(err)
	}
	return &party{w: w, tr: tr, m: m, addr: addr}
}

func txStatus(t *testing.T, w *wallettest.Wallet, slateID string) walletdb.TxStatus {
	t.Helper()
	txs, err := w.Txs()
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range txs {
		if e.SlateID == slateID {
			return e.Status
		}
	}
	return ""
}

func TestRelayListeners_SendReceiveFinalize(t *testing.T) {
	hub, url := startHub(t)
	alice := newParty(t, 1, url)
	bob := newParty(t, 2, url)
	alice.w.Fund(t, 5, 10, 30)

	for _, p := range []*party{alice, bob} {
		if res, err := p.m.Start(Kind{Type: Relay}); err != nil || res != Started {
			t.Fatalf("Start relay = %s, %v", res, err)
		}
	}
	waitUntil(t, "subscriptions", func() bool {
		return hub.Subscribed(alice.addr) && hub.Subscribed(bob.addr)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sl, err := alice.w.Initiate(ctx, wallet.InitTxArgs{Amount: 12, Strategy: wallet.StrategySmallest, Recipient: &bob.addr})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	data, _ := sl.Marshal()
	if err := alice.tr.SendRelay(ctx, bob.addr, data); err != nil {
		t.Fatalf("SendRelay: %v", err)
	}

	id := sl.ID.String()
	waitUntil(t, "bob to receive", func() bool { return txStatus(t, bob.w, id) == walletdb.StatusReceived })
	waitUntil(t, "alice to finalize", func() bool { return txStatus(t, alice.w, id) == walletdb.StatusFinalized })
}

func TestRelayListener_LeasesAddress(t *testing.T) {
	hub, url := startHub(t)
	p := newParty(t, 3, url)
	kind := Kind{Type: Relay}
	p.m.Start(kind)
	waitUntil(t, "subscription", func() bool { return hub.Subscribed(p.addr) })

	if _, err := p.w.SwitchAddress(5); !errors.Is(err, werr.ErrAddressInUse) {
		t.Fatalf("SwitchAddress while listening = %v, want ErrAddressInUse", err)
	}
	p.m.Stop(kind)
	if _, err := p.w.SwitchAddress(5); err != nil {
		t.Fatalf("SwitchAddress after stop: %v", err)
	}
}

func TestRelayListener_StartDuringSwitches(t *testing.T) {
	hub, url := startHub(t)
	p := newParty(t, 5, url)
	kind := Kind{Type: Relay}

	for round := range 10 {
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := uint32(round); ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := p.w.SwitchAddress(i % 3); err != nil && !errors.Is(err, werr.ErrAddressInUse) {
					t.Errorf("SwitchAddress: %v", err)
					return
				}
			}
		}()

		if _, err := p.m.Start(kind); err != nil {
			t.Fatalf("Start relay: %v", err)
		}
		close(stop)
		<-done

		cur, err := p.w.Address()
		if err != nil {
			t.Fatal(err)
		}
		waitUntil(t, "listener on the current address", func() bool { return hub.Subscribed(cur) })
		if _, err := p.w.SwitchAddress(7); !errors.Is(err, werr.ErrAddressInUse) {
			t.Fatalf("SwitchAddress while listening = %v, want ErrAddressInUse", err)
		}

		p.m.Stop(kind)
		waitUntil(t, "unsubscribe", func() bool { return !hub.Subscribed(cur) })
	}
}

func TestRelayListener_NoRelayConfigured(t *testing.T) {
	p := newParty(t, 4, "")
	if _, err := p.m.Start(Kind{Type: Relay}); !errors.Is(err, werr.ErrInvalidState) {
		t.Fatalf("Start without relay = %v", err)
	}
	if _, err := p.m.Start(Kind{Type: P2P}); !errors.Is(err, werr.ErrInvalidState) {
		t.Fatalf("Start p2p without node = %v", err)
	}
}

func TestProcessor_Routing(t *testing.T) {
	ctx := context.Background()
	alice := wallettest.New(t, 1, nil)
	bob := wallettest.New(t, 2, nil)
	alice.Fund(t, 50)
	from, _ := alice.Address()

	bobProc := &Processor{Wallet: bob.Wallet}
	aliceProc := &Processor{Wallet: alice.Wallet}

	sl, err := alice.Initiate(ctx, wallet.InitTxArgs{Amount: 20, Strategy: wallet.StrategySmallest})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := sl.Marshal()

	reply, err := bobProc.Process(ctx, from, data)
	if err != nil || reply == nil {
		t.Fatalf("send slate: reply=%v err=%v", reply != nil, err)
	}
	back, err := slate.Parse(reply)
	if err != nil || back.Stage() != slate.StageResponded {
		t.Fatalf("reply stage = %v, %v", back, err)
	}

	out, err := aliceProc.Process(ctx, from, reply)
	if err != nil || out != nil {
		t.Fatalf("responded slate: out=%v err=%v", out != nil, err)
	}
	if got := txStatus(t, alice, sl.ID.String()); got != walletdb.StatusFinalized {
		t.Fatalf("alice status = %s", got)
	}

	// Replaying the finished exchange is rejected.
	if _, err := aliceProc.Process(ctx, from, reply); err == nil {
		t.Error("second finalize accepted")
	}
	if _, err := bobProc.Process(ctx, from, []byte("not a slate")); err == nil {
		t.Error("garbage accepted")
	}
}

func TestProcessor_InvoiceNotPaid(t *testing.T) {
	ctx := context.Background()
	issuer := wallettest.New(t, 1, nil)
	payer := wallettest.New(t, 2, nil)
	payer.Fund(t, 50)
	from, _ := issuer.Address()

	inv, err := issuer.IssueInvoice(ctx, wallet.InvoiceArgs{Amount: 10})
	if err != nil {
		t.Fatalf("IssueInvoice: %v", err)
	}
	data, _ := inv.Marshal()

	reply, err := (&Processor{Wallet: payer.Wallet}).Process(ctx, from, data)
	if err != nil || reply != nil {
		t.Fatalf("invoice: reply=%v err=%v", reply != nil, err)
	}
	if locked, _ := payer.Outputs(walletdb.OutputLocked); len(locked) != 0 {
		t.Error("invoice locked payer outputs")
	}
}
