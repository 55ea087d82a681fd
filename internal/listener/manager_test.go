package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// blockingFactory returns runners that park until cancelled.
func blockingFactory(Kind) (Runner, error) {
	return func(ctx context.Context, g *errgroup.Group) error {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
		return nil
	}, nil
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_StartStop(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()
	m.Register(OwnerAPI, blockingFactory)
	kind := Kind{Type: OwnerAPI}

	if res, err := m.Start(kind); err != nil || res != Started {
		t.Fatalf("Start = %s, %v", res, err)
	}
	if res, err := m.Start(kind); err != nil || res != AlreadyRunning {
		t.Fatalf("second Start = %s, %v", res, err)
	}
	if !m.Running(kind) {
		t.Fatal("not running after Start")
	}
	st := m.Status()
	if len(st) != 1 || !st[0].Running || st[0].Kind != kind {
		t.Fatalf("Status = %+v", st)
	}

	if res, err := m.Stop(kind); err != nil || res != Stopped {
		t.Fatalf("Stop = %s, %v", res, err)
	}
	if res, _ := m.Stop(kind); res != NotRunning {
		t.Fatalf("second Stop = %s", res)
	}
	if len(m.Status()) != 0 {
		t.Errorf("Status after clean stop = %+v", m.Status())
	}

	// Restart after stop.
	if res, _ := m.Start(kind); res != Started {
		t.Fatalf("restart = %s", res)
	}
}

func TestManager_NamedKindsAreIndependent(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()
	m.Register(Relay, blockingFactory)

	a := Kind{Type: Relay, Name: "wss://a.example"}
	b := Kind{Type: Relay, Name: "wss://b.example"}
	m.Start(a)
	if res, _ := m.Start(b); res != Started {
		t.Fatalf("Start(b) = %s", res)
	}
	m.Stop(a)
	if m.Running(a) || !m.Running(b) {
		t.Error("stopping one relay listener affected the other")
	}
}

func TestManager_FailureEndsOnlyThatListener(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()
	m.Register(OwnerAPI, blockingFactory)
	authErr := werr.Wrap(werr.ErrAuth, "relay rejected subscription")
	m.Register(Relay, func(Kind) (Runner, error) {
		return func(ctx context.Context, g *errgroup.Group) error {
			g.Go(func() error {
				<-ctx.Done()
				return nil
			})
			g.Go(func() error { return authErr })
			return nil
		}, nil
	})

	owner, rl := Kind{Type: OwnerAPI}, Kind{Type: Relay}
	m.Start(owner)
	m.Start(rl)

	waitUntil(t, "relay listener to exit", func() bool { return !m.Running(rl) })
	if !m.Running(owner) {
		t.Fatal("relay failure stopped the owner API")
	}

	var relayStatus *Status
	for _, s := range m.Status() {
		if s.Kind == rl {
			s := s
			relayStatus = &s
		}
	}
	if relayStatus == nil || relayStatus.Running || relayStatus.LastError != authErr.Error() {
		t.Fatalf("relay status = %+v", relayStatus)
	}

	// A later successful start clears the error.
	m.Register(Relay, blockingFactory)
	m.Start(rl)
	for _, s := range m.Status() {
		if s.Kind == rl && s.LastError != "" {
			t.Errorf("error kept after restart: %s", s.LastError)
		}
	}
}

func TestManager_SetupError(t *testing.T) {
	m := NewManager(context.Background())
	defer m.Close()
	setupErr := errors.New("address unavailable")
	m.Register(P2P, func(Kind) (Runner, error) {
		return func(ctx context.Context, g *errgroup.Group) error { return setupErr }, nil
	})

	if _, err := m.Start(Kind{Type: P2P}); !errors.Is(err, setupErr) {
		t.Fatalf("Start err = %v", err)
	}
	if m.Running(Kind{Type: P2P}) {
		t.Error("listener running after setup error")
	}
	if _, err := m.Start(Kind{Type: ForeignAPI}); !errors.Is(err, werr.ErrInvalidState) {
		t.Errorf("unregistered type err = %v", err)
	}
}

func TestManager_Close(t *testing.T) {
	m := NewManager(context.Background())
	m.Register(OwnerAPI, blockingFactory)
	m.Register(ForeignAPI, blockingFactory)
	m.Start(Kind{Type: OwnerAPI})
	m.Start(Kind{Type: ForeignAPI})

	m.Close()
	if len(m.Status()) != 0 {
		t.Errorf("listeners left after Close: %+v", m.Status())
	}
	if _, err := m.Start(Kind{Type: OwnerAPI}); err == nil {
		t.Error("Start after Close succeeded")
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"relay", "p2p", "owner_api", "foreign_api"} {
		if _, err := ParseType(s); err != nil {
			t.Errorf("ParseType(%q): %v", s, err)
		}
	}
	if _, err := ParseType("keybase"); err == nil {
		t.Error("unknown type accepted")
	}
	if got := (Kind{Type: Relay, Name: "wss://r"}).String(); got != "relay/wss://r" {
		t.Errorf("Kind.String = %q", got)
	}
}
