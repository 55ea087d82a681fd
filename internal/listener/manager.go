// Package listener runs the wallet's long-lived inbound channels (relay
// subscriptions, the p2p slate channel and the owner and foreign APIs) and
// lets callers start, stop and inspect them by kind.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// Type is the transport a listener serves.
type Type string

const (
	Relay      Type = "relay"
	P2P        Type = "p2p"
	OwnerAPI   Type = "owner_api"
	ForeignAPI Type = "foreign_api"
)

// ParseType maps a listener type name to a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Relay, P2P, OwnerAPI, ForeignAPI:
		return t, nil
	}
	return "", fmt.Errorf("unknown listener type %q", s)
}

// Kind identifies one listener. Name distinguishes several listeners of the
// same type, e.g. subscriptions on two relays.
type Kind struct {
	Type Type   `json:"type"`
	Name string `json:"name,omitempty"`
}

func (k Kind) String() string {
	if k.Name == "" {
		return string(k.Type)
	}
	return string(k.Type) + "/" + k.Name
}

// StartResult reports what Start did.
type StartResult string

const (
	Started        StartResult = "Started"
	AlreadyRunning StartResult = "AlreadyRunning"
)

// StopResult reports what Stop did.
type StopResult string

const (
	Stopped    StopResult = "Stopped"
	NotRunning StopResult = "NotRunning"
)

// Runner is the body of a listener. It adds its goroutines to g and returns;
// every goroutine must exit once ctx is done. An error returned from any of
// them cancels ctx and ends the listener.
type Runner func(ctx context.Context, g *errgroup.Group) error

// Factory builds the Runner for a kind.
type Factory func(kind Kind) (Runner, error)

// Status describes a known listener.
type Status struct {
	Kind      Kind      `json:"kind"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type instance struct {
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// Manager owns the set of running listeners.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	factories map[Type]Factory
	running   map[Kind]*instance
	lastErr   map[Kind]error
}

// NewManager creates a manager whose listeners all end when ctx is done.
func NewManager(ctx context.Context) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		ctx:       ctx,
		cancel:    cancel,
		factories: make(map[Type]Factory),
		running:   make(map[Kind]*instance),
		lastErr:   make(map[Kind]error),
	}
}

// Register installs the factory for a listener type.
func (m *Manager) Register(typ Type, f Factory) {
	m.mu.Lock()
	m.factories[typ] = f
	m.mu.Unlock()
}

// Start launches the listener for kind unless it is already running.
func (m *Manager) Start(kind Kind) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[kind]; ok {
		return AlreadyRunning, nil
	}
	if m.ctx.Err() != nil {
		return "", werr.Wrap(werr.ErrInvalidState, "listener manager stopped")
	}
	f, ok := m.factories[kind.Type]
	if !ok {
		return "", werr.Wrap(werr.ErrInvalidState, "no %s listener configured", kind.Type)
	}
	run, err := f(kind)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	g, gctx := errgroup.WithContext(ctx)
	if err := run(gctx, g); err != nil {
		cancel()
		g.Wait()
		m.lastErr[kind] = err
		return "", err
	}

	inst := &instance{cancel: cancel, done: make(chan struct{}), startedAt: time.Now()}
	m.running[kind] = inst
	delete(m.lastErr, kind)
	metrics.ListenerStarted(string(kind.Type))
	log.Listener.Info().Str("listener", kind.String()).Msg("Listener started")

	go m.wait(kind, inst, g)
	return Started, nil
}

// wait reaps a listener once its group exits, whether it was stopped or
// failed on its own.
func (m *Manager) wait(kind Kind, inst *instance, g *errgroup.Group) {
	err := g.Wait()
	inst.cancel()

	m.mu.Lock()
	if m.running[kind] == inst {
		delete(m.running, kind)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.lastErr[kind] = err
	}
	m.mu.Unlock()

	metrics.ListenerStopped(string(kind.Type))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Listener.Error().Err(err).Str("listener", kind.String()).Msg("Listener exited")
	} else {
		log.Listener.Info().Str("listener", kind.String()).Msg("Listener stopped")
	}
	close(inst.done)
}

// Stop cancels the listener for kind and waits for it to exit.
func (m *Manager) Stop(kind Kind) (StopResult, error) {
	m.mu.Lock()
	inst, ok := m.running[kind]
	m.mu.Unlock()
	if !ok {
		return NotRunning, nil
	}
	inst.cancel()
	<-inst.done
	return Stopped, nil
}

// Running reports whether the listener for kind is running.
func (m *Manager) Running(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[kind]
	return ok
}

// Status lists running listeners and stopped ones that left an error.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[Kind]*Status)
	for k, inst := range m.running {
		seen[k] = &Status{Kind: k, Running: true, StartedAt: inst.startedAt}
	}
	for k, err := range m.lastErr {
		s, ok := seen[k]
		if !ok {
			s = &Status{Kind: k}
			seen[k] = s
		}
		s.LastError = err.Error()
	}

	list := make([]Status, 0, len(seen))
	for _, s := range seen {
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Kind.String() < list[j].Kind.String() })
	return list
}

// Close stops every listener and waits for them. Start fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	insts := make([]*instance, 0, len(m.running))
	for _, inst := range m.running {
		insts = append(insts, inst)
	}
	m.mu.Unlock()

	m.cancel()
	for _, inst := range insts {
		<-inst.done
	}
}
