package listener

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/p2p"
	"github.com/Klingon-tech/slatewallet/internal/relay"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

const (
	defaultReplyTimeout = 10 * time.Minute
	inboundQueue        = 16
)

// TransportConfig configures the slate transports.
type TransportConfig struct {
	// RelayURL serves addresses without an @relay suffix.
	RelayURL string
	// Node is the p2p slate channel; nil disables p2p.
	Node *p2p.Node
	// ReplyTimeout bounds how long a reply is retried while the
	// counterparty is offline.
	ReplyTimeout time.Duration
	// Client overrides relay client timings. URL, Key, Address and Handler
	// are set per listener.
	Client relay.ClientConfig
}

// Transports delivers slates over the relay or the p2p channel and builds
// the listeners that receive them.
type Transports struct {
	cfg  TransportConfig
	proc *Processor

	mu      sync.Mutex
	clients map[string]*relay.Client // by relay URL, while listening
}

// NewTransports creates the transports for proc's wallet.
func NewTransports(cfg TransportConfig, proc *Processor) *Transports {
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	return &Transports{cfg: cfg, proc: proc, clients: make(map[string]*relay.Client)}
}

// Register installs the relay and p2p factories on m.
func (t *Transports) Register(m *Manager) {
	m.Register(Relay, t.relayFactory)
	if t.cfg.Node != nil {
		m.Register(P2P, t.p2pFactory)
	}
}

type inbound struct {
	from    types.Address
	payload []byte
}

// dispatch processes queued slates in arrival order and sends replies with
// reply.
func (t *Transports) dispatch(ctx context.Context, in <-chan inbound, reply func(context.Context, types.Address, []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-in:
			out, err := t.proc.Process(ctx, msg.from, msg.payload)
			if err != nil {
				log.Listener.Warn().Err(err).Str("from", msg.from.Stripped()).Msg("Dropping slate")
				continue
			}
			if out == nil {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, t.cfg.ReplyTimeout)
			err = reply(rctx, msg.from, out)
			cancel()
			if err != nil {
				log.Listener.Error().Err(err).Str("to", msg.from.Stripped()).Msg("Reply not delivered")
			}
		}
	}
}

func enqueue(in chan<- inbound) func(context.Context, types.Address, []byte) {
	return func(ctx context.Context, from types.Address, payload []byte) {
		select {
		case in <- inbound{from, payload}:
		case <-ctx.Done():
		}
	}
}

// relayFactory subscribes the wallet's current address on the relay named
// by kind.Name, or the configured relay when Name is empty. The address is
// leased for the listener's lifetime so it cannot be switched under it.
func (t *Transports) relayFactory(kind Kind) (Runner, error) {
	url := kind.Name
	if url == "" {
		url = t.cfg.RelayURL
	}
	if url == "" {
		return nil, werr.Wrap(werr.ErrInvalidState, "no relay configured")
	}
	return func(ctx context.Context, g *errgroup.Group) error {
		key, addr, release, err := t.proc.Wallet.LeaseAddressKey()
		if err != nil {
			return err
		}

		in := make(chan inbound, inboundQueue)
		cc := t.cfg.Client
		cc.URL, cc.Key, cc.Address, cc.Handler = url, key, addr, enqueue(in)
		client, err := relay.NewClient(cc)
		if err != nil {
			release()
			return err
		}

		t.mu.Lock()
		t.clients[url] = client
		t.mu.Unlock()

		g.Go(func() error {
			defer func() {
				t.mu.Lock()
				if t.clients[url] == client {
					delete(t.clients, url)
				}
				t.mu.Unlock()
				release()
			}()
			return client.Run(ctx)
		})
		g.Go(func() error {
			return t.dispatch(ctx, in, client.Post)
		})
		return nil
	}, nil
}

// p2pFactory listens for slates to the current address on the p2p channel.
func (t *Transports) p2pFactory(Kind) (Runner, error) {
	node := t.cfg.Node
	return func(ctx context.Context, g *errgroup.Group) error {
		key, _, err := t.proc.Wallet.AddressKey()
		if err != nil {
			return err
		}
		in := make(chan inbound, inboundQueue)
		addr, err := node.Listen(key, enqueue(in))
		if err != nil {
			return werr.Wrap(werr.ErrTransport, "%v", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			node.Unlisten(addr)
			return nil
		})
		g.Go(func() error {
			return t.dispatch(ctx, in, func(ctx context.Context, to types.Address, payload []byte) error {
				return node.Send(ctx, key, to, payload)
			})
		})
		return nil
	}, nil
}

// SendRelay posts payload to the relay serving to. It reuses the running
// listener's connection for that relay when there is one, otherwise it
// connects for the duration of the call.
func (t *Transports) SendRelay(ctx context.Context, to types.Address, payload []byte) error {
	url := relay.URLFor(to, t.cfg.RelayURL)
	if url == "" {
		return werr.Entity(werr.Wrap(werr.ErrInvalidAddress, "no relay for address"), "address", to.String())
	}

	t.mu.Lock()
	client := t.clients[url]
	t.mu.Unlock()
	if client != nil {
		return client.Post(ctx, to, payload)
	}

	key, addr, err := t.proc.Wallet.AddressKey()
	if err != nil {
		return err
	}
	cc := t.cfg.Client
	cc.URL, cc.Key, cc.Address, cc.Handler = url, key, addr, nil
	client, err = relay.NewClient(cc)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ran := make(chan error, 1)
	go func() { ran <- client.Run(runCtx) }()
	posted := make(chan error, 1)
	go func() { posted <- client.Post(runCtx, to, payload) }()

	select {
	case err := <-posted:
		cancel()
		<-ran
		return err
	case err := <-ran:
		// Run only ends early on an auth failure.
		cancel()
		postErr := <-posted
		if err != nil {
			return err
		}
		return postErr
	}
}

// SendP2P publishes payload to to on the p2p channel.
func (t *Transports) SendP2P(ctx context.Context, to types.Address, payload []byte) error {
	if t.cfg.Node == nil {
		return werr.Wrap(werr.ErrInvalidState, "p2p disabled")
	}
	key, _, err := t.proc.Wallet.AddressKey()
	if err != nil {
		return err
	}
	return t.cfg.Node.Send(ctx, key, to, payload)
}

// Outbox returns the slates waiting for delivery on the listening relays.
func (t *Transports) Outbox() []relay.OutboxEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []relay.OutboxEntry
	for _, c := range t.clients {
		all = append(all, c.Outbox().Pending()...)
	}
	return all
}
