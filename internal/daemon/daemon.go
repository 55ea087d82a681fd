// Package daemon assembles a running wallet: storage, the chain node
// client, the listener manager with its relay, p2p and API listeners, and
// the chain updater.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/slatewallet/config"
	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/internal/listener"
	klog "github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/p2p"
	"github.com/Klingon-tech/slatewallet/internal/relay"
	"github.com/Klingon-tech/slatewallet/internal/rpc"
	"github.com/Klingon-tech/slatewallet/internal/rpcclient"
	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
)

// Daemon is a fully-initialized wallet daemon.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db     storage.DB
	store  *walletdb.Store
	wallet *wallet.Wallet
	online bool

	// Networking
	p2pNode    *p2p.Node
	listeners  *listener.Manager
	transports *listener.Transports

	ownerSecret   string
	foreignSecret string
	ownerAddr     string // bound owner API address once started

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates and initializes a Daemon. It opens storage, connects the node
// client and starts the p2p host, but does NOT start listeners or the
// updater. Call Start() for that.
func New(cfg *config.Config, keys *keychain.Keychain) (*Daemon, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "slatewallet.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, expandHome(logFile)); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("daemon")

	if keys.Network() != cfg.Network {
		return nil, fmt.Errorf("keychain is for %s, config is for %s", keys.Network(), cfg.Network)
	}

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("backend", cfg.Wallet.Backend).
		Msg("Starting slatewallet")

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := storage.Open(cfg.Wallet.Backend, cfg.WalletDBPath())
	if err != nil {
		return nil, fmt.Errorf("open wallet database at %s: %w", cfg.WalletDBPath(), err)
	}
	store := walletdb.New(db)
	logger.Info().Str("path", cfg.WalletDBPath()).Msg("Database opened")

	// ── 3. Secrets ──────────────────────────────────────────────────
	ownerSecret, err := loadSecret(cfg.SecretPath(cfg.OwnerAPI.SecretFile))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("owner API secret: %w", err)
	}
	foreignSecret, err := loadSecret(cfg.SecretPath(cfg.ForeignAPI.SecretFile))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("foreign API secret: %w", err)
	}

	// ── 4. Wallet ───────────────────────────────────────────────────
	strategy, err := wallet.ParseStrategy(cfg.Wallet.Strategy)
	if err != nil {
		db.Close()
		return nil, err
	}
	wcfg := wallet.DefaultConfig()
	wcfg.MinConfirmations = cfg.Wallet.MinConfirmations
	wcfg.ChangeOutputs = cfg.Wallet.ChangeOutputs
	wcfg.Strategy = strategy
	if cfg.Wallet.AddressScan > 0 {
		wcfg.AddressScan = cfg.Wallet.AddressScan
	}

	var node wallet.NodeClient
	if cfg.Node.URL != "" {
		node = rpcclient.NewNode(rpcclient.NewWithTimeout(cfg.Node.URL, cfg.Node.Timeout))
		logger.Info().Str("url", cfg.Node.URL).Msg("Chain node configured")
	} else {
		logger.Warn().Msg("No chain node configured; wallet runs offline")
	}
	w := wallet.New(store, keys, node, wcfg)

	addr, err := w.Address()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("wallet address: %w", err)
	}
	logger.Info().Str("address", addr.String()).Msg("Wallet opened")

	// ── 5. P2P ──────────────────────────────────────────────────────
	var p2pNode *p2p.Node
	if cfg.P2P.Enabled {
		p2pNode = p2p.New(p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			MaxPeers:   cfg.P2P.MaxPeers,
			NoDiscover: cfg.P2P.NoDiscover,
			DB:         db,
			DHTServer:  cfg.P2P.DHTServer,
			Network:    cfg.Network,
			DataDir:    cfg.P2PDir(),
		})
		if cfg.P2P.ClearBans {
			if err := p2pNode.ResetPeerData(); err != nil {
				logger.Warn().Err(err).Msg("Failed to clear peer data")
			} else {
				logger.Info().Msg("Peer bans and peer store cleared")
			}
		}
		if err := p2pNode.Start(); err != nil {
			db.Close()
			return nil, fmt.Errorf("start P2P: %w", err)
		}
		logger.Info().
			Str("id", p2pNode.ID().String()).
			Int("port", cfg.P2P.Port).
			Bool("discovery", !cfg.P2P.NoDiscover).
			Msg("P2P node started")
	}

	// ── 6. Listeners ────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())

	proc := &listener.Processor{Wallet: w, Post: node != nil}
	transports := listener.NewTransports(listener.TransportConfig{
		RelayURL:     cfg.Relay.URL,
		Node:         p2pNode,
		ReplyTimeout: cfg.Relay.ReplyTimeout,
		Client:       relay.ClientConfig{PingInterval: cfg.Relay.PingInterval, Clock: wcfg.Clock},
	}, proc)
	listeners := listener.NewManager(ctx)
	transports.Register(listeners)

	d := &Daemon{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		store:         store,
		wallet:        w,
		online:        node != nil,
		p2pNode:       p2pNode,
		listeners:     listeners,
		transports:    transports,
		ownerSecret:   ownerSecret,
		foreignSecret: foreignSecret,
		ctx:           ctx,
		cancel:        cancel,
	}
	listeners.Register(listener.OwnerAPI, d.ownerFactory)
	listeners.Register(listener.ForeignAPI, d.foreignFactory)
	return d, nil
}

// Start launches the configured listeners and the chain updater.
func (d *Daemon) Start() error {
	if _, err := d.listeners.Start(listener.Kind{Type: listener.OwnerAPI}); err != nil {
		return fmt.Errorf("start owner API: %w", err)
	}
	if d.cfg.ForeignAPI.Enabled {
		if _, err := d.listeners.Start(listener.Kind{Type: listener.ForeignAPI}); err != nil {
			return fmt.Errorf("start foreign API: %w", err)
		}
	}
	// Transport listeners retry on their own; a failure here is not fatal.
	if d.cfg.Relay.Listen {
		if _, err := d.listeners.Start(listener.Kind{Type: listener.Relay}); err != nil {
			d.logger.Warn().Err(err).Msg("Relay listener not started")
		}
	}
	if d.p2pNode != nil {
		if _, err := d.listeners.Start(listener.Kind{Type: listener.P2P}); err != nil {
			d.logger.Warn().Err(err).Msg("P2P listener not started")
		}
	}

	if d.online && d.cfg.Wallet.RefreshInterval > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.wallet.RunUpdater(d.ctx, ticker.New(d.cfg.Wallet.RefreshInterval))
		}()
	}

	d.logger.Info().
		Str("owner_api", d.OwnerAddr()).
		Bool("foreign_api", d.cfg.ForeignAPI.Enabled).
		Bool("relay", d.cfg.Relay.Listen).
		Bool("p2p", d.p2pNode != nil).
		Msg("Daemon started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (d *Daemon) Stop() {
	d.cancel()
	d.listeners.Close()
	d.wg.Wait()

	if d.p2pNode != nil {
		d.p2pNode.Stop()
	}
	if d.db != nil {
		d.db.Close()
	}

	d.logger.Info().Msg("Goodbye!")
	klog.Close()
}

// Wallet returns the wallet the daemon serves.
func (d *Daemon) Wallet() *wallet.Wallet { return d.wallet }

// Listeners returns the listener manager.
func (d *Daemon) Listeners() *listener.Manager { return d.listeners }

// OwnerAddr returns the address the owner API is listening on.
func (d *Daemon) OwnerAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ownerAddr
}

// ── Listener factories ──────────────────────────────────────────────

// serve runs srv as a listener. Binding happens synchronously so a busy
// port fails Start.
func serve(srv *rpc.Server, bound func(addr string)) listener.Runner {
	return func(ctx context.Context, g *errgroup.Group) error {
		if err := srv.Start(); err != nil {
			return err
		}
		if bound != nil {
			bound(srv.Addr())
		}
		g.Go(func() error {
			<-ctx.Done()
			return srv.Stop()
		})
		return nil
	}
}

func (d *Daemon) ownerFactory(listener.Kind) (listener.Runner, error) {
	c := d.cfg.OwnerAPI
	srv := rpc.NewOwner(fmt.Sprintf("%s:%d", c.Addr, c.Port), rpc.OwnerDeps{
		Wallet:     d.wallet,
		Listeners:  d.listeners,
		Transports: d.transports,
	}, c, d.ownerSecret)
	return serve(srv, func(addr string) {
		d.mu.Lock()
		d.ownerAddr = addr
		d.mu.Unlock()
	}), nil
}

func (d *Daemon) foreignFactory(listener.Kind) (listener.Runner, error) {
	c := d.cfg.ForeignAPI
	srv := rpc.NewForeign(fmt.Sprintf("%s:%d", c.Addr, c.Port), d.wallet, d.online, c, d.foreignSecret)
	return serve(srv, nil), nil
}
