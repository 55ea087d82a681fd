package config

import "time"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Wallet: WalletConfig{
			Backend:          BackendBadger,
			MinConfirmations: 10,
			ChangeOutputs:    1,
			Strategy:         "smallest",
			AddressScan:      100,
			RefreshInterval:  time.Minute,
		},
		Node: NodeConfig{
			URL:     "http://127.0.0.1:3413/v2/foreign",
			Timeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			URL:          "wss://relay.slatewallet.org",
			ReplyTimeout: 10 * time.Minute,
			PingInterval: 30 * time.Second,
		},
		P2P: P2PConfig{
			Enabled:    false,
			ListenAddr: "0.0.0.0",
			Port:       31303,
			MaxPeers:   50,
			// Format: multiaddr strings, e.g.
			//   "/dns4/seed1.slatewallet.org/tcp/31303/p2p/12D3KooW..."
			Seeds: []string{},
		},
		OwnerAPI: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       3420,
			AllowedIPs: []string{"127.0.0.1"},
			SecretFile: "owner_api.secret",
		},
		ForeignAPI: RPCConfig{
			Enabled: false,
			Addr:    "127.0.0.1",
			Port:    3415,
		},
		Hub: HubConfig{
			Listen:           "0.0.0.0:443",
			MaxSubscriptions: 8,
			RateLimit:        20,
			RateBurst:        40,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Wallet.MinConfirmations = 1
	cfg.Node.URL = "http://127.0.0.1:13413/v2/foreign"
	cfg.Relay.URL = "wss://testnet.relay.slatewallet.org"
	cfg.P2P.Port = 31304
	cfg.OwnerAPI.Port = 13420
	cfg.ForeignAPI.Port = 13415
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
