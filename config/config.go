// Package config handles wallet and relay configuration.
//
// Values are layered: per-network defaults, then the key = value config
// file in the data directory, then command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// NetworkType identifies mainnet or testnet.
type NetworkType = types.Network

const (
	Mainnet = types.Mainnet
	Testnet = types.Testnet
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendBolt   = "bolt"
)

// Config holds the wallet's runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Wallet policy and storage
	Wallet WalletConfig

	// Chain node the wallet queries and posts to
	Node NodeConfig

	// Relay transport
	Relay RelayConfig

	// P2P slate channel
	P2P P2PConfig

	// Owner API (localhost only)
	OwnerAPI RPCConfig `conf:"owner"`

	// Foreign API (receive_tx, finalize_invoice_tx)
	ForeignAPI RPCConfig `conf:"foreign"`

	// Relay hub, used by slaterelay
	Hub HubConfig

	// Logging
	Log LogConfig
}

// WalletConfig holds wallet policy and storage settings.
type WalletConfig struct {
	Backend          string        `conf:"wallet.backend"` // badger or bolt
	MinConfirmations uint64        `conf:"wallet.minconf"`
	ChangeOutputs    int           `conf:"wallet.change_outputs"`
	Strategy         string        `conf:"wallet.strategy"` // smallest or all
	AddressScan      uint32        `conf:"wallet.address_scan"`
	RefreshInterval  time.Duration `conf:"wallet.refresh"`
}

// NodeConfig locates the chain node.
type NodeConfig struct {
	URL     string        `conf:"node.url"` // empty = offline wallet
	Timeout time.Duration `conf:"node.timeout"`
}

// RelayConfig holds relay client settings.
type RelayConfig struct {
	URL          string        `conf:"relay.url"`
	Listen       bool          `conf:"relay.listen"` // subscribe on startup
	ReplyTimeout time.Duration `conf:"relay.reply_timeout"`
	PingInterval time.Duration `conf:"relay.ping"`
}

// P2PConfig holds p2p slate channel settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds)
	ClearBans  bool     // Clear peer bans on startup (not persisted in config file).
}

// RPCConfig holds settings for one JSON-RPC server. Its keys are relative
// to the server's section, e.g. owner.port.
type RPCConfig struct {
	Enabled     bool     `conf:"enabled"`
	Addr        string   `conf:"addr"`
	Port        int      `conf:"port"`
	AllowedIPs  []string `conf:"allowed"`
	CORSOrigins []string `conf:"cors"` // Allowed CORS origins ("*" = all).
	// SecretFile holds the basic-auth secret; empty disables auth.
	SecretFile string `conf:"secret_file"`
}

// HubConfig holds relay hub settings.
type HubConfig struct {
	Listen           string  `conf:"hub.listen"`
	MaxSubscriptions int     `conf:"hub.max_subscriptions"`
	RateLimit        float64 `conf:"hub.rate"` // requests per second per connection
	RateBurst        int     `conf:"hub.burst"`
	TLSCert          string  `conf:"hub.tls_cert"`
	TLSKey           string  `conf:"hub.tls_key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.slatewallet
//	macOS:   ~/Library/Application Support/Slatewallet
//	Windows: %APPDATA%\Slatewallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slatewallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Slatewallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Slatewallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Slatewallet")
	default:
		return filepath.Join(home, ".slatewallet")
	}
}

// NetworkDir returns the network-specific data directory.
func (c *Config) NetworkDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// WalletDBPath returns the wallet database path for the configured backend.
func (c *Config) WalletDBPath() string {
	if c.Wallet.Backend == BackendBolt {
		return filepath.Join(c.NetworkDir(), "wallet.bolt")
	}
	return filepath.Join(c.NetworkDir(), "wallet_db")
}

// SeedFile returns the encrypted seed path.
func (c *Config) SeedFile() string {
	return filepath.Join(c.NetworkDir(), "wallet.seed")
}

// P2PDir returns the directory holding the p2p identity.
func (c *Config) P2PDir() string {
	return filepath.Join(c.NetworkDir(), "p2p")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// SecretPath resolves an API secret file. Relative paths live in the
// network directory; empty stays empty.
func (c *Config) SecretPath(file string) string {
	if file == "" || filepath.IsAbs(file) || strings.HasPrefix(file, "~") {
		return file
	}
	return filepath.Join(c.NetworkDir(), file)
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "slatewallet.conf")
}
