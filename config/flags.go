package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. They are bound to a command's
// persistent flag set with BindFlags.
type Flags struct {
	// Core
	Network string
	Testnet bool
	DataDir string
	Config  string

	// Wallet
	Backend string
	MinConf uint64

	// Node
	NodeURL string

	// Relay
	RelayURL    string
	RelayListen bool

	// P2P
	P2P        bool
	P2PPort    int
	Seeds      string
	NoDiscover bool
	ClearBans  bool

	// Owner API
	OwnerAddr string
	OwnerPort int

	// Foreign API
	Foreign     bool
	ForeignAddr string
	ForeignPort int

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	fs *pflag.FlagSet
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	fs.BoolVar(&f.Testnet, "testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVarP(&f.Config, "config", "c", "", "Config file path (default: <datadir>/slatewallet.conf)")

	// Wallet
	fs.StringVar(&f.Backend, "backend", "", "Wallet storage backend (badger or bolt)")
	fs.Uint64Var(&f.MinConf, "minconf", 0, "Minimum confirmations for spendable outputs")

	// Node
	fs.StringVar(&f.NodeURL, "node", "", "Chain node JSON-RPC URL")

	// Relay
	fs.StringVar(&f.RelayURL, "relay", "", "Relay websocket URL")
	fs.BoolVar(&f.RelayListen, "relay-listen", false, "Subscribe to the relay on startup")

	// P2P
	fs.BoolVar(&f.P2P, "p2p", false, "Enable the p2p slate channel")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port")
	fs.StringVar(&f.Seeds, "seeds", "", "Seed nodes as comma-separated libp2p multiaddrs")
	fs.BoolVar(&f.NoDiscover, "nodiscover", false, "Disable peer discovery")
	fs.BoolVar(&f.ClearBans, "clear-bans", false, "Clear p2p peer bans on startup")

	// Owner API
	fs.StringVar(&f.OwnerAddr, "owner-addr", "", "Owner API listen address")
	fs.IntVar(&f.OwnerPort, "owner-port", 0, "Owner API port")

	// Foreign API
	fs.BoolVar(&f.Foreign, "foreign", false, "Enable the foreign API")
	fs.StringVar(&f.ForeignAddr, "foreign-addr", "", "Foreign API listen address")
	fs.IntVar(&f.ForeignPort, "foreign-port", 0, "Foreign API port")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	return f
}

func (f *Flags) changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}

// network returns the network the flags select, defaulting to mainnet.
func (f *Flags) network() NetworkType {
	if f.Testnet || strings.EqualFold(f.Network, string(Testnet)) {
		return Testnet
	}
	if f.Network != "" {
		return NetworkType(strings.ToLower(f.Network))
	}
	return Mainnet
}

// ApplyFlags applies explicitly set command-line flags to cfg.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" || f.Testnet {
		cfg.Network = f.network()
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Wallet
	if f.Backend != "" {
		cfg.Wallet.Backend = strings.ToLower(f.Backend)
	}
	if f.changed("minconf") {
		cfg.Wallet.MinConfirmations = f.MinConf
	}

	// Node
	if f.changed("node") {
		cfg.Node.URL = f.NodeURL
	}

	// Relay
	if f.RelayURL != "" {
		cfg.Relay.URL = f.RelayURL
	}
	if f.changed("relay-listen") {
		cfg.Relay.Listen = f.RelayListen
	}

	// P2P
	if f.changed("p2p") {
		cfg.P2P.Enabled = f.P2P
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Seeds != "" {
		cfg.P2P.Seeds = parseStringList(f.Seeds)
	}
	if f.changed("nodiscover") {
		cfg.P2P.NoDiscover = f.NoDiscover
	}
	if f.ClearBans {
		cfg.P2P.ClearBans = true
	}

	// Owner API
	if f.OwnerAddr != "" {
		cfg.OwnerAPI.Addr = f.OwnerAddr
	}
	if f.OwnerPort != 0 {
		cfg.OwnerAPI.Port = f.OwnerPort
	}

	// Foreign API
	if f.changed("foreign") {
		cfg.ForeignAPI.Enabled = f.Foreign
	}
	if f.ForeignAddr != "" {
		cfg.ForeignAPI.Addr = f.ForeignAddr
	}
	if f.ForeignPort != 0 {
		cfg.ForeignAPI.Port = f.ForeignPort
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.changed("log-json") {
		cfg.Log.JSON = f.LogJSON
	}
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(flags *Flags) (*Config, error) {
	cfg := Default(flags.network())

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads config from defaults + conf file only (no CLI flags).
func LoadFromFile(dataDir string, network NetworkType) (*Config, error) {
	cfg := Default(network)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}
	fileValues, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDir(),
		cfg.P2PDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
