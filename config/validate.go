package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	switch cfg.Wallet.Backend {
	case "":
		cfg.Wallet.Backend = BackendBadger
	case BackendBadger, BackendBolt:
	default:
		return fmt.Errorf("wallet.backend must be %q or %q", BackendBadger, BackendBolt)
	}
	switch cfg.Wallet.Strategy {
	case "", "smallest", "all":
	default:
		return fmt.Errorf("wallet.strategy must be smallest or all")
	}
	if cfg.Wallet.ChangeOutputs < 1 {
		return fmt.Errorf("wallet.change_outputs must be at least 1")
	}

	if cfg.Node.URL != "" {
		if err := checkURL(cfg.Node.URL, "node.url", "http", "https"); err != nil {
			return err
		}
	}
	if cfg.Relay.URL != "" {
		if err := checkURL(cfg.Relay.URL, "relay.url", "ws", "wss"); err != nil {
			return err
		}
	}
	if cfg.Relay.Listen && cfg.Relay.URL == "" {
		return fmt.Errorf("relay.listen requires relay.url")
	}

	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.OwnerAPI.Port < 0 || cfg.OwnerAPI.Port > 65535 {
		return fmt.Errorf("owner.port must be in range [0, 65535]")
	}
	if cfg.ForeignAPI.Port < 0 || cfg.ForeignAPI.Port > 65535 {
		return fmt.Errorf("foreign.port must be in range [0, 65535]")
	}
	if cfg.OwnerAPI.Enabled && cfg.ForeignAPI.Enabled &&
		cfg.OwnerAPI.Addr == cfg.ForeignAPI.Addr && cfg.OwnerAPI.Port == cfg.ForeignAPI.Port && cfg.OwnerAPI.Port != 0 {
		return fmt.Errorf("owner and foreign APIs share %s:%d", cfg.OwnerAPI.Addr, cfg.OwnerAPI.Port)
	}

	if cfg.Hub.MaxSubscriptions < 0 || cfg.Hub.RateLimit < 0 || cfg.Hub.RateBurst < 0 {
		return fmt.Errorf("hub limits must not be negative")
	}
	if (cfg.Hub.TLSCert == "") != (cfg.Hub.TLSKey == "") {
		return fmt.Errorf("hub.tls_cert and hub.tls_key must be set together")
	}
	return nil
}

func checkURL(raw, field string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL", field, strings.Join(schemes, " or "))
}
