package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LoadFile reads a key = value config file. A "[section]" line prefixes
// the keys that follow it with "section.", so "[wallet]" then "minconf = 1"
// sets wallet.minconf. A missing file yields no values.
func LoadFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	section := ""
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || line[0] == '#' || line[0] == ';':
			continue
		case line[0] == '[' && line[len(line)-1] == ']':
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s line %d: expected key = value", path, n)
		}
		key = strings.TrimSpace(key)
		if section != "" {
			key = section + "." + key
		}
		values[key] = unquote(strings.TrimSpace(value))
	}
	return values, sc.Err()
}

func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	switch v[0] {
	case '"':
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
	case '\'':
		if v[len(v)-1] == '\'' {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// ApplyFileConfig sets the fields whose conf tag matches a key. Unknown
// keys are ignored so older binaries accept newer files.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	fields := confFields(reflect.ValueOf(cfg).Elem(), "")
	for key, value := range values {
		field, ok := fields[key]
		if !ok {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	cfg.Wallet.Backend = strings.ToLower(cfg.Wallet.Backend)
	cfg.Wallet.Strategy = strings.ToLower(cfg.Wallet.Strategy)
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// confFields maps config keys to settable fields. A tagged struct field
// opens a section for its children; an untagged one passes its children's
// keys through unchanged.
func confFields(v reflect.Value, section string) map[string]reflect.Value {
	out := make(map[string]reflect.Value)
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		tag := sf.Tag.Get("conf")
		key := tag
		if section != "" && tag != "" {
			key = section + "." + tag
		}
		fv := v.Field(i)
		if sf.Type.Kind() == reflect.Struct {
			sub := section
			if tag != "" {
				sub = key
			}
			for k, f := range confFields(fv, sub) {
				out[k] = f
			}
			continue
		}
		if tag != "" {
			out[key] = fv
		}
	}
	return out
}

func setField(f reflect.Value, s string) error {
	if f.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Bool:
		b, err := parseBool(s)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetUint(n)
	case reflect.Float64:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		f.SetFloat(x)
	case reflect.Slice:
		f.Set(reflect.ValueOf(parseStringList(s)))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}

// parseStringList splits a comma-separated list, dropping empty entries.
func parseStringList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# Slatewallet Configuration

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.slatewallet)
# datadir = ~/.slatewallet

# ============================================================================
# Wallet
# ============================================================================

# Storage backend: badger or bolt
wallet.backend = badger
wallet.minconf = ` + strconv.FormatUint(d.Wallet.MinConfirmations, 10) + `
wallet.change_outputs = 1
# Input selection: smallest or all
wallet.strategy = smallest
# How often to refresh outputs from the node
wallet.refresh = 1m

# ============================================================================
# Node
# ============================================================================

node.url = ` + d.Node.URL + `
node.timeout = 10s

# ============================================================================
# Relay
# ============================================================================

relay.url = ` + d.Relay.URL + `
# Subscribe to the relay on startup
relay.listen = false
# How long a reply is retried while the counterparty is offline
# relay.reply_timeout = 10m

# ============================================================================
# P2P slate channel
# ============================================================================

p2p.enabled = false
p2p.listen = 0.0.0.0
p2p.port = ` + strconv.Itoa(d.P2P.Port) + `
# p2p.seeds = /dns4/seed1.example.org/tcp/31303/p2p/12D3KooW...
# p2p.nodiscover = false

# ============================================================================
# Owner API (localhost)
# ============================================================================

owner.enabled = true
owner.addr = 127.0.0.1
owner.port = ` + strconv.Itoa(d.OwnerAPI.Port) + `
owner.allowed = 127.0.0.1
# Relative to <datadir>/<network>; generated on first start.
owner.secret_file = ` + d.OwnerAPI.SecretFile + `

# ============================================================================
# Foreign API
# ============================================================================

foreign.enabled = false
foreign.addr = 127.0.0.1
foreign.port = ` + strconv.Itoa(d.ForeignAPI.Port) + `
# foreign.secret_file = foreign_api.secret

# ============================================================================
# Relay hub (slaterelay)
# ============================================================================

# hub.listen = 0.0.0.0:443
# hub.max_subscriptions = 8
# hub.rate = 20
# hub.burst = 40
# hub.tls_cert =
# hub.tls_key =

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
