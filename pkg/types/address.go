package types

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// Network selects the address version bytes.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Address version prefixes. Mainnet encodes to a leading 'x', testnet to 'x'
// followed by a network-distinct second character.
var (
	MainnetVersion = [2]byte{1, 0}
	TestnetVersion = [2]byte{1, 136}
)

const checksumSize = 4

// DefaultRelayPort is assumed when an address names a relay host without a port.
const DefaultRelayPort = 443

// Version returns the version bytes for the network.
func (n Network) Version() ([2]byte, error) {
	switch n {
	case Mainnet:
		return MainnetVersion, nil
	case Testnet:
		return TestnetVersion, nil
	default:
		return [2]byte{}, fmt.Errorf("unknown network %q", n)
	}
}

// Address is a wallet address: a public key bound to a network and
// optionally to the relay that serves it.
type Address struct {
	Network   Network
	PublicKey PublicKey
	Host      string // relay host, empty for the default relay
	Port      uint16
}

// ErrAddressFormat is returned by DecodeAddress on any structural mismatch.
// It is wrapped by callers into the wallet's validation taxonomy.
var ErrAddressFormat = errors.New("invalid address")

// EncodeAddress encodes a compressed public key as a base58check address.
func EncodeAddress(pub PublicKey, network Network) (string, error) {
	version, err := network.Version()
	if err != nil {
		return "", err
	}
	payload := make([]byte, 0, 2+PublicKeySize+checksumSize)
	payload = append(payload, version[:]...)
	payload = append(payload, pub[:]...)
	sum := checksum(payload)
	payload = append(payload, sum[:]...)
	return base58.Encode(payload), nil
}

// DecodeAddress parses "<base58check>[@host[:port]]". The version bytes
// select the network and the checksum must match.
func DecodeAddress(s string) (Address, error) {
	body, domain, hasDomain := strings.Cut(strings.TrimSpace(s), "@")

	raw, err := base58.Decode(body)
	if err != nil {
		return Address{}, fmt.Errorf("%w: base58: %v", ErrAddressFormat, err)
	}
	if len(raw) != 2+PublicKeySize+checksumSize {
		return Address{}, fmt.Errorf("%w: length %d", ErrAddressFormat, len(raw))
	}
	payload, sum := raw[:len(raw)-checksumSize], raw[len(raw)-checksumSize:]
	want := checksum(payload)
	if !bytes.Equal(sum, want[:]) {
		return Address{}, fmt.Errorf("%w: bad checksum", ErrAddressFormat)
	}

	var a Address
	switch [2]byte{payload[0], payload[1]} {
	case MainnetVersion:
		a.Network = Mainnet
	case TestnetVersion:
		a.Network = Testnet
	default:
		return Address{}, fmt.Errorf("%w: unknown version %x", ErrAddressFormat, payload[:2])
	}
	copy(a.PublicKey[:], payload[2:])
	if a.PublicKey[0] != 0x02 && a.PublicKey[0] != 0x03 {
		return Address{}, fmt.Errorf("%w: not a compressed key", ErrAddressFormat)
	}

	if hasDomain {
		host, port, err := splitDomain(domain)
		if err != nil {
			return Address{}, err
		}
		a.Host, a.Port = host, port
	}
	return a, nil
}

// String returns the canonical encoding, including the relay suffix.
func (a Address) String() string {
	s, err := EncodeAddress(a.PublicKey, a.Network)
	if err != nil {
		return ""
	}
	if a.Host == "" {
		return s
	}
	if a.Port == 0 || a.Port == DefaultRelayPort {
		return s + "@" + a.Host
	}
	return s + "@" + net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// Stripped returns the encoding without any relay suffix.
func (a Address) Stripped() string {
	s, _ := EncodeAddress(a.PublicKey, a.Network)
	return s
}

func splitDomain(domain string) (string, uint16, error) {
	if domain == "" {
		return "", 0, fmt.Errorf("%w: empty relay domain", ErrAddressFormat)
	}
	if !strings.Contains(domain, ":") {
		return domain, DefaultRelayPort, nil
	}
	host, portStr, err := net.SplitHostPort(domain)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrAddressFormat, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("%w: bad port %q", ErrAddressFormat, portStr)
	}
	return host, uint16(port), nil
}

// checksum is the first four bytes of a double SHA-256, as in base58check.
func checksum(b []byte) [checksumSize]byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	var out [checksumSize]byte
	copy(out[:], second[:checksumSize])
	return out
}
