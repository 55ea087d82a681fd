// derive_key prints the relay addresses and pubkeys a mnemonic file derives.
// Usage: go run scripts/derive_key.go <mnemonic-file> [mainnet|testnet] [count]
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <mnemonic-file> [mainnet|testnet] [count]")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	network := types.Mainnet
	if len(os.Args) > 2 {
		network = types.Network(os.Args[2])
	}
	count := 1
	if len(os.Args) > 3 {
		if count, err = strconv.Atoi(os.Args[3]); err != nil || count < 1 {
			fmt.Fprintln(os.Stderr, "count must be a positive integer")
			os.Exit(1)
		}
	}

	mnemonic := strings.Join(strings.Fields(string(data)), " ")
	kc, err := keychain.FromMnemonic(mnemonic, "", network)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for i := 0; i < count; i++ {
		key, err := kc.AddressKey(0, uint32(i))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		addr, _ := kc.Address(0, uint32(i))
		fmt.Printf("index=%d pubkey=%s address=%s\n", i, key.PubKey(), addr)
	}
}
