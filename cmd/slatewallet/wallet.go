package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/slatewallet/internal/daemon"
	"github.com/Klingon-tech/slatewallet/internal/keychain"
)

func initCmd() *cobra.Command {
	var passphrase bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new wallet seed",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if daemon.HasSeed(cfg) {
				return fmt.Errorf("wallet already exists at %s", cfg.SeedFile())
			}

			mnemonic, err := keychain.GenerateMnemonic()
			if err != nil {
				return fmt.Errorf("generate mnemonic: %w", err)
			}
			fmt.Println("Mnemonic (write this down!):")
			fmt.Printf("  %s\n\n", mnemonic)

			return createSeed(cfg.SeedFile(), func(pw []byte, pass string) (*keychain.Keychain, error) {
				return daemon.CreateSeed(cfg, mnemonic, pass, pw)
			}, passphrase)
		},
	}
	cmd.Flags().BoolVar(&passphrase, "passphrase", false, "Prompt for a BIP-39 passphrase")
	return cmd
}

func recoverCmd() *cobra.Command {
	var (
		mnemonic   string
		passphrase bool
	)
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Restore a wallet seed from its mnemonic",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if daemon.HasSeed(cfg) {
				return fmt.Errorf("wallet already exists at %s", cfg.SeedFile())
			}
			if mnemonic == "" {
				fmt.Fprint(os.Stderr, "Mnemonic: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read mnemonic: %w", err)
				}
				mnemonic = line
			}
			mnemonic = keychain.NormalizeMnemonic(mnemonic)
			if !keychain.ValidateMnemonic(mnemonic) {
				return fmt.Errorf("invalid mnemonic")
			}
			return createSeed(cfg.SeedFile(), func(pw []byte, pass string) (*keychain.Keychain, error) {
				return daemon.CreateSeed(cfg, mnemonic, pass, pw)
			}, passphrase)
		},
	}
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP-39 mnemonic (prompted when omitted)")
	cmd.Flags().BoolVar(&passphrase, "passphrase", false, "Prompt for a BIP-39 passphrase")
	return cmd
}

func createSeed(path string, create func(password []byte, passphrase string) (*keychain.Keychain, error), askPassphrase bool) error {
	var pass string
	if askPassphrase {
		p, err := readPassword("BIP-39 passphrase: ")
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		pass = string(p)
	}
	password, err := newPassword()
	if err != nil {
		return err
	}
	keys, err := create(password, pass)
	if err != nil {
		return err
	}
	addr, err := keys.Address(0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("\nWallet created: %s\n", path)
	fmt.Printf("Address: %s\n", addr)
	return nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the wallet daemon",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !daemon.HasSeed(cfg) {
				return fmt.Errorf("no wallet at %s; run slatewallet init first", cfg.SeedFile())
			}
			password, err := readPassword("Wallet password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			keys, err := daemon.OpenKeychain(cfg, password)
			clear(password)
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg, keys)
			if err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				d.Stop()
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			d.Stop()
			return nil
		},
	}
}
