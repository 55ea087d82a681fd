// slatewallet runs the wallet daemon and talks to its owner API.
//
// Usage:
//
//	slatewallet init                 Create a new wallet seed
//	slatewallet run                  Run the wallet daemon
//	slatewallet send 1.5 --to bob    Send coins through the daemon
//	slatewallet --help               Show all commands
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Klingon-tech/slatewallet/config"
	"github.com/Klingon-tech/slatewallet/internal/daemon"
	"github.com/Klingon-tech/slatewallet/internal/rpc"
	"github.com/Klingon-tech/slatewallet/internal/rpcclient"
)

// callTimeout covers a send that waits for the recipient's reply.
const callTimeout = 3 * time.Minute

var flags *config.Flags

var rootCmd = &cobra.Command{
	Use:           "slatewallet",
	Short:         "Interactive Mimblewimble slate wallet",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	flags = config.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(
		initCmd(), recoverCmd(), runCmd(),
		sendCmd(), receiveCmd(), finalizeCmd(), invoiceCmd(), payCmd(),
		cancelCmd(), repostCmd(), txsCmd(), outputsCmd(), infoCmd(), refreshCmd(),
		addressCmd(), proofCmd(), contactsCmd(), accountsCmd(),
		listenCmd(), unlistenCmd(), listenersCmd(), outboxCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(flags)
}

// owner connects to the running daemon's owner API.
type owner struct {
	client *rpcclient.Client
}

func dialOwner() (*owner, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s:%d/", cfg.OwnerAPI.Addr, cfg.OwnerAPI.Port)
	client := rpcclient.NewWithTimeout(url, callTimeout)
	secret, err := daemon.LoadSecret(cfg.SecretPath(cfg.OwnerAPI.SecretFile))
	if err != nil {
		return nil, err
	}
	if secret != "" {
		client.SetBasicAuth(rpc.BasicAuthUser, secret)
	}
	return &owner{client: client}, nil
}

func (o *owner) call(method string, params, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return o.client.Call(ctx, method, params, result)
}

// ownerRun wraps a command body that needs the owner API.
func ownerRun(fn func(o *owner, args []string) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		o, err := dialOwner()
		if err != nil {
			return err
		}
		return fn(o, args)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// readSlate loads a slate from path, or stdin for "-".
func readSlate(path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read slate: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not a JSON slate", path)
	}
	return data, nil
}

// writeSlate writes a slate to path, or stdout when path is empty.
func writeSlate(path string, raw json.RawMessage) error {
	if path == "" {
		fmt.Println(string(raw))
		return nil
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0600); err != nil {
		return fmt.Errorf("write slate: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Slate written to %s\n", path)
	return nil
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// newPassword prompts twice and insists on a match.
func newPassword() ([]byte, error) {
	password, err := readPassword("Enter password: ")
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if string(password) != string(confirm) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return password, nil
}
