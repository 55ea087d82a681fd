package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Klingon-tech/slatewallet/internal/listener"
	"github.com/Klingon-tech/slatewallet/internal/relay"
	"github.com/Klingon-tech/slatewallet/internal/rpc"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// txRef reads a tx log id or a slate id.
func txRef(arg string) rpc.TxRefParam {
	if id, err := strconv.ParseUint(arg, 10, 64); err == nil {
		return rpc.TxRefParam{TxID: id}
	}
	return rpc.TxRefParam{SlateID: arg}
}

// reportSend prints the outcome of send, invoice and pay.
func reportSend(res *rpc.SendResult, out string) error {
	if res.Sent {
		fmt.Printf("Slate %s sent\n", res.SlateID)
		return nil
	}
	return writeSlate(out, res.Slate)
}

func reportFinalize(res *rpc.FinalizeResult) error {
	fmt.Printf("Slate %s finalized\n", res.SlateID)
	switch {
	case res.Posted:
		fmt.Println("Transaction posted to the node")
	case res.PostError != "":
		fmt.Printf("Post failed: %s\nRetry with: slatewallet repost %s\n", res.PostError, res.SlateID)
	}
	return nil
}

// ── Slate commands ──────────────────────────────────────────────────────

func sendCmd() *cobra.Command {
	var (
		p   rpc.SendParam
		out string
	)
	cmd := &cobra.Command{
		Use:   "send <amount>",
		Short: "Start a send transaction",
		Long: `Start a send transaction. With --method relay or p2p the slate is
delivered to --to and the reply is finalized when it arrives; without a
method the slate is written to --out for manual exchange.`,
		Args: cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			p.Amount = args[0]
			var res rpc.SendResult
			if err := o.call("send", p, &res); err != nil {
				return err
			}
			return reportSend(&res, out)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&p.To, "to", "", "Recipient address or contact name")
	f.StringVarP(&p.Method, "method", "m", "", "Delivery method: relay, p2p or empty for a file")
	f.StringVar(&p.Strategy, "strategy", "", "Output selection: smallest or all (default from config)")
	f.Uint64Var(&p.MinConfirmations, "minconf-override", 0, "Minimum confirmations for inputs")
	f.IntVar(&p.ChangeOutputs, "change-outputs", 0, "Number of change outputs")
	f.StringVarP(&p.Account, "account", "a", "", "Account to spend from")
	f.StringVar(&p.Message, "message", "", "Message for the recipient")
	f.Uint64Var(&p.LockHeight, "lock-height", 0, "Kernel lock height")
	f.BoolVar(&p.Proof, "proof", false, "Request a payment proof from the recipient")
	f.StringVarP(&out, "out", "o", "", "Write the slate to this file")
	return cmd
}

func receiveCmd() *cobra.Command {
	var (
		p       rpc.SlateParam
		in, out string
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Sign a send slate from a file",
		RunE: ownerRun(func(o *owner, _ []string) error {
			raw, err := readSlate(in)
			if err != nil {
				return err
			}
			p.Slate = raw
			var res rpc.SendResult
			if err := o.call("receive", p, &res); err != nil {
				return err
			}
			return writeSlate(out, res.Slate)
		}),
	}
	f := cmd.Flags()
	f.StringVarP(&in, "in", "i", "-", "Slate file to receive")
	f.StringVarP(&out, "out", "o", "", "Write the reply slate to this file")
	f.StringVarP(&p.Account, "account", "a", "", "Account to receive into")
	f.StringVar(&p.Message, "message", "", "Message for the sender")
	return cmd
}

func finalizeCmd() *cobra.Command {
	var (
		p  rpc.FinalizeParam
		in string
	)
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize a reply slate from a file",
		RunE: ownerRun(func(o *owner, _ []string) error {
			raw, err := readSlate(in)
			if err != nil {
				return err
			}
			p.Slate = raw
			var res rpc.FinalizeResult
			if err := o.call("finalize", p, &res); err != nil {
				return err
			}
			return reportFinalize(&res)
		}),
	}
	cmd.Flags().StringVarP(&in, "in", "i", "-", "Reply slate file")
	cmd.Flags().BoolVar(&p.Post, "post", true, "Post the transaction to the node")
	return cmd
}

func invoiceCmd() *cobra.Command {
	var (
		p   rpc.InvoiceParam
		out string
	)
	cmd := &cobra.Command{
		Use:   "invoice <amount>",
		Short: "Request a payment",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			p.Amount = args[0]
			var res rpc.SendResult
			if err := o.call("invoice", p, &res); err != nil {
				return err
			}
			return reportSend(&res, out)
		}),
	}
	f := cmd.Flags()
	f.StringVar(&p.To, "to", "", "Payer address or contact name")
	f.StringVarP(&p.Method, "method", "m", "", "Delivery method: relay, p2p or empty for a file")
	f.StringVarP(&p.Account, "account", "a", "", "Account to receive into")
	f.StringVar(&p.Message, "message", "", "Message for the payer")
	f.StringVarP(&out, "out", "o", "", "Write the invoice slate to this file")
	return cmd
}

func payCmd() *cobra.Command {
	var (
		p       rpc.ProcessInvoiceParam
		in, out string
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Pay an invoice slate from a file",
		RunE: ownerRun(func(o *owner, _ []string) error {
			raw, err := readSlate(in)
			if err != nil {
				return err
			}
			p.Slate = raw
			var res rpc.SendResult
			if err := o.call("process_invoice", p, &res); err != nil {
				return err
			}
			return reportSend(&res, out)
		}),
	}
	f := cmd.Flags()
	f.StringVarP(&in, "in", "i", "-", "Invoice slate file")
	f.StringVarP(&out, "out", "o", "", "Write the reply slate to this file")
	f.StringVar(&p.To, "to", "", "Return the reply to this address or contact")
	f.StringVarP(&p.Method, "method", "m", "", "Delivery method for the reply")
	f.StringVar(&p.Strategy, "strategy", "", "Output selection: smallest or all")
	f.StringVarP(&p.Account, "account", "a", "", "Account to pay from")
	f.StringVar(&p.Message, "message", "", "Message for the issuer")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <tx-id|slate-id>",
		Short: "Cancel a pending transaction and release its outputs",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			if err := o.call("cancel", txRef(args[0]), nil); err != nil {
				return err
			}
			fmt.Printf("Transaction %s cancelled\n", args[0])
			return nil
		}),
	}
}

func repostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repost <tx-id>",
		Short: "Post a stored finalized transaction again",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			ref := txRef(args[0])
			if ref.TxID == 0 {
				return fmt.Errorf("repost needs a numeric tx id")
			}
			if err := o.call("repost", ref, nil); err != nil {
				return err
			}
			fmt.Printf("Transaction %d posted\n", ref.TxID)
			return nil
		}),
	}
}

// ── Wallet state ────────────────────────────────────────────────────────

func txsCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "txs",
		Short: "List the transaction log",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var res rpc.TxsResult
			if err := o.call("txs", nil, &res); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(res.Transactions)
			}
			if len(res.Transactions) == 0 {
				fmt.Println("No transactions.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDIRECTION\tSTATUS\tAMOUNT\tFEE\tCREATED\tSLATE")
			for _, e := range res.Transactions {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Direction, e.Status,
					types.FormatAmount(e.Amount), types.FormatAmount(e.Fee),
					e.CreatedAt.Format("2006-01-02 15:04"), e.SlateID)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

func outputsCmd() *cobra.Command {
	var p rpc.OutputsParam
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List wallet outputs",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var res rpc.OutputsResult
			if err := o.call("outputs", p, &res); err != nil {
				return err
			}
			if len(res.Outputs) == 0 {
				fmt.Println("No outputs.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COMMIT\tVALUE\tSTATUS\tHEIGHT\tCHANGE")
			for _, out := range res.Outputs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\n",
					out.Commit, types.FormatAmount(out.Value), out.Status, out.Height, out.IsChange)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&p.Status, "status", "", "Only outputs with this status")
	return cmd
}

func infoCmd() *cobra.Command {
	var p rpc.InfoParam
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the wallet balance",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var res rpc.BalanceResult
			if err := o.call("info", p, &res); err != nil {
				return err
			}
			b := res.Balance
			fmt.Printf("Account:               %s\n", b.Account)
			fmt.Printf("Chain tip:             %d\n", b.Tip)
			fmt.Printf("Total:                 %s\n", res.TotalCoins)
			fmt.Printf("Awaiting confirmation: %s\n", types.FormatAmount(b.AwaitingConfirmation))
			fmt.Printf("Locked:                %s\n", types.FormatAmount(b.Locked))
			fmt.Printf("Spendable:             %s (min %d confirmations)\n", res.SpendableCoins, b.MinConfirmations)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&p.Account, "account", "a", "", "Account")
	cmd.Flags().BoolVarP(&p.Refresh, "refresh", "r", false, "Refresh from the node first")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Update outputs and transactions from the node",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var res wallet.RefreshResult
			if err := o.call("refresh", nil, &res); err != nil {
				return err
			}
			fmt.Printf("Tip %d: %d outputs confirmed, %d spent, %d transactions confirmed\n",
				res.Tip, res.Confirmed, res.Spent, res.TxConfirmed)
			return nil
		}),
	}
}

func addressCmd() *cobra.Command {
	var index int64 = -1
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Show or switch the receive address",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var res rpc.AddressResult
			if index >= 0 {
				if err := o.call("switch_address", rpc.SwitchAddressParam{Index: uint32(index)}, &res); err != nil {
					return err
				}
			} else if err := o.call("address", nil, &res); err != nil {
				return err
			}
			fmt.Printf("%s (index %d)\n", res.Address, res.Index)
			return nil
		}),
	}
	cmd.Flags().Int64Var(&index, "switch", -1, "Switch to the address at this index")
	return cmd
}

// ── Payment proofs ──────────────────────────────────────────────────────

func proofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Export or verify payment proofs",
	}

	var out string
	export := &cobra.Command{
		Use:   "export <tx-id|slate-id>",
		Short: "Export the payment proof of a sent transaction",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			var pf wallet.ProofFile
			if err := o.call("export_proof", txRef(args[0]), &pf); err != nil {
				return err
			}
			if out == "" {
				return printJSON(&pf)
			}
			if err := wallet.WriteProofFile(out, &pf); err != nil {
				return err
			}
			fmt.Printf("Proof written to %s\n", out)
			return nil
		}),
	}
	export.Flags().StringVarP(&out, "out", "o", "", "Write the proof to this file")

	verify := &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a payment proof",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			pf, err := wallet.ReadProofFile(args[0])
			if err != nil {
				return err
			}
			var res wallet.VerifyResult
			if err := o.call("verify_proof", rpc.VerifyProofParam{Proof: pf}, &res); err != nil {
				return err
			}
			fmt.Printf("Proof is valid: %s paid to %s\n", types.FormatAmount(res.Amount), res.Recipient)
			if res.Sender != "" {
				fmt.Printf("Sender: %s\n", res.Sender)
			}
			if res.OnChainHeight != nil {
				fmt.Printf("Kernel on chain at height %d\n", *res.OnChainHeight)
			}
			for _, w := range res.Warnings {
				fmt.Printf("Warning: %s\n", w)
			}
			return nil
		}),
	}

	cmd.AddCommand(export, verify)
	return cmd
}

// ── Contacts and accounts ───────────────────────────────────────────────

func contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage named recipient addresses",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var contacts []walletdb.Contact
			if err := o.call("contacts_list", nil, &contacts); err != nil {
				return err
			}
			if len(contacts) == 0 {
				fmt.Println("No contacts.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, c := range contacts {
				fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Address)
			}
			return tw.Flush()
		}),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name> <address>",
			Short: "Add a contact",
			Args:  cobra.ExactArgs(2),
			RunE: ownerRun(func(o *owner, args []string) error {
				return o.call("contacts_add", rpc.ContactParam{Name: args[0], Address: args[1]}, nil)
			}),
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a contact",
			Args:  cobra.ExactArgs(1),
			RunE: ownerRun(func(o *owner, args []string) error {
				return o.call("contacts_remove", rpc.ContactParam{Name: args[0]}, nil)
			}),
		},
	)
	return cmd
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List or create accounts",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var accts []walletdb.Account
			if err := o.call("accounts", nil, &accts); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tNAME")
			for _, a := range accts {
				fmt.Fprintf(tw, "%d\t%s\n", a.Index, a.Name)
			}
			return tw.Flush()
		}),
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			var a walletdb.Account
			if err := o.call("create_account", rpc.AccountParam{Name: args[0]}, &a); err != nil {
				return err
			}
			fmt.Printf("Account %q created at index %d\n", a.Name, a.Index)
			return nil
		}),
	})
	return cmd
}

// ── Listeners ───────────────────────────────────────────────────────────

func listenCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "listen <relay|p2p|foreign_api>",
		Short: "Start a listener in the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			var res rpc.ListenResult
			if err := o.call("listen", rpc.ListenParam{Type: args[0], Name: name}, &res); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", res.Kind, res.Result)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Listener instance name")
	return cmd
}

func unlistenCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "unlisten <relay|p2p|foreign_api>",
		Short: "Stop a listener in the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: ownerRun(func(o *owner, args []string) error {
			var res rpc.ListenResult
			if err := o.call("stop_listen", rpc.ListenParam{Type: args[0], Name: name}, &res); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", res.Kind, res.Result)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Listener instance name")
	return cmd
}

func listenersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listeners",
		Short: "Show listener status",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var statuses []listener.Status
			if err := o.call("listeners", nil, &statuses); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LISTENER\tRUNNING\tSINCE\tLAST ERROR")
			for _, s := range statuses {
				since := ""
				if s.Running {
					since = s.StartedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", s.Kind, s.Running, since, s.LastError)
			}
			return tw.Flush()
		}),
	}
}

func outboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "Show relay messages waiting for delivery",
		RunE: ownerRun(func(o *owner, _ []string) error {
			var entries []relay.OutboxEntry
			if err := o.call("outbox", nil, &entries); err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Outbox is empty.")
				return nil
			}
			return printJSON(entries)
		}),
	}
}
