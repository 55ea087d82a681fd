package wallet

import (
	"context"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// ReceiveArgs are the parameters of a receive.
type ReceiveArgs struct {
	Account string
	Message string
}

// checkInitiated validates a slate that should carry only its initiator.
func checkInitiated(sl *slate.Slate, kind slate.Kind) error {
	if err := sl.Validate(); err != nil {
		return err
	}
	if sl.Kind != kind {
		return werr.Wrap(werr.ErrInvalidSlate, "expected a %s slate, got %s", kind, sl.Kind)
	}
	if len(sl.ParticipantData) != 1 || sl.Participant(0) == nil {
		return werr.Wrap(werr.ErrInvalidSlate, "expected only the initiator, got %d participants", len(sl.ParticipantData))
	}
	p := sl.Participant(0)
	if p.PartSig != nil {
		return werr.Wrap(werr.ErrInvalidSlate, "initiator signed early")
	}
	if p.Message != "" && !crypto.VerifyMessage([]byte(p.Message), p.MessageSig, p.PublicBlindExcess) {
		return werr.Wrap(werr.ErrInvalidSlate, "participant message signature")
	}
	return nil
}

// Receive responds to a send slate: it adds an output for the amount, signs
// as participant 1, and signs the payment proof when one is requested. The
// reply is downgraded to the sender's version.
func (w *Wallet) Receive(ctx context.Context, in *slate.Slate, args ReceiveArgs) (*slate.Slate, error) {
	out, err := w.receive(in, args)
	metrics.SlateOp(metrics.OpReceive, err)
	if err != nil {
		return nil, werr.Entity(err, "slate", in.ID.String())
	}
	log.Slate.Info().
		Str("slate", out.ID.String()).
		Uint64("amount", out.Amount).
		Bool("proof", out.PaymentProof != nil).
		Msg("Slate received")
	return out.ForReply(), nil
}

func (w *Wallet) receive(in *slate.Slate, args ReceiveArgs) (*slate.Slate, error) {
	if err := checkInitiated(in, slate.KindSend); err != nil {
		return nil, err
	}
	// The receiver adds exactly one output.
	required := w.cfg.Fees.Fee(len(in.Tx.Inputs), len(in.Tx.Outputs)+1, 1)
	if in.Fee < required {
		return nil, werr.Wrap(werr.ErrInvalidSlate, "fee %d below required %d", in.Fee, required)
	}

	sl := in.Clone()
	err := w.store.Update(func(t *walletdb.Txn) error {
		if dup, err := t.HasSlate(sl.ID.String()); err != nil {
			return err
		} else if dup {
			return werr.Wrap(werr.ErrInvalidState, "slate already received")
		}
		acct, err := t.Account(accountName(args.Account))
		if err != nil {
			return err
		}

		o, blind, err := w.newOutput(t, acct.Name, sl.Amount, false)
		if err != nil {
			return err
		}
		nonce, err := crypto.RandomScalar()
		if err != nil {
			return err
		}
		transaction := sl.Transaction()
		transaction.AddOutput(o.Commit)
		transaction.Sort()
		sl.SetTransaction(transaction)

		p, err := newParticipant(1, blind, nonce, args.Message)
		if err != nil {
			return err
		}
		if err := sl.AddParticipant(p); err != nil {
			return err
		}
		kernelExcess, err := signParticipant(sl, 1, blind, nonce)
		if err != nil {
			return err
		}

		entry := &walletdb.TxLogEntry{
			SlateID:      sl.ID.String(),
			Direction:    walletdb.DirectionReceived,
			Status:       walletdb.StatusReceived,
			Account:      acct.Name,
			Amount:       sl.Amount,
			Fee:          sl.Fee,
			Outputs:      []types.Commitment{o.Commit},
			KernelExcess: &kernelExcess,
			Message:      args.Message,
		}
		if pp := sl.PaymentProof; pp != nil {
			sig, err := w.signProof(&t.Reader, pp, sl.Amount, kernelExcess)
			if err != nil {
				return err
			}
			pp.ReceiverSignature = sig
			entry.Counterparty = pp.SenderAddress
			entry.Proof = &walletdb.StoredProof{
				SenderAddress:     pp.SenderAddress,
				ReceiverAddress:   pp.ReceiverAddress,
				ReceiverSignature: sig,
			}
		}
		if err := t.AppendTx(entry, w.cfg.Clock.Now()); err != nil {
			return err
		}
		o.TxLogID = &entry.ID
		return t.AddOutput(o)
	})
	if err != nil {
		return nil, err
	}
	return sl, nil
}

// signParticipant computes participant id's partial signature over the
// kernel message and stores it on the slate. It returns the kernel excess,
// which is fixed once both participants are present.
func signParticipant(sl *slate.Slate, id uint8, excess, nonce crypto.BlindingFactor) (types.PublicKey, error) {
	nonceSum, err := sl.NonceSum()
	if err != nil {
		return types.PublicKey{}, werr.Wrap(werr.ErrInvalidSlate, "%v", err)
	}
	excessSum, err := sl.ExcessSum()
	if err != nil {
		return types.PublicKey{}, werr.Wrap(werr.ErrInvalidSlate, "%v", err)
	}
	sig, err := crypto.PartialSign(excess, nonce, nonceSum, excessSum, sl.KernelMessage())
	if err != nil {
		return types.PublicKey{}, err
	}
	sl.Participant(id).PartSig = &sig
	kernelExcess, err := excessSum.PublicKey()
	if err != nil {
		return types.PublicKey{}, werr.Wrap(werr.ErrInvalidSlate, "kernel excess: %v", err)
	}
	return kernelExcess, nil
}

// InvoiceArgs are the parameters of an invoice.
type InvoiceArgs struct {
	Amount  uint64
	Account string
	Message string
}

// IssueInvoice starts an invoice: the payee initiates as participant 0 with
// its receive output and the offset, and the payer adds inputs and the fee.
func (w *Wallet) IssueInvoice(ctx context.Context, args InvoiceArgs) (*slate.Slate, error) {
	if args.Amount == 0 {
		return nil, werr.Wrap(werr.ErrInvalidAmount, "amount must be positive")
	}
	var sl *slate.Slate
	err := w.store.Update(func(t *walletdb.Txn) error {
		acct, err := t.Account(accountName(args.Account))
		if err != nil {
			return err
		}
		tip, err := t.Tip()
		if err != nil {
			return err
		}
		o, blind, err := w.newOutput(t, acct.Name, args.Amount, false)
		if err != nil {
			return err
		}
		offset, err := crypto.RandomScalar()
		if err != nil {
			return err
		}
		nonce, err := crypto.RandomScalar()
		if err != nil {
			return err
		}
		excess := crypto.BlindSum([]crypto.BlindingFactor{blind}, []crypto.BlindingFactor{offset})

		sl = slate.New(slate.KindInvoice, args.Amount, 0, tip, 0)
		transaction := sl.Transaction()
		transaction.AddOutput(o.Commit)
		transaction.Offset = offset
		sl.SetTransaction(transaction)
		p, err := newParticipant(0, excess, nonce, args.Message)
		if err != nil {
			return err
		}
		if err := sl.AddParticipant(p); err != nil {
			return err
		}

		entry := &walletdb.TxLogEntry{
			SlateID:   sl.ID.String(),
			Direction: walletdb.DirectionReceived,
			Status:    walletdb.StatusCreated,
			Account:   acct.Name,
			Amount:    args.Amount,
			Outputs:   []types.Commitment{o.Commit},
			Message:   args.Message,
		}
		if err := t.AppendTx(entry, w.cfg.Clock.Now()); err != nil {
			return err
		}
		o.TxLogID = &entry.ID
		if err := t.AddOutput(o); err != nil {
			return err
		}
		return t.PutContext(&walletdb.Context{
			SlateID:       entry.SlateID,
			Account:       acct.Name,
			ParticipantID: 0,
			SecretExcess:  excess,
			SecretNonce:   nonce,
			Amount:        args.Amount,
		})
	})
	metrics.SlateOp(metrics.OpInvoice, err)
	if err != nil {
		return nil, err
	}
	log.Slate.Info().Str("slate", sl.ID.String()).Uint64("amount", sl.Amount).Msg("Invoice issued")
	return sl, nil
}

// ProcessInvoice pays an invoice: it selects and locks inputs, sets the fee,
// and signs as participant 1. The issuer finalizes.
func (w *Wallet) ProcessInvoice(ctx context.Context, in *slate.Slate, args InitTxArgs) (*slate.Slate, error) {
	out, err := w.processInvoice(in, args)
	metrics.SlateOp(metrics.OpProcessInvoice, err)
	if err != nil {
		return nil, werr.Entity(err, "slate", in.ID.String())
	}
	log.Slate.Info().Str("slate", out.ID.String()).Uint64("amount", out.Amount).Uint64("fee", out.Fee).Msg("Invoice paid")
	return out.ForReply(), nil
}

func (w *Wallet) processInvoice(in *slate.Slate, args InitTxArgs) (*slate.Slate, error) {
	if err := checkInitiated(in, slate.KindInvoice); err != nil {
		return nil, err
	}
	if len(in.Tx.Inputs) != 0 {
		return nil, werr.Wrap(werr.ErrInvalidSlate, "invoice already has inputs")
	}
	args.Amount = in.Amount

	sl := in.Clone()
	err := w.store.Update(func(t *walletdb.Txn) error {
		if dup, err := t.HasSlate(sl.ID.String()); err != nil {
			return err
		} else if dup {
			return werr.Wrap(werr.ErrInvalidState, "invoice already processed")
		}
		f, err := w.fund(t, args)
		if err != nil {
			return err
		}
		nonce, err := crypto.RandomScalar()
		if err != nil {
			return err
		}
		excess := crypto.BlindSum(f.blinds, f.inputs)

		sl.Fee = f.sel.Fee
		transaction := sl.Transaction()
		transaction.Body.Kernels = []tx.Kernel{tx.NewKernel(sl.Fee, sl.LockHeight)}
		f.apply(transaction)
		transaction.Sort()
		sl.SetTransaction(transaction)

		p, err := newParticipant(1, excess, nonce, args.Message)
		if err != nil {
			return err
		}
		if err := sl.AddParticipant(p); err != nil {
			return err
		}
		kernelExcess, err := signParticipant(sl, 1, excess, nonce)
		if err != nil {
			return err
		}

		entry := &walletdb.TxLogEntry{
			SlateID:      sl.ID.String(),
			Direction:    walletdb.DirectionSent,
			Status:       walletdb.StatusSent,
			Account:      f.account.Name,
			Amount:       sl.Amount,
			Fee:          sl.Fee,
			Inputs:       f.inputCommits(),
			Outputs:      f.changeCommits(),
			KernelExcess: &kernelExcess,
			Message:      args.Message,
		}
		if err := t.AppendTx(entry, w.cfg.Clock.Now()); err != nil {
			return err
		}
		return f.record(t, entry.ID)
	})
	if err != nil {
		return nil, err
	}
	return sl, nil
}
