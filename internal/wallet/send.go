package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/metrics"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// InitTxArgs are the parameters of a send.
type InitTxArgs struct {
	Amount           uint64
	Strategy         Strategy
	MinConfirmations uint64 // zero uses the wallet default
	ChangeOutputs    int    // zero uses the wallet default
	Account          string
	Message          string
	LockHeight       uint64
	// Recipient requests a payment proof bound to this address.
	Recipient *types.Address
}

// newOutput derives the next output key of acct and commits to value.
func (w *Wallet) newOutput(t *walletdb.Txn, acct string, value uint64, change bool) (*walletdb.Output, crypto.BlindingFactor, error) {
	a, idx, err := t.NextBlindIndex(acct)
	if err != nil {
		return nil, crypto.BlindingFactor{}, err
	}
	id := keychain.KeyID{Account: a.Index, Branch: keychain.BranchBlind, Index: idx}
	commit, blind, err := w.keys.Commit(value, id)
	if err != nil {
		return nil, crypto.BlindingFactor{}, err
	}
	return &walletdb.Output{
		Commit:   commit,
		Value:    value,
		KeyID:    id,
		Status:   walletdb.OutputUnconfirmed,
		IsChange: change,
	}, blind, nil
}

// fund selects and prepares the payer's side of a transaction: inputs,
// change outputs and the payer's blinding sum (change minus inputs).
type funding struct {
	sel     *Selection
	change  []*walletdb.Output
	blinds  []crypto.BlindingFactor // change blinds
	inputs  []crypto.BlindingFactor // input blinds
	account *walletdb.Account
}

func (w *Wallet) fund(t *walletdb.Txn, args InitTxArgs) (*funding, error) {
	acct, err := t.Account(accountName(args.Account))
	if err != nil {
		return nil, err
	}
	tip, err := t.Tip()
	if err != nil {
		return nil, err
	}
	minConf := args.MinConfirmations
	if minConf == 0 {
		minConf = w.cfg.MinConfirmations
	}
	changeOutputs := args.ChangeOutputs
	if changeOutputs <= 0 {
		changeOutputs = w.cfg.ChangeOutputs
	}
	strategy := args.Strategy
	if strategy == "" {
		strategy = w.cfg.Strategy
	}
	if strategy == "" {
		strategy = StrategySmallest
	}

	owned, err := t.Outputs(func(o *walletdb.Output) bool { return o.KeyID.Account == acct.Index })
	if err != nil {
		return nil, err
	}
	sel, err := Select(Eligible(owned, tip, minConf), SelectionParams{
		Amount:           args.Amount,
		Strategy:         strategy,
		MinConfirmations: minConf,
		ChangeOutputs:    changeOutputs,
		Fees:             w.cfg.Fees,
	})
	if err != nil {
		return nil, err
	}

	f := &funding{sel: sel, account: acct}
	for _, in := range sel.Inputs {
		b, err := w.keys.Blind(in.KeyID)
		if err != nil {
			return nil, err
		}
		f.inputs = append(f.inputs, b)
	}
	for _, v := range splitChange(sel.Change, changeOutputs) {
		o, b, err := w.newOutput(t, acct.Name, v, true)
		if err != nil {
			return nil, err
		}
		f.change = append(f.change, o)
		f.blinds = append(f.blinds, b)
	}
	return f, nil
}

// apply adds the funding's inputs and change to transaction.
func (f *funding) apply(transaction *tx.Transaction) {
	for _, in := range f.sel.Inputs {
		transaction.AddInput(in.Commit)
	}
	for _, o := range f.change {
		transaction.AddOutput(o.Commit)
	}
}

// record locks the inputs and stores the change outputs under txID.
func (f *funding) record(t *walletdb.Txn, txID uint64) error {
	for _, in := range f.sel.Inputs {
		if err := t.SetOutputStatus(in.Commit, walletdb.OutputLocked, &txID); err != nil {
			return err
		}
	}
	for _, o := range f.change {
		o.TxLogID = &txID
		if err := t.AddOutput(o); err != nil {
			return err
		}
	}
	return nil
}

func (f *funding) inputCommits() []types.Commitment {
	out := make([]types.Commitment, len(f.sel.Inputs))
	for i, in := range f.sel.Inputs {
		out[i] = in.Commit
	}
	return out
}

func (f *funding) changeCommits() []types.Commitment {
	out := make([]types.Commitment, len(f.change))
	for i, o := range f.change {
		out[i] = o.Commit
	}
	return out
}

// signMessage signs a participant message with the participant's excess.
func signMessage(excess crypto.BlindingFactor, msg string) (types.HexBytes, error) {
	if msg == "" {
		return nil, nil
	}
	key, err := crypto.PrivateKeyFromBytes(excess[:])
	if err != nil {
		return nil, err
	}
	return key.SignMessage([]byte(msg))
}

// newParticipant builds a participant entry from secret excess and nonce.
func newParticipant(id uint8, excess, nonce crypto.BlindingFactor, msg string) (slate.ParticipantData, error) {
	pubExcess, err := crypto.PublicBlind(excess)
	if err != nil {
		return slate.ParticipantData{}, fmt.Errorf("public excess: %w", err)
	}
	pubNonce, err := crypto.PublicBlind(nonce)
	if err != nil {
		return slate.ParticipantData{}, fmt.Errorf("public nonce: %w", err)
	}
	msgSig, err := signMessage(excess, msg)
	if err != nil {
		return slate.ParticipantData{}, err
	}
	return slate.ParticipantData{
		ID:                id,
		PublicBlindExcess: pubExcess,
		PublicNonce:       pubNonce,
		Message:           msg,
		MessageSig:        msgSig,
	}, nil
}

// Initiate selects and locks inputs, creates change, and returns a new send
// slate with the sender as participant 0. On any error nothing is locked or
// logged.
func (w *Wallet) Initiate(ctx context.Context, args InitTxArgs) (*slate.Slate, error) {
	var sl *slate.Slate
	err := w.store.Update(func(t *walletdb.Txn) error {
		f, err := w.fund(t, args)
		if err != nil {
			return err
		}
		tip, err := t.Tip()
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
		excess := crypto.BlindSum(f.blinds, append(f.inputs, offset))

		sl = slate.New(slate.KindSend, args.Amount, f.sel.Fee, tip, args.LockHeight)
		transaction := sl.Transaction()
		f.apply(transaction)
		transaction.Offset = offset
		transaction.Sort()
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
			Direction: walletdb.DirectionSent,
			Status:    walletdb.StatusCreated,
			Account:   f.account.Name,
			Amount:    args.Amount,
			Fee:       f.sel.Fee,
			Inputs:    f.inputCommits(),
			Outputs:   f.changeCommits(),
			Message:   args.Message,
		}
		if args.Recipient != nil {
			_, sender, err := w.addressKeyIn(&t.Reader)
			if err != nil {
				return err
			}
			sl.PaymentProof = &slate.PaymentProof{
				SenderAddress:   sender.Stripped(),
				ReceiverAddress: args.Recipient.Stripped(),
			}
			entry.Counterparty = args.Recipient.String()
			entry.Proof = &walletdb.StoredProof{
				SenderAddress:   sender.Stripped(),
				ReceiverAddress: args.Recipient.Stripped(),
			}
		}
		if err := t.AppendTx(entry, w.cfg.Clock.Now()); err != nil {
			return err
		}
		if err := f.record(t, entry.ID); err != nil {
			return err
		}
		return t.PutContext(&walletdb.Context{
			SlateID:       entry.SlateID,
			Account:       f.account.Name,
			ParticipantID: 0,
			SecretExcess:  excess,
			SecretNonce:   nonce,
			Amount:        args.Amount,
			Fee:           f.sel.Fee,
		})
	})
	metrics.SlateOp(metrics.OpInitiate, err)
	if err != nil {
		return nil, err
	}
	log.Slate.Info().
		Str("slate", sl.ID.String()).
		Uint64("amount", sl.Amount).
		Uint64("fee", sl.Fee).
		Int("inputs", len(sl.Tx.Inputs)).
		Msg("Slate initiated")
	return sl, nil
}

// MarkSent records that an initiated slate was handed to a transport.
func (w *Wallet) MarkSent(slateID string) error {
	return w.store.Update(func(t *walletdb.Txn) error {
		e, err := t.TxBySlate(slateID)
		if err != nil {
			return err
		}
		if e.Status != walletdb.StatusCreated {
			return nil
		}
		_, err = t.SetTxStatus(e.ID, walletdb.StatusSent, w.cfg.Clock.Now())
		return err
	})
}

// FinalizeArgs controls Finalize.
type FinalizeArgs struct {
	// Post broadcasts the transaction to the node after finalizing.
	Post bool
}

// Finalize completes a slate the counterparty has signed: it adds our
// partial signature, verifies both partials, the aggregate signature and the
// commitment balance, and checks the payment proof when one was requested.
// It serves both the sender of a send slate and the issuer of an invoice.
func (w *Wallet) Finalize(ctx context.Context, sl *slate.Slate, args FinalizeArgs) (*tx.Transaction, error) {
	transaction, id, err := w.finalize(sl)
	metrics.SlateOp(metrics.OpFinalize, err)
	if err != nil {
		return nil, err
	}
	log.Slate.Info().Str("slate", sl.ID.String()).Uint64("tx", id).Msg("Slate finalized")

	if args.Post {
		if err := w.post(ctx, id, transaction); err != nil {
			return transaction, err
		}
	}
	return transaction, nil
}

func (w *Wallet) finalize(sl *slate.Slate) (*tx.Transaction, uint64, error) {
	slateID := sl.ID.String()
	if err := sl.Validate(); err != nil {
		return nil, 0, werr.Entity(err, "slate", slateID)
	}

	var (
		transaction *tx.Transaction
		txID        uint64
	)
	err := w.store.Update(func(t *walletdb.Txn) error {
		sctx, err := t.Context(slateID)
		if err != nil {
			return err
		}
		entry, err := t.TxBySlate(slateID)
		if err != nil {
			return err
		}
		txID = entry.ID
		if entry.Status.Rank() >= walletdb.StatusFinalized.Rank() {
			return werr.Wrap(werr.ErrInvalidState, "transaction is %s", entry.Status)
		}
		if len(sl.ParticipantData) != 2 {
			return werr.Wrap(werr.ErrInvalidState, "slate has %d participants, need 2", len(sl.ParticipantData))
		}
		if sl.Amount != sctx.Amount {
			return werr.Wrap(werr.ErrInvalidSlate, "amount changed from %d to %d", sctx.Amount, sl.Amount)
		}
		if sl.Kind == slate.KindSend && sl.Fee != sctx.Fee {
			return werr.Wrap(werr.ErrInvalidSlate, "fee changed from %d to %d", sctx.Fee, sl.Fee)
		}

		mine := sl.Participant(sctx.ParticipantID)
		other := sl.Participant(1 - sctx.ParticipantID)
		if mine == nil || other == nil {
			return werr.Wrap(werr.ErrInvalidSlate, "missing participant data")
		}
		if other.PartSig == nil {
			return werr.Wrap(werr.ErrInvalidState, "counterparty has not signed")
		}
		pubExcess, err := crypto.PublicBlind(sctx.SecretExcess)
		if err != nil {
			return err
		}
		pubNonce, err := crypto.PublicBlind(sctx.SecretNonce)
		if err != nil {
			return err
		}
		if mine.PublicBlindExcess != pubExcess || mine.PublicNonce != pubNonce {
			return werr.Wrap(werr.ErrInvalidSlate, "our participant data was altered")
		}

		nonceSum, err := sl.NonceSum()
		if err != nil {
			return werr.Wrap(werr.ErrSignatureAggregationFailed, "%v", err)
		}
		excessSum, err := sl.ExcessSum()
		if err != nil {
			return werr.Wrap(werr.ErrSignatureAggregationFailed, "%v", err)
		}
		msg := sl.KernelMessage()
		if !crypto.VerifyPartial(*other.PartSig, other.PublicNonce, other.PublicBlindExcess, nonceSum, excessSum, msg) {
			return werr.Wrap(werr.ErrSignatureAggregationFailed, "participant %d partial signature", other.ID)
		}
		ourSig, err := crypto.PartialSign(sctx.SecretExcess, sctx.SecretNonce, nonceSum, excessSum, msg)
		if err != nil {
			return err
		}
		if !crypto.VerifyPartial(ourSig, mine.PublicNonce, mine.PublicBlindExcess, nonceSum, excessSum, msg) {
			return werr.Wrap(werr.ErrSignatureAggregationFailed, "participant %d partial signature", mine.ID)
		}
		sig, err := crypto.AggregateSignatures([]types.Scalar{ourSig, *other.PartSig}, nonceSum)
		if err != nil {
			return werr.Wrap(werr.ErrSignatureAggregationFailed, "%v", err)
		}
		kernelExcess, err := excessSum.PublicKey()
		if err != nil {
			return werr.Wrap(werr.ErrSignatureAggregationFailed, "%v", err)
		}
		if !crypto.VerifyKernelSignature(sig, kernelExcess, msg) {
			return werr.Wrap(werr.ErrSignatureAggregationFailed, "aggregate signature")
		}

		transaction = sl.Transaction()
		k := transaction.Kernel()
		k.Excess = kernelExcess
		k.ExcessSig = sig
		transaction.Sort()
		if err := transaction.Validate(w.cfg.Fees); err != nil {
			return err
		}

		var proofSig types.HexBytes
		if entry.Proof != nil {
			if sl.PaymentProof == nil || len(sl.PaymentProof.ReceiverSignature) == 0 {
				return werr.Wrap(werr.ErrProofInvalid, "recipient did not sign the payment proof")
			}
			if err := verifyProofSignature(entry.Proof.SenderAddress, entry.Proof.ReceiverAddress,
				sl.Amount, kernelExcess, sl.PaymentProof.ReceiverSignature); err != nil {
				return err
			}
			proofSig = sl.PaymentProof.ReceiverSignature
		}

		_, err = t.UpdateTx(entry.ID, w.cfg.Clock.Now(), func(e *walletdb.TxLogEntry) error {
			e.Status = walletdb.StatusFinalized
			e.Fee = sl.Fee
			e.KernelExcess = &kernelExcess
			if proofSig != nil {
				e.Proof.ReceiverSignature = proofSig
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := t.PutFinalTx(slateID, transaction); err != nil {
			return err
		}
		t.DeleteContext(slateID)
		return nil
	})
	if err != nil {
		return nil, 0, werr.Entity(err, "slate", slateID)
	}
	return transaction, txID, nil
}

// post broadcasts a finalized transaction and records it.
func (w *Wallet) post(ctx context.Context, txID uint64, transaction *tx.Transaction) error {
	if err := w.requireNode(); err != nil {
		return err
	}
	if err := w.node.PostTransaction(ctx, transaction); err != nil {
		log.Wallet.Warn().Err(err).Uint64("tx", txID).Msg("Post transaction failed")
		return werr.Entity(err, "tx", fmt.Sprint(txID))
	}
	return w.store.Update(func(t *walletdb.Txn) error {
		_, err := t.UpdateTx(txID, w.cfg.Clock.Now(), func(e *walletdb.TxLogEntry) error {
			e.Posted = true
			return nil
		})
		return err
	})
}

// Repost broadcasts a stored finalized transaction again.
func (w *Wallet) Repost(ctx context.Context, txID uint64) error {
	var transaction *tx.Transaction
	err := w.store.View(func(r *walletdb.Reader) error {
		e, err := r.Tx(txID)
		if err != nil {
			return err
		}
		if e.Status != walletdb.StatusFinalized {
			return werr.Wrap(werr.ErrInvalidState, "transaction is %s, not Finalized", e.Status)
		}
		transaction, err = r.FinalTx(e.SlateID)
		return err
	})
	if err == nil {
		err = w.post(ctx, txID, transaction)
	}
	metrics.SlateOp(metrics.OpRepost, err)
	return werr.Entity(err, "tx", fmt.Sprint(txID))
}

// Cancel abandons a transaction that is not Confirmed or Cancelled: its
// locked inputs become spendable again, its unconfirmed outputs are deleted
// and its private context is dropped. Inputs of a transaction that was
// already posted are reconciled by the next Refresh.
func (w *Wallet) Cancel(ctx context.Context, txID uint64) error {
	var posted bool
	err := w.store.Update(func(t *walletdb.Txn) error {
		e, err := t.Tx(txID)
		if err != nil {
			return err
		}
		if e.Status.IsTerminal() {
			return werr.Wrap(werr.ErrInvalidState, "transaction is %s", e.Status)
		}
		posted = e.Posted
		for _, c := range e.Inputs {
			o, err := t.Output(c)
			if errors.Is(err, werr.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if o.Status == walletdb.OutputLocked {
				if err := t.SetOutputStatus(c, walletdb.OutputUnspent, nil); err != nil {
					return err
				}
			}
		}
		for _, c := range e.Outputs {
			o, err := t.Output(c)
			if errors.Is(err, werr.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if o.Status == walletdb.OutputUnconfirmed {
				if err := t.DeleteOutput(c); err != nil {
					return err
				}
			}
		}
		if _, err := t.SetTxStatus(txID, walletdb.StatusCancelled, w.cfg.Clock.Now()); err != nil {
			return err
		}
		t.DeleteContext(e.SlateID)
		return nil
	})
	metrics.SlateOp(metrics.OpCancel, err)
	if err != nil {
		return werr.Entity(err, "tx", fmt.Sprint(txID))
	}
	if posted {
		log.Wallet.Warn().Uint64("tx", txID).Msg("Cancelled a posted transaction; its inputs stay spendable until a refresh finds them spent")
	}
	log.Wallet.Info().Uint64("tx", txID).Msg("Transaction cancelled")
	return nil
}

// CancelSlate cancels the transaction logged for a slate id.
func (w *Wallet) CancelSlate(ctx context.Context, slateID string) error {
	var id uint64
	err := w.store.View(func(r *walletdb.Reader) error {
		e, err := r.TxBySlate(slateID)
		if err != nil {
			return err
		}
		id = e.ID
		return nil
	})
	if err != nil {
		return err
	}
	return w.Cancel(ctx, id)
}
