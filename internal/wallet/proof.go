package wallet

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// WarnSenderUnproven is attached to proofs that do not name the sender.
const WarnSenderUnproven = "sender identity unproven"

// ProofFile is an exported payment proof.
type ProofFile struct {
	SlateID            string          `json:"slate_id"`
	Amount             uint64          `json:"amount"`
	Fee                uint64          `json:"fee"`
	KernelExcess       types.PublicKey `json:"kernel_excess"`
	SenderAddress      string          `json:"sender_address,omitempty"`
	RecipientAddress   string          `json:"recipient_address"`
	RecipientSignature types.HexBytes  `json:"recipient_signature"`
}

// VerifyResult is what a verified proof establishes.
type VerifyResult struct {
	Amount        uint64          `json:"amount"`
	Sender        string          `json:"sender,omitempty"`
	Recipient     string          `json:"recipient"`
	KernelExcess  types.PublicKey `json:"kernel_excess"`
	OnChainHeight *uint64         `json:"on_chain_height,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// ProofMessage is the digest the recipient signs:
// H(amount || kernel_excess || sender_pubkey? || recipient_pubkey).
func ProofMessage(amount uint64, excess types.PublicKey, sender *types.PublicKey, recipient types.PublicKey) types.Hash {
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], amount)
	parts := [][]byte{amt[:], excess[:]}
	if sender != nil {
		parts = append(parts, sender[:])
	}
	parts = append(parts, recipient[:])
	return crypto.HashAll(parts...)
}

// proofKeys decodes the proof addresses. An empty sender is allowed.
func proofKeys(senderAddr, recipientAddr string) (*types.PublicKey, types.PublicKey, error) {
	recipient, err := types.DecodeAddress(recipientAddr)
	if err != nil {
		return nil, types.PublicKey{}, werr.Entity(werr.Wrap(werr.ErrInvalidProof, "recipient address: %v", err), "address", recipientAddr)
	}
	if senderAddr == "" {
		return nil, recipient.PublicKey, nil
	}
	sender, err := types.DecodeAddress(senderAddr)
	if err != nil {
		return nil, types.PublicKey{}, werr.Entity(werr.Wrap(werr.ErrInvalidProof, "sender address: %v", err), "address", senderAddr)
	}
	return &sender.PublicKey, recipient.PublicKey, nil
}

func verifyProofSignature(senderAddr, recipientAddr string, amount uint64, excess types.PublicKey, sig []byte) error {
	sender, recipient, err := proofKeys(senderAddr, recipientAddr)
	if err != nil {
		return err
	}
	msg := ProofMessage(amount, excess, sender, recipient)
	if !crypto.Verify(msg, sig, recipient) {
		return werr.Wrap(werr.ErrProofInvalid, "recipient signature does not match")
	}
	return nil
}

// signProof signs a requested payment proof with the key of the named
// recipient address, which must be ours.
func (w *Wallet) signProof(r *walletdb.Reader, pp *slate.PaymentProof, amount uint64, excess types.PublicKey) (types.HexBytes, error) {
	addr, err := ParseAddress(pp.ReceiverAddress)
	if err != nil {
		return nil, err
	}
	key, err := w.ownedAddressKey(r, addr)
	if err != nil {
		return nil, err
	}
	sender, recipient, err := proofKeys(pp.SenderAddress, pp.ReceiverAddress)
	if err != nil {
		return nil, err
	}
	msg := ProofMessage(amount, excess, sender, recipient)
	return key.Sign(msg)
}

// ExportProof builds the payment proof of a finalized send. It fails with
// ErrNoProofAvailable when the exchange did not produce one.
func (w *Wallet) ExportProof(txID uint64) (*ProofFile, error) {
	var pf *ProofFile
	err := w.store.View(func(r *walletdb.Reader) error {
		e, err := r.Tx(txID)
		if err != nil {
			return err
		}
		if e.Direction != walletdb.DirectionSent || !e.HasProof() {
			return werr.Wrap(werr.ErrNoProofAvailable, "transaction carries no recipient proof signature")
		}
		pf = &ProofFile{
			SlateID:            e.SlateID,
			Amount:             e.Amount,
			Fee:                e.Fee,
			KernelExcess:       *e.KernelExcess,
			SenderAddress:      e.Proof.SenderAddress,
			RecipientAddress:   e.Proof.ReceiverAddress,
			RecipientSignature: e.Proof.ReceiverSignature,
		}
		return nil
	})
	if err != nil {
		return nil, werr.Entity(err, "tx", fmt.Sprint(txID))
	}
	return pf, nil
}

// VerifyProof checks a proof file. The recipient's signature must match the
// claimed amount, kernel and addresses. When a node is available the kernel
// is looked up on chain; lookup failures become warnings.
func (w *Wallet) VerifyProof(ctx context.Context, pf *ProofFile) (*VerifyResult, error) {
	if err := verifyProofSignature(pf.SenderAddress, pf.RecipientAddress, pf.Amount, pf.KernelExcess, pf.RecipientSignature); err != nil {
		return nil, werr.Entity(err, "slate", pf.SlateID)
	}
	res := &VerifyResult{
		Amount:       pf.Amount,
		Sender:       pf.SenderAddress,
		Recipient:    pf.RecipientAddress,
		KernelExcess: pf.KernelExcess,
	}
	if pf.SenderAddress == "" {
		res.Warnings = append(res.Warnings, WarnSenderUnproven)
	}
	if w != nil && w.node != nil {
		k, err := w.node.GetKernel(ctx, pf.KernelExcess)
		switch {
		case err != nil:
			log.Wallet.Warn().Err(err).Str("slate", pf.SlateID).Msg("Kernel lookup failed")
			res.Warnings = append(res.Warnings, fmt.Sprintf("kernel lookup failed: %v", err))
		case k == nil:
			res.Warnings = append(res.Warnings, "kernel not found on chain")
		default:
			h := k.Height
			res.OnChainHeight = &h
		}
	}
	return res, nil
}

// WriteProofFile writes pf as indented JSON.
func WriteProofFile(path string, pf *ProofFile) error {
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ReadProofFile reads a proof written by WriteProofFile.
func ReadProofFile(path string) (*ProofFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf ProofFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, werr.Wrap(werr.ErrInvalidProof, "%v", err)
	}
	return &pf, nil
}
