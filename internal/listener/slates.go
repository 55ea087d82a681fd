package listener

import (
	"context"

	"github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// Processor applies slates arriving on a listener to the wallet.
//
// An initiated send slate is received into Account and the response is
// returned for the caller to send back. A responded slate, ours as sender or
// as invoice issuer, is finalized and posted. Incoming invoices are never
// paid automatically: they are logged and dropped, and the owner pays them
// through process_invoice.
type Processor struct {
	Wallet  *wallet.Wallet
	Account string
	// Post broadcasts finalized transactions; off when no node is configured.
	Post bool
}

// Process handles one decrypted slate from sender. reply is nil when
// nothing goes back to the sender.
func (p *Processor) Process(ctx context.Context, from types.Address, payload []byte) (reply []byte, err error) {
	sl, err := slate.Parse(payload)
	if err != nil {
		return nil, err
	}
	logger := log.Listener.With().Str("slate", sl.ID.String()).Str("from", from.Stripped()).Logger()

	switch stage := sl.Stage(); {
	case stage == slate.StageInitiated && sl.Kind == slate.KindSend:
		out, err := p.Wallet.Receive(ctx, sl, wallet.ReceiveArgs{Account: p.Account})
		if err != nil {
			return nil, err
		}
		logger.Info().Uint64("amount", sl.Amount).Msg("Received slate, replying")
		return out.Marshal()

	case stage == slate.StageInitiated && sl.Kind == slate.KindInvoice:
		logger.Warn().Uint64("amount", sl.Amount).Msg("Ignoring incoming invoice; pay it with process_invoice")
		return nil, nil

	case stage == slate.StageResponded:
		if _, err := p.Wallet.Finalize(ctx, sl, wallet.FinalizeArgs{Post: p.Post}); err != nil {
			return nil, err
		}
		logger.Info().Bool("posted", p.Post).Msg("Finalized returned slate")
		return nil, nil

	default:
		return nil, werr.Entity(werr.Wrap(werr.ErrInvalidSlate, "unexpected %s %s slate on listener", stage, sl.Kind), "slate", sl.ID.String())
	}
}
