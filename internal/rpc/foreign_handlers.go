package rpc

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/slatewallet/config"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// ForeignAPIVersion is the foreign API revision reported by check_version.
const ForeignAPIVersion = 2

type foreignAPI struct {
	wallet *wallet.Wallet
	post   bool
}

// NewForeign creates the foreign API server. Counterparties use it to hand
// slates to the wallet directly; post controls whether finalized invoice
// transactions go to the node.
func NewForeign(addr string, w *wallet.Wallet, post bool, rpcCfg config.RPCConfig, secret string) *Server {
	return newServer(addr, &foreignAPI{wallet: w, post: post}, "foreign_api", secret, rpcCfg)
}

func (f *foreignAPI) dispatch(ctx context.Context, req *Request) (any, *Error) {
	switch req.Method {
	case "check_version":
		return f.handleCheckVersion(ctx, req)
	case "receive_tx":
		return f.handleReceiveTx(ctx, req)
	case "finalize_invoice_tx":
		return f.handleFinalizeInvoiceTx(ctx, req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func (f *foreignAPI) handleCheckVersion(_ context.Context, _ *Request) (any, *Error) {
	versions := make([]string, 0, slate.MaxVersion-slate.MinVersion+1)
	for v := slate.MaxVersion; v >= slate.MinVersion; v-- {
		versions = append(versions, fmt.Sprintf("V%d", v))
	}
	return &VersionResult{ForeignAPIVersion: ForeignAPIVersion, SupportedSlateVersions: versions}, nil
}

// handleReceiveTx signs an incoming send slate and returns the reply at the
// sender's version.
func (f *foreignAPI) handleReceiveTx(ctx context.Context, req *Request) (any, *Error) {
	var params SlateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	in, rpcErr := parseSlate(params.Slate)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := f.wallet.Receive(ctx, in, wallet.ReceiveArgs{Account: params.Account, Message: params.Message})
	if err != nil {
		return nil, walletError(err)
	}
	data, rpcErr := slateResult(out)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &SendResult{SlateID: out.ID.String(), Slate: data}, nil
}

// handleFinalizeInvoiceTx completes an invoice this wallet issued once the
// payer has added its inputs and signature.
func (f *foreignAPI) handleFinalizeInvoiceTx(ctx context.Context, req *Request) (any, *Error) {
	var params SlateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	sl, rpcErr := parseSlate(params.Slate)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if sl.Kind != slate.KindInvoice {
		return nil, walletError(werr.Entity(werr.Wrap(werr.ErrInvalidSlate, "not an invoice"), "slate", sl.ID.String()))
	}
	return finalize(ctx, f.wallet, sl, f.post)
}
