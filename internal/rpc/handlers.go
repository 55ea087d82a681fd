package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/slatewallet/config"
	"github.com/Klingon-tech/slatewallet/internal/listener"
	klog "github.com/Klingon-tech/slatewallet/internal/log"
	"github.com/Klingon-tech/slatewallet/internal/relay"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// sendTimeout bounds how long send waits for the transport to take a slate.
const sendTimeout = 2 * time.Minute

// OwnerDeps are the components the owner API drives. Listeners and
// Transports may be nil, which disables listen and transport sends.
type OwnerDeps struct {
	Wallet     *wallet.Wallet
	Listeners  *listener.Manager
	Transports *listener.Transports
}

type ownerAPI struct {
	OwnerDeps
	logger zerolog.Logger
}

// NewOwner creates the owner API server.
func NewOwner(addr string, deps OwnerDeps, rpcCfg config.RPCConfig, secret string) *Server {
	return newServer(addr, &ownerAPI{OwnerDeps: deps, logger: klog.WithComponent("owner_api")}, "owner_api", secret, rpcCfg)
}

func (o *ownerAPI) dispatch(ctx context.Context, req *Request) (any, *Error) {
	switch req.Method {
	case "send":
		return o.handleSend(ctx, req)
	case "receive":
		return o.handleReceive(ctx, req)
	case "finalize":
		return o.handleFinalize(ctx, req)
	case "cancel":
		return o.handleCancel(ctx, req)
	case "repost":
		return o.handleRepost(ctx, req)
	case "txs":
		return o.handleTxs(ctx, req)
	case "outputs":
		return o.handleOutputs(ctx, req)
	case "info":
		return o.handleInfo(ctx, req)
	case "refresh":
		return o.handleRefresh(ctx, req)
	case "export_proof":
		return o.handleExportProof(ctx, req)
	case "verify_proof":
		return o.handleVerifyProof(ctx, req)
	case "address":
		return o.handleAddress(ctx, req)
	case "switch_address":
		return o.handleSwitchAddress(ctx, req)
	case "contacts_add":
		return o.handleContactsAdd(ctx, req)
	case "contacts_remove":
		return o.handleContactsRemove(ctx, req)
	case "contacts_list":
		return o.handleContactsList(ctx, req)
	case "accounts":
		return o.handleAccounts(ctx, req)
	case "create_account":
		return o.handleCreateAccount(ctx, req)
	case "listen":
		return o.handleListen(ctx, req)
	case "stop_listen":
		return o.handleStopListen(ctx, req)
	case "listeners":
		return o.handleListeners(ctx, req)
	case "outbox":
		return o.handleOutbox(ctx, req)
	case "invoice":
		return o.handleInvoice(ctx, req)
	case "process_invoice":
		return o.handleProcessInvoice(ctx, req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// ── Transport helpers ───────────────────────────────────────────────────

// recipient resolves a contact name or address; method requires one.
func (o *ownerAPI) recipient(to, method string) (*types.Address, *Error) {
	if to == "" {
		if method != MethodNone {
			return nil, invalidParams("to is required when sending with method " + method)
		}
		return nil, nil
	}
	addr, err := o.Wallet.ResolveRecipient(to)
	if err != nil {
		return nil, walletError(err)
	}
	return &addr, nil
}

// deliver hands a slate to the transport named by method.
func (o *ownerAPI) deliver(ctx context.Context, method string, to types.Address, sl *slate.Slate) error {
	if o.Transports == nil {
		return werr.Wrap(werr.ErrInvalidState, "no transports configured")
	}
	data, err := sl.Marshal()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	switch method {
	case MethodRelay:
		return o.Transports.SendRelay(ctx, to, data)
	case MethodP2P:
		return o.Transports.SendP2P(ctx, to, data)
	default:
		return werr.Wrap(werr.ErrInvalidState, "unknown send method %q", method)
	}
}

func checkMethod(method string) *Error {
	switch method {
	case MethodNone, MethodRelay, MethodP2P:
		return nil
	}
	return invalidParams(fmt.Sprintf("method must be %q, %q or empty", MethodRelay, MethodP2P))
}

func parseAmount(s string) (uint64, *Error) {
	amount, err := types.ParseAmount(s)
	if err != nil {
		return 0, walletError(werr.Wrap(werr.ErrInvalidAmount, "%v", err))
	}
	return amount, nil
}

// parseStrategy leaves an empty name to the wallet's configured default.
func parseStrategy(s string) (wallet.Strategy, *Error) {
	if s == "" {
		return "", nil
	}
	strategy, err := wallet.ParseStrategy(s)
	if err != nil {
		return "", walletError(err)
	}
	return strategy, nil
}

// ── Slate endpoints ─────────────────────────────────────────────────────

func (o *ownerAPI) handleSend(ctx context.Context, req *Request) (any, *Error) {
	var params SendParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := checkMethod(params.Method); err != nil {
		return nil, err
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	strategy, rpcErr := parseStrategy(params.Strategy)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := o.recipient(params.To, params.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Proof && to == nil {
		return nil, invalidParams("proof requires a recipient")
	}

	args := wallet.InitTxArgs{
		Amount:           amount,
		Strategy:         strategy,
		MinConfirmations: params.MinConfirmations,
		ChangeOutputs:    params.ChangeOutputs,
		Account:          params.Account,
		Message:          params.Message,
		LockHeight:       params.LockHeight,
	}
	if params.Proof {
		args.Recipient = to
	}

	sl, err := o.Wallet.Initiate(ctx, args)
	if err != nil {
		return nil, walletError(err)
	}
	data, rpcErr := slateResult(sl)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res := &SendResult{SlateID: sl.ID.String(), Slate: data}

	if params.Method != MethodNone {
		if err := o.deliver(ctx, params.Method, *to, sl); err != nil {
			o.releaseUndelivered(res.SlateID)
			return nil, walletError(err)
		}
		if err := o.Wallet.MarkSent(res.SlateID); err != nil {
			return nil, walletError(err)
		}
		res.Sent = true
	}
	return res, nil
}

func (o *ownerAPI) handleReceive(ctx context.Context, req *Request) (any, *Error) {
	var params SlateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	in, rpcErr := parseSlate(params.Slate)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := o.Wallet.Receive(ctx, in, wallet.ReceiveArgs{Account: params.Account, Message: params.Message})
	if err != nil {
		return nil, walletError(err)
	}
	data, rpcErr := slateResult(out)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &SendResult{SlateID: out.ID.String(), Slate: data}, nil
}

func (o *ownerAPI) handleFinalize(ctx context.Context, req *Request) (any, *Error) {
	var params FinalizeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	sl, rpcErr := parseSlate(params.Slate)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return finalize(ctx, o.Wallet, sl, params.Post)
}

// finalize runs Finalize and reports a failed post alongside the finalized
// transaction, which stays in the log for repost.
func finalize(ctx context.Context, w *wallet.Wallet, sl *slate.Slate, post bool) (*FinalizeResult, *Error) {
	transaction, err := w.Finalize(ctx, sl, wallet.FinalizeArgs{Post: post})
	if transaction == nil {
		return nil, walletError(err)
	}
	res := &FinalizeResult{SlateID: sl.ID.String(), Transaction: transaction, Posted: post && err == nil}
	if err != nil {
		res.PostError = err.Error()
	}
	return res, nil
}

func (o *ownerAPI) handleCancel(ctx context.Context, req *Request) (any, *Error) {
	var params TxRefParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	var err error
	switch {
	case params.TxID != 0:
		err = o.Wallet.Cancel(ctx, params.TxID)
	case params.SlateID != "":
		err = o.Wallet.CancelSlate(ctx, params.SlateID)
	default:
		return nil, invalidParams("tx_id or slate_id is required")
	}
	if err != nil {
		return nil, walletError(err)
	}
	return okResult, nil
}

func (o *ownerAPI) handleRepost(ctx context.Context, req *Request) (any, *Error) {
	var params TxRefParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.TxID == 0 {
		return nil, invalidParams("tx_id is required")
	}
	if err := o.Wallet.Repost(ctx, params.TxID); err != nil {
		return nil, walletError(err)
	}
	return okResult, nil
}

func (o *ownerAPI) handleInvoice(ctx context.Context, req *Request) (any, *Error) {
	var params InvoiceParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := checkMethod(params.Method); err != nil {
		return nil, err
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := o.recipient(params.To, params.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sl, err := o.Wallet.IssueInvoice(ctx, wallet.InvoiceArgs{Amount: amount, Account: params.Account, Message: params.Message})
	if err != nil {
		return nil, walletError(err)
	}
	data, rpcErr := slateResult(sl)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res := &SendResult{SlateID: sl.ID.String(), Slate: data}
	if params.Method != MethodNone {
		if err := o.deliver(ctx, params.Method, *to, sl); err != nil {
			o.releaseUndelivered(res.SlateID)
			return nil, walletError(err)
		}
		res.Sent = true
	}
	return res, nil
}

// releaseUndelivered cancels a slate that never reached the recipient so
// its inputs become spendable again.
func (o *ownerAPI) releaseUndelivered(slateID string) {
	if err := o.Wallet.CancelSlate(context.Background(), slateID); err != nil {
		o.logger.Error().Err(err).Str("slate", slateID).Msg("Failed to release inputs of undelivered slate")
	}
}

func (o *ownerAPI) handleProcessInvoice(ctx context.Context, req *Request) (any, *Error) {
	var params ProcessInvoiceParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := checkMethod(params.Method); err != nil {
		return nil, err
	}
	in, rpcErr := parseSlate(params.Slate)
	if rpcErr != nil {
		return nil, rpcErr
	}
	strategy, rpcErr := parseStrategy(params.Strategy)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := o.recipient(params.To, params.Method)
	if rpcErr != nil {
		return nil, rpcErr
	}

	out, err := o.Wallet.ProcessInvoice(ctx, in, wallet.InitTxArgs{
		Strategy:         strategy,
		MinConfirmations: params.MinConfirmations,
		ChangeOutputs:    params.ChangeOutputs,
		Account:          params.Account,
		Message:          params.Message,
	})
	if err != nil {
		return nil, walletError(err)
	}
	data, rpcErr := slateResult(out)
	if rpcErr != nil {
		return nil, rpcErr
	}
	res := &SendResult{SlateID: out.ID.String(), Slate: data}
	if params.Method != MethodNone {
		if err := o.deliver(ctx, params.Method, *to, out); err != nil {
			o.releaseUndelivered(res.SlateID)
			return nil, walletError(err)
		}
		res.Sent = true
	}
	return res, nil
}

// ── Log, outputs and balance ────────────────────────────────────────────

func (o *ownerAPI) handleTxs(_ context.Context, req *Request) (any, *Error) {
	txs, err := o.Wallet.Txs()
	if err != nil {
		return nil, walletError(err)
	}
	return &TxsResult{Transactions: txs}, nil
}

func (o *ownerAPI) handleOutputs(_ context.Context, req *Request) (any, *Error) {
	var params OutputsParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	status := walletdb.OutputStatus(params.Status)
	switch status {
	case "", walletdb.OutputUnconfirmed, walletdb.OutputUnspent, walletdb.OutputLocked, walletdb.OutputSpent:
	default:
		return nil, invalidParams(fmt.Sprintf("unknown output status %q", params.Status))
	}
	outs, err := o.Wallet.Outputs(status)
	if err != nil {
		return nil, walletError(err)
	}
	return &OutputsResult{Outputs: outs}, nil
}

func (o *ownerAPI) handleInfo(ctx context.Context, req *Request) (any, *Error) {
	var params InfoParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	if params.Refresh {
		if _, err := o.Wallet.Refresh(ctx); err != nil {
			return nil, walletError(err)
		}
	}
	b, err := o.Wallet.Info(params.Account)
	if err != nil {
		return nil, walletError(err)
	}
	return newBalanceResult(b), nil
}

func (o *ownerAPI) handleRefresh(ctx context.Context, req *Request) (any, *Error) {
	res, err := o.Wallet.Refresh(ctx)
	if err != nil {
		return nil, walletError(err)
	}
	return res, nil
}

// ── Payment proofs ──────────────────────────────────────────────────────

func (o *ownerAPI) handleExportProof(_ context.Context, req *Request) (any, *Error) {
	var params TxRefParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id := params.TxID
	if id == 0 && params.SlateID != "" {
		err := o.Wallet.Store().View(func(r *walletdb.Reader) error {
			e, err := r.TxBySlate(params.SlateID)
			if err == nil {
				id = e.ID
			}
			return err
		})
		if err != nil {
			return nil, walletError(err)
		}
	}
	if id == 0 {
		return nil, invalidParams("tx_id or slate_id is required")
	}
	pf, err := o.Wallet.ExportProof(id)
	if err != nil {
		return nil, walletError(err)
	}
	return pf, nil
}

func (o *ownerAPI) handleVerifyProof(ctx context.Context, req *Request) (any, *Error) {
	var params VerifyProofParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Proof == nil {
		return nil, invalidParams("proof is required")
	}
	res, err := o.Wallet.VerifyProof(ctx, params.Proof)
	if err != nil {
		return nil, walletError(err)
	}
	return res, nil
}

// ── Addresses, contacts and accounts ────────────────────────────────────

func (o *ownerAPI) handleAddress(_ context.Context, req *Request) (any, *Error) {
	var res AddressResult
	err := o.Wallet.Store().View(func(r *walletdb.Reader) error {
		var err error
		res.Index, err = r.AddressIndex()
		return err
	})
	if err != nil {
		return nil, walletError(err)
	}
	addr, err := o.Wallet.Address()
	if err != nil {
		return nil, walletError(err)
	}
	res.Address = addr.String()
	return &res, nil
}

func (o *ownerAPI) handleSwitchAddress(_ context.Context, req *Request) (any, *Error) {
	var params SwitchAddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := o.Wallet.SwitchAddress(params.Index)
	if err != nil {
		return nil, walletError(err)
	}
	return &AddressResult{Address: addr.String(), Index: params.Index}, nil
}

func (o *ownerAPI) handleContactsAdd(_ context.Context, req *Request) (any, *Error) {
	var params ContactParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" || params.Address == "" {
		return nil, invalidParams("name and address are required")
	}
	if err := o.Wallet.AddContact(params.Name, params.Address); err != nil {
		return nil, walletError(err)
	}
	return okResult, nil
}

func (o *ownerAPI) handleContactsRemove(_ context.Context, req *Request) (any, *Error) {
	var params ContactParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if err := o.Wallet.RemoveContact(params.Name); err != nil {
		return nil, walletError(err)
	}
	return okResult, nil
}

func (o *ownerAPI) handleContactsList(_ context.Context, req *Request) (any, *Error) {
	contacts, err := o.Wallet.Contacts()
	if err != nil {
		return nil, walletError(err)
	}
	if contacts == nil {
		contacts = []walletdb.Contact{}
	}
	return contacts, nil
}

func (o *ownerAPI) handleAccounts(_ context.Context, req *Request) (any, *Error) {
	accts, err := o.Wallet.Accounts()
	if err != nil {
		return nil, walletError(err)
	}
	return accts, nil
}

func (o *ownerAPI) handleCreateAccount(_ context.Context, req *Request) (any, *Error) {
	var params AccountParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	a, err := o.Wallet.CreateAccount(params.Name)
	if err != nil {
		return nil, walletError(err)
	}
	return a, nil
}

// ── Listeners ───────────────────────────────────────────────────────────

func (o *ownerAPI) listenKind(req *Request) (listener.Kind, *Error) {
	if o.Listeners == nil {
		return listener.Kind{}, walletError(werr.Wrap(werr.ErrInvalidState, "listeners not available"))
	}
	var params ListenParam
	if err := parseParams(req, &params); err != nil {
		return listener.Kind{}, err
	}
	typ, err := listener.ParseType(params.Type)
	if err != nil {
		return listener.Kind{}, invalidParams(err.Error())
	}
	return listener.Kind{Type: typ, Name: params.Name}, nil
}

func (o *ownerAPI) handleListen(_ context.Context, req *Request) (any, *Error) {
	kind, rpcErr := o.listenKind(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if kind.Type == listener.OwnerAPI {
		return nil, invalidParams("the owner API is already serving this request")
	}
	res, err := o.Listeners.Start(kind)
	if err != nil {
		return nil, walletError(err)
	}
	return &ListenResult{Kind: kind, Result: string(res)}, nil
}

func (o *ownerAPI) handleStopListen(_ context.Context, req *Request) (any, *Error) {
	kind, rpcErr := o.listenKind(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if kind.Type == listener.OwnerAPI {
		return nil, invalidParams("the owner API cannot stop itself")
	}
	res, err := o.Listeners.Stop(kind)
	if err != nil {
		return nil, walletError(err)
	}
	return &ListenResult{Kind: kind, Result: string(res)}, nil
}

func (o *ownerAPI) handleListeners(_ context.Context, req *Request) (any, *Error) {
	if o.Listeners == nil {
		return []listener.Status{}, nil
	}
	return o.Listeners.Status(), nil
}

func (o *ownerAPI) handleOutbox(_ context.Context, req *Request) (any, *Error) {
	entries := []relay.OutboxEntry{}
	if o.Transports != nil {
		entries = append(entries, o.Transports.Outbox()...)
	}
	return entries, nil
}
