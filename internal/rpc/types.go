package rpc

import (
	"encoding/json"
	"errors"

	"github.com/Klingon-tech/slatewallet/internal/listener"
	"github.com/Klingon-tech/slatewallet/internal/wallet"
	"github.com/Klingon-tech/slatewallet/internal/walletdb"
	"github.com/Klingon-tech/slatewallet/pkg/slate"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	// CodeWalletError carries a wallet failure; Data names its kind.
	CodeWalletError = -32001
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData classifies a wallet error for the caller.
type ErrorData struct {
	Kind     string `json:"kind,omitempty"`
	Entity   string `json:"entity,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
}

// walletError converts a wallet error into a JSON-RPC error that keeps its
// kind and the offending entity.
func walletError(err error) *Error {
	code := CodeWalletError
	switch {
	case errors.Is(err, werr.ErrNotFound):
		code = CodeNotFound
	case werr.KindOf(err) == werr.KindValidation:
		code = CodeInvalidParams
	}
	data := &ErrorData{Kind: werr.KindOf(err).String()}
	if entity, id, ok := werr.EntityOf(err); ok {
		data.Entity, data.EntityID = entity, id
	}
	return &Error{Code: code, Message: err.Error(), Data: data}
}

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

// parseSlate decodes a slate parameter.
func parseSlate(raw json.RawMessage) (*slate.Slate, *Error) {
	if len(raw) == 0 {
		return nil, invalidParams("slate is required")
	}
	sl, err := slate.Parse(raw)
	if err != nil {
		return nil, walletError(err)
	}
	return sl, nil
}

// slateResult encodes a slate at its own version.
func slateResult(sl *slate.Slate) (json.RawMessage, *Error) {
	data, err := sl.Marshal()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return data, nil
}

// ── Param types ─────────────────────────────────────────────────────────

// SendParam is used by send.
type SendParam struct {
	// Amount is a decimal coin amount, e.g. "1.5".
	Amount           string `json:"amount"`
	To               string `json:"to,omitempty"` // address or contact name
	Method           string `json:"method,omitempty"`
	Strategy         string `json:"strategy,omitempty"`
	MinConfirmations uint64 `json:"min_confirmations,omitempty"`
	ChangeOutputs    int    `json:"change_outputs,omitempty"`
	Account          string `json:"account,omitempty"`
	Message          string `json:"message,omitempty"`
	LockHeight       uint64 `json:"lock_height,omitempty"`
	// Proof requests a payment proof from the recipient named by To.
	Proof bool `json:"proof,omitempty"`
}

// Send methods.
const (
	MethodNone  = ""      // return the slate to the caller
	MethodRelay = "relay" // post to the recipient's relay
	MethodP2P   = "p2p"   // publish on the p2p slate channel
)

// SlateParam carries a slate with optional receive settings.
type SlateParam struct {
	Slate   json.RawMessage `json:"slate"`
	Account string          `json:"account,omitempty"`
	Message string          `json:"message,omitempty"`
}

// FinalizeParam is used by finalize.
type FinalizeParam struct {
	Slate json.RawMessage `json:"slate"`
	Post  bool            `json:"post"`
}

// TxRefParam names a transaction log entry by id or slate id.
type TxRefParam struct {
	TxID    uint64 `json:"tx_id,omitempty"`
	SlateID string `json:"slate_id,omitempty"`
}

// OutputsParam filters outputs by status; empty lists all.
type OutputsParam struct {
	Status string `json:"status,omitempty"`
}

// InfoParam is used by info.
type InfoParam struct {
	Account string `json:"account,omitempty"`
	// Refresh updates outputs from the node first.
	Refresh bool `json:"refresh,omitempty"`
}

// VerifyProofParam is used by verify_proof.
type VerifyProofParam struct {
	Proof *wallet.ProofFile `json:"proof"`
}

// SwitchAddressParam is used by switch_address.
type SwitchAddressParam struct {
	Index uint32 `json:"index"`
}

// ContactParam is used by contacts_add and contacts_remove.
type ContactParam struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// AccountParam is used by create_account.
type AccountParam struct {
	Name string `json:"name"`
}

// ListenParam names a listener.
type ListenParam struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// InvoiceParam is used by invoice.
type InvoiceParam struct {
	Amount  string `json:"amount"`
	To      string `json:"to,omitempty"`
	Method  string `json:"method,omitempty"`
	Account string `json:"account,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProcessInvoiceParam is used by process_invoice.
type ProcessInvoiceParam struct {
	Slate            json.RawMessage `json:"slate"`
	To               string          `json:"to,omitempty"` // send the reply back to the issuer
	Method           string          `json:"method,omitempty"`
	Strategy         string          `json:"strategy,omitempty"`
	MinConfirmations uint64          `json:"min_confirmations,omitempty"`
	ChangeOutputs    int             `json:"change_outputs,omitempty"`
	Account          string          `json:"account,omitempty"`
	Message          string          `json:"message,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// SendResult is returned by send, invoice and process_invoice.
type SendResult struct {
	SlateID string          `json:"slate_id"`
	Slate   json.RawMessage `json:"slate"`
	Sent    bool            `json:"sent"`
}

// FinalizeResult is returned by finalize.
type FinalizeResult struct {
	SlateID     string          `json:"slate_id"`
	Transaction *tx.Transaction `json:"transaction"`
	Posted      bool            `json:"posted"`
	PostError   string          `json:"post_error,omitempty"`
}

// AddressResult is returned by address and switch_address.
type AddressResult struct {
	Address string `json:"address"`
	Index   uint32 `json:"index,omitempty"`
}

// BalanceResult adds human-readable amounts to a balance.
type BalanceResult struct {
	*wallet.Balance
	TotalCoins     string `json:"total_coins"`
	SpendableCoins string `json:"spendable_coins"`
}

func newBalanceResult(b *wallet.Balance) *BalanceResult {
	return &BalanceResult{
		Balance:        b,
		TotalCoins:     types.FormatAmount(b.Total),
		SpendableCoins: types.FormatAmount(b.Spendable),
	}
}

// TxsResult is returned by txs.
type TxsResult struct {
	Transactions []*walletdb.TxLogEntry `json:"transactions"`
}

// OutputsResult is returned by outputs.
type OutputsResult struct {
	Outputs []*walletdb.Output `json:"outputs"`
}

// ListenResult is returned by listen and stop_listen.
type ListenResult struct {
	Kind   listener.Kind `json:"kind"`
	Result string        `json:"result"`
}

// VersionResult is returned by check_version.
type VersionResult struct {
	ForeignAPIVersion      int      `json:"foreign_api_version"`
	SupportedSlateVersions []string `json:"supported_slate_versions"`
}

// StatusResult is returned by ok-only methods.
type StatusResult struct {
	Status string `json:"status"`
}

var okResult = &StatusResult{Status: "ok"}
