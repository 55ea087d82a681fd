package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/slatewallet/internal/wallet/wallettest"
)

// FuzzRPCRequestUnmarshal tests that arbitrary JSON does not panic
// when parsed as a JSON-RPC 2.0 request.
func FuzzRPCRequestUnmarshal(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","method":"info","params":null,"id":1}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"send","params":{"amount":"1.5"},"id":"test"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"method":"","params":[]}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"info","params":[1,2,3],"id":999}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		_ = req.Method
		_ = req.ID
	})
}

// FuzzForeignDispatch feeds arbitrary params to the foreign API, which
// accepts slates from untrusted counterparties.
func FuzzForeignDispatch(f *testing.F) {
	f.Add("receive_tx", []byte(`{"slate":{"version":3}}`))
	f.Add("finalize_invoice_tx", []byte(`{"slate":null}`))
	f.Add("receive_tx", []byte(`{"slate":"AAAA"}`))
	f.Add("check_version", []byte(`null`))

	w := wallettest.New(f, 3, nil)
	api := &foreignAPI{wallet: w.Wallet}

	f.Fuzz(func(t *testing.T, method string, params []byte) {
		if !json.Valid(params) {
			return
		}
		api.dispatch(context.Background(), &Request{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	})
}
