package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// fakeNode answers node_* methods from fixed state.
func fakeNode(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     int64           `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case MethodGetTip:
			resp["result"] = TipResult{Height: 42}
		case MethodGetOutput:
			var p CommitParam
			json.Unmarshal(req.Params, &p)
			if p.Commit[0] == 0x09 {
				resp["result"] = OutputInfo{Commit: p.Commit, Height: 40}
			} else {
				resp["result"] = nil
			}
		case MethodGetKernel:
			resp["result"] = nil
		case MethodPostTransaction:
			resp["error"] = RPCError{Code: -32000, Message: "rejected"}
		default:
			resp["error"] = RPCError{Code: -32601, Message: "method not found"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNode_GetTip(t *testing.T) {
	srv := fakeNode(t, 0)
	n := NewNode(New(srv.URL))

	h, err := n.GetTip(context.Background())
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if h != 42 {
		t.Errorf("height = %d, want 42", h)
	}
}

func TestNode_GetOutput(t *testing.T) {
	srv := fakeNode(t, 0)
	n := NewNode(New(srv.URL))

	var known, unknown types.Commitment
	known[0] = 0x09
	unknown[0] = 0x08

	info, err := n.GetOutput(context.Background(), known)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if info == nil || info.Height != 40 {
		t.Errorf("GetOutput(known) = %+v", info)
	}

	info, err = n.GetOutput(context.Background(), unknown)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if info != nil {
		t.Errorf("GetOutput(unknown) = %+v, want nil", info)
	}
}

func TestNode_PostTransaction_Rejected(t *testing.T) {
	srv := fakeNode(t, 0)
	n := NewNode(New(srv.URL))

	err := n.PostTransaction(context.Background(), tx.New(1, 0))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32000 {
		t.Errorf("error code = %d, want -32000", rpcErr.Code)
	}
	if werr.IsRetryable(err) {
		t.Error("node rejection reported as retryable")
	}
}

func TestClient_Call_MethodNotFound(t *testing.T) {
	srv := fakeNode(t, 0)
	c := New(srv.URL)

	err := c.Call(context.Background(), "nonexistent_method", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("error code = %d, want -32601", rpcErr.Code)
	}
}

func TestClient_Call_Timeout(t *testing.T) {
	srv := fakeNode(t, 200*time.Millisecond)
	c := NewWithTimeout(srv.URL, 20*time.Millisecond)

	err := c.Call(context.Background(), MethodGetTip, nil, nil)
	if !errors.Is(err, werr.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if !werr.IsRetryable(err) {
		t.Error("timeout not retryable")
	}
}

func TestClient_Call_InvalidEndpoint(t *testing.T) {
	c := New("http://127.0.0.1:1/") // port 1, connection refused

	err := c.Call(context.Background(), MethodGetTip, nil, nil)
	if !errors.Is(err, werr.ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
}
