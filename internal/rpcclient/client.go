// Package rpcclient provides a JSON-RPC 2.0 client used for the node query
// interface and for driving a running wallet's owner API.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// DefaultTimeout bounds a call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	nextID   atomic.Int64

	user, password string
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, DefaultTimeout)
}

// NewWithTimeout creates a new RPC client with a per-call timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		http:     &http.Client{},
	}
}

// SetBasicAuth sends credentials with every call.
func (c *Client) SetBasicAuth(user, password string) {
	c.user, c.password = user, password
}

// Endpoint returns the URL calls are sent to.
func (c *Client) Endpoint() string { return c.endpoint }

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError is returned when the server responds with an error. Kind and
// Entity are set by the wallet's own API so callers can report them.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Kind     string `json:"kind,omitempty"`
		Entity   string `json:"entity,omitempty"`
		EntityID string `json:"entity_id,omitempty"`
	} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided
// pointer. If result is nil, the response result is discarded.
//
// A call that exceeds the client timeout fails with werr.ErrTimeout; a call
// that cannot reach the server fails with werr.ErrTransport. Both are
// retryable.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return werr.Wrap(werr.ErrTimeout, "%s after %s", method, c.timeout)
		}
		return werr.Wrap(werr.ErrTransport, "%s: %v", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return werr.Wrap(werr.ErrTimeout, "%s after %s", method, c.timeout)
		}
		return werr.Wrap(werr.ErrTransport, "read response: %v", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return werr.Wrap(werr.ErrAuth, "%s: wrong or missing API secret", method)
	case http.StatusForbidden:
		return werr.Wrap(werr.ErrAuth, "%s: address not allowed", method)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}
