// Package rpcclient provides a JSON-RPC 2.0 client for Besu ledger endpoints.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single round trip when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxResponseSize caps how much of a response body is read (32 MB).
const maxResponseSize = 32 << 20

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	nextID   atomic.Uint64
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

// Endpoint returns the URL this client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded. A JSON null result leaves
// result untouched.
//
// Every call is bounded by the client timeout; exceeding it yields a *TimeoutError.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return &ProtocolError{Method: method, Reason: "marshal request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Endpoint: c.endpoint, Method: method, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.classify(ctx, method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return c.classify(ctx, method, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &TransportError{
				Endpoint: c.endpoint,
				Method:   method,
				Err:      fmt.Errorf("http status %d", resp.StatusCode),
			}
		}
		return &ProtocolError{Method: method, Reason: "decode response", Err: err}
	}

	if raw, ok := fields["error"]; ok && !isNull(raw) {
		var e rpcError
		if err := json.Unmarshal(raw, &e); err != nil {
			return &ProtocolError{Method: method, Reason: "decode error object", Err: err}
		}
		return &RPCError{Code: e.Code, Message: e.Message, Data: decodeData(e.Data)}
	}

	raw, ok := fields["result"]
	if !ok {
		return &ProtocolError{Method: method, Reason: "missing result"}
	}
	if result != nil && !isNull(raw) {
		if err := json.Unmarshal(raw, result); err != nil {
			return &ProtocolError{Method: method, Reason: "decode result", Err: err}
		}
	}
	return nil
}

// classify maps a transport-level failure to a timeout or transport error.
func (c *Client) classify(ctx context.Context, method string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Endpoint: c.endpoint, Method: method, After: c.timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Endpoint: c.endpoint, Method: method, After: c.timeout}
	}
	return &TransportError{Endpoint: c.endpoint, Method: method, Err: err}
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// decodeData turns the optional error data into a string. Besu puts revert
// data there as a hex string.
func decodeData(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
