// Package ledger is a typed client for one NodeRegistry contract instance
// reachable over a Besu JSON-RPC endpoint.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/internal/rpcclient"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

// Defaults for receipt polling.
const (
	DefaultReceiptTimeout = 60 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
)

// Config describes how to reach and drive one contract instance.
type Config struct {
	Endpoint string
	Timeout  time.Duration // Per round trip.
	Contract common.Address
	ABI      abi.ABI
	Account  *Account // Nil for read-only use.

	ReceiptTimeout time.Duration
	PollInterval   time.Duration

	// ScanChunk is the block span of one eth_getLogs request. Zero scans
	// genesis..latest in a single request.
	ScanChunk uint64
	// ScanRPS limits chunked scan requests per second. Zero means unlimited.
	ScanRPS float64

	Observer TxObserver
}

// Client exposes typed calls against one contract through one endpoint.
type Client struct {
	cfg    Config
	rpc    *rpcclient.Client
	shared *shared
	logger zerolog.Logger
}

// shared holds state common to a client and its WithEndpoint siblings.
type shared struct {
	mu      sync.Mutex
	chainID *big.Int
}

// New creates a client. It performs no network I/O.
func New(cfg Config) *Client {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Client{
		cfg:    cfg,
		rpc:    rpcclient.NewWithTimeout(cfg.Endpoint, cfg.Timeout),
		shared: &shared{},
		logger: klog.Ledger.With().Str("endpoint", cfg.Endpoint).Logger(),
	}
}

// WithEndpoint returns a client for the same contract and account bound to
// another endpoint of the same network.
func (c *Client) WithEndpoint(endpoint string) *Client {
	cfg := c.cfg
	cfg.Endpoint = endpoint
	return &Client{
		cfg:    cfg,
		rpc:    rpcclient.NewWithTimeout(endpoint, c.rpc.Timeout()),
		shared: c.shared,
		logger: klog.Ledger.With().Str("endpoint", endpoint).Logger(),
	}
}

// Endpoint returns the endpoint URL.
func (c *Client) Endpoint() string { return c.cfg.Endpoint }

// Contract returns the contract address.
func (c *Client) Contract() common.Address { return c.cfg.Contract }

// ABI returns the contract ABI.
func (c *Client) ABI() abi.ABI { return c.cfg.ABI }

// Account returns the signing account, or nil.
func (c *Client) Account() *Account { return c.cfg.Account }

// RawCall issues a chain-native JSON-RPC method not exposed by the contract.
func (c *Client) RawCall(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := c.rpc.Call(ctx, method, params, result); err != nil {
		return Wrap(KindRPC, method, err)
	}
	return nil
}

// CallView runs a read-only contract method and returns the unpacked outputs.
func (c *Client) CallView(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.callRaw(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.cfg.ABI.Unpack(method, data)
	if err != nil {
		return nil, &Error{Kind: KindContractCall, Op: method, Err: fmt.Errorf("unpack result: %w", err)}
	}
	return out, nil
}

// CallViewInto runs a read-only contract method and copies the outputs into
// out: a pointer to a struct whose fields match the output names, or to a
// single value for one-output methods.
func (c *Client) CallViewInto(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	data, err := c.callRaw(ctx, method, args...)
	if err != nil {
		return err
	}
	if err := c.cfg.ABI.UnpackIntoInterface(out, method, data); err != nil {
		return &Error{Kind: KindContractCall, Op: method, Err: fmt.Errorf("unpack result: %w", err)}
	}
	return nil
}

func (c *Client) callRaw(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	input, err := c.cfg.ABI.Pack(method, args...)
	if err != nil {
		return nil, Invalid(method, "pack arguments: %v", err)
	}

	msg := map[string]interface{}{
		"to":   c.cfg.Contract,
		"data": hexutil.Bytes(input),
	}
	if c.cfg.Account != nil {
		msg["from"] = c.cfg.Account.Address
	}

	var result hexutil.Bytes
	if err := c.rpc.Call(ctx, "eth_call", []interface{}{msg, "latest"}, &result); err != nil {
		return nil, Wrap(KindContractCall, method, err)
	}
	if len(result) == 0 {
		return nil, &Error{
			Kind: KindContractCall,
			Op:   method,
			Err:  fmt.Errorf("empty return data from %s (is the contract deployed?)", c.cfg.Contract.Hex()),
		}
	}
	return result, nil
}

// DecodeEvent decodes log as event name into out. Indexed fields are read
// from topics, the rest from data. A log whose topic0 is not the event's
// signature hash yields an event_decode error wrapping ErrNoMatchingEvent.
func (c *Client) DecodeEvent(name string, log Log, out interface{}) error {
	ev, ok := c.cfg.ABI.Events[name]
	if !ok {
		return &Error{Kind: KindEventDecode, Op: name, Err: fmt.Errorf("event not in abi")}
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return &Error{Kind: KindEventDecode, Op: name, Err: ErrNoMatchingEvent}
	}

	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := c.cfg.ABI.UnpackIntoInterface(out, name, log.Data); err != nil {
			return &Error{Kind: KindEventDecode, Op: name, Err: fmt.Errorf("unpack data: %w", err)}
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if len(log.Topics)-1 != len(indexed) {
			return &Error{
				Kind: KindEventDecode,
				Op:   name,
				Err:  fmt.Errorf("log has %d topics, event needs %d", len(log.Topics)-1, len(indexed)),
			}
		}
		if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
			return &Error{Kind: KindEventDecode, Op: name, Err: fmt.Errorf("parse topics: %w", err)}
		}
	}
	return nil
}

// FindEvent decodes the first log emitted by this contract that carries
// event name. It reports false when no log matches.
func (c *Client) FindEvent(name string, logs []Log, out interface{}) (bool, error) {
	for _, l := range logs {
		if l.Address != c.cfg.Contract {
			continue
		}
		err := c.DecodeEvent(name, l, out)
		if errors.Is(err, ErrNoMatchingEvent) {
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// EventID returns the topic0 of event name.
func (c *Client) EventID(name string) (common.Hash, error) {
	ev, ok := c.cfg.ABI.Events[name]
	if !ok {
		return common.Hash{}, &Error{Kind: KindEventDecode, Op: name, Err: fmt.Errorf("event not in abi")}
	}
	return ev.ID, nil
}
