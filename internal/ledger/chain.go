package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainID returns eth_chainId, fetched once per client family.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.shared.mu.Lock()
	cached := c.shared.chainID
	c.shared.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	var id hexutil.Big
	if err := c.rpc.Call(ctx, "eth_chainId", nil, &id); err != nil {
		return nil, Wrap(KindRPC, "eth_chainId", err)
	}
	v := (*big.Int)(&id)

	c.shared.mu.Lock()
	c.shared.chainID = new(big.Int).Set(v)
	c.shared.mu.Unlock()
	return v, nil
}

// PendingNonce returns eth_getTransactionCount(addr, "pending").
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var n hexutil.Uint64
	if err := c.rpc.Call(ctx, "eth_getTransactionCount", []interface{}{addr, "pending"}, &n); err != nil {
		return 0, Wrap(KindRPC, "eth_getTransactionCount", err)
	}
	return uint64(n), nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.rpc.Call(ctx, "eth_blockNumber", nil, &n); err != nil {
		return 0, Wrap(KindRPC, "eth_blockNumber", err)
	}
	return uint64(n), nil
}

// BlockByNumber returns block n with full transaction objects, or nil if the
// endpoint does not know it.
func (c *Client) BlockByNumber(ctx context.Context, n uint64) (*Block, error) {
	var b *Block
	if err := c.rpc.Call(ctx, "eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(n), true}, &b); err != nil {
		return nil, Wrap(KindRPC, "eth_getBlockByNumber", err)
	}
	return b, nil
}

// Code returns the deployed bytecode at addr. Some nodes answer "0x0" for
// an empty account; that decodes to no code.
func (c *Client) Code(ctx context.Context, addr common.Address) (hexutil.Bytes, error) {
	var s string
	if err := c.rpc.Call(ctx, "eth_getCode", []interface{}{addr, "latest"}, &s); err != nil {
		return nil, Wrap(KindRPC, "eth_getCode", err)
	}
	if s == "" || s == "0x" || s == "0x0" {
		return nil, nil
	}
	code, err := hexutil.Decode(s)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: "eth_getCode", Err: err}
	}
	return code, nil
}

// IsDeployed reports whether the configured contract address holds code.
func (c *Client) IsDeployed(ctx context.Context) (bool, error) {
	code, err := c.Code(ctx, c.cfg.Contract)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// PeerCount returns net_peerCount decoded from hex.
func (c *Client) PeerCount(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.rpc.Call(ctx, "net_peerCount", nil, &n); err != nil {
		return 0, Wrap(KindRPC, "net_peerCount", err)
	}
	return uint64(n), nil
}

// BlockTx is a transaction together with the block that included it.
type BlockTx struct {
	BlockNumber uint64      `json:"blockNumber"`
	BlockHash   common.Hash `json:"blockHash"`
	Timestamp   uint64      `json:"timestamp"`
	Transaction
}

// Transactions walks blocks from..to inclusive and returns every transaction.
// A nil to means the latest block.
func (c *Client) Transactions(ctx context.Context, from uint64, to *uint64) ([]BlockTx, error) {
	last, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if to != nil && *to < last {
		last = *to
	}
	if from > last {
		return nil, nil
	}

	var out []BlockTx
	for n := from; n <= last; n++ {
		if ctx.Err() != nil {
			return nil, Stopped(ctx, "getAllTransactions", fmt.Errorf("stopped at block %d", n))
		}
		b, err := c.BlockByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, &Error{Kind: KindProtocol, Op: "eth_getBlockByNumber", Err: fmt.Errorf("block %d not found", n)}
		}
		for _, tx := range b.Transactions {
			out = append(out, BlockTx{
				BlockNumber: uint64(b.Number),
				BlockHash:   b.Hash,
				Timestamp:   uint64(b.Timestamp),
				Transaction: tx,
			})
		}
	}
	return out, nil
}
