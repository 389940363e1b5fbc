package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// SendTransaction packs method with args, signs a legacy zero-gas-price
// transaction from the configured account and waits for its receipt.
//
// The nonce is the account's pending transaction count, used as-is.
// A mined receipt with status 0 is returned together with a transaction error.
func (c *Client) SendTransaction(ctx context.Context, method string, gasLimit uint64, args ...interface{}) (*Receipt, error) {
	acct := c.cfg.Account
	if acct == nil || acct.Key == nil {
		return nil, &Error{Kind: KindTransaction, Op: method, Err: fmt.Errorf("no signing account configured")}
	}
	input, err := c.cfg.ABI.Pack(method, args...)
	if err != nil {
		return nil, Invalid(method, "pack arguments: %v", err)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.PendingNonce(ctx, acct.Address)
	if err != nil {
		return nil, err
	}

	to := c.cfg.Contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(0),
		Gas:      gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), acct.Key)
	if err != nil {
		return nil, &Error{Kind: KindTransaction, Op: method, Err: fmt.Errorf("sign: %w", err)}
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, &Error{Kind: KindTransaction, Op: method, Err: fmt.Errorf("encode: %w", err)}
	}

	sub := SubmittedTx{
		Method:   method,
		Endpoint: c.cfg.Endpoint,
		From:     acct.Address,
		Nonce:    nonce,
		GasLimit: gasLimit,
	}

	var hash common.Hash
	if err := c.rpc.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)}, &hash); err != nil {
		err = Wrap(KindTransaction, method, err)
		sub.Hash = signed.Hash()
		sub.Err = err
		c.observe(sub)
		return nil, err
	}
	sub.Hash = hash

	c.logger.Debug().
		Str("method", method).
		Str("tx", hash.Hex()).
		Uint64("nonce", nonce).
		Msg("Transaction submitted")

	receipt, err := c.WaitForReceipt(ctx, hash)
	if err != nil {
		sub.Err = err
		c.observe(sub)
		return nil, Wrap(KindTransaction, method, err)
	}
	sub.BlockNumber = uint64(receipt.BlockNumber)
	sub.Status = uint64(receipt.Status)

	if receipt.Status != ReceiptSuccess {
		err := &Error{
			Kind: KindTransaction,
			Op:   method,
			Err:  fmt.Errorf("%w: %s in block %d", ErrReverted, hash.Hex(), uint64(receipt.BlockNumber)),
		}
		sub.Err = err
		c.observe(sub)
		return receipt, err
	}

	c.observe(sub)
	c.logger.Info().
		Str("method", method).
		Str("tx", hash.Hex()).
		Uint64("block", uint64(receipt.BlockNumber)).
		Msg("Transaction mined")
	return receipt, nil
}

// WaitForReceipt polls eth_getTransactionReceipt until the transaction is
// mined or the receipt timeout elapses.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var receipt *Receipt
		err := c.rpc.Call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &receipt)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, c.receiptStopped(ctx, hash)
		case err != nil:
			return nil, Wrap(KindRPC, "eth_getTransactionReceipt", err)
		case receipt != nil:
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, c.receiptStopped(ctx, hash)
		case <-ticker.C:
		}
	}
}

func (c *Client) receiptStopped(ctx context.Context, hash common.Hash) error {
	return Stopped(ctx, "eth_getTransactionReceipt",
		fmt.Errorf("transaction %s not mined within %s", hash.Hex(), c.cfg.ReceiptTimeout))
}

func (c *Client) observe(sub SubmittedTx) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveTx(sub)
	}
}
