// Package devnet is an in-process ledger that speaks the subset of Besu's
// JSON-RPC API used by nodereg. It emulates the NodeRegistry contract and
// QBFT validator voting so that the client can be exercised end to end
// without a real network.
package devnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Klingon-tech/nodereg/contracts"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// Defaults for a zero Config.
const (
	DefaultChainID = 1337
	intrinsicGas   = 21_000
	dataGas        = 16 // Per calldata byte.
	blockGasLimit  = 0x1fffffffffffff
)

// DefaultContract is where the registry lives unless configured otherwise.
var DefaultContract = common.HexToAddress("0x42699A7612A82f1d9C36148af9C77354759b210b")

// runtimeCode is returned by eth_getCode for the registry address.
var runtimeCode = common.FromHex("0x608060405234801561001057600080fd5b50600436106100a95760003560e01c")

// Config describes a devnet chain.
type Config struct {
	ChainID    uint64
	Contract   common.Address
	Validators []common.Address
	// Undeployed leaves the registry address empty, as before migration.
	Undeployed bool
	Now        func() time.Time
}

type block struct {
	number     uint64
	hash       common.Hash
	parent     common.Hash
	time       uint64
	txs        []*sealedTx
	logs       []RPCLog
	validators []common.Address
}

type sealedTx struct {
	tx      *types.Transaction
	from    common.Address
	block   *block
	index   uint
	receipt *RPCReceipt
}

type pendingTx struct {
	tx   *types.Transaction
	from common.Address
}

// Chain is the state shared by every endpoint of a devnet.
type Chain struct {
	mu sync.Mutex

	chainID  *big.Int
	contract common.Address
	abi      abi.ABI
	deployed bool
	registry *registryState

	blocks  []*block
	txs     map[common.Hash]*sealedTx
	nonces  map[common.Address]uint64
	pending []pendingTx
	manual  bool

	validators []common.Address
	votes      map[common.Address]map[common.Address]bool // candidate -> voter -> add

	now    func() time.Time
	offset time.Duration
	logger zerolog.Logger
}

// NewChain creates a chain with a genesis block holding cfg.Validators.
func NewChain(cfg Config) (*Chain, error) {
	parsed, err := abi.JSON(bytes.NewReader(contracts.NodeRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.Contract == (common.Address{}) {
		cfg.Contract = DefaultContract
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Validators) == 0 {
		return nil, fmt.Errorf("devnet needs at least one validator")
	}

	c := &Chain{
		chainID:    new(big.Int).SetUint64(cfg.ChainID),
		contract:   cfg.Contract,
		abi:        parsed,
		deployed:   !cfg.Undeployed,
		registry:   newRegistryState(),
		txs:        make(map[common.Hash]*sealedTx),
		nonces:     make(map[common.Address]uint64),
		validators: append([]common.Address(nil), cfg.Validators...),
		votes:      make(map[common.Address]map[common.Address]bool),
		now:        cfg.Now,
		logger:     klog.Devnet,
	}
	c.appendBlock(nil)
	return c, nil
}

// ChainID returns the EIP-155 chain id.
func (c *Chain) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Contract returns the registry address.
func (c *Chain) Contract() common.Address { return c.contract }

// Head returns the latest block number.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head().number
}

// Validators returns the current validator set.
func (c *Chain) Validators() []common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]common.Address(nil), c.validators...)
}

// AdvanceTime moves the chain clock forward.
func (c *Chain) AdvanceTime(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

// SetManualSealing stops sealing on submission. Transactions then wait in
// the pool until Seal is called.
func (c *Chain) SetManualSealing(manual bool) {
	c.mu.Lock()
	c.manual = manual
	c.mu.Unlock()
}

// Seal mines every pending transaction into one block.
func (c *Chain) Seal() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealLocked()
}

func (c *Chain) head() *block { return c.blocks[len(c.blocks)-1] }

func (c *Chain) clock() uint64 {
	t := uint64(c.now().Add(c.offset).Unix())
	if h := c.head(); h.time > t {
		return h.time
	}
	return t
}

// appendBlock seals txs into a new block carrying the current validator set.
func (c *Chain) appendBlock(txs []*sealedTx) *block {
	b := &block{validators: append([]common.Address(nil), c.validators...)}
	if len(c.blocks) > 0 {
		b.number = c.head().number + 1
		b.parent = c.head().hash
		b.time = c.clock()
	} else {
		b.time = uint64(c.now().Unix())
	}
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], b.number)
	binary.BigEndian.PutUint64(buf[8:], b.time)
	b.hash = crypto.Keccak256Hash(b.parent.Bytes(), buf[:], c.chainID.Bytes())

	for i, st := range txs {
		st.block = b
		st.index = uint(i)
		r := st.receipt
		r.BlockHash = b.hash
		r.BlockNumber = hexU64(b.number)
		r.TxIndex = hexUint(uint(i))
		for j := range r.Logs {
			l := &r.Logs[j]
			l.BlockHash = b.hash
			l.BlockNumber = hexU64(b.number)
			l.TxIndex = hexUint(uint(i))
			l.Index = hexUint(uint(len(b.logs)))
			b.logs = append(b.logs, *l)
		}
		c.txs[st.tx.Hash()] = st
	}
	b.txs = txs
	c.blocks = append(c.blocks, b)
	return b
}

// sealLocked executes pending transactions in a new block. With nothing
// pending it seals an empty block.
func (c *Chain) sealLocked() uint64 {
	pending := c.pending
	c.pending = nil

	blockTime := c.clock()
	sealed := make([]*sealedTx, 0, len(pending))
	for _, p := range pending {
		sealed = append(sealed, &sealedTx{tx: p.tx, from: p.from, receipt: c.execute(p.tx, p.from, blockTime)})
	}
	b := c.appendBlock(sealed)
	c.logger.Debug().Uint64("block", b.number).Int("txs", len(sealed)).Msg("Block sealed")
	return b.number
}

// execute runs tx against the registry and builds its receipt. State
// changes of a failed execution are discarded.
func (c *Chain) execute(tx *types.Transaction, from common.Address, blockTime uint64) *RPCReceipt {
	r := &RPCReceipt{
		TxHash: tx.Hash(),
		From:   from,
		To:     tx.To(),
		Status: 1,
		Logs:   []RPCLog{},
	}
	gasUsed := uint64(intrinsicGas + dataGas*len(tx.Data()))
	if gasUsed > tx.Gas() {
		r.GasUsed = hexU64(tx.Gas())
		r.Status = 0
		return r
	}
	r.GasUsed = hexU64(gasUsed)

	if tx.To() == nil || *tx.To() != c.contract || !c.deployed || len(tx.Data()) == 0 {
		return r
	}

	snapshot := c.registry.clone()
	logs, _, err := c.call(from, tx.Data(), blockTime, false)
	if err != nil {
		c.registry = snapshot
		r.Status = 0
		c.logger.Debug().Err(err).Str("tx", tx.Hash().Hex()).Msg("Execution reverted")
		return r
	}
	for _, l := range logs {
		r.Logs = append(r.Logs, RPCLog{
			Address: c.contract,
			Topics:  l.topics,
			Data:    l.data,
			TxHash:  tx.Hash(),
		})
	}
	return r
}

// submit admits a signed transaction into the pool.
func (c *Chain) submit(tx *types.Transaction) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	signer := types.LatestSignerForChainID(c.chainID)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid sender: %w", err)
	}
	if _, known := c.txs[tx.Hash()]; known {
		return common.Hash{}, fmt.Errorf("known transaction")
	}
	switch want := c.nonces[from]; {
	case tx.Nonce() < want:
		return common.Hash{}, fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), want)
	case tx.Nonce() > want:
		return common.Hash{}, fmt.Errorf("nonce too high: have %d, want %d", tx.Nonce(), want)
	}
	if tx.Gas() < intrinsicGas {
		return common.Hash{}, fmt.Errorf("intrinsic gas too low")
	}
	if tx.Gas() > blockGasLimit {
		return common.Hash{}, fmt.Errorf("exceeds block gas limit")
	}

	c.nonces[from]++
	c.pending = append(c.pending, pendingTx{tx: tx, from: from})
	c.logger.Debug().
		Str("tx", tx.Hash().Hex()).
		Str("from", from.Hex()).
		Uint64("nonce", tx.Nonce()).
		Msg("Transaction accepted")

	if !c.manual {
		c.sealLocked()
	}
	return tx.Hash(), nil
}

// vote records voter's ballot on candidate. A strict majority of current
// validators agreeing applies the change in a new block.
func (c *Chain) vote(voter, candidate common.Address, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isMember(c.validators, candidate) == add {
		delete(c.votes, candidate)
		return
	}
	ballots := c.votes[candidate]
	if ballots == nil {
		ballots = make(map[common.Address]bool)
		c.votes[candidate] = ballots
	}
	ballots[voter] = add

	var tally int
	for v, dir := range ballots {
		if dir == add && isMember(c.validators, v) {
			tally++
		}
	}
	c.logger.Debug().
		Str("candidate", candidate.Hex()).
		Str("voter", voter.Hex()).
		Bool("add", add).
		Int("tally", tally).
		Int("validators", len(c.validators)).
		Msg("Validator vote")
	if tally*2 <= len(c.validators) {
		return
	}

	if add {
		c.validators = append(c.validators, candidate)
	} else if len(c.validators) > 1 {
		kept := c.validators[:0]
		for _, v := range c.validators {
			if v != candidate {
				kept = append(kept, v)
			}
		}
		c.validators = kept
	}
	delete(c.votes, candidate)
	n := c.sealLocked()
	c.logger.Info().
		Str("validator", candidate.Hex()).
		Bool("added", add).
		Uint64("block", n).
		Msg("Validator set changed")
}

func isMember(set []common.Address, addr common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}
