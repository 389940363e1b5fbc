package devnet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

func hexU64(v uint64) hexutil.Uint64 { return hexutil.Uint64(v) }
func hexUint(v uint) hexutil.Uint     { return hexutil.Uint(v) }

// blockNumber resolves a block tag against the head. Caller holds c.mu.
func (c *Chain) blockNumber(tag string) (uint64, *Error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "latest", "pending", "safe", "finalized":
		return c.head().number, nil
	case "earliest":
		return 0, nil
	}
	n, err := hexutil.DecodeUint64(tag)
	if err != nil {
		return 0, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid block tag %q", tag)}
	}
	return n, nil
}

func (c *Chain) blockAt(n uint64) *block {
	if n >= uint64(len(c.blocks)) {
		return nil
	}
	return c.blocks[n]
}

func (s *Server) handleChainID(_ *Request) (interface{}, *Error) {
	return (*hexutil.Big)(s.chain.ChainID()), nil
}

func (s *Server) handleBlockNumber(_ *Request) (interface{}, *Error) {
	return hexU64(s.chain.Head()), nil
}

func (s *Server) handleGetBlockByNumber(req *Request) (interface{}, *Error) {
	var tag string
	if e := param(req, 0, &tag); e != nil {
		return nil, e
	}
	var full bool
	if e := optionalParam(req, 1, &full); e != nil {
		return nil, e
	}

	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	n, e := c.blockNumber(tag)
	if e != nil {
		return nil, e
	}
	b := c.blockAt(n)
	if b == nil {
		return nil, nil
	}

	out := RPCBlock{
		Number:       hexU64(b.number),
		Hash:         b.hash,
		ParentHash:   b.parent,
		Timestamp:    hexU64(b.time),
		GasLimit:     hexU64(blockGasLimit),
		Transactions: make([]interface{}, 0, len(b.txs)),
	}
	if len(b.validators) > 0 {
		out.Miner = b.validators[int(b.number)%len(b.validators)]
	}
	var used uint64
	for _, st := range b.txs {
		used += uint64(st.receipt.GasUsed)
		if full {
			out.Transactions = append(out.Transactions, rpcTransaction(st))
		} else {
			out.Transactions = append(out.Transactions, st.tx.Hash())
		}
	}
	out.GasUsed = hexU64(used)
	return out, nil
}

func rpcTransaction(st *sealedTx) RPCTransaction {
	hash := st.block.hash
	num := hexU64(st.block.number)
	idx := hexUint(st.index)
	return RPCTransaction{
		Hash:        st.tx.Hash(),
		From:        st.from,
		To:          st.tx.To(),
		Nonce:       hexU64(st.tx.Nonce()),
		Gas:         hexU64(st.tx.Gas()),
		GasPrice:    (*hexutil.Big)(st.tx.GasPrice()),
		Value:       (*hexutil.Big)(st.tx.Value()),
		Input:       st.tx.Data(),
		BlockHash:   &hash,
		BlockNumber: &num,
		TxIndex:     &idx,
	}
}

func (s *Server) handleGetTransactionCount(req *Request) (interface{}, *Error) {
	var addr common.Address
	if e := param(req, 0, &addr); e != nil {
		return nil, e
	}
	var tag string
	if e := optionalParam(req, 1, &tag); e != nil {
		return nil, e
	}

	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nonces[addr]
	if !strings.EqualFold(tag, "pending") {
		for _, p := range c.pending {
			if p.from == addr {
				n--
			}
		}
	}
	return hexU64(n), nil
}

func (s *Server) handleSendRawTransaction(req *Request) (interface{}, *Error) {
	var raw hexutil.Bytes
	if e := param(req, 0, &raw); e != nil {
		return nil, e
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid transaction: %v", err)}
	}
	hash, err := s.chain.submit(tx)
	if err != nil {
		return nil, serverError(err)
	}
	return hash, nil
}

func (s *Server) handleGetTransactionReceipt(req *Request) (interface{}, *Error) {
	var hash common.Hash
	if e := param(req, 0, &hash); e != nil {
		return nil, e
	}
	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.txs[hash]
	if !ok {
		return nil, nil
	}
	return st.receipt, nil
}

type callArgs struct {
	From *common.Address `json:"from"`
	To   *common.Address `json:"to"`
	Data hexutil.Bytes   `json:"data"`
	// Input is the newer spelling of data.
	Input hexutil.Bytes `json:"input"`
}

func (s *Server) handleCall(req *Request) (interface{}, *Error) {
	var args callArgs
	if e := param(req, 0, &args); e != nil {
		return nil, e
	}
	var tag string
	if e := optionalParam(req, 1, &tag); e != nil {
		return nil, e
	}
	input := args.Input
	if len(input) == 0 {
		input = args.Data
	}

	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, e := c.blockNumber(tag); e != nil {
		return nil, e
	}
	if args.To == nil || *args.To != c.contract || !c.deployed {
		return hexutil.Bytes{}, nil
	}
	var from common.Address
	if args.From != nil {
		from = *args.From
	}
	_, out, err := c.call(from, input, c.clock(), true)
	if err == errNotView {
		return hexutil.Bytes{}, nil
	}
	if err != nil {
		return nil, serverError(err)
	}
	return hexutil.Bytes(out), nil
}

// topicFilter accepts null, a single hash or a list of hashes per position.
type topicFilter []common.Hash

func (f *topicFilter) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = nil
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var many []common.Hash
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*f = many
		return nil
	}
	var one common.Hash
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*f = []common.Hash{one}
	return nil
}

type logFilter struct {
	Address   addressFilter `json:"address"`
	FromBlock string        `json:"fromBlock"`
	ToBlock   string        `json:"toBlock"`
	BlockHash *common.Hash  `json:"blockHash"`
	Topics    []topicFilter `json:"topics"`
}

// addressFilter accepts a single address or a list.
type addressFilter []common.Address

func (f *addressFilter) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch {
	case s == "null":
		*f = nil
		return nil
	case strings.HasPrefix(s, "["):
		var many []common.Address
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*f = many
		return nil
	}
	var one common.Address
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*f = []common.Address{one}
	return nil
}

func (f *logFilter) matches(l *RPCLog) bool {
	if len(f.Address) > 0 && !isMember(f.Address, l.Address) {
		return false
	}
	if len(f.Topics) > len(l.Topics) {
		return false
	}
	for i, want := range f.Topics {
		if len(want) == 0 {
			continue
		}
		hit := false
		for _, h := range want {
			if l.Topics[i] == h {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (s *Server) handleGetLogs(req *Request) (interface{}, *Error) {
	var f logFilter
	if e := param(req, 0, &f); e != nil {
		return nil, e
	}

	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	from, to := uint64(0), c.head().number
	if f.BlockHash != nil {
		var found *block
		for _, b := range c.blocks {
			if b.hash == *f.BlockHash {
				found = b
				break
			}
		}
		if found == nil {
			return nil, &Error{Code: CodeServerError, Message: "unknown block"}
		}
		from, to = found.number, found.number
	} else {
		var e *Error
		if f.FromBlock != "" {
			if from, e = c.blockNumber(f.FromBlock); e != nil {
				return nil, e
			}
		} else {
			from = c.head().number
		}
		if f.ToBlock != "" {
			if to, e = c.blockNumber(f.ToBlock); e != nil {
				return nil, e
			}
		}
	}

	out := []RPCLog{}
	for n := from; n <= to; n++ {
		b := c.blockAt(n)
		if b == nil {
			break
		}
		for i := range b.logs {
			if f.matches(&b.logs[i]) {
				out = append(out, b.logs[i])
			}
		}
	}
	return out, nil
}

func (s *Server) handleGetCode(req *Request) (interface{}, *Error) {
	var addr common.Address
	if e := param(req, 0, &addr); e != nil {
		return nil, e
	}
	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr == c.contract && c.deployed {
		return hexutil.Bytes(runtimeCode), nil
	}
	return hexutil.Bytes{}, nil
}

func (s *Server) handlePeerCount(_ *Request) (interface{}, *Error) {
	return hexU64(uint64(s.peers())), nil
}

func (s *Server) handleGetValidatorsByBlockNumber(req *Request) (interface{}, *Error) {
	var tag string
	if e := optionalParam(req, 0, &tag); e != nil {
		return nil, e
	}
	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	n, e := c.blockNumber(tag)
	if e != nil {
		return nil, e
	}
	b := c.blockAt(n)
	if b == nil {
		return nil, &Error{Code: CodeServerError, Message: fmt.Sprintf("block %d not found", n)}
	}
	return append([]common.Address{}, b.validators...), nil
}

func (s *Server) handleProposeValidatorVote(req *Request) (interface{}, *Error) {
	var candidate common.Address
	if e := param(req, 0, &candidate); e != nil {
		return nil, e
	}
	var add bool
	if e := param(req, 1, &add); e != nil {
		return nil, e
	}
	s.chain.vote(s.self, candidate, add)
	return true, nil
}
