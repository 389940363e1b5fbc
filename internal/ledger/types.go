package ledger

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is the signing identity used for transactions.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// NewAccount derives the address from key.
func NewAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}
}

// Receipt status values.
const (
	ReceiptFailed  = 0
	ReceiptSuccess = 1
)

// Receipt is the subset of eth_getTransactionReceipt the client uses.
type Receipt struct {
	TxHash          common.Hash     `json:"transactionHash"`
	TxIndex         hexutil.Uint    `json:"transactionIndex"`
	BlockHash       common.Hash     `json:"blockHash"`
	BlockNumber     hexutil.Uint64  `json:"blockNumber"`
	From            common.Address  `json:"from"`
	To              *common.Address `json:"to"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
	Status          hexutil.Uint64  `json:"status"`
	ContractAddress *common.Address `json:"contractAddress"`
	Logs            []Log           `json:"logs"`
}

// Log is a contract event log as returned by eth_getLogs and receipts.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	TxIndex     hexutil.Uint   `json:"transactionIndex"`
	BlockHash   common.Hash    `json:"blockHash"`
	Index       hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

// Block is an eth_getBlockByNumber result with full transactions.
type Block struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Miner        common.Address `json:"miner"`
	GasLimit     hexutil.Uint64 `json:"gasLimit"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	Transactions []Transaction  `json:"transactions"`
}

// Transaction is a transaction object embedded in a block.
type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	Gas         hexutil.Uint64  `json:"gas"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
	BlockHash   *common.Hash    `json:"blockHash"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	TxIndex     *hexutil.Uint   `json:"transactionIndex"`
}

// SubmittedTx describes a transaction this client sent, for observers.
type SubmittedTx struct {
	Hash        common.Hash
	Method      string
	Endpoint    string
	From        common.Address
	Nonce       uint64
	GasLimit    uint64
	BlockNumber uint64
	Status      uint64
	Err         error
}

// TxObserver is notified about every submitted transaction, successful or not.
type TxObserver interface {
	ObserveTx(tx SubmittedTx)
}
