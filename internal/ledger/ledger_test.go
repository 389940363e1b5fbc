package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/nodereg/internal/devnet"
	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func startDevnet(t *testing.T, cfg devnet.Config, endpoints int) *devnet.Network {
	t.Helper()
	klog.Init("error", false, "")
	nw, err := devnet.NewNetwork(cfg, endpoints, "127.0.0.1", 0)
	require.NoError(t, err)
	require.NoError(t, nw.Start())
	t.Cleanup(nw.Stop)
	return nw
}

func newClient(t *testing.T, nw *devnet.Network, mutate func(*ledger.Config)) *ledger.Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := ledger.Config{
		Endpoint:     nw.URLs()[0],
		Timeout:      2 * time.Second,
		Contract:     nw.Chain().Contract(),
		ABI:          ledger.MustRegistryABI(),
		Account:      ledger.NewAccount(key),
		PollInterval: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return ledger.New(cfg)
}

type recorder struct {
	mu  sync.Mutex
	txs []ledger.SubmittedTx
}

func (r *recorder) ObserveTx(tx ledger.SubmittedTx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}

func register(ctx context.Context, c *ledger.Client, sig string) (*ledger.Receipt, error) {
	return c.SendTransaction(ctx, "registerNode", 3_000_000,
		"id-"+sig, "name-"+sig, "Edge", []byte("pk"),
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		"", "Cloud", common.FromHex(sig),
	)
}

func TestChainReads(t *testing.T) {
	nw := startDevnet(t, devnet.Config{ChainID: 2018}, 3)
	c := newClient(t, nw, nil)
	ctx := context.Background()

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2018, id.Int64())

	n, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	deployed, err := c.IsDeployed(ctx)
	require.NoError(t, err)
	require.True(t, deployed)

	code, err := c.Code(ctx, c.Contract())
	require.NoError(t, err)
	require.NotEmpty(t, code)

	peers, err := c.PeerCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, peers)

	nonce, err := c.PendingNonce(ctx, c.Account().Address)
	require.NoError(t, err)
	require.Zero(t, nonce)

	blk, err := c.BlockByNumber(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, blk.Transactions)
}

func TestUndeployed(t *testing.T) {
	nw := startDevnet(t, devnet.Config{Undeployed: true}, 1)
	c := newClient(t, nw, nil)
	ctx := context.Background()

	deployed, err := c.IsDeployed(ctx)
	require.NoError(t, err)
	require.False(t, deployed)

	_, err = c.CallView(ctx, "isNodeRegistered", []byte{0x01})
	require.Error(t, err)
	require.Equal(t, ledger.KindContractCall, ledger.KindOf(err))
}

func TestSendTransaction(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	rec := &recorder{}
	c := newClient(t, nw, func(cfg *ledger.Config) { cfg.Observer = rec })
	ctx := context.Background()

	receipt, err := register(ctx, c, "0xaa01")
	require.NoError(t, err)
	require.EqualValues(t, ledger.ReceiptSuccess, receipt.Status)
	require.EqualValues(t, 1, receipt.BlockNumber)

	var ev struct {
		NodeId        string
		NodeName      string
		NodeType      uint8
		NodeSignature []byte
		RegisteredBy  common.Address
	}
	found, err := c.FindEvent("NodeRegistered", receipt.Logs, &ev)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "id-0xaa01", ev.NodeId)
	require.Equal(t, c.Account().Address, ev.RegisteredBy)

	var ok bool
	require.NoError(t, c.CallViewInto(ctx, &ok, "isNodeRegistered", common.FromHex("0xaa01")))
	require.True(t, ok)

	// The nonce advances with each transaction.
	_, err = register(ctx, c, "0xaa02")
	require.NoError(t, err)
	nonce, err := c.PendingNonce(ctx, c.Account().Address)
	require.NoError(t, err)
	require.EqualValues(t, 2, nonce)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.txs, 2)
	require.Equal(t, "registerNode", rec.txs[0].Method)
	require.EqualValues(t, 1, rec.txs[1].Nonce)
	require.NoError(t, rec.txs[1].Err)
}

func TestSendTransactionReverted(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	rec := &recorder{}
	c := newClient(t, nw, func(cfg *ledger.Config) { cfg.Observer = rec })
	ctx := context.Background()

	_, err := register(ctx, c, "0xbb01")
	require.NoError(t, err)

	receipt, err := register(ctx, c, "0xbb01")
	require.Error(t, err)
	require.True(t, errors.Is(err, ledger.ErrReverted))
	require.Equal(t, ledger.KindTransaction, ledger.KindOf(err))
	require.NotNil(t, receipt)
	require.EqualValues(t, ledger.ReceiptFailed, receipt.Status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.txs, 2)
	require.ErrorIs(t, rec.txs[1].Err, ledger.ErrReverted)
}

func TestSendTransactionWithoutAccount(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	c := newClient(t, nw, func(cfg *ledger.Config) { cfg.Account = nil })

	_, err := register(context.Background(), c, "0xcc01")
	require.Equal(t, ledger.KindTransaction, ledger.KindOf(err))
}

func TestSendTransactionBadArgs(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	c := newClient(t, nw, nil)

	_, err := c.SendTransaction(context.Background(), "registerNode", 3_000_000, "only-one-arg")
	require.Equal(t, ledger.KindValidation, ledger.KindOf(err))
}

func TestReceiptTimeout(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	nw.Chain().SetManualSealing(true)
	c := newClient(t, nw, func(cfg *ledger.Config) { cfg.ReceiptTimeout = 100 * time.Millisecond })

	_, err := register(context.Background(), c, "0xdd01")
	require.Error(t, err)
	require.Equal(t, ledger.KindTimeout, ledger.KindOf(err))

	// Once sealed the transaction is visible.
	nw.Chain().Seal()
	var ok bool
	require.NoError(t, c.CallViewInto(context.Background(), &ok, "isNodeRegistered", common.FromHex("0xdd01")))
	require.True(t, ok)
}

func TestReceiptWaitInterrupted(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	nw.Chain().SetManualSealing(true)
	c := newClient(t, nw, func(cfg *ledger.Config) { cfg.ReceiptTimeout = time.Minute })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	_, err := register(ctx, c, "0xdd02")
	require.Error(t, err)
	require.Equal(t, ledger.KindCanceled, ledger.KindOf(err))
	require.ErrorIs(t, err, context.Canceled)
}

func TestTransactionsCanceled(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	c := newClient(t, nw, nil)
	_, err := register(context.Background(), c, "0xdd03")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Transactions(ctx, 0, nil)
	require.Equal(t, ledger.KindCanceled, ledger.KindOf(err))
}

func TestFilterLogsChunked(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	c := newClient(t, nw, nil)
	ctx := context.Background()

	for _, sig := range []string{"0xee01", "0xee02", "0xee03", "0xee04"} {
		_, err := register(ctx, c, sig)
		require.NoError(t, err)
	}

	whole, err := c.FilterLogs(ctx, "NodeRegistered")
	require.NoError(t, err)
	require.Len(t, whole, 4)

	chunked := newClient(t, nw, func(cfg *ledger.Config) {
		cfg.ScanChunk = 1
		cfg.ScanRPS = 1000
	})
	logs, err := chunked.FilterLogs(ctx, "NodeRegistered")
	require.NoError(t, err)
	require.Len(t, logs, 4)
	for i := 1; i < len(logs); i++ {
		require.Less(t, uint64(logs[i-1].BlockNumber), uint64(logs[i].BlockNumber))
	}

	_, err = c.FilterLogs(ctx, "NoSuchEvent")
	require.Equal(t, ledger.KindEventDecode, ledger.KindOf(err))
}

func TestDecodeEventMismatch(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	c := newClient(t, nw, nil)

	receipt, err := register(context.Background(), c, "0xff01")
	require.NoError(t, err)

	var out struct{ NodeAddress common.Address }
	err = c.DecodeEvent("TokenIssued", receipt.Logs[0], &out)
	require.ErrorIs(t, err, ledger.ErrNoMatchingEvent)
	require.Equal(t, ledger.KindEventDecode, ledger.KindOf(err))

	found, err := c.FindEvent("TokenRevoked", receipt.Logs, &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTransactions(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 1)
	c := newClient(t, nw, nil)
	ctx := context.Background()

	for _, sig := range []string{"0x0101", "0x0102", "0x0103"} {
		_, err := register(ctx, c, sig)
		require.NoError(t, err)
	}

	all, err := c.Transactions(ctx, 0, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, c.Account().Address, all[0].From)

	to := uint64(2)
	some, err := c.Transactions(ctx, 2, &to)
	require.NoError(t, err)
	require.Len(t, some, 1)
	require.EqualValues(t, 2, some[0].BlockNumber)
}

func TestWithEndpointSharesAccount(t *testing.T) {
	nw := startDevnet(t, devnet.Config{}, 2)
	c := newClient(t, nw, nil)
	other := c.WithEndpoint(nw.URLs()[1])

	require.Equal(t, nw.URLs()[1], other.Endpoint())
	require.Equal(t, c.Account(), other.Account())
	require.Equal(t, c.Contract(), other.Contract())

	// A write through the second endpoint lands on the shared chain.
	_, err := register(context.Background(), other, "0x0201")
	require.NoError(t, err)
	var ok bool
	require.NoError(t, c.CallViewInto(context.Background(), &ok, "isNodeRegistered", common.FromHex("0x0201")))
	require.True(t, ok)
}
