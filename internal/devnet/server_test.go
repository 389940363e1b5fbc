package devnet

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// testEnv holds a started devnet and a funded signer.
type testEnv struct {
	net  *Network
	url  string
	key  *ecdsa.PrivateKey
	from common.Address
	abi  abi.ABI
}

func setupTestEnv(t *testing.T, endpoints int) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	nw, err := NewNetwork(Config{}, endpoints, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	if err := nw.Start(); err != nil {
		t.Fatalf("start network: %v", err)
	}
	t.Cleanup(nw.Stop)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testEnv{
		net:  nw,
		url:  nw.URLs()[0],
		key:  key,
		from: crypto.PubkeyToAddress(key.PublicKey),
		abi:  nw.Chain().abi,
	}
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

func rpcCall(t *testing.T, url, method string, params ...interface{}) rpcResponse {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func mustResult(t *testing.T, resp rpcResponse, target interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if err := json.Unmarshal(resp.Result, target); err != nil {
		t.Fatalf("decode result %s: %v", resp.Result, err)
	}
}

func (e *testEnv) send(t *testing.T, nonce uint64, gas uint64, method string, args ...interface{}) rpcResponse {
	t.Helper()
	input, err := e.abi.Pack(method, args...)
	if err != nil {
		t.Fatalf("pack %s: %v", method, err)
	}
	to := e.net.Chain().Contract()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(0),
		Gas:      gas,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(e.net.Chain().ChainID()), e.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, _ := signed.MarshalBinary()
	return rpcCall(t, e.url, "eth_sendRawTransaction", hexutil.Encode(raw))
}

func (e *testEnv) receipt(t *testing.T, hash common.Hash) *RPCReceipt {
	t.Helper()
	var r *RPCReceipt
	mustResult(t, rpcCall(t, e.url, "eth_getTransactionReceipt", hash), &r)
	return r
}

func (e *testEnv) view(t *testing.T, method string, args ...interface{}) []interface{} {
	t.Helper()
	input, err := e.abi.Pack(method, args...)
	if err != nil {
		t.Fatalf("pack %s: %v", method, err)
	}
	var out hexutil.Bytes
	mustResult(t, rpcCall(t, e.url, "eth_call", map[string]interface{}{
		"to":   e.net.Chain().Contract(),
		"data": hexutil.Bytes(input),
	}, "latest"), &out)
	values, err := e.abi.Unpack(method, out)
	if err != nil {
		t.Fatalf("unpack %s: %v", method, err)
	}
	return values
}

func registerArgs(id string, sig []byte, nodeAddr common.Address, url string) []interface{} {
	return []interface{}{id, "node " + id, "Cloud", []byte{0x04, 0x01}, nodeAddr, url, "Fog", sig}
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestDevnet_ChainID(t *testing.T) {
	env := setupTestEnv(t, 1)

	var id hexutil.Big
	mustResult(t, rpcCall(t, env.url, "eth_chainId"), &id)
	if (*big.Int)(&id).Uint64() != DefaultChainID {
		t.Errorf("chain id = %s, want %d", id.String(), DefaultChainID)
	}
}

func TestDevnet_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t, 1)

	resp := rpcCall(t, env.url, "eth_mining")
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", resp.Error, CodeMethodNotFound)
	}
}

func TestDevnet_RejectsGET(t *testing.T) {
	env := setupTestEnv(t, 1)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out rpcResponse
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Error == nil || out.Error.Code != CodeInvalidRequest {
		t.Errorf("error = %+v, want invalid request", out.Error)
	}
}

func TestDevnet_GetCode(t *testing.T) {
	env := setupTestEnv(t, 1)

	var code hexutil.Bytes
	mustResult(t, rpcCall(t, env.url, "eth_getCode", env.net.Chain().Contract(), "latest"), &code)
	if len(code) == 0 {
		t.Error("registry has no code")
	}
	mustResult(t, rpcCall(t, env.url, "eth_getCode", env.from, "latest"), &code)
	if len(code) != 0 {
		t.Errorf("account code = %x, want empty", code)
	}
}

func TestDevnet_Undeployed(t *testing.T) {
	klog.Init("error", false, "")
	nw, err := NewNetwork(Config{Undeployed: true}, 1, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	if err := nw.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer nw.Stop()

	var code string
	mustResult(t, rpcCall(t, nw.URLs()[0], "eth_getCode", nw.Chain().Contract(), "latest"), &code)
	if code != "0x" {
		t.Errorf("code = %q, want 0x", code)
	}
}

func TestDevnet_RegisterNode(t *testing.T) {
	env := setupTestEnv(t, 1)
	nodeAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	resp := env.send(t, 0, 3_000_000, "registerNode", registerArgs("FOG-004", []byte{0xaa, 0xbb}, nodeAddr, "http://10.0.0.4:8545")...)
	var hash common.Hash
	mustResult(t, resp, &hash)

	r := env.receipt(t, hash)
	if r == nil {
		t.Fatal("no receipt")
	}
	if r.Status != 1 {
		t.Fatalf("status = %d, want 1", r.Status)
	}
	if len(r.Logs) != 2 {
		t.Fatalf("logs = %d, want NodeRegistered and RpcUrlMapped", len(r.Logs))
	}
	if r.Logs[0].Topics[0] != env.abi.Events["NodeRegistered"].ID {
		t.Error("first log is not NodeRegistered")
	}
	if r.Logs[0].Topics[1] != common.BytesToHash(env.from.Bytes()) {
		t.Error("registeredBy topic is not the sender")
	}
	if r.Logs[1].Topics[1] != common.BytesToHash(nodeAddr.Bytes()) {
		t.Error("RpcUrlMapped topic is not the node address")
	}

	out := env.view(t, "isNodeRegistered", []byte{0xaa, 0xbb})
	if !out[0].(bool) {
		t.Error("node not registered")
	}
	details := env.view(t, "getNodeDetailsByAddress", nodeAddr)
	if details[0].(string) != "FOG-004" || details[2].(uint8) != 1 || details[7].(uint8) != 0 {
		t.Errorf("details = %v", details)
	}

	var nonce hexutil.Uint64
	mustResult(t, rpcCall(t, env.url, "eth_getTransactionCount", env.from, "pending"), &nonce)
	if nonce != 1 {
		t.Errorf("nonce = %d, want 1", nonce)
	}
}

func TestDevnet_DuplicateRegistrationReverts(t *testing.T) {
	env := setupTestEnv(t, 1)
	args := registerArgs("EDGE-1", []byte{0x01}, common.Address{}, "")

	var first, second common.Hash
	mustResult(t, env.send(t, 0, 3_000_000, "registerNode", args...), &first)
	mustResult(t, env.send(t, 1, 3_000_000, "registerNode", args...), &second)

	if r := env.receipt(t, first); r.Status != 1 || len(r.Logs) != 1 {
		t.Errorf("first: status %d logs %d, want 1 and 1", r.Status, len(r.Logs))
	}
	if r := env.receipt(t, second); r.Status != 0 {
		t.Errorf("second status = %d, want 0", r.Status)
	}
}

func TestDevnet_NonceChecks(t *testing.T) {
	env := setupTestEnv(t, 1)

	resp := env.send(t, 5, 3_000_000, "proposeValidator", common.HexToAddress("0x02"))
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "nonce too high") {
		t.Fatalf("error = %+v, want nonce too high", resp.Error)
	}
	resp = env.send(t, 0, 20_000, "proposeValidator", common.HexToAddress("0x02"))
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "intrinsic gas") {
		t.Fatalf("error = %+v, want intrinsic gas too low", resp.Error)
	}
}

func TestDevnet_CallRevert(t *testing.T) {
	env := setupTestEnv(t, 1)

	input, _ := env.abi.Pack("isNodeRegistered", []byte{0x01})
	resp := rpcCall(t, env.url, "eth_call", map[string]interface{}{
		"to":   env.net.Chain().Contract(),
		"data": hexutil.Bytes(input[:6]),
	}, "latest")
	if resp.Error == nil || resp.Error.Code != CodeReverted {
		t.Fatalf("error = %+v, want revert", resp.Error)
	}
}

func TestDevnet_TokenLifecycle(t *testing.T) {
	env := setupTestEnv(t, 1)
	from, to := []byte{0x0f}, []byte{0x0c}

	var h common.Hash
	mustResult(t, env.send(t, 0, 3_000_000, "registerNode", "FOG-1", "fog", "Cloud", []byte{}, common.Address{}, "", "Fog", from), &h)
	mustResult(t, env.send(t, 1, 3_000_000, "registerNode", "CLOUD-1", "cloud", "Cloud", []byte{}, common.Address{}, "", "Cloud", to), &h)

	if expired := env.view(t, "isTokenExpired", from, to, big.NewInt(60)); !expired[0].(bool) {
		t.Error("missing token should count as expired")
	}

	mustResult(t, env.send(t, 2, 300_000, "issueToken", from, to), &h)
	if r := env.receipt(t, h); r.Status != 1 || len(r.Logs) != 1 {
		t.Fatalf("issue: status %d logs %d", r.Status, len(r.Logs))
	}
	tok := env.view(t, "getToken", from, to)
	if tok[0].(string) != "FOG_TO_CLOUD:READ,WRITE,TRANSMIT" {
		t.Errorf("policy = %q", tok[0])
	}
	if !tok[2].(bool) || tok[3].(bool) {
		t.Errorf("issued/revoked = %v/%v", tok[2], tok[3])
	}
	if ok := env.view(t, "checkToken", from, to); !ok[0].(bool) {
		t.Error("checkToken = false after issue")
	}
	if expired := env.view(t, "isTokenExpired", from, to, big.NewInt(60)); expired[0].(bool) {
		t.Error("fresh token reported expired")
	}

	env.net.Chain().AdvanceTime(2 * time.Minute)
	if expired := env.view(t, "isTokenExpired", from, to, big.NewInt(60)); !expired[0].(bool) {
		t.Error("token not expired after validity")
	}

	mustResult(t, env.send(t, 3, 200_000, "revokeToken", from, to), &h)
	if ok := env.view(t, "checkToken", from, to); ok[0].(bool) {
		t.Error("checkToken = true after revoke")
	}
	mustResult(t, env.send(t, 4, 200_000, "revokeToken", from, to), &h)
	if r := env.receipt(t, h); r.Status != 0 {
		t.Error("second revoke did not revert")
	}
}

func TestDevnet_GetLogsTopicFilter(t *testing.T) {
	env := setupTestEnv(t, 1)
	a := common.HexToAddress("0xa1")
	b := common.HexToAddress("0xb2")

	var h common.Hash
	mustResult(t, env.send(t, 0, 3_000_000, "registerNode", registerArgs("A", []byte{1}, a, "http://a:1")...), &h)
	mustResult(t, env.send(t, 1, 3_000_000, "registerNode", registerArgs("B", []byte{2}, b, "http://b:1")...), &h)

	mapped := env.abi.Events["RpcUrlMapped"].ID
	var logs []RPCLog
	mustResult(t, rpcCall(t, env.url, "eth_getLogs", map[string]interface{}{
		"address":   env.net.Chain().Contract(),
		"fromBlock": "0x0",
		"toBlock":   "latest",
		"topics":    []interface{}{[]common.Hash{mapped}},
	}), &logs)
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}

	mustResult(t, rpcCall(t, env.url, "eth_getLogs", map[string]interface{}{
		"fromBlock": "0x0",
		"topics":    []interface{}{mapped, []common.Hash{common.BytesToHash(b.Bytes())}},
	}), &logs)
	if len(logs) != 1 || logs[0].Topics[1] != common.BytesToHash(b.Bytes()) {
		t.Fatalf("filtered logs = %+v", logs)
	}
}

func TestDevnet_ManualSealing(t *testing.T) {
	env := setupTestEnv(t, 1)
	env.net.Chain().SetManualSealing(true)

	var h common.Hash
	mustResult(t, env.send(t, 0, 100_000, "proposeValidator", common.HexToAddress("0x03")), &h)
	if r := env.receipt(t, h); r != nil {
		t.Fatal("receipt before sealing")
	}
	var latest, pending hexutil.Uint64
	mustResult(t, rpcCall(t, env.url, "eth_getTransactionCount", env.from, "latest"), &latest)
	mustResult(t, rpcCall(t, env.url, "eth_getTransactionCount", env.from, "pending"), &pending)
	if latest != 0 || pending != 1 {
		t.Errorf("latest/pending = %d/%d, want 0/1", latest, pending)
	}

	env.net.Chain().Seal()
	if r := env.receipt(t, h); r == nil || r.Status != 1 {
		t.Fatalf("receipt after sealing = %+v", r)
	}
}

func TestDevnet_BlockByNumber(t *testing.T) {
	env := setupTestEnv(t, 1)

	var h common.Hash
	mustResult(t, env.send(t, 0, 100_000, "proposeValidator", common.HexToAddress("0x03")), &h)

	var b RPCBlock
	mustResult(t, rpcCall(t, env.url, "eth_getBlockByNumber", "0x1", true), &b)
	if b.Number != 1 || len(b.Transactions) != 1 {
		t.Fatalf("block = %+v", b)
	}
	raw, _ := json.Marshal(b.Transactions[0])
	var tx RPCTransaction
	json.Unmarshal(raw, &tx)
	if tx.Hash != h || tx.From != env.from {
		t.Errorf("tx = %+v", tx)
	}

	resp := rpcCall(t, env.url, "eth_getBlockByNumber", "0x99", true)
	if resp.Error != nil || string(resp.Result) != "null" {
		t.Errorf("future block = %s %+v, want null", resp.Result, resp.Error)
	}
}

func TestDevnet_PeerCount(t *testing.T) {
	env := setupTestEnv(t, 3)

	var n hexutil.Uint64
	mustResult(t, rpcCall(t, env.url, "net_peerCount"), &n)
	if n != 2 {
		t.Errorf("peers = %d, want 2", n)
	}
}

func TestDevnet_ValidatorVoting(t *testing.T) {
	env := setupTestEnv(t, 3)
	urls := env.net.URLs()
	candidate := common.HexToAddress("0xc0ffee")

	var before []common.Address
	mustResult(t, rpcCall(t, urls[0], "qbft_getValidatorsByBlockNumber", "latest"), &before)
	if len(before) != 3 {
		t.Fatalf("validators = %d, want 3", len(before))
	}
	head := env.net.Chain().Head()

	var ack bool
	mustResult(t, rpcCall(t, urls[0], "qbft_proposeValidatorVote", candidate, true), &ack)
	if !ack {
		t.Fatal("vote not acknowledged")
	}
	if got := env.net.Chain().Validators(); len(got) != 3 {
		t.Fatalf("one vote of three changed the set: %v", got)
	}

	mustResult(t, rpcCall(t, urls[1], "qbft_proposeValidatorVote", candidate, true), &ack)
	var after []common.Address
	mustResult(t, rpcCall(t, urls[2], "qbft_getValidatorsByBlockNumber", "latest"), &after)
	if len(after) != 4 || after[3] != candidate {
		t.Fatalf("validators after majority = %v", after)
	}

	var old []common.Address
	mustResult(t, rpcCall(t, urls[2], "qbft_getValidatorsByBlockNumber", hexutil.EncodeUint64(head)), &old)
	if len(old) != 3 {
		t.Errorf("historical set = %v, want the original three", old)
	}
}
