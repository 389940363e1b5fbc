package devnet

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// errNotView is returned when eth_call targets a state-changing method.
var errNotView = errors.New("not a view method")

// revertError is a contract-level revert with a reason string.
type revertError struct{ reason string }

func (e *revertError) Error() string { return "execution reverted: " + e.reason }

func revert(format string, args ...interface{}) error {
	return &revertError{reason: fmt.Sprintf(format, args...)}
}

type node struct {
	id           string
	name         string
	nodeType     types.NodeType
	regByType    types.NodeType
	publicKey    []byte
	address      common.Address
	registeredBy common.Address
	signature    []byte
	rpcURL       string
}

type token struct {
	policy   string
	issuedAt uint64
	issued   bool
	revoked  bool
}

type registryState struct {
	nodes     map[string]*node // By signature bytes.
	byAddress map[common.Address]*node
	tokens    map[string]*token // By from|to signature bytes.
	proposed  map[common.Address]bool
}

func newRegistryState() *registryState {
	return &registryState{
		nodes:     make(map[string]*node),
		byAddress: make(map[common.Address]*node),
		tokens:    make(map[string]*token),
		proposed:  make(map[common.Address]bool),
	}
}

// clone copies the maps; entries are replaced, never mutated in place.
func (r *registryState) clone() *registryState {
	out := newRegistryState()
	for k, v := range r.nodes {
		out.nodes[k] = v
	}
	for k, v := range r.byAddress {
		out.byAddress[k] = v
	}
	for k, v := range r.tokens {
		out.tokens[k] = v
	}
	for k, v := range r.proposed {
		out.proposed[k] = v
	}
	return out
}

func tokenKey(from, to []byte) string {
	return hexutil.Encode(from) + "|" + hexutil.Encode(to)
}

// policyFlows maps (from type, to type) to the permissions granted.
var policyFlows = map[[2]types.NodeType]string{
	{types.NodeCloud, types.NodeFog}:     "READ,WRITE,EXECUTE",
	{types.NodeFog, types.NodeCloud}:     "READ,WRITE,TRANSMIT",
	{types.NodeFog, types.NodeEdge}:      "READ,WRITE,EXECUTE",
	{types.NodeEdge, types.NodeFog}:      "READ,WRITE",
	{types.NodeSensor, types.NodeEdge}:   "WRITE,TRANSMIT",
	{types.NodeActuator, types.NodeEdge}: "READ,EXECUTE",
	{types.NodeEdge, types.NodeSensor}:   "READ",
	{types.NodeEdge, types.NodeActuator}: "WRITE,EXECUTE",
}

func policyFor(from, to types.NodeType) string {
	perms, ok := policyFlows[[2]types.NodeType{from, to}]
	if !ok {
		perms = "READ"
	}
	return fmt.Sprintf("%s_TO_%s:%s", strings.ToUpper(from.String()), strings.ToUpper(to.String()), perms)
}

type emitted struct {
	topics []common.Hash
	data   []byte
}

// call executes input as sender at blockTime. With static set only view
// methods run and nothing is emitted. Caller holds c.mu.
func (c *Chain) call(sender common.Address, input []byte, blockTime uint64, static bool) ([]emitted, []byte, error) {
	if len(input) < 4 {
		return nil, nil, revert("no method selector")
	}
	method, err := c.abi.MethodById(input[:4])
	if err != nil {
		return nil, nil, revert("unknown selector %x", input[:4])
	}
	if static && !method.IsConstant() {
		return nil, nil, errNotView
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, revert("bad calldata: %v", err)
	}

	reg := c.registry
	pack := func(values ...interface{}) ([]emitted, []byte, error) {
		out, err := method.Outputs.Pack(values...)
		if err != nil {
			return nil, nil, fmt.Errorf("pack %s outputs: %w", method.Name, err)
		}
		return nil, out, nil
	}

	switch method.Name {
	case "registerNode":
		return c.registerNode(sender, args)

	case "isNodeRegistered":
		_, ok := reg.nodes[string(args[0].([]byte))]
		return pack(ok)

	case "getNodeDetailsBySignature":
		return pack(nodeOutputs(reg.nodes[string(args[0].([]byte))])...)

	case "getNodeDetailsByAddress":
		return pack(nodeOutputs(reg.byAddress[args[0].(common.Address)])...)

	case "issueToken":
		return c.issueToken(args[0].([]byte), args[1].([]byte), blockTime)

	case "revokeToken":
		return c.revokeToken(args[0].([]byte), args[1].([]byte))

	case "getToken":
		t := reg.tokens[tokenKey(args[0].([]byte), args[1].([]byte))]
		if t == nil {
			t = &token{}
		}
		return pack(t.policy, new(big.Int).SetUint64(t.issuedAt), t.issued, t.revoked)

	case "checkToken":
		t := reg.tokens[tokenKey(args[0].([]byte), args[1].([]byte))]
		return pack(t != nil && t.issued && !t.revoked)

	case "isTokenExpired":
		t := reg.tokens[tokenKey(args[0].([]byte), args[1].([]byte))]
		validity := args[2].(*big.Int)
		if t == nil || !t.issued {
			return pack(true)
		}
		deadline := new(big.Int).Add(new(big.Int).SetUint64(t.issuedAt), validity)
		return pack(new(big.Int).SetUint64(blockTime).Cmp(deadline) > 0)

	case "proposeValidator":
		validator := args[0].(common.Address)
		if validator == (common.Address{}) {
			return nil, nil, revert("Invalid validator address")
		}
		reg.proposed[validator] = true
		ev := c.abi.Events["ValidatorProposed"]
		return []emitted{{topics: []common.Hash{ev.ID, addressTopic(sender), addressTopic(validator)}}}, nil, nil

	case "isValidator":
		n := reg.nodes[string(args[0].([]byte))]
		if n == nil {
			return pack(false)
		}
		ok := n.nodeType == types.NodeCloud || n.nodeType == types.NodeFog ||
			reg.proposed[n.address] || isMember(c.validators, n.address)
		return pack(ok)
	}
	return nil, nil, revert("method %s not implemented", method.Name)
}

func (c *Chain) registerNode(sender common.Address, args []interface{}) ([]emitted, []byte, error) {
	var (
		id           = args[0].(string)
		name         = args[1].(string)
		senderType   = args[2].(string)
		publicKey    = args[3].([]byte)
		nodeAddress  = args[4].(common.Address)
		rpcURL       = args[5].(string)
		receiverType = args[6].(string)
		sig          = args[7].([]byte)
	)
	reg := c.registry
	if id == "" {
		return nil, nil, revert("Node ID is required")
	}
	if len(sig) == 0 {
		return nil, nil, revert("Node signature is required")
	}
	if _, dup := reg.nodes[string(sig)]; dup {
		return nil, nil, revert("Node is already registered")
	}
	regByType, err := types.ParseNodeType(senderType)
	if err != nil {
		return nil, nil, revert("Invalid sender node type")
	}
	nodeType, err := types.ParseNodeType(receiverType)
	if err != nil {
		return nil, nil, revert("Invalid node type")
	}

	n := &node{
		id:           id,
		name:         name,
		nodeType:     nodeType,
		regByType:    regByType,
		publicKey:    common.CopyBytes(publicKey),
		address:      nodeAddress,
		registeredBy: sender,
		signature:    common.CopyBytes(sig),
		rpcURL:       rpcURL,
	}
	reg.nodes[string(sig)] = n
	if nodeAddress != (common.Address{}) {
		reg.byAddress[nodeAddress] = n
	}

	registered := c.abi.Events["NodeRegistered"]
	data, err := registered.Inputs.NonIndexed().Pack(id, name, uint8(nodeType), n.signature)
	if err != nil {
		return nil, nil, err
	}
	logs := []emitted{{topics: []common.Hash{registered.ID, addressTopic(sender)}, data: data}}

	if rpcURL != "" {
		mapped := c.abi.Events["RpcUrlMapped"]
		data, err := mapped.Inputs.NonIndexed().Pack(rpcURL)
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, emitted{topics: []common.Hash{mapped.ID, addressTopic(nodeAddress)}, data: data})
	}
	return logs, nil, nil
}

func (c *Chain) issueToken(from, to []byte, blockTime uint64) ([]emitted, []byte, error) {
	reg := c.registry
	src, dst := reg.nodes[string(from)], reg.nodes[string(to)]
	if src == nil || dst == nil {
		return nil, nil, revert("Node is not registered")
	}
	t := &token{
		policy:   policyFor(src.nodeType, dst.nodeType),
		issuedAt: blockTime,
		issued:   true,
	}
	reg.tokens[tokenKey(from, to)] = t

	ev := c.abi.Events["TokenIssued"]
	data, err := ev.Inputs.NonIndexed().Pack(src.signature, uint8(src.nodeType), dst.signature, t.policy, new(big.Int).SetUint64(blockTime))
	if err != nil {
		return nil, nil, err
	}
	return []emitted{{topics: []common.Hash{ev.ID}, data: data}}, nil, nil
}

func (c *Chain) revokeToken(from, to []byte) ([]emitted, []byte, error) {
	reg := c.registry
	key := tokenKey(from, to)
	t := reg.tokens[key]
	if t == nil || !t.issued {
		return nil, nil, revert("Token is not issued")
	}
	if t.revoked {
		return nil, nil, revert("Token is already revoked")
	}
	reg.tokens[key] = &token{policy: t.policy, issuedAt: t.issuedAt, issued: true, revoked: true}

	ev := c.abi.Events["TokenRevoked"]
	data, err := ev.Inputs.NonIndexed().Pack(common.CopyBytes(from), common.CopyBytes(to))
	if err != nil {
		return nil, nil, err
	}
	return []emitted{{topics: []common.Hash{ev.ID}, data: data}}, nil, nil
}

// nodeOutputs returns getNodeDetails* outputs. Unknown nodes yield zero values.
func nodeOutputs(n *node) []interface{} {
	if n == nil {
		return []interface{}{"", "", uint8(0), []byte{}, false, common.Address{}, []byte{}, uint8(0)}
	}
	return []interface{}{
		n.id, n.name, uint8(n.nodeType), n.publicKey, true,
		n.registeredBy, n.signature, uint8(n.regByType),
	}
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}
