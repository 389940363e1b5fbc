package registry

import (
	"math/big"

	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NodeDetails is a registry record in the signature-keyed schema.
type NodeDetails struct {
	NodeID               string          `json:"nodeId"`
	NodeName             string          `json:"nodeName"`
	NodeType             types.NodeType  `json:"nodeType"`
	PublicKey            hexutil.Bytes   `json:"publicKey"`
	IsRegistered         bool            `json:"isRegistered"`
	RegisteredBy         common.Address  `json:"registeredBy"`
	NodeSignature        types.Signature `json:"nodeSignature"`
	RegisteredByNodeType types.NodeType  `json:"registeredByNodeType"`
}

// nodeDetailsOutputs mirrors the getNodeDetails* return tuple.
type nodeDetailsOutputs struct {
	NodeID               string         `abi:"nodeId"`
	NodeName             string         `abi:"nodeName"`
	NodeType             uint8          `abi:"nodeType"`
	PublicKey            []byte         `abi:"publicKey"`
	IsRegistered         bool           `abi:"isRegistered"`
	RegisteredBy         common.Address `abi:"registeredBy"`
	NodeSignature        []byte         `abi:"nodeSignature"`
	RegisteredByNodeType uint8          `abi:"registeredByNodeType"`
}

func (o nodeDetailsOutputs) details() *NodeDetails {
	return &NodeDetails{
		NodeID:               o.NodeID,
		NodeName:             o.NodeName,
		NodeType:             types.NodeType(o.NodeType),
		PublicKey:            o.PublicKey,
		IsRegistered:         o.IsRegistered,
		RegisteredBy:         o.RegisteredBy,
		NodeSignature:        o.NodeSignature,
		RegisteredByNodeType: types.NodeType(o.RegisteredByNodeType),
	}
}

// CapabilityToken is the (from, to) authorization record.
type CapabilityToken struct {
	From      types.Signature `json:"fromNodeSignature"`
	To        types.Signature `json:"toNodeSignature"`
	Policy    string          `json:"policy"`
	IssuedAt  uint64          `json:"issuedAt"`
	IsIssued  bool            `json:"isIssued"`
	IsRevoked bool            `json:"isRevoked"`
}

// Active reports whether the token is issued and not revoked.
func (t *CapabilityToken) Active() bool {
	return t.IsIssued && !t.IsRevoked
}

type tokenOutputs struct {
	Policy    string   `abi:"policy"`
	IssuedAt  *big.Int `abi:"issuedAt"`
	IsIssued  bool     `abi:"isIssued"`
	IsRevoked bool     `abi:"isRevoked"`
}

// TxMeta identifies where a write landed.
type TxMeta struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	Endpoint    string      `json:"endpoint"`
}

// ── Events ──────────────────────────────────────────────────────────────

// NodeRegisteredEvent is emitted by registerNode.
type NodeRegisteredEvent struct {
	NodeId        string
	NodeName      string
	NodeType      uint8
	NodeSignature []byte
	RegisteredBy  common.Address
}

// TokenIssuedEvent is emitted by issueToken.
type TokenIssuedEvent struct {
	FromNodeSignature []byte
	FromType          uint8
	ToNodeSignature   []byte
	Policy            string
	IssuedAt          *big.Int
}

// TokenRevokedEvent is emitted by revokeToken.
type TokenRevokedEvent struct {
	FromNodeSignature []byte
	ToNodeSignature   []byte
}

// TokenCheckedEvent records a token verification performed on chain.
type TokenCheckedEvent struct {
	FromNodeSignature []byte
	ToNodeSignature   []byte
	Valid             bool
}

// RpcUrlMappedEvent associates a node account with its RPC endpoint.
type RpcUrlMappedEvent struct {
	NodeAddress common.Address
	RpcURL      string
}

// ── Results ─────────────────────────────────────────────────────────────

// Registration is the outcome of registerNode.
type Registration struct {
	NodeID        string          `json:"nodeId"`
	NodeName      string          `json:"nodeName"`
	NodeType      types.NodeType  `json:"nodeType"`
	NodeSignature types.Signature `json:"nodeSignature"`
	RegisteredBy  common.Address  `json:"registeredBy"`
	TxMeta
}

// TokenIssued is the outcome of issueToken.
type TokenIssued struct {
	From     types.Signature `json:"fromNodeSignature"`
	FromType types.NodeType  `json:"fromType"`
	To       types.Signature `json:"toNodeSignature"`
	Policy   string          `json:"policy"`
	IssuedAt uint64          `json:"issuedAt"`
	TxMeta
}

// TokenRevoked is the outcome of revokeToken.
type TokenRevoked struct {
	From types.Signature `json:"fromNodeSignature"`
	To   types.Signature `json:"toNodeSignature"`
	TxMeta
}

// TokenEvent is one entry of a token pair's on-chain history.
type TokenEvent struct {
	Event       string      `json:"event"`
	Policy      string      `json:"policy,omitempty"`
	IssuedAt    uint64      `json:"issuedAt,omitempty"`
	Valid       *bool       `json:"valid,omitempty"`
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
	LogIndex    uint64      `json:"logIndex"`
}
