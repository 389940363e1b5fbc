package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// Default gas limits per write.
const (
	DefaultGasRegister = 3_000_000
	DefaultGasIssue    = 300_000
	DefaultGasRevoke   = 200_000
)

// ErrAlreadyRegistered is returned when registerNode targets a signature the
// ledger already knows.
var ErrAlreadyRegistered = errors.New("node already registered")

// Gas holds per-method gas limits.
type Gas struct {
	Register uint64
	Issue    uint64
	Revoke   uint64
}

// DefaultGas returns the stock limits.
func DefaultGas() Gas {
	return Gas{Register: DefaultGasRegister, Issue: DefaultGasIssue, Revoke: DefaultGasRevoke}
}

// Router picks the ledger client that should carry a write targeting a node.
type Router interface {
	Route(ctx context.Context, target types.Signature) (*ledger.Client, error)
}

// DirectRouter always returns its client.
type DirectRouter struct {
	Client *ledger.Client
}

// Route implements Router.
func (d DirectRouter) Route(context.Context, types.Signature) (*ledger.Client, error) {
	return d.Client, nil
}

// Registry adds the state-changing methods to Reader.
type Registry struct {
	*Reader
	router Router
	gas    Gas
}

// New creates a Registry. A nil router sends every write to c.
func New(c *ledger.Client, router Router, gas Gas) *Registry {
	if router == nil {
		router = DirectRouter{Client: c}
	}
	def := DefaultGas()
	if gas.Register == 0 {
		gas.Register = def.Register
	}
	if gas.Issue == 0 {
		gas.Issue = def.Issue
	}
	if gas.Revoke == 0 {
		gas.Revoke = def.Revoke
	}
	return &Registry{Reader: NewReader(c), router: router, gas: gas}
}

// RegisterRequest carries registerNode arguments.
type RegisterRequest struct {
	NodeID       string
	NodeName     string
	SenderType   types.NodeType
	PublicKey    []byte
	NodeAddress  common.Address
	RPCURL       string
	ReceiverType types.NodeType
	Signature    types.Signature
	// RegisteredBy is the registrant's node signature. It selects the
	// endpoint that carries the write; empty skips resolution.
	RegisteredBy types.Signature
}

// Validate checks the request for well-formedness.
func (r *RegisterRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.NodeID) == "":
		return ledger.Invalid("registerNode", "empty node id")
	case strings.TrimSpace(r.NodeName) == "":
		return ledger.Invalid("registerNode", "empty node name")
	case !r.SenderType.Valid():
		return ledger.Invalid("registerNode", "invalid sender type %d", r.SenderType)
	case !r.ReceiverType.Valid():
		return ledger.Invalid("registerNode", "invalid receiver type %d", r.ReceiverType)
	case len(r.PublicKey) == 0:
		return ledger.Invalid("registerNode", "empty public key")
	case r.NodeAddress == (common.Address{}):
		return ledger.Invalid("registerNode", "zero node address")
	case len(r.Signature) == 0:
		return ledger.Invalid("registerNode", "empty node signature")
	}
	if r.RPCURL != "" && !strings.Contains(r.RPCURL, "://") {
		return ledger.Invalid("registerNode", "rpc url %q has no scheme", r.RPCURL)
	}
	return nil
}

// RegisterNode writes a node record. The signature must not be registered
// yet; the NodeRegistered event of the receipt is returned.
func (r *Registry) RegisterNode(ctx context.Context, req RegisterRequest) (*Registration, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	registered, err := r.IsNodeRegistered(ctx, req.Signature)
	if err != nil {
		return nil, err
	}
	if registered {
		return nil, ledger.Invalid("registerNode", "%s: %w", req.Signature.Short(), ErrAlreadyRegistered)
	}

	c := r.c
	if len(req.RegisteredBy) > 0 {
		if c, err = r.router.Route(ctx, req.RegisteredBy); err != nil {
			return nil, err
		}
	}

	receipt, err := c.SendTransaction(ctx, "registerNode", r.gas.Register,
		req.NodeID,
		req.NodeName,
		req.SenderType.String(),
		req.PublicKey,
		req.NodeAddress,
		req.RPCURL,
		req.ReceiverType.String(),
		[]byte(req.Signature),
	)
	if err != nil {
		return nil, err
	}

	var ev NodeRegisteredEvent
	if err := findEvent(c, "NodeRegistered", receipt, &ev); err != nil {
		return nil, err
	}

	klog.Registry.Info().
		Str("node_id", ev.NodeId).
		Str("signature", types.Signature(ev.NodeSignature).Short()).
		Str("endpoint", c.Endpoint()).
		Msg("Node registered")

	return &Registration{
		NodeID:        ev.NodeId,
		NodeName:      ev.NodeName,
		NodeType:      types.NodeType(ev.NodeType),
		NodeSignature: ev.NodeSignature,
		RegisteredBy:  ev.RegisteredBy,
		TxMeta:        meta(c, receipt),
	}, nil
}

// IssueToken issues a capability token from -> to. The write is routed by
// the to signature.
func (r *Registry) IssueToken(ctx context.Context, from, to types.Signature) (*TokenIssued, error) {
	if err := checkPair("issueToken", from, to); err != nil {
		return nil, err
	}
	c, err := r.router.Route(ctx, to)
	if err != nil {
		return nil, err
	}
	receipt, err := c.SendTransaction(ctx, "issueToken", r.gas.Issue, []byte(from), []byte(to))
	if err != nil {
		return nil, err
	}

	var ev TokenIssuedEvent
	if err := findEvent(c, "TokenIssued", receipt, &ev); err != nil {
		return nil, err
	}
	out := &TokenIssued{
		From:     ev.FromNodeSignature,
		FromType: types.NodeType(ev.FromType),
		To:       ev.ToNodeSignature,
		Policy:   ev.Policy,
		TxMeta:   meta(c, receipt),
	}
	if ev.IssuedAt != nil {
		out.IssuedAt = ev.IssuedAt.Uint64()
	}

	klog.Registry.Info().
		Str("from", from.Short()).
		Str("to", to.Short()).
		Str("policy", out.Policy).
		Msg("Capability token issued")
	return out, nil
}

// RevokeToken revokes the capability token from -> to. The write is routed
// by the to signature.
func (r *Registry) RevokeToken(ctx context.Context, from, to types.Signature) (*TokenRevoked, error) {
	if err := checkPair("revokeToken", from, to); err != nil {
		return nil, err
	}
	c, err := r.router.Route(ctx, to)
	if err != nil {
		return nil, err
	}
	receipt, err := c.SendTransaction(ctx, "revokeToken", r.gas.Revoke, []byte(from), []byte(to))
	if err != nil {
		return nil, err
	}

	var ev TokenRevokedEvent
	if err := findEvent(c, "TokenRevoked", receipt, &ev); err != nil {
		return nil, err
	}

	klog.Registry.Info().
		Str("from", from.Short()).
		Str("to", to.Short()).
		Msg("Capability token revoked")
	return &TokenRevoked{
		From:   ev.FromNodeSignature,
		To:     ev.ToNodeSignature,
		TxMeta: meta(c, receipt),
	}, nil
}

func findEvent(c *ledger.Client, name string, receipt *ledger.Receipt, out interface{}) error {
	found, err := c.FindEvent(name, receipt.Logs, out)
	if err != nil {
		return err
	}
	if !found {
		return &ledger.Error{
			Kind: ledger.KindEventDecode,
			Op:   name,
			Err:  fmt.Errorf("%w in receipt %s", ledger.ErrNoMatchingEvent, receipt.TxHash.Hex()),
		}
	}
	return nil
}

func meta(c *ledger.Client, receipt *ledger.Receipt) TxMeta {
	return TxMeta{
		TxHash:      receipt.TxHash,
		BlockNumber: uint64(receipt.BlockNumber),
		Endpoint:    c.Endpoint(),
	}
}

func sortTokenEvents(evs []TokenEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].BlockNumber != evs[j].BlockNumber {
			return evs[i].BlockNumber < evs[j].BlockNumber
		}
		return evs[i].LogIndex < evs[j].LogIndex
	})
}
