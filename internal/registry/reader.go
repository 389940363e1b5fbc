// Package registry is the typed facade over the NodeRegistry contract's node
// identity and capability-token methods.
package registry

import (
	"bytes"
	"context"
	"math/big"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// Reader exposes the registry's safe (read-only) methods.
type Reader struct {
	c *ledger.Client
}

// NewReader creates a Reader over c.
func NewReader(c *ledger.Client) *Reader {
	return &Reader{c: c}
}

// IsNodeRegistered reports whether sig is registered. A false result with a
// nil error is an answer; any failure is returned as an error.
func (r *Reader) IsNodeRegistered(ctx context.Context, sig types.Signature) (bool, error) {
	if len(sig) == 0 {
		return false, ledger.Invalid("isNodeRegistered", "empty node signature")
	}
	var ok bool
	if err := r.c.CallViewInto(ctx, &ok, "isNodeRegistered", []byte(sig)); err != nil {
		return false, err
	}
	return ok, nil
}

// NodeDetails returns the record stored under sig.
func (r *Reader) NodeDetails(ctx context.Context, sig types.Signature) (*NodeDetails, error) {
	if len(sig) == 0 {
		return nil, ledger.Invalid("getNodeDetailsBySignature", "empty node signature")
	}
	var out nodeDetailsOutputs
	if err := r.c.CallViewInto(ctx, &out, "getNodeDetailsBySignature", []byte(sig)); err != nil {
		return nil, err
	}
	return out.details(), nil
}

// NodeDetailsByAddress returns the record registered for a node account.
func (r *Reader) NodeDetailsByAddress(ctx context.Context, addr common.Address) (*NodeDetails, error) {
	var out nodeDetailsOutputs
	if err := r.c.CallViewInto(ctx, &out, "getNodeDetailsByAddress", addr); err != nil {
		return nil, err
	}
	return out.details(), nil
}

// GetToken returns the raw token record for the ordered pair.
func (r *Reader) GetToken(ctx context.Context, from, to types.Signature) (*CapabilityToken, error) {
	if err := checkPair("getToken", from, to); err != nil {
		return nil, err
	}
	var out tokenOutputs
	if err := r.c.CallViewInto(ctx, &out, "getToken", []byte(from), []byte(to)); err != nil {
		return nil, err
	}
	t := &CapabilityToken{
		From:      from,
		To:        to,
		Policy:    out.Policy,
		IsIssued:  out.IsIssued,
		IsRevoked: out.IsRevoked,
	}
	if out.IssuedAt != nil && out.IssuedAt.IsUint64() {
		t.IssuedAt = out.IssuedAt.Uint64()
	}
	return t, nil
}

// CheckToken returns the contract's validity verdict (issued and not revoked).
func (r *Reader) CheckToken(ctx context.Context, from, to types.Signature) (bool, error) {
	if err := checkPair("checkToken", from, to); err != nil {
		return false, err
	}
	var ok bool
	if err := r.c.CallViewInto(ctx, &ok, "checkToken", []byte(from), []byte(to)); err != nil {
		return false, err
	}
	return ok, nil
}

// IsTokenExpired reports whether issuedAt + validity lies in the past at the
// ledger's current time.
func (r *Reader) IsTokenExpired(ctx context.Context, from, to types.Signature, validity uint64) (bool, error) {
	if err := checkPair("isTokenExpired", from, to); err != nil {
		return false, err
	}
	if validity == 0 {
		return false, ledger.Invalid("isTokenExpired", "validity period must be positive")
	}
	var expired bool
	err := r.c.CallViewInto(ctx, &expired, "isTokenExpired", []byte(from), []byte(to), new(big.Int).SetUint64(validity))
	if err != nil {
		return false, err
	}
	return expired, nil
}

// RPCURLMappings scans RpcUrlMapped events from genesis and returns
// lowercase node address -> lowercase RPC URL. Later events override earlier ones.
func (r *Reader) RPCURLMappings(ctx context.Context) (map[string]string, error) {
	logs, err := r.c.FilterLogs(ctx, "RpcUrlMapped")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(logs))
	for _, l := range logs {
		var ev RpcUrlMappedEvent
		if err := r.c.DecodeEvent("RpcUrlMapped", l, &ev); err != nil {
			return nil, err
		}
		out[types.NormalizeAddress(ev.NodeAddress)] = types.NormalizeAddressString(ev.RpcURL)
	}
	return out, nil
}

// TokenHistory returns the issue/revoke/check events of the ordered pair in
// chain order.
func (r *Reader) TokenHistory(ctx context.Context, from, to types.Signature) ([]TokenEvent, error) {
	if err := checkPair("tokenHistory", from, to); err != nil {
		return nil, err
	}

	var out []TokenEvent
	for _, name := range []string{"TokenIssued", "TokenRevoked", "TokenChecked"} {
		logs, err := r.c.FilterLogs(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			ev, match, err := r.decodeTokenEvent(name, l, from, to)
			if err != nil {
				return nil, err
			}
			if match {
				out = append(out, ev)
			}
		}
	}
	sortTokenEvents(out)
	return out, nil
}

func (r *Reader) decodeTokenEvent(name string, l ledger.Log, from, to types.Signature) (TokenEvent, bool, error) {
	ev := TokenEvent{Event: name, TxHash: l.TxHash, BlockNumber: uint64(l.BlockNumber), LogIndex: uint64(l.Index)}
	switch name {
	case "TokenIssued":
		var e TokenIssuedEvent
		if err := r.c.DecodeEvent(name, l, &e); err != nil {
			return ev, false, err
		}
		if !samePair(e.FromNodeSignature, e.ToNodeSignature, from, to) {
			return ev, false, nil
		}
		ev.Policy = e.Policy
		if e.IssuedAt != nil {
			ev.IssuedAt = e.IssuedAt.Uint64()
		}
	case "TokenRevoked":
		var e TokenRevokedEvent
		if err := r.c.DecodeEvent(name, l, &e); err != nil {
			return ev, false, err
		}
		if !samePair(e.FromNodeSignature, e.ToNodeSignature, from, to) {
			return ev, false, nil
		}
	case "TokenChecked":
		var e TokenCheckedEvent
		if err := r.c.DecodeEvent(name, l, &e); err != nil {
			return ev, false, err
		}
		if !samePair(e.FromNodeSignature, e.ToNodeSignature, from, to) {
			return ev, false, nil
		}
		valid := e.Valid
		ev.Valid = &valid
	}
	return ev, true, nil
}

func samePair(f, t []byte, from, to types.Signature) bool {
	return bytes.Equal(f, from) && bytes.Equal(t, to)
}

func checkPair(op string, from, to types.Signature) error {
	if len(from) == 0 {
		return ledger.Invalid(op, "empty from signature")
	}
	if len(to) == 0 {
		return ledger.Invalid(op, "empty to signature")
	}
	return nil
}
