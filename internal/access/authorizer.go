package access

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/internal/registry"
	"github.com/Klingon-tech/nodereg/pkg/types"
)

// DefaultValidity is the token validity window in seconds.
const DefaultValidity = 360000

// TokenService is the subset of the registry the authorizer drives.
type TokenService interface {
	IsNodeRegistered(ctx context.Context, sig types.Signature) (bool, error)
	CheckToken(ctx context.Context, from, to types.Signature) (bool, error)
	IsTokenExpired(ctx context.Context, from, to types.Signature, validity uint64) (bool, error)
	IssueToken(ctx context.Context, from, to types.Signature) (*registry.TokenIssued, error)
	GetToken(ctx context.Context, from, to types.Signature) (*registry.CapabilityToken, error)
}

// Decision is the outcome of one authorization.
type Decision struct {
	From    types.Signature `json:"from"`
	To      types.Signature `json:"to"`
	Action  Action          `json:"action"`
	Allowed bool            `json:"allowed"`
	Policy  *Policy         `json:"policy,omitempty"`
	// Renewed is set when a token was issued during this authorization.
	Renewed bool   `json:"renewed"`
	Reason  string `json:"reason"`
}

// Authorizer evaluates requests from a node against its capability token.
type Authorizer struct {
	tokens TokenService
}

// NewAuthorizer creates an Authorizer.
func NewAuthorizer(tokens TokenService) *Authorizer {
	return &Authorizer{tokens: tokens}
}

// Authorize decides whether from may perform action on to. A missing or
// expired token is (re)issued before the policy is read. An unregistered
// sender is denied without error.
func (a *Authorizer) Authorize(ctx context.Context, from, to types.Signature, action Action, validity uint64) (*Decision, error) {
	action, err := ParseAction(string(action))
	if err != nil {
		return nil, ledger.Invalid("authorize", "%v", err)
	}
	if validity == 0 {
		validity = DefaultValidity
	}
	d := &Decision{From: from, To: to, Action: action}

	registered, err := a.tokens.IsNodeRegistered(ctx, from)
	if err != nil {
		return nil, err
	}
	if !registered {
		d.Reason = "sender is not registered"
		return d, nil
	}

	valid, err := a.tokens.CheckToken(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if !valid {
		if _, err := a.tokens.IssueToken(ctx, from, to); err != nil {
			return nil, err
		}
		d.Renewed = true
	} else {
		expired, err := a.tokens.IsTokenExpired(ctx, from, to, validity)
		if err != nil {
			return nil, err
		}
		if expired {
			klog.Access.Info().
				Str("from", from.Short()).
				Str("to", to.Short()).
				Msg("Token expired, renewing")
			if _, err := a.tokens.IssueToken(ctx, from, to); err != nil {
				return nil, err
			}
			d.Renewed = true
		}
	}

	tok, err := a.tokens.GetToken(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if !tok.Active() {
		d.Reason = "no active token"
		return d, nil
	}
	p, err := ParsePolicy(tok.Policy)
	if err != nil {
		return nil, &ledger.Error{Kind: ledger.KindContractCall, Op: "getToken", Err: err}
	}
	d.Policy = &p
	d.Allowed = p.Allows(action)
	if d.Allowed {
		d.Reason = fmt.Sprintf("%s allowed by flow %s", action, p.Flow)
	} else {
		d.Reason = fmt.Sprintf("%s not in policy %s", action, p)
	}

	klog.Access.Debug().
		Str("from", from.Short()).
		Str("action", string(action)).
		Bool("allowed", d.Allowed).
		Bool("renewed", d.Renewed).
		Msg("Access decision")
	return d, nil
}
