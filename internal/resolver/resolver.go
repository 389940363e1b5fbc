// Package resolver decides which RPC endpoint carries a write that targets a
// node. Writes for validator-backed nodes stay on the default endpoint; the
// rest are redirected to the endpoint mapped to the primary validator.
package resolver

import (
	"context"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ValidatorChecker answers whether a node signature belongs to a validator.
type ValidatorChecker interface {
	IsValidator(ctx context.Context, sig types.Signature) (bool, error)
}

// MappingSource returns the lowercase node address -> RPC URL mapping.
type MappingSource interface {
	RPCURLMappings(ctx context.Context) (map[string]string, error)
}

// ValidatorSet returns the current validators as seen by the global endpoint.
type ValidatorSet interface {
	GlobalValidators(ctx context.Context) ([]common.Address, error)
}

// Reasons reported in Resolution.
const (
	ReasonTargetValidator = "target is a validator"
	ReasonRedirected      = "redirected to primary validator endpoint"
	ReasonNoValidators    = "validator set is empty"
	ReasonNoMapping       = "primary validator has no mapped rpc url"
)

// Resolution is the routing decision for one target.
type Resolution struct {
	Target            types.Signature `json:"target"`
	Endpoint          string          `json:"endpoint"`
	Redirected        bool            `json:"redirected"`
	TargetIsValidator bool            `json:"targetIsValidator"`
	Primary           *common.Address `json:"primary,omitempty"`
	// Degraded is set when the write falls back to the default endpoint
	// although the target is not validator-backed.
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason"`
}

// Resolver implements the endpoint resolution protocol.
type Resolver struct {
	def        *ledger.Client
	validators ValidatorChecker
	mappings   MappingSource
	set        ValidatorSet
	policy     PrimaryPolicy
	logger     zerolog.Logger
}

// New creates a Resolver. def is the locally configured default client.
// A nil policy means FirstValidator.
func New(def *ledger.Client, validators ValidatorChecker, mappings MappingSource, set ValidatorSet, policy PrimaryPolicy) *Resolver {
	if policy == nil {
		policy = FirstValidator
	}
	return &Resolver{
		def:        def,
		validators: validators,
		mappings:   mappings,
		set:        set,
		policy:     policy,
		logger:     klog.Resolver,
	}
}

// Resolve decides the endpoint for target. Any failed query is returned as
// an error; the default endpoint is used without error only when the target
// is a validator, or when the primary validator cannot be mapped.
func (r *Resolver) Resolve(ctx context.Context, target types.Signature) (*Resolution, error) {
	if len(target) == 0 {
		return nil, ledger.Invalid("resolve", "empty target signature")
	}
	res := &Resolution{Target: target, Endpoint: r.def.Endpoint()}

	isValidator, err := r.validators.IsValidator(ctx, target)
	if err != nil {
		return nil, err
	}
	if isValidator {
		res.TargetIsValidator = true
		res.Reason = ReasonTargetValidator
		r.logger.Debug().Str("target", target.Short()).Msg("Target is a validator, using default endpoint")
		return res, nil
	}

	mapping, err := r.mappings.RPCURLMappings(ctx)
	if err != nil {
		return nil, err
	}
	set, err := r.set.GlobalValidators(ctx)
	if err != nil {
		return nil, err
	}

	primary, ok := r.policy(set)
	if !ok {
		res.Degraded = true
		res.Reason = ReasonNoValidators
		r.logger.Warn().
			Str("target", target.Short()).
			Str("endpoint", res.Endpoint).
			Msg("Validator set is empty, using default endpoint")
		return res, nil
	}
	res.Primary = &primary

	url, ok := mapping[types.NormalizeAddress(primary)]
	if !ok || url == "" {
		res.Degraded = true
		res.Reason = ReasonNoMapping
		r.logger.Warn().
			Str("target", target.Short()).
			Str("validator", types.NormalizeAddress(primary)).
			Str("endpoint", res.Endpoint).
			Msg("Validator is not found in the RPC mapping, using default endpoint")
		return res, nil
	}

	res.Endpoint = url
	res.Redirected = true
	res.Reason = ReasonRedirected
	r.logger.Info().
		Str("target", target.Short()).
		Str("validator", types.NormalizeAddress(primary)).
		Str("endpoint", url).
		Msg("Redirecting to primary validator endpoint")
	return res, nil
}

// Route implements registry.Router.
func (r *Resolver) Route(ctx context.Context, target types.Signature) (*ledger.Client, error) {
	res, err := r.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	if !res.Redirected {
		return r.def, nil
	}
	return r.def.WithEndpoint(res.Endpoint), nil
}
