package resolver

import "github.com/ethereum/go-ethereum/common"

// PrimaryPolicy picks the primary validator from a validator-set response.
// It reports false when the set offers no candidate.
type PrimaryPolicy func(validators []common.Address) (common.Address, bool)

// FirstValidator selects index 0 of the response, in the order the endpoint
// returned it.
func FirstValidator(validators []common.Address) (common.Address, bool) {
	if len(validators) == 0 {
		return common.Address{}, false
	}
	return validators[0], true
}

// Policies maps the names accepted by configuration to policies.
var Policies = map[string]PrimaryPolicy{
	"first": FirstValidator,
}

// PolicyByName returns the named policy, or false when unknown.
func PolicyByName(name string) (PrimaryPolicy, bool) {
	if name == "" {
		return FirstValidator, true
	}
	p, ok := Policies[name]
	return p, ok
}
