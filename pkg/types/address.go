package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress parses a 0x-prefixed 20-byte hex account address. The prefix
// is mandatory.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("address %q must start with 0x", s)
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("address %q is not 20 bytes of hex", s)
	}
	return common.HexToAddress(s), nil
}

// NormalizeAddress returns the lowercase 0x form used as a map key when
// comparing addresses from different sources.
func NormalizeAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// NormalizeAddressString lowercases a textual address; it does not validate.
func NormalizeAddressString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
