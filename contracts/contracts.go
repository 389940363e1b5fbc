// Package contracts embeds the NodeRegistry contract interface used when no
// build artifact is configured.
package contracts

import _ "embed"

// NodeRegistryABI is the JSON ABI of the NodeRegistry contract.
//
//go:embed NodeRegistry.abi.json
var NodeRegistryABI []byte
