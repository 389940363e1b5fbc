package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Klingon-tech/nodereg/contracts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Artifact is a compiled contract build file: {abi, networks: {<id>: {address}}}.
type Artifact struct {
	ABI      abi.ABI
	Networks map[string]common.Address
}

type artifactFile struct {
	ABI      json.RawMessage `json:"abi"`
	Networks map[string]struct {
		Address string `json:"address"`
	} `json:"networks"`
}

// LoadArtifact reads and parses a contract artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return ParseArtifact(data)
}

// ParseArtifact parses artifact JSON.
func ParseArtifact(data []byte) (*Artifact, error) {
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(f.ABI) == 0 {
		return nil, fmt.Errorf("artifact has no abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(f.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse artifact abi: %w", err)
	}

	a := &Artifact{ABI: parsed, Networks: make(map[string]common.Address, len(f.Networks))}
	for id, n := range f.Networks {
		if !common.IsHexAddress(n.Address) {
			return nil, fmt.Errorf("network %s: invalid contract address %q", id, n.Address)
		}
		a.Networks[id] = common.HexToAddress(n.Address)
	}
	return a, nil
}

// Address returns the deployed contract address for networkID. An empty
// networkID selects the lowest network id present.
func (a *Artifact) Address(networkID string) (common.Address, error) {
	if networkID == "" {
		if len(a.Networks) == 0 {
			return common.Address{}, fmt.Errorf("artifact lists no deployed networks")
		}
		ids := make([]string, 0, len(a.Networks))
		for id := range a.Networks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		networkID = ids[0]
	}
	addr, ok := a.Networks[networkID]
	if !ok {
		return common.Address{}, fmt.Errorf("artifact has no deployment on network %s", networkID)
	}
	return addr, nil
}

// RegistryABI returns the built-in NodeRegistry ABI.
func RegistryABI() (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(contracts.NodeRegistryABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse built-in abi: %w", err)
	}
	return parsed, nil
}

// MustRegistryABI is RegistryABI for package initialisation and tests.
func MustRegistryABI() abi.ABI {
	a, err := RegistryABI()
	if err != nil {
		panic(err)
	}
	return a
}
