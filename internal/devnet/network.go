package devnet

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/Klingon-tech/nodereg/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Network is a set of endpoints over one shared Chain. Endpoint i votes as
// validator i; endpoints beyond the validator count vote as non-validators.
type Network struct {
	chain   *Chain
	servers []*Server
}

// ValidatorAddresses returns n deterministic validator addresses.
func ValidatorAddresses(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.BytesToAddress(crypto.Keccak256([]byte("devnet-validator-" + strconv.Itoa(i))))
	}
	return out
}

// NewNetwork creates a chain and n endpoints listening on host with
// consecutive ports from basePort. basePort 0 picks free ports.
// cfg.Validators defaults to one validator per endpoint.
func NewNetwork(cfg Config, n int, host string, basePort int) (*Network, error) {
	if n <= 0 {
		return nil, fmt.Errorf("endpoint count must be positive")
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = ValidatorAddresses(n)
	}
	chain, err := NewChain(cfg)
	if err != nil {
		return nil, err
	}

	nw := &Network{chain: chain}
	for i := 0; i < n; i++ {
		self := common.BytesToAddress(crypto.Keccak256([]byte("devnet-observer-" + strconv.Itoa(i))))
		if i < len(cfg.Validators) {
			self = cfg.Validators[i]
		}
		port := 0
		if basePort > 0 {
			port = basePort + i
		}
		s := NewServer(joinHostPort(host, port), chain, self)
		s.peers = func() int { return n - 1 }
		nw.servers = append(nw.servers, s)
	}
	return nw, nil
}

func joinHostPort(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Start starts every endpoint. On failure the ones already started are
// stopped.
func (n *Network) Start() error {
	for i, s := range n.servers {
		if err := s.Start(); err != nil {
			for _, started := range n.servers[:i] {
				started.Stop()
			}
			return err
		}
		s.logger.Info().Str("url", s.URL()).Msg("Devnet endpoint listening")
	}
	return nil
}

// Stop shuts every endpoint down.
func (n *Network) Stop() {
	for _, s := range n.servers {
		s.Stop()
	}
}

// Chain returns the shared chain state.
func (n *Network) Chain() *Chain { return n.chain }

// Servers returns the endpoints in order.
func (n *Network) Servers() []*Server { return n.servers }

// URLs returns the endpoint URLs in order.
func (n *Network) URLs() []string {
	out := make([]string, len(n.servers))
	for i, s := range n.servers {
		out[i] = s.URL()
	}
	return out
}

type artifactNetwork struct {
	Address string `json:"address"`
}

type artifact struct {
	ContractName string                     `json:"contractName"`
	ABI          json.RawMessage            `json:"abi"`
	Networks     map[string]artifactNetwork `json:"networks"`
}

// Artifact returns a contract build file {abi, networks} describing the
// registry of chain c, keyed by its chain id.
func (c *Chain) Artifact() ([]byte, error) {
	a := artifact{
		ContractName: "NodeRegistry",
		ABI:          json.RawMessage(contracts.NodeRegistryABI),
		Networks:     map[string]artifactNetwork{},
	}
	if c.deployed {
		a.Networks[c.chainID.String()] = artifactNetwork{Address: c.contract.Hex()}
	}
	return json.MarshalIndent(a, "", "  ")
}
