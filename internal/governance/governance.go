// Package governance drives validator-set changes: the contract-level
// proposal record and the QBFT consensus vote, which are independent.
package governance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultGasPropose is the gas limit of proposeValidator.
const DefaultGasPropose = 100_000

// Latest selects the newest block in validator queries.
const Latest = "latest"

// Governance wraps the local endpoint and the well-known global endpoint.
type Governance struct {
	c          *ledger.Client
	global     *ledger.Client
	gasPropose uint64
}

// New creates a Governance. A nil global client falls back to c.
func New(c, global *ledger.Client, gasPropose uint64) *Governance {
	if global == nil {
		global = c
	}
	if gasPropose == 0 {
		gasPropose = DefaultGasPropose
	}
	return &Governance{c: c, global: global, gasPropose: gasPropose}
}

// Proposal is a ValidatorProposed record.
type Proposal struct {
	ProposedBy  common.Address `json:"proposedBy"`
	Validator   common.Address `json:"validator"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
}

// ValidatorProposedEvent is emitted by proposeValidator. Both fields are
// indexed.
type ValidatorProposedEvent struct {
	ProposedBy common.Address
	Validator  common.Address
}

// ProposeValidator records a validator proposal on chain. It casts no
// consensus vote.
func (g *Governance) ProposeValidator(ctx context.Context, addr common.Address) (*Proposal, error) {
	if addr == (common.Address{}) {
		return nil, ledger.Invalid("proposeValidator", "zero validator address")
	}
	receipt, err := g.c.SendTransaction(ctx, "proposeValidator", g.gasPropose, addr)
	if err != nil {
		return nil, err
	}

	var ev ValidatorProposedEvent
	found, err := g.c.FindEvent("ValidatorProposed", receipt.Logs, &ev)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &ledger.Error{
			Kind: ledger.KindEventDecode,
			Op:   "ValidatorProposed",
			Err:  fmt.Errorf("%w in receipt %s", ledger.ErrNoMatchingEvent, receipt.TxHash.Hex()),
		}
	}

	klog.Governance.Info().
		Str("validator", ev.Validator.Hex()).
		Str("proposed_by", ev.ProposedBy.Hex()).
		Msg("Validator proposal recorded")

	return &Proposal{
		ProposedBy:  ev.ProposedBy,
		Validator:   ev.Validator,
		TxHash:      receipt.TxHash,
		BlockNumber: uint64(receipt.BlockNumber),
	}, nil
}

// Vote casts this node's QBFT vote to add (true) or remove (false) addr.
// The returned bool is the endpoint's acknowledgement.
func (g *Governance) Vote(ctx context.Context, addr common.Address, add bool) (bool, error) {
	if addr == (common.Address{}) {
		return false, ledger.Invalid("qbft_proposeValidatorVote", "zero validator address")
	}
	var ack bool
	if err := g.c.RawCall(ctx, "qbft_proposeValidatorVote", []interface{}{addr, add}, &ack); err != nil {
		return false, err
	}
	klog.Governance.Info().
		Str("validator", addr.Hex()).
		Bool("add", add).
		Bool("ack", ack).
		Msg("Validator vote cast")
	return ack, nil
}

// Validators returns the validator set of block on the local endpoint.
func (g *Governance) Validators(ctx context.Context, block string) ([]common.Address, error) {
	return validators(ctx, g.c, block)
}

// GlobalValidators returns the latest validator set from the global endpoint.
func (g *Governance) GlobalValidators(ctx context.Context) ([]common.Address, error) {
	return validators(ctx, g.global, Latest)
}

// ValidatorsAt queries an arbitrary endpoint of the same network.
func (g *Governance) ValidatorsAt(ctx context.Context, endpoint, block string) ([]common.Address, error) {
	return validators(ctx, g.c.WithEndpoint(endpoint), block)
}

func validators(ctx context.Context, c *ledger.Client, block string) ([]common.Address, error) {
	tag, err := BlockTag(block)
	if err != nil {
		return nil, err
	}
	var out []common.Address
	if err := c.RawCall(ctx, "qbft_getValidatorsByBlockNumber", []interface{}{tag}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BlockTag normalizes a block selector: "" and "latest" become "latest",
// decimal or 0x-hex numbers become quantity hex. "earliest" and "pending"
// pass through.
func BlockTag(block string) (string, error) {
	b := strings.ToLower(strings.TrimSpace(block))
	switch b {
	case "", Latest:
		return Latest, nil
	case "earliest", "pending":
		return b, nil
	}
	if strings.HasPrefix(b, "0x") {
		n, err := hexutil.DecodeUint64(b)
		if err != nil {
			return "", ledger.Invalid("qbft_getValidatorsByBlockNumber", "invalid block %q", block)
		}
		return hexutil.EncodeUint64(n), nil
	}
	n, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return "", ledger.Invalid("qbft_getValidatorsByBlockNumber", "invalid block %q", block)
	}
	return hexutil.EncodeUint64(n), nil
}

// IsValidator asks the contract whether the node with sig is a validator.
func (g *Governance) IsValidator(ctx context.Context, sig types.Signature) (bool, error) {
	if len(sig) == 0 {
		return false, ledger.Invalid("isValidator", "empty node signature")
	}
	var ok bool
	if err := g.c.CallViewInto(ctx, &ok, "isValidator", []byte(sig)); err != nil {
		return false, err
	}
	return ok, nil
}

// ProposalHistory scans every ValidatorProposed event from genesis.
func (g *Governance) ProposalHistory(ctx context.Context) ([]Proposal, error) {
	logs, err := g.c.FilterLogs(ctx, "ValidatorProposed")
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(logs))
	for _, l := range logs {
		var ev ValidatorProposedEvent
		if err := g.c.DecodeEvent("ValidatorProposed", l, &ev); err != nil {
			return nil, err
		}
		out = append(out, Proposal{
			ProposedBy:  ev.ProposedBy,
			Validator:   ev.Validator,
			TxHash:      l.TxHash,
			BlockNumber: uint64(l.BlockNumber),
		})
	}
	return out, nil
}

// PeerCount returns the local endpoint's peer count.
func (g *Governance) PeerCount(ctx context.Context) (uint64, error) {
	return g.c.PeerCount(ctx)
}
