package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultPollInterval is the admission and peer-count polling interval.
const DefaultPollInterval = time.Second

// AdmitOptions selects the admission steps. Propose and Vote are independent;
// either may be skipped.
type AdmitOptions struct {
	Propose bool
	Vote    bool
	Wait    bool
	Poll    time.Duration
}

// AdmitReport records the outcome of each admission step.
type AdmitReport struct {
	Validator common.Address `json:"validator"`
	Proposal  *Proposal      `json:"proposal,omitempty"`
	Voted     bool           `json:"voted"`
	VoteAck   bool           `json:"voteAck"`
	Admitted  bool           `json:"admitted"`
	// Validators is the set observed by the last poll.
	Validators []common.Address `json:"validators,omitempty"`
}

// Admit composes an on-chain proposal, a consensus vote and an optional wait
// for the address to join the validator set. The steps are not atomic: on
// error the report holds whatever completed before it.
func (g *Governance) Admit(ctx context.Context, addr common.Address, opts AdmitOptions) (*AdmitReport, error) {
	report := &AdmitReport{Validator: addr}

	if opts.Propose {
		p, err := g.ProposeValidator(ctx, addr)
		if err != nil {
			return report, err
		}
		report.Proposal = p
	}

	if opts.Vote {
		ack, err := g.Vote(ctx, addr, true)
		if err != nil {
			return report, err
		}
		report.Voted = true
		report.VoteAck = ack
	}

	if !opts.Wait {
		set, err := g.Validators(ctx, Latest)
		if err != nil {
			return report, err
		}
		report.Validators = set
		report.Admitted = contains(set, addr)
		return report, nil
	}

	set, err := g.WaitForValidator(ctx, addr, opts.Poll)
	report.Validators = set
	if err != nil {
		return report, err
	}
	report.Admitted = true
	return report, nil
}

// WaitForValidator polls the local validator set until addr is a member or
// ctx ends. It returns the last set observed.
func (g *Governance) WaitForValidator(ctx context.Context, addr common.Address, poll time.Duration) ([]common.Address, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last []common.Address
	for {
		set, err := g.Validators(ctx, Latest)
		if err != nil && ctx.Err() == nil {
			return last, err
		}
		if err == nil {
			last = set
			if contains(set, addr) {
				klog.Governance.Info().
					Str("validator", addr.Hex()).
					Int("set_size", len(set)).
					Msg("Validator admitted")
				return set, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ledger.Stopped(ctx, "waitForValidator", fmt.Errorf("%s not in validator set", addr.Hex()))
		case <-ticker.C:
		}
	}
}

// WaitForPeerCount polls net_peerCount until it reaches want or ctx ends.
func (g *Governance) WaitForPeerCount(ctx context.Context, want uint64, poll time.Duration) (uint64, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last uint64
	for {
		n, err := g.PeerCount(ctx)
		if err != nil && ctx.Err() == nil {
			return last, err
		}
		if err == nil {
			last = n
			if n >= want {
				return n, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ledger.Stopped(ctx, "waitForPeerCount", fmt.Errorf("have %d peers, want %d", last, want))
		case <-ticker.C:
		}
	}
}

func contains(set []common.Address, addr common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}
