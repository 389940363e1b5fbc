package main

import (
	"context"
	"flag"
	"io"
	"strconv"
	"time"

	"github.com/Klingon-tech/nodereg/internal/access"
	"github.com/Klingon-tech/nodereg/internal/governance"
	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// subFlags parses command-local flags placed after the positional
// arguments, e.g. "admitValidator 0xabc --wait".
func subFlags(name string, args []string, define func(fs *flag.FlagSet)) ([]string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	define(fs)

	var positional []string
	for len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return nil, usageError(name, "%v", err)
		}
		rest := fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
	return positional, nil
}

// defaultWaitTimeout bounds the polling commands.
const defaultWaitTimeout = 5 * time.Minute

func waitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// ── Validators ──────────────────────────────────────────────────────────

func cmdProposeValidator(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("emitValidatorProposalToChain", args, 1, 1); err != nil {
		return nil, err
	}
	addr, err := parseAddr("emitValidatorProposalToChain", args[0])
	if err != nil {
		return nil, err
	}
	g, err := a.governance(true)
	if err != nil {
		return nil, err
	}
	return g.ProposeValidator(ctx, addr)
}

func cmdVote(ctx context.Context, a *app, args []string) (interface{}, error) {
	const name = "proposeValidatorVote"
	if err := wantArgs(name, args, 2, 2); err != nil {
		return nil, err
	}
	addr, err := parseAddr(name, args[0])
	if err != nil {
		return nil, err
	}
	add, err := strconv.ParseBool(args[1])
	if err != nil {
		return nil, usageError(name, "vote must be true or false, got %q", args[1])
	}
	g, err := a.governance(false)
	if err != nil {
		return nil, err
	}
	ack, err := g.Vote(ctx, addr, add)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"validator": addr, "add": add, "accepted": ack}, nil
}

func cmdValidators(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("getValidatorsByBlockNumber", args, 0, 1); err != nil {
		return nil, err
	}
	block := governance.Latest
	if len(args) == 1 {
		block = args[0]
	}
	g, err := a.governance(false)
	if err != nil {
		return nil, err
	}
	set, err := g.Validators(ctx, block)
	if err != nil {
		return nil, err
	}
	return addressList(set), nil
}

func cmdIsValidator(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("isValidator", args, 1, 1); err != nil {
		return nil, err
	}
	sig, err := parseSig("isValidator", args[0])
	if err != nil {
		return nil, err
	}
	g, err := a.governance(false)
	if err != nil {
		return nil, err
	}
	ok, err := g.IsValidator(ctx, sig)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"validator": ok}, nil
}

func cmdProposalHistory(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("listValidatorProposalHistory", args, 0, 0); err != nil {
		return nil, err
	}
	g, err := a.governance(false)
	if err != nil {
		return nil, err
	}
	return g.ProposalHistory(ctx)
}

func cmdAdmit(ctx context.Context, a *app, args []string) (interface{}, error) {
	const name = "admitValidator"
	var (
		noPropose, noVote, wait bool
		poll, timeout           time.Duration
	)
	pos, err := subFlags(name, args, func(fs *flag.FlagSet) {
		fs.BoolVar(&noPropose, "no-propose", false, "Skip the on-chain proposal")
		fs.BoolVar(&noVote, "no-vote", false, "Skip the consensus vote")
		fs.BoolVar(&wait, "wait", false, "Wait until the address is a validator")
		fs.DurationVar(&poll, "poll", governance.DefaultPollInterval, "Poll interval while waiting")
		fs.DurationVar(&timeout, "timeout", defaultWaitTimeout, "Give up waiting after this long (0 waits forever)")
	})
	if err != nil {
		return nil, err
	}
	if err := wantArgs(name, pos, 1, 1); err != nil {
		return nil, err
	}
	addr, err := parseAddr(name, pos[0])
	if err != nil {
		return nil, err
	}
	g, err := a.governance(!noPropose)
	if err != nil {
		return nil, err
	}
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = waitContext(ctx, timeout)
		defer cancel()
	}
	report, err := g.Admit(ctx, addr, governance.AdmitOptions{
		Propose: !noPropose,
		Vote:    !noVote,
		Wait:    wait,
		Poll:    poll,
	})
	if err != nil {
		ev := klog.Governance.Warn().
			Err(err).
			Str("validator", addr.Hex()).
			Bool("voted", report.Voted).
			Bool("admitted", report.Admitted)
		if report.Proposal != nil {
			ev = ev.Str("proposal_tx", report.Proposal.TxHash.Hex())
		}
		ev.Msg("Admission incomplete")
		return nil, &partialError{result: report, err: err}
	}
	return report, nil
}

func cmdResolve(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("resolveEndpoint", args, 1, 1); err != nil {
		return nil, err
	}
	sig, err := parseSig("resolveEndpoint", args[0])
	if err != nil {
		return nil, err
	}
	r, err := a.resolver(false)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, sig)
}

func cmdAuthorize(ctx context.Context, a *app, args []string) (interface{}, error) {
	const name = "authorize"
	if err := wantArgs(name, args, 3, 4); err != nil {
		return nil, err
	}
	from, to, err := parsePair(name, args)
	if err != nil {
		return nil, err
	}
	action, err := access.ParseAction(args[2])
	if err != nil {
		return nil, usageError(name, "%v", err)
	}
	validity := a.cfg.Access.Validity
	if len(args) == 4 {
		if validity, err = parseUint(name, "validity", args[3]); err != nil {
			return nil, err
		}
	}
	auth, err := a.authorizer()
	if err != nil {
		return nil, err
	}
	return auth.Authorize(ctx, from, to, action, validity)
}

// ── Chain ───────────────────────────────────────────────────────────────

func cmdPeerCount(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("getPeerCount", args, 0, 0); err != nil {
		return nil, err
	}
	c, err := a.ledger(false)
	if err != nil {
		return nil, err
	}
	n, err := c.PeerCount(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"peers": n}, nil
}

func cmdWaitForPeers(ctx context.Context, a *app, args []string) (interface{}, error) {
	const name = "waitForPeers"
	poll, timeout := governance.DefaultPollInterval, defaultWaitTimeout
	pos, err := subFlags(name, args, func(fs *flag.FlagSet) {
		fs.DurationVar(&poll, "poll", poll, "Poll interval")
		fs.DurationVar(&timeout, "timeout", timeout, "Give up after this long (0 waits forever)")
	})
	if err != nil {
		return nil, err
	}
	if err := wantArgs(name, pos, 1, 1); err != nil {
		return nil, err
	}
	want, err := parseUint(name, "peer count", pos[0])
	if err != nil {
		return nil, err
	}
	g, err := a.governance(false)
	if err != nil {
		return nil, err
	}
	ctx, cancel := waitContext(ctx, timeout)
	defer cancel()
	n, err := g.WaitForPeerCount(ctx, want, poll)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"peers": n}, nil
}

func cmdCheckDeployed(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("checkIfDeployed", args, 0, 0); err != nil {
		return nil, err
	}
	c, err := a.ledger(false)
	if err != nil {
		return nil, err
	}
	ok, err := c.IsDeployed(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"contract": c.Contract(), "deployed": ok}, nil
}

func cmdTransactions(ctx context.Context, a *app, args []string) (interface{}, error) {
	const name = "getAllTransactions"
	if err := wantArgs(name, args, 0, 2); err != nil {
		return nil, err
	}
	var (
		from uint64
		to   *uint64
		err  error
	)
	if len(args) >= 1 {
		if from, err = parseUint(name, "fromBlock", args[0]); err != nil {
			return nil, err
		}
	}
	if len(args) == 2 {
		n, err := parseUint(name, "toBlock", args[1])
		if err != nil {
			return nil, err
		}
		if n < from {
			return nil, usageError(name, "toBlock %d is before fromBlock %d", n, from)
		}
		to = &n
	}
	c, err := a.ledger(false)
	if err != nil {
		return nil, err
	}
	txs, err := c.Transactions(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []ledger.BlockTx{}
	}
	return txs, nil
}

// addressList renders addresses in the lowercase form the registry maps use.
func addressList(set []common.Address) []string {
	out := make([]string, len(set))
	for i, a := range set {
		out[i] = types.NormalizeAddress(a)
	}
	return out
}
