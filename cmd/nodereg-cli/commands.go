package main

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	"github.com/Klingon-tech/nodereg/internal/registry"
	"github.com/Klingon-tech/nodereg/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) (interface{}, error)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		// Node registry
		"registerNode":            {"<id> <name> <senderType> <publicKey> <address> [<rpcUrl>] <receiverType> <signature> [<registeredBy>]", cmdRegisterNode},
		"isNodeRegistered":        {"<signature>", cmdIsNodeRegistered},
		"getNodeDetails":          {"<signature>", cmdGetNodeDetails},
		"getNodeDetailsByAddress": {"<address>", cmdGetNodeDetailsByAddress},

		// Capability tokens
		"issueCapabilityToken":  {"<from> <to>", cmdIssueToken},
		"revokeCapabilityToken": {"<from> <to>", cmdRevokeToken},
		"getCapabilityToken":    {"<from> <to>", cmdGetToken},
		"checkCapabilityToken":  {"<from> <to>", cmdCheckToken},
		"isTokenExpired":        {"<from> <to> [validitySeconds]", cmdIsTokenExpired},
		"getTokenHistory":       {"<from> <to>", cmdTokenHistory},
		"authorize":             {"<from> <to> <action> [validitySeconds]", cmdAuthorize},

		// Validators
		"emitValidatorProposalToChain": {"<address>", cmdProposeValidator},
		"proposeValidatorVote":         {"<address> <true|false>", cmdVote},
		"getValidatorsByBlockNumber":   {"[block]", cmdValidators},
		"isValidator":                  {"<signature>", cmdIsValidator},
		"listValidatorProposalHistory": {"", cmdProposalHistory},
		"admitValidator":               {"<address> [--no-propose] [--no-vote] [--wait] [--poll <dur>] [--timeout <dur>]", cmdAdmit},
		"resolveEndpoint":              {"<signature>", cmdResolve},

		// Chain
		"getPeerCount":       {"", cmdPeerCount},
		"waitForPeers":       {"<n> [--poll <dur>] [--timeout <dur>]", cmdWaitForPeers},
		"checkIfDeployed":    {"", cmdCheckDeployed},
		"getAllTransactions": {"[fromBlock] [toBlock]", cmdTransactions},

		// Local
		"signIdentity":     {"<id> <name> <type> <publicKey>", cmdSignIdentity},
		"verifyIdentity":   {"<id> <name> <type> <publicKey> <signature>", cmdVerifyIdentity},
		"generateAccounts": {"[--count <n>] [--validators <n>] [--mnemonic] [--out <path>] [--seal]", cmdGenerateAccounts},
		"sealCredentials":  {"<src> <dst>", cmdSealCredentials},
		"history":          {"[--limit <n>] [--clear]", cmdHistory},
		"config":           {"init [path]", cmdConfig},
	}
}

// ── Argument helpers ────────────────────────────────────────────────────

func wantArgs(name string, args []string, min, max int) error {
	if len(args) < min || len(args) > max {
		return usageError(name, "usage: %s %s", name, commands[name].usage)
	}
	return nil
}

func parseSig(op, s string) (types.Signature, error) {
	sig, err := types.ParseSignature(s)
	if err != nil {
		return nil, ledger.Invalid(op, "%v", err)
	}
	return sig, nil
}

func parsePair(op string, args []string) (types.Signature, types.Signature, error) {
	from, err := parseSig(op, args[0])
	if err != nil {
		return nil, nil, err
	}
	to, err := parseSig(op, args[1])
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func parseAddr(op, s string) (common.Address, error) {
	addr, err := types.ParseAddress(s)
	if err != nil {
		return common.Address{}, ledger.Invalid(op, "%v", err)
	}
	return addr, nil
}

func parseNodeType(op, s string) (types.NodeType, error) {
	t, err := types.ParseNodeType(s)
	if err != nil {
		return 0, ledger.Invalid(op, "%v", err)
	}
	return t, nil
}

// parseHex decodes a hex byte string with or without the 0x prefix.
func parseHex(op, what, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ledger.Invalid(op, "%s is not hex: %v", what, err)
	}
	return b, nil
}

func parseUint(op, what, s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ledger.Invalid(op, "invalid %s %q", what, s)
	}
	return n, nil
}

// ── Node registry ───────────────────────────────────────────────────────

func cmdRegisterNode(ctx context.Context, a *app, args []string) (interface{}, error) {
	const name = "registerNode"
	if err := wantArgs(name, args, 7, 9); err != nil {
		return nil, err
	}

	// The rpc url is optional in the middle of the list: with 8 arguments
	// it is present only when args[5] looks like a URL.
	var rpcURL, regBy string
	var rest []string
	switch len(args) {
	case 7:
		rest = args[5:]
	case 8:
		if strings.Contains(args[5], "://") {
			rpcURL, rest = args[5], args[6:]
		} else {
			rest, regBy = args[5:7], args[7]
		}
	case 9:
		rpcURL, rest, regBy = args[5], args[6:8], args[8]
	}

	senderType, err := parseNodeType(name, args[2])
	if err != nil {
		return nil, err
	}
	addr, err := parseAddr(name, args[4])
	if err != nil {
		return nil, err
	}
	receiverType, err := parseNodeType(name, rest[0])
	if err != nil {
		return nil, err
	}
	sig, err := parseSig(name, rest[1])
	if err != nil {
		return nil, err
	}
	pub, err := parseHex(name, "public key", args[3])
	if err != nil {
		return nil, err
	}
	req := registry.RegisterRequest{
		NodeID:       args[0],
		NodeName:     args[1],
		SenderType:   senderType,
		PublicKey:    pub,
		NodeAddress:  addr,
		RPCURL:       rpcURL,
		ReceiverType: receiverType,
		Signature:    sig,
	}
	if regBy != "" {
		if req.RegisteredBy, err = parseSig(name, regBy); err != nil {
			return nil, err
		}
	}

	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	return reg.RegisterNode(ctx, req)
}

func cmdIsNodeRegistered(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("isNodeRegistered", args, 1, 1); err != nil {
		return nil, err
	}
	sig, err := parseSig("isNodeRegistered", args[0])
	if err != nil {
		return nil, err
	}
	r, err := a.reader()
	if err != nil {
		return nil, err
	}
	ok, err := r.IsNodeRegistered(ctx, sig)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"registered": ok}, nil
}

func cmdGetNodeDetails(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("getNodeDetails", args, 1, 1); err != nil {
		return nil, err
	}
	sig, err := parseSig("getNodeDetails", args[0])
	if err != nil {
		return nil, err
	}
	r, err := a.reader()
	if err != nil {
		return nil, err
	}
	return r.NodeDetails(ctx, sig)
}

func cmdGetNodeDetailsByAddress(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("getNodeDetailsByAddress", args, 1, 1); err != nil {
		return nil, err
	}
	addr, err := parseAddr("getNodeDetailsByAddress", args[0])
	if err != nil {
		return nil, err
	}
	r, err := a.reader()
	if err != nil {
		return nil, err
	}
	return r.NodeDetailsByAddress(ctx, addr)
}

// ── Capability tokens ───────────────────────────────────────────────────

func cmdIssueToken(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("issueCapabilityToken", args, 2, 2); err != nil {
		return nil, err
	}
	from, to, err := parsePair("issueCapabilityToken", args)
	if err != nil {
		return nil, err
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	return reg.IssueToken(ctx, from, to)
}

func cmdRevokeToken(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("revokeCapabilityToken", args, 2, 2); err != nil {
		return nil, err
	}
	from, to, err := parsePair("revokeCapabilityToken", args)
	if err != nil {
		return nil, err
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	return reg.RevokeToken(ctx, from, to)
}

func cmdGetToken(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("getCapabilityToken", args, 2, 2); err != nil {
		return nil, err
	}
	from, to, err := parsePair("getCapabilityToken", args)
	if err != nil {
		return nil, err
	}
	r, err := a.reader()
	if err != nil {
		return nil, err
	}
	return r.GetToken(ctx, from, to)
}

func cmdCheckToken(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("checkCapabilityToken", args, 2, 2); err != nil {
		return nil, err
	}
	from, to, err := parsePair("checkCapabilityToken", args)
	if err != nil {
		return nil, err
	}
	r, err := a.reader()
	if err != nil {
		return nil, err
	}
	valid, err := r.CheckToken(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"valid": valid}, nil
}

func cmdIsTokenExpired(ctx context.Context, a *app, args []string) (interface{}, error) {
	const name = "isTokenExpired"
	if err := wantArgs(name, args, 2, 3); err != nil {
		return nil, err
	}
	from, to, err := parsePair(name, args)
	if err != nil {
		return nil, err
	}
	validity := a.cfg.Access.Validity
	if len(args) == 3 {
		if validity, err = parseUint(name, "validity", args[2]); err != nil {
			return nil, err
		}
	}
	r, err := a.reader()
	if err != nil {
		return nil, err
	}
	expired, err := r.IsTokenExpired(ctx, from, to, validity)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"expired": expired, "validity": validity}, nil
}

func cmdTokenHistory(ctx context.Context, a *app, args []string) (interface{}, error) {
	if err := wantArgs("getTokenHistory", args, 2, 2); err != nil {
		return nil, err
	}
	from, to, err := parsePair("getTokenHistory", args)
	if err != nil {
		return nil, err
	}
	r, err := a.reader()
	if err != nil {
		return nil, err
	}
	return r.TokenHistory(ctx, from, to)
}
