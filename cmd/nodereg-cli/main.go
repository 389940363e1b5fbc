// nodereg-cli is a command-line client for the NodeRegistry contract on a
// permissioned QBFT network.
//
// Every invocation prints exactly one JSON line on stdout:
//
//	{"command":"isValidator","ok":true,"result":...}
//	{"command":"isValidator","ok":false,"error":{"kind":"transport","message":"..."}}
//
// Logs go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/nodereg/config"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/google/uuid"
)

const version = "0.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := config.ParseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		usage(stderr)
		return exitOK
	}
	if err != nil {
		return emit(stdout, "", nil, usageError("", "%v", err))
	}
	if flags.Version {
		return emit(stdout, "version", map[string]string{"version": version}, nil)
	}
	if flags.Help {
		usage(stderr)
		return exitOK
	}
	if len(flags.Args) == 0 {
		usage(stderr)
		return emit(stdout, "", nil, usageError("", "no command given"))
	}

	name, cmdArgs := flags.Args[0], flags.Args[1:]
	if name == "help" {
		usage(stderr)
		return exitOK
	}
	cmd, ok := commands[name]
	if !ok {
		return emit(stdout, name, nil, usageError(name, "unknown command %q (see nodereg-cli help)", name))
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return emit(stdout, name, nil, usageError(name, "%v", err))
	}

	invocation := uuid.NewString()
	klog.SetOutput(stderr)
	if err := klog.InitWithFields(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File, map[string]string{"invocation": invocation}); err != nil {
		return emit(stdout, name, nil, err)
	}

	a := newApp(cfg, invocation)
	defer a.close()

	klog.CLI.Debug().Str("command", name).Strs("args", cmdArgs).Msg("Running command")
	done := klog.Benchmark(name)
	result, err := cmd.run(ctx, a, cmdArgs)
	done()
	return emit(stdout, name, result, err)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: nodereg-cli [global flags] <command> [args]

Global flags:
  --config <path>       Config file (default: <datadir>/nodereg.conf)
  --env <path>          Environment file (default: ./.env)
  --datadir <path>      Data directory (default: ~/.nodereg)
  --rpc <url>           Default ledger endpoint (default: http://127.0.0.1:8545)
  --global-rpc <url>    Endpoint for validator-set queries (default: http://127.0.0.1:8546)
  --timeout <dur>       Per-request timeout (default: 10s)
  --contract <addr>     Registry contract address
  --artifact <path>     Contract artifact {abi, networks}
  --network <id>        Artifact network id
  --credentials <path>  Credentials file (default: prefunded_keys.json)
  --account <n>         Index into prefunded_accounts (default: 0)
  --policy <name>       Primary validator policy (default: first)
  --journal             Record submitted transactions under <datadir>/journal
  --log-level <lvl>     debug, info, warn, error (default: info)
  --log-file <path>     Also write JSON logs to a rotating file
  --log-json            Console logs as JSON

Node registry:
  registerNode <id> <name> <senderType> <publicKey> <address> [<rpcUrl>] <receiverType> <signature> [<registeredBy>]
  isNodeRegistered <signature>
  getNodeDetails <signature>
  getNodeDetailsByAddress <address>

Capability tokens:
  issueCapabilityToken <from> <to>
  revokeCapabilityToken <from> <to>
  getCapabilityToken <from> <to>
  checkCapabilityToken <from> <to>
  isTokenExpired <from> <to> [validitySeconds]
  getTokenHistory <from> <to>
  authorize <from> <to> <READ|WRITE|EXECUTE|TRANSMIT> [validitySeconds]

Validators:
  emitValidatorProposalToChain <address>
  proposeValidatorVote <address> <true|false>
  getValidatorsByBlockNumber [latest|earliest|pending|<n>|0x<hex>]
  isValidator <signature>
  listValidatorProposalHistory
  admitValidator <address> [--no-propose] [--no-vote] [--wait] [--poll <dur>] [--timeout <dur>]
  resolveEndpoint <signature>

Chain:
  getPeerCount
  waitForPeers <n> [--poll <dur>] [--timeout <dur>]
  checkIfDeployed
  getAllTransactions [fromBlock] [toBlock]

Local:
  signIdentity <id> <name> <type> <publicKey>
  verifyIdentity <id> <name> <type> <publicKey> <signature>
  generateAccounts [--count <n>] [--validators <n>] [--mnemonic] [--out <path>] [--seal]
  sealCredentials <src> <dst>
  history [--limit <n>] [--clear]
  config init [path]

Exit codes: 0 ok, 1 invalid arguments or configuration, 2 any other failure.
`)
}
