package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/Klingon-tech/nodereg/config"
	"github.com/Klingon-tech/nodereg/internal/access"
	"github.com/Klingon-tech/nodereg/internal/governance"
	"github.com/Klingon-tech/nodereg/internal/journal"
	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/internal/registry"
	"github.com/Klingon-tech/nodereg/internal/resolver"
	"github.com/Klingon-tech/nodereg/internal/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"
)

// PasswordEnv supplies the credentials password non-interactively.
const PasswordEnv = "NODEREG_PASSWORD"

// app lazily builds the clients one command needs.
type app struct {
	cfg        *config.Config
	invocation string
	password   wallet.PasswordFunc

	journal *journal.Journal
	client  *ledger.Client
	signed  bool
}

func newApp(cfg *config.Config, invocation string) *app {
	return &app{cfg: cfg, invocation: invocation, password: readPassword}
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			klog.CLI.Warn().Err(err).Msg("Failed to close journal")
		}
	}
}

// contract resolves the ABI and the contract address from the artifact or
// the built-in ABI plus contract.address. An explicit address wins.
func (a *app) contract() (abi.ABI, common.Address, error) {
	var (
		parsed abi.ABI
		addr   common.Address
	)
	if path := a.cfg.Contract.Artifact; path != "" {
		art, err := ledger.LoadArtifact(path)
		if err != nil {
			return parsed, addr, ledger.Invalid("config", "%v", err)
		}
		parsed = art.ABI
		if a.cfg.Contract.Address == "" {
			addr, err = art.Address(a.cfg.Contract.Network)
			if err != nil {
				return parsed, addr, ledger.Invalid("config", "%v", err)
			}
		}
	} else {
		var err error
		if parsed, err = ledger.RegistryABI(); err != nil {
			return parsed, addr, err
		}
	}
	if a.cfg.Contract.Address != "" {
		addr = common.HexToAddress(a.cfg.Contract.Address)
	}
	if addr == (common.Address{}) {
		return parsed, addr, ledger.Invalid("config", "contract address not configured (set contract.address or contract.artifact)")
	}
	return parsed, addr, nil
}

// ledger returns the default-endpoint client. signer loads the configured
// account from the credentials file.
func (a *app) ledger(signer bool) (*ledger.Client, error) {
	if a.client != nil && (a.signed || !signer) {
		return a.client, nil
	}

	parsed, addr, err := a.contract()
	if err != nil {
		return nil, err
	}
	lc := ledger.Config{
		Endpoint:       a.cfg.RPC.URL,
		Timeout:        a.cfg.RPC.Timeout,
		Contract:       addr,
		ABI:            parsed,
		ReceiptTimeout: a.cfg.Tx.ReceiptTimeout,
		PollInterval:   a.cfg.Tx.PollInterval,
		ScanChunk:      a.cfg.Scan.Chunk,
		ScanRPS:        a.cfg.Scan.RPS,
	}

	if signer {
		creds, err := wallet.LoadCredentials(a.cfg.Credentials.File, a.password)
		if err != nil {
			return nil, ledger.Invalid("credentials", "%v", err)
		}
		acct, err := creds.Account(a.cfg.Credentials.Account)
		if err != nil {
			return nil, ledger.Invalid("credentials", "%v", err)
		}
		lc.Account = acct

		if a.cfg.Journal.Enabled {
			j, err := a.openJournal()
			if err != nil {
				return nil, err
			}
			lc.Observer = j
		}
	}

	a.client = ledger.New(lc)
	a.signed = signer
	klog.CLI.Debug().
		Str("endpoint", lc.Endpoint).
		Str("contract", addr.Hex()).
		Bool("signer", signer).
		Msg("Ledger client ready")
	return a.client, nil
}

func (a *app) openJournal() (*journal.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	if err := os.MkdirAll(a.cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create datadir: %w", err)
	}
	j, err := journal.Open(a.cfg.DataDir, a.invocation)
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

func (a *app) reader() (*registry.Reader, error) {
	c, err := a.ledger(false)
	if err != nil {
		return nil, err
	}
	return registry.NewReader(c), nil
}

func (a *app) governance(signer bool) (*governance.Governance, error) {
	c, err := a.ledger(signer)
	if err != nil {
		return nil, err
	}
	return governance.New(c, c.WithEndpoint(a.cfg.RPC.Global), a.cfg.Tx.GasPropose), nil
}

func (a *app) resolver(signer bool) (*resolver.Resolver, error) {
	policy, ok := resolver.PolicyByName(a.cfg.Resolve.Policy)
	if !ok {
		return nil, ledger.Invalid("config", "unknown resolve.policy %q", a.cfg.Resolve.Policy)
	}
	gov, err := a.governance(signer)
	if err != nil {
		return nil, err
	}
	rd, err := a.reader()
	if err != nil {
		return nil, err
	}
	return resolver.New(a.client, gov, rd, gov, policy), nil
}

// registry returns a signing registry whose writes are routed through the
// resolver.
func (a *app) registry() (*registry.Registry, error) {
	res, err := a.resolver(true)
	if err != nil {
		return nil, err
	}
	return registry.New(a.client, res, registry.Gas{
		Register: a.cfg.Tx.GasRegister,
		Issue:    a.cfg.Tx.GasIssue,
		Revoke:   a.cfg.Tx.GasRevoke,
	}), nil
}

func (a *app) authorizer() (*access.Authorizer, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	return access.NewAuthorizer(reg), nil
}

// ── Password ────────────────────────────────────────────────────────────

// readPassword takes the password from NODEREG_PASSWORD, else prompts on
// the terminal.
func readPassword() ([]byte, error) {
	return promptPassword("Credentials password: ")
}

func promptPassword(prompt string) ([]byte, error) {
	if pw, ok := os.LookupEnv(PasswordEnv); ok {
		return []byte(pw), nil
	}
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return nil, wallet.ErrPasswordRequired
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}
