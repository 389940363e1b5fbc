package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/nodereg/config"
	"github.com/Klingon-tech/nodereg/internal/journal"
	"github.com/Klingon-tech/nodereg/internal/ledger"
	"github.com/Klingon-tech/nodereg/internal/wallet"
	"github.com/Klingon-tech/nodereg/pkg/crypto"
	"github.com/Klingon-tech/nodereg/pkg/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ── Identity ────────────────────────────────────────────────────────────

type identityResult struct {
	Identity  crypto.Identity `json:"identity"`
	Digest    string          `json:"digest"`
	Signature types.Signature `json:"signature"`
	Signer    string          `json:"signer,omitempty"`
	Valid     *bool           `json:"valid,omitempty"`
}

func identityArgs(name string, args []string) (crypto.Identity, error) {
	t, err := parseNodeType(name, args[2])
	if err != nil {
		return crypto.Identity{}, err
	}
	return crypto.Identity{
		NodeID:    args[0],
		NodeName:  args[1],
		NodeType:  t.String(),
		PublicKey: args[3],
	}, nil
}

func decodePublicKey(op, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, ledger.Invalid(op, "public key is not hex: %v", err)
	}
	if _, err := crypto.ParsePublicKey(b); err != nil {
		return nil, ledger.Invalid(op, "%v", err)
	}
	return b, nil
}

// cmdSignIdentity signs an identity with the configured account. The public
// key argument may be "-" to embed the account's own key.
func cmdSignIdentity(_ context.Context, a *app, args []string) (interface{}, error) {
	const name = "signIdentity"
	if err := wantArgs(name, args, 4, 4); err != nil {
		return nil, err
	}
	creds, err := wallet.LoadCredentials(a.cfg.Credentials.File, a.password)
	if err != nil {
		return nil, ledger.Invalid("credentials", "%v", err)
	}
	acct, err := creds.Account(a.cfg.Credentials.Account)
	if err != nil {
		return nil, ledger.Invalid("credentials", "%v", err)
	}
	key, err := crypto.PrivateKeyFromBytes(ethcrypto.FromECDSA(acct.Key))
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	if args[3] == "-" {
		args = append(args[:3:3], "0x"+hex.EncodeToString(key.PublicKey()))
	}
	id, err := identityArgs(name, args)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.SignIdentity(key, id)
	if err != nil {
		return nil, err
	}
	return identityResult{
		Identity:  id,
		Digest:    "0x" + hex.EncodeToString(id.Digest()),
		Signature: sig,
		Signer:    types.NormalizeAddress(acct.Address),
	}, nil
}

// cmdVerifyIdentity checks a signature against the identity's own public key.
func cmdVerifyIdentity(_ context.Context, _ *app, args []string) (interface{}, error) {
	const name = "verifyIdentity"
	if err := wantArgs(name, args, 5, 5); err != nil {
		return nil, err
	}
	id, err := identityArgs(name, args)
	if err != nil {
		return nil, err
	}
	pub, err := decodePublicKey(name, id.PublicKey)
	if err != nil {
		return nil, err
	}
	sig, err := parseSig(name, args[4])
	if err != nil {
		return nil, err
	}
	if len(sig) != crypto.SignatureSize {
		return nil, ledger.Invalid(name, "signature must be %d bytes, got %d", crypto.SignatureSize, len(sig))
	}

	valid := crypto.VerifyIdentity(id, sig, pub)
	res := identityResult{
		Identity:  id,
		Digest:    "0x" + hex.EncodeToString(id.Digest()),
		Signature: sig,
		Valid:     &valid,
	}
	if recovered, err := crypto.RecoverIdentity(id, sig); err == nil {
		res.Signer = types.NormalizeAddress(crypto.AddressFromPubKey(recovered))
	}
	return res, nil
}

// ── Credentials ─────────────────────────────────────────────────────────

type generatedAccounts struct {
	File       string              `json:"file,omitempty"`
	Sealed     bool                `json:"sealed"`
	Mnemonic   string              `json:"mnemonic,omitempty"`
	Accounts   []string            `json:"accounts"`
	Validators []string            `json:"validators,omitempty"`
	Keys       *wallet.Credentials `json:"keys,omitempty"`
}

func cmdGenerateAccounts(_ context.Context, _ *app, args []string) (interface{}, error) {
	const name = "generateAccounts"
	var (
		count, validators, words int
		withMnemonic, seal       bool
		fromMnemonic, out        string
	)
	pos, err := subFlags(name, args, func(fs *flag.FlagSet) {
		fs.IntVar(&count, "count", 5, "Number of prefunded accounts")
		fs.IntVar(&validators, "validators", 0, "Number of validator keys")
		fs.BoolVar(&withMnemonic, "mnemonic", false, "Derive accounts from a new BIP-39 mnemonic")
		fs.IntVar(&words, "words", 24, "Mnemonic length")
		fs.StringVar(&fromMnemonic, "from-mnemonic", "", "Derive accounts from this mnemonic")
		fs.StringVar(&out, "out", "", "Write the credentials file here")
		fs.BoolVar(&seal, "seal", false, "Seal the written file with a password")
	})
	if err != nil {
		return nil, err
	}
	if len(pos) != 0 {
		return nil, usageError(name, "usage: %s %s", name, commands[name].usage)
	}
	if seal && out == "" {
		return nil, usageError(name, "--seal requires --out")
	}

	var creds *wallet.Credentials
	res := generatedAccounts{}
	switch {
	case fromMnemonic != "" || withMnemonic:
		mnemonic := fromMnemonic
		if mnemonic == "" {
			if mnemonic, err = wallet.GenerateMnemonic(words); err != nil {
				return nil, usageError(name, "%v", err)
			}
			res.Mnemonic = mnemonic
		}
		if !wallet.ValidateMnemonic(mnemonic) {
			return nil, usageError(name, "invalid mnemonic")
		}
		if creds, err = wallet.DeriveAccounts(mnemonic, "", count); err != nil {
			return nil, usageError(name, "%v", err)
		}
		if validators > 0 {
			extra, err := wallet.GenerateAccounts(1, validators)
			if err != nil {
				return nil, err
			}
			creds.Validators = extra.Validators
		}
	default:
		if creds, err = wallet.GenerateAccounts(count, validators); err != nil {
			return nil, usageError(name, "%v", err)
		}
	}

	for _, e := range creds.Accounts {
		res.Accounts = append(res.Accounts, types.NormalizeAddressString(e.Address))
	}
	for _, e := range creds.Validators {
		res.Validators = append(res.Validators, types.NormalizeAddressString(e.Address))
	}

	if out == "" {
		res.Keys = creds
		return res, nil
	}
	var password []byte
	if seal {
		if password, err = promptPassword("New password: "); err != nil {
			return nil, usageError(name, "%v", err)
		}
	}
	if err := creds.Save(out, password, wallet.DefaultParams()); err != nil {
		return nil, err
	}
	res.File = out
	res.Sealed = seal
	return res, nil
}

func cmdSealCredentials(_ context.Context, _ *app, args []string) (interface{}, error) {
	const name = "sealCredentials"
	if err := wantArgs(name, args, 2, 2); err != nil {
		return nil, err
	}
	password, err := promptPassword("New password: ")
	if err != nil {
		return nil, usageError(name, "%v", err)
	}
	if err := wallet.SealCredentials(args[0], args[1], password, wallet.DefaultParams()); err != nil {
		return nil, usageError(name, "%v", err)
	}
	return map[string]string{"file": args[1]}, nil
}

// ── Journal ─────────────────────────────────────────────────────────────

func cmdHistory(_ context.Context, a *app, args []string) (interface{}, error) {
	const name = "history"
	var (
		limit int
		wipe  bool
	)
	pos, err := subFlags(name, args, func(fs *flag.FlagSet) {
		fs.IntVar(&limit, "limit", 20, "Maximum entries, newest first (0 = all)")
		fs.BoolVar(&wipe, "clear", false, "Delete every entry")
	})
	if err != nil {
		return nil, err
	}
	if len(pos) != 0 {
		return nil, usageError(name, "usage: %s %s", name, commands[name].usage)
	}
	j, err := a.openJournal()
	if err != nil {
		return nil, err
	}
	if wipe {
		if err := j.Clear(); err != nil {
			return nil, err
		}
		return map[string]bool{"cleared": true}, nil
	}
	entries, err := j.List(limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}

// ── Config ──────────────────────────────────────────────────────────────

func cmdConfig(_ context.Context, a *app, args []string) (interface{}, error) {
	const name = "config"
	if err := wantArgs(name, args, 1, 2); err != nil {
		return nil, err
	}
	if args[0] != "init" {
		return nil, usageError(name, "unknown subcommand %q", args[0])
	}
	path := a.cfg.ConfigFile()
	if len(args) == 2 {
		path = args[1]
	}
	if _, err := os.Stat(path); err == nil {
		return nil, usageError(name, "%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return nil, err
	}
	return map[string]string{"file": path}, nil
}
