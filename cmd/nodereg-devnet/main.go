// Command nodereg-devnet runs a local in-process ledger that speaks the
// JSON-RPC subset nodereg-cli uses.
//
// Usage: go run ./cmd/nodereg-devnet/ --endpoints 2 --out ./devnet
//
// Endpoint i listens on port+i and votes as validator i. With --out the
// command writes prefunded_keys.json, NodeRegistry.json (artifact) and a
// nodereg.conf pointing at the endpoints, so that
//
//	nodereg-cli --config ./devnet/nodereg.conf isValidator 0x...
//
// works out of the box. Ctrl+C to stop.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Klingon-tech/nodereg/config"
	"github.com/Klingon-tech/nodereg/internal/devnet"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
)

func main() {
	var (
		endpoints  = flag.Int("endpoints", 2, "Number of JSON-RPC endpoints (one validator each)")
		host       = flag.String("host", "127.0.0.1", "Listen host")
		port       = flag.Int("port", 8545, "Port of the first endpoint (0 = random)")
		chainID    = flag.Uint64("chain-id", devnet.DefaultChainID, "Chain id")
		contract   = flag.String("contract", devnet.DefaultContract.Hex(), "Registry contract address")
		undeployed = flag.Bool("undeployed", false, "Start without the registry deployed")
		accounts   = flag.Int("accounts", 5, "Prefunded accounts to write with --out")
		out        = flag.String("out", "", "Write credentials, artifact and client config here")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logJSON    = flag.Bool("log-json", false, "Output logs as JSON")
	)
	flag.Parse()

	if err := klog.Init(*logLevel, *logJSON, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("devnet")

	cfg := devnet.Config{ChainID: *chainID, Undeployed: *undeployed}
	if !common.IsHexAddress(*contract) {
		logger.Fatal().Str("contract", *contract).Msg("Invalid --contract address")
	}
	cfg.Contract = common.HexToAddress(*contract)

	// ── Boot endpoints ──────────────────────────────────────────────────

	nw, err := devnet.NewNetwork(cfg, *endpoints, *host, *port)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create devnet")
	}
	if err := nw.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start devnet")
	}
	defer nw.Stop()

	urls := nw.URLs()
	logger.Info().
		Uint64("chain_id", *chainID).
		Str("contract", nw.Chain().Contract().Hex()).
		Strs("endpoints", urls).
		Int("validators", len(nw.Chain().Validators())).
		Msg("Devnet running")

	// ── Client files ────────────────────────────────────────────────────

	if *out != "" {
		if err := writeClientFiles(*out, nw, *accounts); err != nil {
			logger.Fatal().Err(err).Msg("Failed to write client files")
		}
		logger.Info().Str("dir", *out).Msg("Client files written")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Uint64("head", nw.Chain().Head()).Msg("Shutdown signal received")
}

// writeClientFiles writes a credentials file, the contract artifact and a
// client config whose rpc.url is the first endpoint and rpc.global the last.
func writeClientFiles(dir string, nw *devnet.Network, n int) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	creds, err := wallet.GenerateAccounts(n, 0)
	if err != nil {
		return err
	}
	credsPath := filepath.Join(dir, "prefunded_keys.json")
	if err := creds.Save(credsPath, nil, wallet.DefaultParams()); err != nil {
		return err
	}

	art, err := nw.Chain().Artifact()
	if err != nil {
		return err
	}
	artPath := filepath.Join(dir, "NodeRegistry.json")
	if err := os.WriteFile(artPath, art, 0644); err != nil {
		return err
	}

	confPath := filepath.Join(dir, config.ConfigFileName)
	if err := config.WriteDefaultConfig(confPath); err != nil {
		return err
	}
	urls := nw.URLs()
	overrides := fmt.Sprintf(`
# ============================================================================
# Devnet
# ============================================================================

rpc.url = %s
rpc.global = %s
contract.artifact = %s
contract.network = %s
credentials.file = %s
tx.poll_interval = 100ms
`, urls[0], urls[len(urls)-1], artPath, nw.Chain().ChainID().String(), credsPath)
	f, err := os.OpenFile(confPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(overrides); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
