package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Keys lists every recognised configuration key.
var Keys = []string{
	"datadir",
	"rpc.url", "rpc.global", "rpc.timeout",
	"contract.address", "contract.artifact", "contract.network",
	"credentials.file", "credentials.account",
	"tx.gas.register", "tx.gas.issue", "tx.gas.revoke", "tx.gas.propose",
	"tx.receipt_timeout", "tx.poll_interval",
	"scan.chunk", "scan.rps",
	"resolve.policy",
	"access.validity",
	"journal.enabled",
	"log.level", "log.file", "log.json",
}

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments). A missing file
// yields no values.
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: invalid format (expected key = value)", path, lineNum)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}

	return values, scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// ApplyFileConfig applies key/value pairs to cfg. Unknown keys are rejected
// so that typos do not silently fall back to defaults.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "datadir":
		cfg.DataDir = value

	// RPC
	case "rpc.url", "rpc":
		cfg.RPC.URL = value
	case "rpc.global":
		cfg.RPC.Global = value
	case "rpc.timeout":
		cfg.RPC.Timeout, err = time.ParseDuration(value)

	// Contract
	case "contract.address":
		cfg.Contract.Address = value
	case "contract.artifact":
		cfg.Contract.Artifact = value
	case "contract.network":
		cfg.Contract.Network = value

	// Credentials
	case "credentials.file":
		cfg.Credentials.File = value
	case "credentials.account":
		cfg.Credentials.Account, err = strconv.Atoi(value)

	// Transactions
	case "tx.gas.register":
		cfg.Tx.GasRegister, err = strconv.ParseUint(value, 10, 64)
	case "tx.gas.issue":
		cfg.Tx.GasIssue, err = strconv.ParseUint(value, 10, 64)
	case "tx.gas.revoke":
		cfg.Tx.GasRevoke, err = strconv.ParseUint(value, 10, 64)
	case "tx.gas.propose":
		cfg.Tx.GasPropose, err = strconv.ParseUint(value, 10, 64)
	case "tx.receipt_timeout":
		cfg.Tx.ReceiptTimeout, err = time.ParseDuration(value)
	case "tx.poll_interval":
		cfg.Tx.PollInterval, err = time.ParseDuration(value)

	// Scanning
	case "scan.chunk":
		cfg.Scan.Chunk, err = strconv.ParseUint(value, 10, 64)
	case "scan.rps":
		cfg.Scan.RPS, err = strconv.ParseFloat(value, 64)

	case "resolve.policy":
		cfg.Resolve.Policy = value
	case "access.validity":
		cfg.Access.Validity, err = strconv.ParseUint(value, 10, 64)
	case "journal.enabled", "journal":
		cfg.Journal.Enabled = parseBool(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		return fmt.Errorf("unknown key")
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a commented configuration template.
func WriteDefaultConfig(path string) error {
	content := `# nodereg client configuration
#
# Precedence: defaults < this file < .env / NODEREG_* environment < flags.
# Environment names are the key upper-cased with dots replaced by
# underscores, e.g. NODEREG_RPC_URL for rpc.url.

# Data directory for the journal and logs (default: ~/.nodereg)
# datadir = ~/.nodereg

# ============================================================================
# Ledger endpoints
# ============================================================================

# Default endpoint for reads and non-redirected transactions
rpc.url = http://127.0.0.1:8545

# Well-known endpoint used for validator-set queries
rpc.global = http://127.0.0.1:8546

rpc.timeout = 10s

# ============================================================================
# Contract
# ============================================================================

# Build artifact with {abi, networks}. Empty uses the built-in ABI, which
# requires contract.address.
# contract.artifact = build/contracts/NodeRegistry.json
# contract.network = 1337
# contract.address = 0x...

# ============================================================================
# Signing account
# ============================================================================

credentials.file = prefunded_keys.json
credentials.account = 0

# ============================================================================
# Transactions
# ============================================================================

tx.gas.register = 3000000
tx.gas.issue = 300000
tx.gas.revoke = 200000
tx.gas.propose = 100000
tx.receipt_timeout = 60s
tx.poll_interval = 500ms

# ============================================================================
# Log scanning
# ============================================================================

# Blocks per eth_getLogs request (0 = genesis..latest in one request)
scan.chunk = 0
# Chunked requests per second (0 = unlimited)
scan.rps = 0

# ============================================================================
# Resolution and access
# ============================================================================

# Primary validator policy: first
resolve.policy = first

# Capability token validity window in seconds
access.validity = 360000

# ============================================================================
# Journal
# ============================================================================

# Keep a local record of submitted transactions under <datadir>/journal
journal.enabled = false

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
