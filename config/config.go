// Package config handles nodereg configuration.
//
// Values are layered: built-in defaults, then the .conf file, then .env and
// NODEREG_* environment variables, then command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds client settings for one invocation.
type Config struct {
	DataDir string `conf:"datadir"`

	// Ledger endpoints
	RPC RPCConfig

	// Contract location
	Contract ContractConfig

	// Signing identity
	Credentials CredentialsConfig

	// Transaction submission
	Tx TxConfig

	// Event log scanning
	Scan ScanConfig

	// Endpoint resolution
	Resolve ResolveConfig

	// Capability token checks
	Access AccessConfig

	// Local transaction journal
	Journal JournalConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds the endpoints the client talks to.
type RPCConfig struct {
	URL     string        `conf:"rpc.url"`    // Default endpoint.
	Global  string        `conf:"rpc.global"` // Well-known endpoint for validator-set queries.
	Timeout time.Duration `conf:"rpc.timeout"`
}

// ContractConfig locates the NodeRegistry instance.
type ContractConfig struct {
	Address  string `conf:"contract.address"`
	Artifact string `conf:"contract.artifact"` // {abi, networks} build file; empty uses the built-in ABI.
	Network  string `conf:"contract.network"`  // Artifact network id; empty picks the lowest.
}

// CredentialsConfig selects the signing account.
type CredentialsConfig struct {
	File    string `conf:"credentials.file"`
	Account int    `conf:"credentials.account"`
}

// TxConfig holds gas limits and receipt polling.
type TxConfig struct {
	GasRegister    uint64        `conf:"tx.gas.register"`
	GasIssue       uint64        `conf:"tx.gas.issue"`
	GasRevoke      uint64        `conf:"tx.gas.revoke"`
	GasPropose     uint64        `conf:"tx.gas.propose"`
	ReceiptTimeout time.Duration `conf:"tx.receipt_timeout"`
	PollInterval   time.Duration `conf:"tx.poll_interval"`
}

// ScanConfig controls eth_getLogs scans. Chunk 0 scans in one request.
type ScanConfig struct {
	Chunk uint64  `conf:"scan.chunk"`
	RPS   float64 `conf:"scan.rps"`
}

// ResolveConfig selects the primary validator policy.
type ResolveConfig struct {
	Policy string `conf:"resolve.policy"`
}

// AccessConfig holds the token validity window in seconds.
type AccessConfig struct {
	Validity uint64 `conf:"access.validity"`
}

// JournalConfig enables the local transaction journal.
type JournalConfig struct {
	Enabled bool `conf:"journal.enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.nodereg
//	macOS:   ~/Library/Application Support/Nodereg
//	Windows: %APPDATA%\Nodereg
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodereg"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Nodereg")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Nodereg")
		}
		return filepath.Join(home, "AppData", "Roaming", "Nodereg")
	default:
		return filepath.Join(home, ".nodereg")
	}
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the default config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, ConfigFileName)
}
