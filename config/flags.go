package config

import (
	"flag"
	"fmt"
	"io"
	"time"
)

// Flags holds parsed global command-line flags.
type Flags struct {
	Help    bool
	Version bool

	Config  string
	Env     string
	DataDir string

	// Ledger
	RPC       string
	GlobalRPC string
	Timeout   time.Duration

	// Contract
	Contract string
	Artifact string
	Network  string

	// Signing
	Credentials string
	Account     int

	Policy string

	Journal bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args: the command and its arguments.
	Args []string

	// Explicitly-set flags whose zero value is meaningful.
	SetAccount bool
	SetJournal bool
	SetLogJSON bool
}

// ParseFlags parses global flags from args (without the program name).
// Parsing stops at the first non-flag argument, which starts the command.
func ParseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("nodereg-cli", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	fs.StringVar(&f.Config, "config", "", "Config file path (default: <datadir>/nodereg.conf)")
	fs.StringVar(&f.Env, "env", "", "Environment file (default: ./.env)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")

	fs.StringVar(&f.RPC, "rpc", "", "Default ledger endpoint")
	fs.StringVar(&f.GlobalRPC, "global-rpc", "", "Endpoint for validator-set queries")
	fs.DurationVar(&f.Timeout, "timeout", 0, "Per-request timeout")

	fs.StringVar(&f.Contract, "contract", "", "Registry contract address")
	fs.StringVar(&f.Artifact, "artifact", "", "Contract artifact file {abi, networks}")
	fs.StringVar(&f.Network, "network", "", "Artifact network id")

	fs.StringVar(&f.Credentials, "credentials", "", "Credentials file (plain or sealed)")
	fs.IntVar(&f.Account, "account", 0, "Index into prefunded_accounts")

	fs.StringVar(&f.Policy, "policy", "", "Primary validator policy")
	fs.BoolVar(&f.Journal, "journal", false, "Record submitted transactions locally")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetAccount = isFlagSet(fs, "account")
	f.SetJournal = isFlagSet(fs, "journal")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.RPC != "" {
		cfg.RPC.URL = f.RPC
	}
	if f.GlobalRPC != "" {
		cfg.RPC.Global = f.GlobalRPC
	}
	if f.Timeout != 0 {
		cfg.RPC.Timeout = f.Timeout
	}

	if f.Contract != "" {
		cfg.Contract.Address = f.Contract
	}
	if f.Artifact != "" {
		cfg.Contract.Artifact = f.Artifact
	}
	if f.Network != "" {
		cfg.Contract.Network = f.Network
	}

	if f.Credentials != "" {
		cfg.Credentials.File = f.Credentials
	}
	if f.SetAccount {
		cfg.Credentials.Account = f.Account
	}

	if f.Policy != "" {
		cfg.Resolve.Policy = f.Policy
	}
	if f.SetJournal {
		cfg.Journal.Enabled = f.Journal
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Load builds the configuration with the following precedence:
// 1. Default values
// 2. Config file (--config, else <datadir>/nodereg.conf if present)
// 3. .env file and NODEREG_* environment variables
// 4. Command-line flags
func Load(f *Flags) (*Config, error) {
	if err := LoadEnv(f.Env); err != nil {
		return nil, err
	}

	cfg := Default()

	// The datadir decides where the default config file lives, so resolve
	// it from the higher layers first.
	if v, ok := lookupEnv("datadir"); ok {
		cfg.DataDir = v
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	configPath := f.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	ApplyFlags(cfg, f)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
