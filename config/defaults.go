package config

import "time"

// ConfigFileName is the config file looked up in the data directory.
const ConfigFileName = "nodereg.conf"

// Default gas limits, matching what the registry methods need on Besu.
const (
	DefaultGasRegister = 3_000_000
	DefaultGasIssue    = 300_000
	DefaultGasRevoke   = 200_000
	DefaultGasPropose  = 100_000
)

// Default returns the default client configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			URL:     "http://127.0.0.1:8545",
			Global:  "http://127.0.0.1:8546",
			Timeout: 10 * time.Second,
		},
		Credentials: CredentialsConfig{
			File: "prefunded_keys.json",
		},
		Tx: TxConfig{
			GasRegister:    DefaultGasRegister,
			GasIssue:       DefaultGasIssue,
			GasRevoke:      DefaultGasRevoke,
			GasPropose:     DefaultGasPropose,
			ReceiptTimeout: 60 * time.Second,
			PollInterval:   500 * time.Millisecond,
		},
		Resolve: ResolveConfig{
			Policy: "first",
		},
		Access: AccessConfig{
			Validity: 360000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
