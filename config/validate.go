package config

import (
	"fmt"
	"net/url"
	"strings"

	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/ethereum/go-ethereum/common"
)

// Validate checks the configuration for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validateURL("rpc.url", cfg.RPC.URL); err != nil {
		return err
	}
	if err := validateURL("rpc.global", cfg.RPC.Global); err != nil {
		return err
	}
	if cfg.RPC.Timeout <= 0 {
		return fmt.Errorf("rpc.timeout must be positive")
	}

	if cfg.Contract.Address != "" && !common.IsHexAddress(cfg.Contract.Address) {
		return fmt.Errorf("contract.address %q is not a hex address", cfg.Contract.Address)
	}
	if cfg.Credentials.Account < 0 {
		return fmt.Errorf("credentials.account must not be negative")
	}

	for key, gas := range map[string]uint64{
		"tx.gas.register": cfg.Tx.GasRegister,
		"tx.gas.issue":    cfg.Tx.GasIssue,
		"tx.gas.revoke":   cfg.Tx.GasRevoke,
		"tx.gas.propose":  cfg.Tx.GasPropose,
	} {
		if gas < 21_000 {
			return fmt.Errorf("%s must be at least 21000", key)
		}
	}
	if cfg.Tx.ReceiptTimeout <= 0 {
		return fmt.Errorf("tx.receipt_timeout must be positive")
	}
	if cfg.Tx.PollInterval <= 0 || cfg.Tx.PollInterval > cfg.Tx.ReceiptTimeout {
		return fmt.Errorf("tx.poll_interval must be positive and within tx.receipt_timeout")
	}
	if cfg.Scan.RPS < 0 {
		return fmt.Errorf("scan.rps must not be negative")
	}
	if cfg.Access.Validity == 0 {
		return fmt.Errorf("access.validity must be positive")
	}
	if !klog.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
	}
	return nil
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s %q is not a valid URL", key, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	}
	return fmt.Errorf("%s must use http or https", key)
}
