package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodereg.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodereg.conf")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("template config invalid: %v", err)
	}
	if cfg.Tx.GasRegister != DefaultGasRegister || cfg.Access.Validity != 360000 {
		t.Errorf("template values differ from defaults: %+v", cfg.Tx)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConf(t, `
# comment
rpc.url = "http://10.0.0.1:8545"
tx.gas.issue = 400000
tx.receipt_timeout = 2m
journal.enabled = yes
`)
	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.RPC.URL != "http://10.0.0.1:8545" {
		t.Errorf("rpc.url = %q", cfg.RPC.URL)
	}
	if cfg.Tx.GasIssue != 400000 {
		t.Errorf("tx.gas.issue = %d", cfg.Tx.GasIssue)
	}
	if cfg.Tx.ReceiptTimeout != 2*time.Minute {
		t.Errorf("tx.receipt_timeout = %s", cfg.Tx.ReceiptTimeout)
	}
	if !cfg.Journal.Enabled {
		t.Error("journal.enabled not applied")
	}
}

func TestLoadFileMissing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil || len(values) != 0 {
		t.Fatalf("missing file: values=%v err=%v", values, err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(writeConf(t, "rpc.url http://x\n")); err == nil {
		t.Error("line without = accepted")
	}

	cfg := Default()
	if err := ApplyFileConfig(cfg, map[string]string{"rpc.ulr": "http://x"}); err == nil {
		t.Error("unknown key accepted")
	}
	if err := ApplyFileConfig(cfg, map[string]string{"tx.gas.revoke": "lots"}); err == nil {
		t.Error("non-numeric gas accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no url", func(c *Config) { c.RPC.URL = "" }, "rpc.url"},
		{"bad scheme", func(c *Config) { c.RPC.Global = "ws://127.0.0.1:8546" }, "http or https"},
		{"bad contract", func(c *Config) { c.Contract.Address = "0x12" }, "contract.address"},
		{"low gas", func(c *Config) { c.Tx.GasPropose = 100 }, "tx.gas.propose"},
		{"poll above timeout", func(c *Config) { c.Tx.PollInterval = time.Hour }, "tx.poll_interval"},
		{"zero validity", func(c *Config) { c.Access.Validity = 0 }, "access.validity"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	conf := writeConf(t, "rpc.url = http://file:8545\nrpc.global = http://file:8546\nlog.level = warn\n")
	env := filepath.Join(dir, ".env")
	if err := os.WriteFile(env, []byte("NODEREG_RPC_GLOBAL=http://dotenv:8546\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NODEREG_LOG_LEVEL", "error")
	// godotenv never overrides, so make sure the key starts unset.
	t.Setenv("NODEREG_RPC_GLOBAL", "")
	os.Unsetenv("NODEREG_RPC_GLOBAL")

	f, err := ParseFlags([]string{"--config", conf, "--env", env, "--rpc", "http://flag:8545", "--account", "0", "isValidator", "0xab"}, os.Stderr)
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.RPC.URL != "http://flag:8545" {
		t.Errorf("rpc.url = %q, want flag value", cfg.RPC.URL)
	}
	if cfg.RPC.Global != "http://dotenv:8546" {
		t.Errorf("rpc.global = %q, want .env value", cfg.RPC.Global)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log.level = %q, want environment value", cfg.Log.Level)
	}
	if !f.SetAccount {
		t.Error("--account 0 not recorded as set")
	}
	if len(f.Args) != 2 || f.Args[0] != "isValidator" {
		t.Errorf("args = %v", f.Args)
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	f := &Flags{Env: filepath.Join(t.TempDir(), "absent.env"), Config: filepath.Join(t.TempDir(), "none.conf")}
	if _, err := Load(f); err == nil {
		t.Error("explicit missing env file accepted")
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("tx.gas.register"); got != "NODEREG_TX_GAS_REGISTER" {
		t.Errorf("EnvName = %q", got)
	}
}
