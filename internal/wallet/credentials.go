package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/pkg/crypto"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyEntry is one {address, private_key} pair of a credentials file.
type KeyEntry struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// Credentials is the credentials file layout. Validators is present in
// files produced for network bootstrap and is not used for signing.
type Credentials struct {
	Validators []KeyEntry `json:"validators,omitempty"`
	Accounts   []KeyEntry `json:"prefunded_accounts"`
}

// PasswordFunc supplies the password of a sealed credentials file.
type PasswordFunc func() ([]byte, error)

// ErrPasswordRequired is returned for a sealed file without a PasswordFunc.
var ErrPasswordRequired = errors.New("credentials file is sealed, password required")

// LoadCredentials reads a plaintext or sealed credentials file. password is
// only consulted for sealed files.
func LoadCredentials(path string, password PasswordFunc) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if IsSealed(data) {
		if password == nil {
			return nil, ErrPasswordRequired
		}
		pw, err := password()
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		data, err = Decrypt(data, pw)
		zero(pw)
		if err != nil {
			return nil, fmt.Errorf("open sealed credentials: %w", err)
		}
	}
	creds, err := ParseCredentials(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	klog.Wallet.Debug().Str("path", path).Int("accounts", len(creds.Accounts)).Msg("Credentials loaded")
	return creds, nil
}

// ParseCredentials decodes and validates credentials JSON.
func ParseCredentials(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if len(c.Accounts) == 0 {
		return nil, fmt.Errorf("no prefunded_accounts")
	}
	for i, e := range c.Accounts {
		if _, err := e.account(); err != nil {
			return nil, fmt.Errorf("prefunded_accounts[%d]: %w", i, err)
		}
	}
	return &c, nil
}

// Account returns the signing account at index i.
func (c *Credentials) Account(i int) (*ledger.Account, error) {
	if i < 0 || i >= len(c.Accounts) {
		return nil, fmt.Errorf("account index %d out of range (have %d)", i, len(c.Accounts))
	}
	return c.Accounts[i].account()
}

// Marshal encodes the credentials as indented JSON.
func (c *Credentials) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "    ")
}

// Save writes the credentials to path, sealed when password is non-empty.
func (c *Credentials) Save(path string, password []byte, params EncryptionParams) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if len(password) > 0 {
		if data, err = Encrypt(data, password, params); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (e KeyEntry) account() (*ledger.Account, error) {
	pk, err := crypto.PrivateKeyFromHex(strings.TrimSpace(e.PrivateKey))
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.ToECDSA(pk.Serialize())
	pk.Zero()
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	acct := ledger.NewAccount(key)
	if e.Address != "" {
		if !common.IsHexAddress(e.Address) {
			return nil, fmt.Errorf("invalid address %q", e.Address)
		}
		if common.HexToAddress(e.Address) != acct.Address {
			return nil, fmt.Errorf("address %s does not match private key (derives %s)", e.Address, acct.Address.Hex())
		}
	}
	return acct, nil
}

func entry(pk *crypto.PrivateKey) KeyEntry {
	return KeyEntry{
		Address:    pk.Address().Hex(),
		PrivateKey: "0x" + common.Bytes2Hex(pk.Serialize()),
	}
}

// GenerateAccounts creates n prefunded accounts and v validator keys from
// fresh randomness.
func GenerateAccounts(n, v int) (*Credentials, error) {
	if n <= 0 {
		return nil, fmt.Errorf("account count must be positive")
	}
	gen := func(count int) ([]KeyEntry, error) {
		out := make([]KeyEntry, 0, count)
		for i := 0; i < count; i++ {
			pk, err := crypto.GenerateKey()
			if err != nil {
				return nil, err
			}
			out = append(out, entry(pk))
			pk.Zero()
		}
		return out, nil
	}
	accts, err := gen(n)
	if err != nil {
		return nil, err
	}
	vals, err := gen(v)
	if err != nil {
		return nil, err
	}
	return &Credentials{Accounts: accts, Validators: vals}, nil
}

// DeriveAccounts derives n accounts at m/44'/60'/0'/0/i from a mnemonic.
func DeriveAccounts(mnemonic, passphrase string, n int) (*Credentials, error) {
	if n <= 0 {
		return nil, fmt.Errorf("account count must be positive")
	}
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	defer zero(seed)
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{}
	for i := 0; i < n; i++ {
		k, err := master.DeriveAccount(0, uint32(i))
		if err != nil {
			return nil, err
		}
		pk, err := k.Signer()
		if err != nil {
			return nil, err
		}
		creds.Accounts = append(creds.Accounts, entry(pk))
		pk.Zero()
	}
	return creds, nil
}

// SealCredentials encrypts the plaintext credentials file at src into dst.
func SealCredentials(src, dst string, password []byte, params EncryptionParams) error {
	if len(password) == 0 {
		return fmt.Errorf("empty password")
	}
	creds, err := LoadCredentials(src, nil)
	if err != nil {
		return err
	}
	return creds.Save(dst, password, params)
}
