package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// Hardhat/Besu dev account 0.
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadCredentials(t *testing.T) {
	path := writeFile(t, "prefunded_keys.json", `{
		"validators": [],
		"prefunded_accounts": [{"address": "`+devAddress+`", "private_key": "`+devKey+`"}]
	}`)

	creds, err := LoadCredentials(path, nil)
	require.NoError(t, err)

	acct, err := creds.Account(0)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(devAddress), acct.Address)
	require.Equal(t, acct.Address, ethcrypto.PubkeyToAddress(acct.Key.PublicKey))

	_, err = creds.Account(1)
	require.Error(t, err)
}

func TestLoadCredentials_0xKeyAndLowercaseAddress(t *testing.T) {
	path := writeFile(t, "keys.json", `{"prefunded_accounts": [{"address": "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", "private_key": "0x`+devKey+`"}]}`)
	creds, err := LoadCredentials(path, nil)
	require.NoError(t, err)
	acct, err := creds.Account(0)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(devAddress), acct.Address)
}

func TestLoadCredentials_AddressMismatch(t *testing.T) {
	path := writeFile(t, "keys.json", `{"prefunded_accounts": [{"address": "0x0000000000000000000000000000000000000001", "private_key": "`+devKey+`"}]}`)
	_, err := LoadCredentials(path, nil)
	require.ErrorContains(t, err, "does not match")
}

func TestLoadCredentials_Empty(t *testing.T) {
	path := writeFile(t, "keys.json", `{"prefunded_accounts": []}`)
	_, err := LoadCredentials(path, nil)
	require.ErrorContains(t, err, "no prefunded_accounts")
}

func TestSealCredentials(t *testing.T) {
	src := writeFile(t, "keys.json", `{"prefunded_accounts": [{"address": "`+devAddress+`", "private_key": "`+devKey+`"}]}`)
	dst := filepath.Join(t.TempDir(), "keys.sealed")

	require.NoError(t, SealCredentials(src, dst, []byte("hunter2"), fastParams()))

	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.True(t, IsSealed(raw))

	_, err = LoadCredentials(dst, nil)
	require.ErrorIs(t, err, ErrPasswordRequired)

	_, err = LoadCredentials(dst, func() ([]byte, error) { return []byte("wrong"), nil })
	require.Error(t, err)

	_, err = LoadCredentials(dst, func() ([]byte, error) { return nil, errors.New("no tty") })
	require.ErrorContains(t, err, "no tty")

	creds, err := LoadCredentials(dst, func() ([]byte, error) { return []byte("hunter2"), nil })
	require.NoError(t, err)
	acct, err := creds.Account(0)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(devAddress), acct.Address)
}

func TestGenerateAccounts(t *testing.T) {
	creds, err := GenerateAccounts(3, 2)
	require.NoError(t, err)
	require.Len(t, creds.Accounts, 3)
	require.Len(t, creds.Validators, 2)

	data, err := creds.Marshal()
	require.NoError(t, err)
	parsed, err := ParseCredentials(data)
	require.NoError(t, err)
	for i := range parsed.Accounts {
		_, err := parsed.Account(i)
		require.NoError(t, err)
	}

	_, err = GenerateAccounts(0, 0)
	require.Error(t, err)
}

func TestDeriveAccounts(t *testing.T) {
	creds, err := DeriveAccounts(testMnemonic, "", 2)
	require.NoError(t, err)
	require.Len(t, creds.Accounts, 2)
	require.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", creds.Accounts[0].Address)
	require.NotEqual(t, creds.Accounts[0].Address, creds.Accounts[1].Address)

	_, err = DeriveAccounts("bad mnemonic", "", 1)
	require.Error(t, err)
}
