package wallet

import (
	"fmt"

	"github.com/Klingon-tech/nodereg/pkg/crypto"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 path for Ethereum accounts: m/44'/60'/account'/0/index.
const (
	PurposeBIP44     = bip32.FirstHardenedChild + 44
	CoinTypeEthereum = bip32.FirstHardenedChild + 60
	ChangeExternal   = 0
)

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives along indices. Add bip32.FirstHardenedChild for
// hardened steps.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k.key
	for _, idx := range indices {
		child, err := current.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		current = child
	}
	return &HDKey{key: current}, nil
}

// DeriveAccount derives m/44'/60'/account'/0/index.
func (k *HDKey) DeriveAccount(account, index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeEthereum,
		bip32.FirstHardenedChild+account,
		ChangeExternal,
		index,
	)
}

// PrivateKeyBytes returns the raw 32-byte private key, or nil for a public
// key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 stores private keys as 33 bytes with a leading 0x00.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Signer returns the secp256k1 key.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// Address returns the Ethereum address of the key.
func (k *HDKey) Address() (common.Address, error) {
	s, err := k.Signer()
	if err != nil {
		return common.Address{}, err
	}
	return s.Address(), nil
}
