// Package crypto provides secp256k1 keys and recoverable signatures for
// node identities.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureSize is the length of a recoverable signature: r(32) | s(32) | v(1).
const SignatureSize = 65

// compactRecoveryBase is the header offset decred uses for uncompressed-key
// compact signatures.
const compactRecoveryBase = 27

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// PrivateKeyFromHex parses a hex secret, with or without 0x.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("private key is not hex: %w", err)
	}
	return PrivateKeyFromBytes(b)
}

// Sign produces a recoverable signature r|s|v over a 32-byte hash, v in {0,1}.
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	compact := ecdsa.SignCompact(pk.key, hash, false)
	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[64] = compact[0] - compactRecoveryBase
	return sig, nil
}

// PublicKey returns the 64-byte uncompressed public key without the 0x04 prefix.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeUncompressed()[1:]
}

// Address returns the account address for this key.
func (pk *PrivateKey) Address() common.Address {
	return AddressFromPubKey(pk.PublicKey())
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// ParsePublicKey accepts a 64-byte raw, 65-byte uncompressed or 33-byte
// compressed secp256k1 public key.
func ParsePublicKey(b []byte) (*secp256k1.PublicKey, error) {
	if len(b) == 64 {
		b = append([]byte{0x04}, b...)
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// RecoverPublicKey returns the 64-byte public key that produced sig over hash.
func RecoverPublicKey(hash, sig []byte) ([]byte, error) {
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(sig))
	}
	v := sig[64]
	if v >= compactRecoveryBase {
		v -= compactRecoveryBase
	}
	if v > 1 {
		return nil, fmt.Errorf("invalid recovery id %d", sig[64])
	}
	compact := make([]byte, SignatureSize)
	compact[0] = compactRecoveryBase + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, fmt.Errorf("recover public key: %w", err)
	}
	return pub.SerializeUncompressed()[1:], nil
}

// VerifySignature reports whether sig over hash was made by publicKey.
// Returns false on any error.
func VerifySignature(hash, sig, publicKey []byte) bool {
	want, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}
	got, err := RecoverPublicKey(hash, sig)
	if err != nil {
		return false
	}
	return string(got) == string(want.SerializeUncompressed()[1:])
}

// AddressFromPubKey derives the account address: the last 20 bytes of
// Keccak-256 over the 64-byte public key.
func AddressFromPubKey(pub []byte) common.Address {
	if len(pub) == 65 && pub[0] == 0x04 {
		pub = pub[1:]
	} else if len(pub) == 33 {
		if k, err := secp256k1.ParsePubKey(pub); err == nil {
			pub = k.SerializeUncompressed()[1:]
		}
	}
	return common.BytesToAddress(ethcrypto.Keccak256(pub)[12:])
}

// Keccak256 hashes data.
func Keccak256(data ...[]byte) common.Hash {
	return ethcrypto.Keccak256Hash(data...)
}
