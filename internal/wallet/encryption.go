package wallet

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed format:
//
//	magic(6) | version(1) | salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
//
// Everything before the nonce is authenticated as associated data.
const (
	SaltSize     = 32
	sealVersion  = 1
	prefixSize   = len(sealMagic) + 1
	headerSize   = prefixSize + SaltSize + 4 + 4 + 1
	minSealedLen = headerSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

const sealMagic = "NRSEAL"

// ErrNotSealed is returned by Decrypt for data without the seal header.
var ErrNotSealed = errors.New("data is not sealed")

// EncryptionParams holds Argon2id parameters.
type EncryptionParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns the Argon2id parameters used for credentials.
func DefaultParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

func deriveKey(password, salt []byte, params EncryptionParams) []byte {
	return argon2.IDKey(password, salt, params.Iterations, params.Memory, params.Parallelism, chacha20poly1305.KeySize)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// IsSealed reports whether data starts with the seal header.
func IsSealed(data []byte) bool {
	return len(data) >= prefixSize && bytes.HasPrefix(data, []byte(sealMagic))
}

// Encrypt seals data with password using Argon2id and XChaCha20-Poly1305.
func Encrypt(data, password []byte, params EncryptionParams) ([]byte, error) {
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid argon2 parameters %+v", params)
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, salt, params)
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	header := make([]byte, 0, headerSize)
	header = append(header, sealMagic...)
	header = append(header, sealVersion)
	header = append(header, salt...)
	header = binary.LittleEndian.AppendUint32(header, params.Memory)
	header = binary.LittleEndian.AppendUint32(header, params.Iterations)
	header = append(header, params.Parallelism)

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(header)+len(nonce)+len(data)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, header), nil
}

// Decrypt opens data sealed by Encrypt.
func Decrypt(sealed, password []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}
	if len(sealed) < minSealedLen {
		return nil, fmt.Errorf("sealed data too short: %d bytes, need at least %d", len(sealed), minSealedLen)
	}
	if v := sealed[len(sealMagic)]; v != sealVersion {
		return nil, fmt.Errorf("unsupported seal version %d", v)
	}

	header := sealed[:headerSize]
	salt := header[prefixSize : prefixSize+SaltSize]
	params := EncryptionParams{
		Memory:      binary.LittleEndian.Uint32(header[prefixSize+SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[prefixSize+SaltSize+4:]),
		Parallelism: header[prefixSize+SaltSize+8],
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid argon2 parameters %+v in header", params)
	}
	nonce := sealed[headerSize : headerSize+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[headerSize+chacha20poly1305.NonceSizeX:]

	key := deriveKey(password, salt, params)
	defer zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, fmt.Errorf("decrypt: wrong password or corrupted data")
	}
	return plaintext, nil
}
