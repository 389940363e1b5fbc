package crypto

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Identity is the set of fields a node signs to prove ownership of its key
// when asking to be registered.
type Identity struct {
	NodeID    string `json:"node_id"`
	NodeName  string `json:"node_name"`
	NodeType  string `json:"node_type"`
	PublicKey string `json:"public_key"`
}

// Message returns the canonical byte encoding that is hashed and signed:
// a JSON object with sorted keys, ", " and ": " separators and non-ASCII
// escaped as \uXXXX. Node agents written in other languages produce the
// same bytes.
func (id Identity) Message() []byte {
	var b strings.Builder
	b.WriteByte('{')
	fields := [][2]string{
		{"node_id", id.NodeID},
		{"node_name", id.NodeName},
		{"node_type", id.NodeType},
		{"public_key", id.PublicKey},
	}
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		writeASCIIString(&b, f[0])
		b.WriteString(": ")
		writeASCIIString(&b, f[1])
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// Digest returns Keccak-256 of Message.
func (id Identity) Digest() []byte {
	h := Keccak256(id.Message())
	return h[:]
}

// SignIdentity signs the identity digest.
func SignIdentity(key *PrivateKey, id Identity) ([]byte, error) {
	sig, err := key.Sign(id.Digest())
	if err != nil {
		return nil, fmt.Errorf("sign identity: %w", err)
	}
	return sig, nil
}

// RecoverIdentity returns the 64-byte public key that signed id.
func RecoverIdentity(id Identity, sig []byte) ([]byte, error) {
	return RecoverPublicKey(id.Digest(), sig)
}

// VerifyIdentity reports whether sig over id was produced by publicKey.
func VerifyIdentity(id Identity, sig, publicKey []byte) bool {
	return VerifySignature(id.Digest(), sig, publicKey)
}

func writeASCIIString(b *strings.Builder, s string) {
	const hexDigits = "0123456789abcdef"
	writeU := func(r rune) {
		b.WriteString(`\u`)
		for shift := 12; shift >= 0; shift -= 4 {
			b.WriteByte(hexDigits[(r>>uint(shift))&0xf])
		}
	}

	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteString(`\"`)
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\b':
			b.WriteString(`\b`)
		case r == '\f':
			b.WriteString(`\f`)
		case r < 0x20 || (r >= 0x7f && r <= 0xffff):
			writeU(r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			writeU(hi)
			writeU(lo)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
