package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Signature is a node identity signature, the primary lookup key of the
// registry.
type Signature []byte

// ParseSignature decodes a hex signature with or without the 0x prefix.
func ParseSignature(s string) (Signature, error) {
	s = strings.TrimSpace(s)
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if raw == "" {
		return nil, fmt.Errorf("empty signature")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("signature %q is not hex: %w", s, err)
	}
	return Signature(b), nil
}

// Hex returns the 0x-prefixed lowercase hex form.
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s)
}

// String implements fmt.Stringer.
func (s Signature) String() string {
	return s.Hex()
}

// Short returns an abbreviated form for log lines.
func (s Signature) Short() string {
	h := s.Hex()
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "..." + h[len(h)-4:]
}

// MarshalJSON encodes as a 0x hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Hex())
}

// UnmarshalJSON decodes a hex string.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("signature must be a string: %w", err)
	}
	v, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
