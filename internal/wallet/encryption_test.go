package wallet

import (
	"bytes"
	"errors"
	"testing"
)

// fastParams keeps Argon2 cheap in tests.
func fastParams() EncryptionParams {
	return EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1}
}

func TestSealOpen(t *testing.T) {
	big := bytes.Repeat([]byte(`{"address":"0x00","private_key":"0x00"},`), 4096)
	for name, payload := range map[string][]byte{
		"credentials": []byte(`{"prefunded_accounts":[{"address":"0xabc","private_key":"0x01"}]}`),
		"empty":       {},
		"large":       big,
	} {
		t.Run(name, func(t *testing.T) {
			pass := []byte("correct horse")
			sealed, err := Encrypt(payload, pass, fastParams())
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if !IsSealed(sealed) {
				t.Fatal("output lacks the seal header")
			}
			if want := minSealedLen + len(payload); len(sealed) != want {
				t.Errorf("sealed length = %d, want %d", len(sealed), want)
			}
			if bytes.Contains(sealed, payload) && len(payload) > 0 {
				t.Error("plaintext visible in sealed output")
			}

			opened, err := Decrypt(sealed, pass)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(opened, payload) {
				t.Error("payload changed across seal/open")
			}
		})
	}
}

func TestSealIsRandomized(t *testing.T) {
	a, _ := Encrypt([]byte("same"), []byte("pw"), fastParams())
	b, _ := Encrypt([]byte("same"), []byte("pw"), fastParams())
	if bytes.Equal(a, b) {
		t.Error("two seals of the same payload are identical")
	}
	salt := func(s []byte) []byte { return s[prefixSize : prefixSize+SaltSize] }
	if bytes.Equal(salt(a), salt(b)) {
		t.Error("salt reused")
	}
}

func TestOpenRejects(t *testing.T) {
	sealed, err := Encrypt([]byte(`{"prefunded_accounts":[]}`), []byte("pw"), fastParams())
	if err != nil {
		t.Fatal(err)
	}
	flip := func(i int) []byte {
		c := append([]byte(nil), sealed...)
		c[i] ^= 0x02
		return c
	}

	zeroed := append([]byte(nil), sealed...)
	zeroed[prefixSize+SaltSize+4] = 0

	tests := []struct {
		name string
		data []byte
		pass string
	}{
		{"wrong password", sealed, "pw2"},
		{"truncated", sealed[:minSealedLen-1], "pw"},
		{"ciphertext bit flip", flip(len(sealed) - 1), "pw"},
		// The header is associated data.
		{"iterations bumped", flip(prefixSize + SaltSize + 4), "pw"},
		{"salt bit flip", flip(prefixSize), "pw"},
		{"parallelism changed", flip(prefixSize + SaltSize + 8), "pw"},
		{"zero iterations", zeroed, "pw"},
	}
	for _, tt := range tests {
		if _, err := Decrypt(tt.data, []byte(tt.pass)); err == nil {
			t.Errorf("%s: Decrypt succeeded", tt.name)
		}
	}

	if _, err := Decrypt([]byte(`{"prefunded_accounts":[]}`), []byte("pw")); !errors.Is(err, ErrNotSealed) {
		t.Errorf("plain JSON: %v, want ErrNotSealed", err)
	}
}

func TestEncryptZeroParams(t *testing.T) {
	if _, err := Encrypt([]byte("x"), []byte("pw"), EncryptionParams{}); err == nil {
		t.Error("zero Argon2 params accepted")
	}
}

func TestDefaultParams(t *testing.T) {
	if p := DefaultParams(); p != (EncryptionParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}) {
		t.Errorf("DefaultParams = %+v", p)
	}
}

func TestSealMnemonicSeed(t *testing.T) {
	seed, err := SeedFromMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := Encrypt(seed, []byte("pw"), fastParams())
	if err != nil {
		t.Fatal(err)
	}
	opened, err := Decrypt(sealed, []byte("pw"))
	if err != nil || !bytes.Equal(opened, seed) {
		t.Fatalf("seed round trip: %v", err)
	}
}
