package encryption

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, err := NewFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("NewFromHex failed: %v", err)
	}
	plain := []byte("JBSWY3DPEHPK3PXP")

	sealed, err := m.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if strings.Contains(sealed, string(plain)) {
		t.Fatal("ciphertext must not contain plaintext")
	}

	got, err := m.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q != %q", got, plain)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	m, err := NewFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("NewFromHex failed: %v", err)
	}
	a, err := m.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := m.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same plaintext must differ")
	}
}

func TestDecryptRejectsTamperedInput(t *testing.T) {
	m, err := NewFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("NewFromHex failed: %v", err)
	}
	sealed, err := m.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	for _, bad := range []string{
		"not base64 !!!",
		"AAAA", // shorter than a nonce
		sealed[:len(sealed)-4] + "AAAA",
	} {
		if _, err := m.Decrypt(bad); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("input %q: expected ErrDecryptionFailed, got %v", bad, err)
		}
	}
}

func TestKeyLengthEnforced(t *testing.T) {
	if _, err := New([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewFromHex("zz"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for bad hex, got %v", err)
	}
}
