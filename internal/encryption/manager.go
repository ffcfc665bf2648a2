// Package encryption provides AES-256-GCM encryption for fields that must
// never be persisted in plaintext, currently the TOTP shared secrets.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

var (
	ErrInvalidKey       = errors.New("encryption key must be 32 bytes")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Manager encrypts and decrypts with a single process-wide data key loaded
// from configuration. Ciphertext layout: base64(nonce || sealed).
type Manager struct {
	aead cipher.AEAD
}

// New builds a Manager from a raw 32-byte key.
func New(key []byte) (*Manager, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Manager{aead: aead}, nil
}

// NewFromHex builds a Manager from a 64-character hex key, the form the
// key takes in the environment.
func NewFromHex(keyHex string) (*Manager, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return New(key)
}

// Encrypt seals plaintext with a fresh random nonce.
func (m *Manager) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := m.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered or truncated
// input fails with ErrDecryptionFailed; no partial plaintext escapes.
func (m *Manager) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	ns := m.aead.NonceSize()
	if len(raw) < ns {
		return nil, ErrDecryptionFailed
	}
	plain, err := m.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
