// Package crypto seals OAuth tokens at rest with AES-256-GCM. The data key is
// derived from ENCRYPTION_KEY with HKDF so the stored key id can identify the
// master key without revealing it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	dataKeyInfo = "chatpoll oauth token key v1"
	keyIDInfo   = "chatpoll oauth token key id v1"
)

// ErrOpen is returned for any ciphertext that fails authentication.
var ErrOpen = errors.New("decryption failed: authentication or integrity check failed")

// Sealer encrypts short secrets. aad binds a ciphertext to its context (for
// tokens, the provider name) so rows cannot be swapped.
type Sealer interface {
	Seal(plaintext, aad string) (string, error)
	Open(sealed, aad string) (string, error)
	KeyID() string
}

// Box is the AES-GCM Sealer.
type Box struct {
	aead  cipher.AEAD
	keyID string
}

// NewBox builds a Box from a base64-encoded 32-byte master key
// (openssl rand -base64 32).
func NewBox(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	master, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(master) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(master))
	}

	dataKey, err := derive(master, dataKeyInfo, 32)
	if err != nil {
		return nil, err
	}
	id, err := derive(master, keyIDInfo, 6)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Box{aead: aead, keyID: hex.EncodeToString(id)}, nil
}

func derive(master []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return out, nil
}

// KeyID fingerprints the master key. Rows sealed under another key report a different id.
func (b *Box) KeyID() string { return b.keyID }

// Seal returns base64(nonce || ciphertext || tag). Empty plaintext stays empty.
func (b *Box) Seal(plaintext, aad string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), []byte(aad))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Tampering, a wrong key or a wrong aad all yield ErrOpen.
func (b *Box) Open(sealed, aad string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", ns+b.aead.Overhead(), len(raw))
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], []byte(aad))
	if err != nil {
		return "", ErrOpen
	}
	return string(plain), nil
}

// GenerateKey returns a fresh base64 master key.
func GenerateKey() (string, error) {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}
