// Package crypto seals secrets stored at rest, chat OAuth tokens in
// particular, with AES-256-GCM.
//
// Sealed values are text: "v1:" followed by base64(nonce || ciphertext || tag),
// so they fit the text columns of the token table and carry their format version.
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
	"strings"
)

const sealedPrefix = "v1:"

var (
	// ErrInvalidKey is returned for keys that are not base64 encoded 32 bytes.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrNotSealed is returned by Open for values without the sealed prefix.
	ErrNotSealed = errors.New("value is not sealed")

	// ErrTampered is returned when authentication of a sealed value fails.
	ErrTampered = errors.New("sealed value failed authentication")
)

// Box seals and opens strings with one key.
type Box struct {
	aead  cipher.AEAD
	keyID string
}

// NewBox creates a box from a base64 encoded 32 byte key
// (for example the output of `openssl rand -base64 32`).
func NewBox(base64Key string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &Box{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID is a short fingerprint of the key, stored next to sealed values so a
// rotated key can be told apart from a corrupt value.
func (b *Box) KeyID() string { return b.keyID }

// Seal encrypts plaintext. The empty string stays empty.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. The empty string stays empty.
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTampered, err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrTampered)
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		// the GCM error says nothing useful and must not leak details
		return "", ErrTampered
	}
	return string(plain), nil
}

// IsSealed reports whether v looks like the output of Seal.
func IsSealed(v string) bool { return strings.HasPrefix(v, sealedPrefix) }
