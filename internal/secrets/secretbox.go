// Package secrets decrypts the tenant secrets stored alongside settings:
// the certificate password and the authority credentials.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the length of a secretbox key in bytes
const KeySize = 32

const nonceSize = 24

// ErrDecrypt is returned when a blob cannot be opened with the key
var ErrDecrypt = errors.New("secrets: decryption failed")

// Decrypter turns an encrypted blob into its plaintext
type Decrypter interface {
	Decrypt(ctx context.Context, blob string) (string, error)
}

// SecretBox encrypts with NaCl secretbox. Blobs are
// base64(nonce || sealed box).
type SecretBox struct {
	key [KeySize]byte
}

// NewSecretBox creates a SecretBox from a raw 32-byte key
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", KeySize, len(key))
	}
	b := &SecretBox{}
	copy(b.key[:], key)
	return b, nil
}

// ParseKey decodes a base64 key as found in configuration
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("secrets: invalid base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// NewSecretBoxFromString parses a base64 key and creates a SecretBox
func NewSecretBoxFromString(encoded string) (*SecretBox, error) {
	key, err := ParseKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewSecretBox(key)
}

// GenerateKey returns a fresh random key, base64 encoded
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("secrets: failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under a random nonce
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. An empty blob decrypts to an
// empty string.
func (b *SecretBox) Decrypt(ctx context.Context, blob string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if blob == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: blob too short", ErrDecrypt)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Plaintext is a Decrypter that returns blobs unchanged, for local runs
// without a configured key
type Plaintext struct{}

// Decrypt returns blob as is
func (Plaintext) Decrypt(ctx context.Context, blob string) (string, error) {
	return blob, ctx.Err()
}
