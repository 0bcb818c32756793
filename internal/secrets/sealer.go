// Package secrets seals webhook signing secrets for storage.
package secrets

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const prefix = "whsec.v1:"

var ErrMalformed = errors.New("secrets: malformed sealed value")

// Sealer encrypts secrets with AES-256-GCM under a single application key.
// Sealed values look like "whsec.v1:<base64(nonce|ciphertext)>".
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte key from keyMaterial. Keys that are already 32 bytes
// are used as-is.
func NewSealer(keyMaterial []byte) (*Sealer, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("secrets: key material is required")
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: create gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

func NewSealerFromString(key string) (*Sealer, error) {
	return NewSealer([]byte(key))
}

func (s *Sealer) Seal(_ context.Context, plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("secrets: plaintext is required")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secrets: nonce generation failed: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return []byte(prefix + base64.StdEncoding.EncodeToString(out)), nil
}

func (s *Sealer) Reveal(_ context.Context, sealed []byte) (string, error) {
	body, ok := strings.CutPrefix(string(sealed), prefix)
	if !ok {
		return "", ErrMalformed
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", ErrMalformed
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: authentication failed")
	}
	return string(plain), nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, 32)
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}
