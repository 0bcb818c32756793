package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretStore converts signing secrets to and from their at-rest form.
// Plaintext only exists in memory between Reveal and signing.
type SecretStore interface {
	Seal(ctx context.Context, plaintext string) ([]byte, error)
	Reveal(ctx context.Context, sealed []byte) (string, error)
}

// GenerateSecret returns 32 random bytes as 64 hex characters.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
