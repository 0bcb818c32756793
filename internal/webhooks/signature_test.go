package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignMatchesIndependentHMAC(t *testing.T) {
	payload := []byte(`{"data":{},"event":"ticket.created","timestamp":1,"webhook_id":"w"}`)
	secret := strings.Repeat("a1", 32)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	got := Sign(payload, secret)
	assert.Equal(t, want, got)
	assert.Equal(t, got, Sign(payload, secret))
	assert.True(t, strings.HasPrefix(got, "sha256="))
}

func TestSignChangesWithInput(t *testing.T) {
	payload := []byte(`{"a":1}`)
	base := Sign(payload, "secret")

	flipped := append([]byte(nil), payload...)
	flipped[5] ^= 0x01
	assert.NotEqual(t, base, Sign(flipped, "secret"))
	assert.NotEqual(t, base, Sign(payload, "secreu"))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign(body, "secret")
	assert.True(t, Verify("secret", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("secret", []byte(`{"a":2}`), sig))
	assert.False(t, Verify("secret", body, strings.TrimPrefix(sig, "sha256=")))
	assert.False(t, Verify("secret", body, "sha256=zz"))
}

func TestGenerateSecret(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		s, err := GenerateSecret()
		assert.NoError(t, err)
		assert.Len(t, s, 64)
		_, err = hex.DecodeString(s)
		assert.NoError(t, err)
		assert.False(t, seen[s])
		seen[s] = true
	}
}
