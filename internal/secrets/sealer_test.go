package secrets

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealRevealRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSealerFromString("dev-key")
	require.NoError(t, err)

	plain := strings.Repeat("ab", 32)
	sealed, err := s.Seal(ctx, plain)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(sealed), prefix))
	assert.NotContains(t, string(sealed), plain)

	got, err := s.Reveal(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	again, err := s.Seal(ctx, plain)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")
}

func TestRevealRejectsForeignOrTamperedValues(t *testing.T) {
	ctx := context.Background()
	a, err := NewSealerFromString("key-a")
	require.NoError(t, err)
	b, err := NewSealerFromString("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal(ctx, "secret")
	require.NoError(t, err)

	_, err = b.Reveal(ctx, sealed)
	assert.Error(t, err)

	_, err = a.Reveal(ctx, []byte("plaintext-secret"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = a.Reveal(ctx, []byte(prefix+"!!"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewSealerRequiresKey(t *testing.T) {
	_, err := NewSealer([]byte("   "))
	assert.Error(t, err)
}
