package publisher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCipherKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testCipherKey)
	require.NoError(t, err)

	sealed := s.Seal("super-secret-token")
	assert.True(t, strings.HasPrefix(sealed, "enc:"))
	assert.NotContains(t, sealed, "super-secret-token")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", plain)
}

func TestSealerNilPassthrough(t *testing.T) {
	var s *Sealer

	assert.Equal(t, "plain", s.Seal("plain"))
	got, err := s.Open("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestSealerLegacyPlaintextPassthrough(t *testing.T) {
	s, err := NewSealer(testCipherKey)
	require.NoError(t, err)

	// Rows written before sealing was enabled carry no prefix.
	got, err := s.Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", got)
}

func TestSealerWrongKeyFails(t *testing.T) {
	a, err := NewSealer(testCipherKey)
	require.NoError(t, err)
	b, err := NewSealer("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)

	sealed := a.Seal("token")
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestSealerRejectsBadKeys(t *testing.T) {
	_, err := NewSealer("deadbeef")
	assert.Error(t, err, "short key")

	_, err = NewSealer("not hex at all")
	assert.Error(t, err)
}
