package platforms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	s := NewStateIssuer([]byte("secret"), time.Hour)

	state, nonce, err := s.Issue(42, Twitter)
	require.NoError(t, err)
	require.NotEmpty(t, state)
	require.NotEmpty(t, nonce)

	got, err := s.Verify(state, Twitter, 42)
	require.NoError(t, err)
	assert.Equal(t, nonce, got)
}

func TestStateExpiry(t *testing.T) {
	issued := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s := NewStateIssuer([]byte("secret"), time.Hour)
	s.now = func() time.Time { return issued }

	state, _, err := s.Issue(1, Facebook)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(59 * time.Minute) }
	_, err = s.Verify(state, Facebook, 1)
	assert.NoError(t, err)

	s.now = func() time.Time { return issued.Add(61 * time.Minute) }
	_, err = s.Verify(state, Facebook, 1)
	assert.Error(t, err)
}

func TestStateBindings(t *testing.T) {
	s := NewStateIssuer([]byte("secret"), time.Hour)
	state, _, err := s.Issue(7, LinkedIn)
	require.NoError(t, err)

	_, err = s.Verify(state, Twitter, 7)
	assert.Error(t, err, "wrong platform must fail")

	_, err = s.Verify(state, LinkedIn, 8)
	assert.Error(t, err, "wrong client must fail")

	other := NewStateIssuer([]byte("other-secret"), time.Hour)
	_, err = other.Verify(state, LinkedIn, 7)
	assert.Error(t, err, "wrong signing key must fail")

	_, err = s.Verify(state+"x", LinkedIn, 7)
	assert.Error(t, err, "tampered token must fail")
}

func TestStateInspect(t *testing.T) {
	s := NewStateIssuer([]byte("secret"), time.Hour)
	state, nonce, err := s.Issue(99, Threads)
	require.NoError(t, err)

	cid, platform, gotNonce, err := s.Inspect(state)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cid)
	assert.Equal(t, Threads, platform)
	assert.Equal(t, nonce, gotNonce)
}

func TestPKCEVerifierDeterministic(t *testing.T) {
	s := NewStateIssuer([]byte("secret"), time.Hour)

	assert.Equal(t, s.PKCEVerifier("nonce-a"), s.PKCEVerifier("nonce-a"))
	assert.NotEqual(t, s.PKCEVerifier("nonce-a"), s.PKCEVerifier("nonce-b"))

	other := NewStateIssuer([]byte("other"), time.Hour)
	assert.NotEqual(t, s.PKCEVerifier("nonce-a"), other.PKCEVerifier("nonce-a"))
}
