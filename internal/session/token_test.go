// ABOUTME: Tests for session token issue/verify
// ABOUTME: Covers round-trip, expiry, tampering, and cross-secret rejection

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"))

	token, err := issuer.Issue("user-123", time.Hour)
	require.NoError(t, err)

	userID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestToken_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"))

	token, err := issuer.Issue("user-123", -time.Minute)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestToken_WrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"))
	other := NewTokenIssuer([]byte("secret-b"))

	token, err := issuer.Issue("user-123", time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestToken_Garbage(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"))

	_, err := issuer.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
