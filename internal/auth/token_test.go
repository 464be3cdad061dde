package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opwisdom/wisdomd/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	uid, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
}

func TestTokenEmptyUserID(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	_, err := issuer.Issue("")
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	expired := issuer.issueAt("user-1", time.Now().Add(-time.Minute).Unix())
	_, err := issuer.Verify(expired)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestTokenTampering(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Swap in a different user id while keeping the signature.
	other := NewTokenIssuer("test-secret", time.Hour)
	forged, err := other.Issue("user-2")
	require.NoError(t, err)
	forgedParts := strings.Split(forged, ".")
	tampered := forgedParts[0] + "." + parts[1] + "." + parts[2]

	_, err = issuer.Verify(tampered)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	other := NewTokenIssuer("another-secret", time.Hour)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestTokenMalformed(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	for _, token := range []string{"", "a.b", "a.b.c.d", "not-a-token"} {
		_, err := issuer.Verify(token)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature, "token %q", token)
	}
}

func TestTokenStringRedactsSecret(t *testing.T) {
	issuer := NewTokenIssuer("super-secret-value", time.Hour)
	assert.NotContains(t, issuer.String(), "super-secret-value")
}
