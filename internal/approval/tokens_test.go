package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radar-engine/internal/notify"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	s, err := NewTokenSigner(secret, time.Hour)
	require.NoError(t, err)

	tok, err := s.Issue("reddit:p1", notify.ActionApprove)
	require.NoError(t, err)

	fp, action, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "reddit:p1", fp)
	assert.Equal(t, notify.ActionApprove, action)
}

func TestTokenExpires(t *testing.T) {
	s, err := NewTokenSigner(secret, time.Hour)
	require.NoError(t, err)
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	tok, err := s.Issue("reddit:p1", notify.ActionSkip)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, _, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromOtherSecretIsRejected(t *testing.T) {
	a, _ := NewTokenSigner(secret, time.Hour)
	b, _ := NewTokenSigner("another-secret-of-enough-length", time.Hour)

	tok, err := a.Issue("reddit:p1", notify.ActionApprove)
	require.NoError(t, err)
	_, _, err = b.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = a.Verify(tok + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsUnknownAction(t *testing.T) {
	s, _ := NewTokenSigner(secret, time.Hour)
	tok, err := s.Issue("reddit:p1", "post")
	require.NoError(t, err)
	_, _, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewTokenSigner("short", time.Hour)
	assert.Error(t, err)
}
