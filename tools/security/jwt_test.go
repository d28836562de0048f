package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{Secret: []byte("unit-test-secret")}

func TestGenerateVerifyRoundtrip(t *testing.T) {
	token, exp, err := Generate(testOpts, "agent-ana", "support")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, time.Minute)

	claims, err := Verify(testOpts, token)
	require.NoError(t, err)
	assert.Equal(t, "agent-ana", claims.UserID)
	assert.Equal(t, "support", claims.Role)
	assert.WithinDuration(t, exp, claims.Expiry, time.Second)
}

func TestVerifyExpiredMapsToSentinel(t *testing.T) {
	token, _, err := Generate(Options{Secret: testOpts.Secret, TTL: time.Millisecond}, "u1", "user")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = Verify(testOpts, token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(testOpts, "u1", "user")
	require.NoError(t, err)

	_, err = Verify(Options{Secret: []byte("other-secret")}, token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpired, "a forged token is a rejection, not an expiry")
}

func TestFromHeader(t *testing.T) {
	assert.Equal(t, "abc", FromHeader("Bearer abc"))
	assert.Equal(t, "abc", FromHeader("bearer abc"))
	assert.Equal(t, "abc", FromHeader("abc"))
	assert.Equal(t, "", FromHeader(""))
}
