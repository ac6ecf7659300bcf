package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret, 0)
	require.NoError(t, err)
	return ts
}

func TestNewTokenService(t *testing.T) {
	_, err := NewTokenService("short", 0)
	assert.Error(t, err, "secrets under 16 characters are rejected")

	ts, err := NewTokenService("this-is-16-chars", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, ts.TTL())

	ts, err = NewTokenService("this-is-16-chars", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ts.TTL())
}

func TestGenerateValidateRoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("user-123")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."), "a JWT has three dot-separated parts")

	userID, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestGenerateDifferentUsersDifferentTokens(t *testing.T) {
	ts := newTestTokenService(t)

	a, err := ts.Generate("alice")
	require.NoError(t, err)
	b, err := ts.Generate("bob")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestValidateExpired(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("user-123", -time.Minute)
	require.NoError(t, err)

	_, err = ts.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateUsesInjectedClock(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("user-123", time.Hour)
	require.NoError(t, err)

	ts.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = ts.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateRejects(t *testing.T) {
	ts := newTestTokenService(t)
	good, err := ts.Generate("user-123")
	require.NoError(t, err)

	other, err := NewTokenService("a-completely-different-secret", 0)
	require.NoError(t, err)
	foreign, err := other.Generate("user-123")
	require.NoError(t, err)

	noSubject, err := ts.Generate("")
	require.NoError(t, err)

	// Flip one character of the signature.
	last := good[len(good)-1]
	flipped := byte('A')
	if last == 'A' {
		flipped = 'B'
	}
	tampered := good[:len(good)-1] + string(flipped)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"tampered signature", tampered},
		{"signed with another secret", foreign},
		{"missing subject", noSubject},
		{"alg none", "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1c2VyLTEyMyIsImlzcyI6InBhdHRlcm4tcGxheWdyb3VuZCJ9."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Validate(tt.token)
			assert.Error(t, err)
		})
	}
}
