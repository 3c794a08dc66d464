package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-0123456789")

func TestVerifyValidToken(t *testing.T) {
	token, err := NewIssuer(testSecret).Issue("u1", time.Hour)
	require.NoError(t, err)

	subject, err := NewVerifier(testSecret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)
}

func TestVerifyNumericUserID(t *testing.T) {
	claims := jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	subject, err := NewVerifier(testSecret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", subject)
}

func TestVerifyFailures(t *testing.T) {
	issuer := NewIssuer(testSecret)
	valid, err := issuer.Issue("u1", time.Hour)
	require.NoError(t, err)
	expired, err := issuer.Issue("u1", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewIssuer([]byte("another-secret")).Issue("u1", time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1"}).SignedString(testSecret)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissing},
		{"garbage", "not-a-token", ErrMalformed},
		{"truncated", valid[:len(valid)/2], ErrMalformed},
		{"expired", expired, ErrExpired},
		{"wrong secret", foreign, ErrInvalid},
		{"wrong algorithm", hs512, ErrInvalid},
		{"missing exp", noExp, ErrMalformed},
		{"missing user", noUser, ErrMalformed},
	}

	v := NewVerifier(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := v.Verify(tt.token)
			require.Error(t, err)
			assert.Empty(t, subject)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestVerifyLeewayAndClock(t *testing.T) {
	token, err := NewIssuer(testSecret).Issue("u1", time.Minute)
	require.NoError(t, err)

	later := func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = NewVerifier(testSecret, WithClock(later)).Verify(token)
	assert.ErrorIs(t, err, ErrExpired)

	subject, err := NewVerifier(testSecret, WithClock(later), WithLeeway(5*time.Minute)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)
}

func TestErrorKinds(t *testing.T) {
	err := NewError(KindExpired, jwt.ErrTokenExpired)
	assert.Equal(t, KindExpired, KindOf(err))
	assert.ErrorIs(t, err, ErrExpired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrInvalid)
	assert.Equal(t, KindLookup, KindOf(errors.New("boom")))
	assert.Equal(t, "auth: expired: token is expired", err.Error())
}
