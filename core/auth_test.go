package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestJWTAuthenticatorVerify(t *testing.T) {
	auth := NewJWTAuthenticator(testSecret)

	t.Run("valid token", func(t *testing.T) {
		token, _, err := NewToken("alice", time.Hour, testSecret)
		require.NoError(t, err)

		userID, err := auth.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "alice", userID)
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := NewToken("alice", -time.Minute, testSecret)
		require.NoError(t, err)

		_, err = auth.Verify(context.Background(), token)
		require.ErrorIs(t, err, ErrAuthFailed)
		assert.ErrorContains(t, err, "expired")
	})

	t.Run("wrong signing secret", func(t *testing.T) {
		token, _, err := NewToken("alice", time.Hour, []byte("not-the-relay-secret-not-at-all"))
		require.NoError(t, err)

		_, err = auth.Verify(context.Background(), token)
		require.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := auth.Verify(context.Background(), "not.a.jwt")
		require.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("token without subject", func(t *testing.T) {
		token, _, err := NewToken("", time.Hour, testSecret)
		require.NoError(t, err)

		_, err = auth.Verify(context.Background(), token)
		require.ErrorIs(t, err, ErrAuthFailed)
	})
}
