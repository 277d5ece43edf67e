package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type AuthClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// NewToken issues a signed credential for a user. The relay itself never
// issues tokens in production; this backs tests and tooling that play the
// identity provider.
func NewToken(userID string, expiration time.Duration, secret []byte) (string, time.Time, error) {
	exp := time.Now().Add(expiration)
	claims := &AuthClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "relay",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return signed, exp, err
	}
	return signed, exp, nil
}

// JWTAuthenticator verifies HS256-signed credential tokens. It implements the
// Authenticator collaborator for deployments where the identity provider
// shares a signing secret with the relay.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

func (a *JWTAuthenticator) Verify(_ context.Context, token string) (string, error) {
	claims := &AuthClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	switch {
	case err == nil && parsed.Valid:
		if claims.UserID == "" {
			return "", fmt.Errorf("%w: token has no subject", ErrAuthFailed)
		}
		return claims.UserID, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", fmt.Errorf("%w: token expired", ErrAuthFailed)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", fmt.Errorf("%w: token invalid", ErrAuthFailed)
	default:
		return "", fmt.Errorf("%w: unrecognized token", ErrAuthFailed)
	}
}
