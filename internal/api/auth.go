package api

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt"
)

// Identity is the already-authenticated user behind a request. Tokens are
// issued by the external auth service; this server only verifies them and
// trusts the identity claims they carry.
type Identity struct {
	UserId      int
	DisplayName string
	Email       string
}

const (
	userIdClaim    = "user-id"
	userNameClaim  = "user-name"
	userEmailClaim = "user-email"

	tokenCookieKey = "token"
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func (s *CollabApp) extractIdentityFromToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return Identity{}, fmt.Errorf("invalid user id claim")
	}

	name, ok := claims[userNameClaim].(string)
	if !ok || name == "" {
		return Identity{}, fmt.Errorf("invalid user name claim")
	}

	// email is optional on older tokens
	email, _ := claims[userEmailClaim].(string)

	return Identity{
		UserId:      int(userId),
		DisplayName: name,
		Email:       email,
	}, nil
}
