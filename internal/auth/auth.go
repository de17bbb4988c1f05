package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Name   string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext reports the caller attached by the auth middleware (or by
// the worker, for queued jobs).
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || strings.TrimSpace(id.UserID) == "" {
		return Identity{}, false
	}
	return id, true
}

type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid token")

func SignJWT(id Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseJWT(token, secret string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Name: claims.Name}, nil
}
